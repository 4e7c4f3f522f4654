package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/price-alerts/internal/model"
)

const (
	// Columns follow the CRUD service's Alert model.
	sqlUniqueActiveSymbols = `SELECT DISTINCT "symbol" FROM "Alert" WHERE "isTriggered" = false`

	sqlTriggerAlerts = `UPDATE "Alert"
SET "isTriggered" = true, "triggeredAt" = $3
WHERE "symbol" = $1 AND "isTriggered" = false AND "targetPrice" <= $2
RETURNING "id", "userId", "targetPrice"`
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a Store backed by the alerts database.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// UniqueActiveSymbols implements Store.
func (s *PostgresStore) UniqueActiveSymbols(ctx context.Context) ([]model.Symbol, error) {
	rows, err := s.db.Query(ctx, sqlUniqueActiveSymbols)
	if err != nil {
		return nil, fmt.Errorf("query active symbols: %w", err)
	}

	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan active symbols: %w", err)
	}

	seen := make(map[model.Symbol]struct{}, len(raw))
	out := make([]model.Symbol, 0, len(raw))
	for _, r := range raw {
		sym := model.NormalizeSymbol(r)
		if sym.IsZero() {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return model.SortSymbols(out), nil
}

type triggeredRow struct {
	ID          string
	UserID      string
	TargetPrice float64
}

// EvaluateTick implements Store. Selection and update happen in one
// statement so concurrent evaluations cannot fire an alert twice.
func (s *PostgresStore) EvaluateTick(ctx context.Context, sym model.Symbol, price float64) (Result, error) {
	now := s.now().UTC()

	rows, err := s.db.Query(ctx, sqlTriggerAlerts, string(sym), price, now)
	if err != nil {
		return Result{}, fmt.Errorf("trigger alerts: %w", err)
	}

	fired, err := pgx.CollectRows(rows, pgx.RowToStructByPos[triggeredRow])
	if err != nil {
		return Result{}, fmt.Errorf("scan triggered alerts: %w", err)
	}
	if len(fired) == 0 {
		return Result{}, nil
	}

	triggers := make([]Trigger, len(fired))
	for i, f := range fired {
		triggers[i] = Trigger{
			AlertID:     f.ID,
			UserID:      f.UserID,
			Symbol:      sym,
			TargetPrice: f.TargetPrice,
			Price:       price,
			TriggeredAt: now,
		}
	}

	return Result{Triggered: len(fired), Notifications: dedupePerUser(triggers)}, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}
