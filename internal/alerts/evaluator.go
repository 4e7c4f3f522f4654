package alerts

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/price-alerts/internal/model"
)

// Source labels where an observation came from.
type Source string

const (
	SourceTick  Source = "tick"
	SourceQuote Source = "quote"
)

// Observation is one price sample to evaluate.
type Observation struct {
	Symbol     model.Symbol
	Price      float64
	Source     Source
	ObservedAt time.Time
}

// EvaluatorConfig holds evaluator configuration.
type EvaluatorConfig struct {
	Workers   int           // Concurrent store evaluations (default: 4)
	QueueSize int           // Max pending observations (default: 1024)
	Timeout   time.Duration // Per-evaluation store + notify timeout (default: 5s)
}

// DefaultEvaluatorConfig returns sensible defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Workers:   4,
		QueueSize: 1024,
		Timeout:   5 * time.Second,
	}
}

// EvaluatorStats contains evaluator counters.
type EvaluatorStats struct {
	Submitted    int64      `json:"submitted"`
	Dropped      int64      `json:"dropped"`
	Evaluated    int64      `json:"evaluated"`
	Failed       int64      `json:"failed"`
	Triggered    int64      `json:"triggered"`
	Notified     int64      `json:"notified"`
	NotifyFailed int64      `json:"notify_failed"`
	Queue        QueueStats `json:"queue"`
}

// RefreshRequester is told when alerts fire so the active symbol set can be
// recomputed.
type RefreshRequester interface {
	RequestRefresh()
}

// Evaluator runs alert evaluation off the fan-out path.
type Evaluator struct {
	cfg       EvaluatorConfig
	store     Store
	notifier  Notifier
	refresher RefreshRequester
	logger    *slog.Logger

	queue *workQueue[Observation]
	wg    sync.WaitGroup

	submitted    atomic.Int64
	dropped      atomic.Int64
	evaluated    atomic.Int64
	failed       atomic.Int64
	triggered    atomic.Int64
	notified     atomic.Int64
	notifyFailed atomic.Int64
}

// NewEvaluator creates an Evaluator. notifier may be nil.
func NewEvaluator(cfg EvaluatorConfig, store Store, notifier Notifier, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultEvaluatorConfig()
	if cfg.Workers < 1 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	initial := 64
	if initial > cfg.QueueSize {
		initial = cfg.QueueSize
	}

	return &Evaluator{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "evaluator"),
		queue:    newWorkQueue[Observation](initial, cfg.QueueSize),
	}
}

// SetRefresher registers r to be called after any evaluation that triggers
// alerts. It must be called before Start.
func (e *Evaluator) SetRefresher(r RefreshRequester) {
	e.refresher = r
}

// Start launches the worker pool. Workers run until Stop.
func (e *Evaluator) Start(ctx context.Context) error {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	e.logger.Info("alert evaluator started", "workers", e.cfg.Workers, "queue_size", e.cfg.QueueSize)
	return nil
}

// Stop stops accepting observations and waits for queued ones to finish.
func (e *Evaluator) Stop(ctx context.Context) error {
	e.queue.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("alert evaluator stopped", "evaluated", e.evaluated.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues an observation. It never blocks and returns false if the
// observation was dropped.
func (e *Evaluator) Submit(obs Observation) bool {
	if err := e.queue.Push(obs); err != nil {
		e.dropped.Add(1)
		e.logger.Warn("dropping alert evaluation",
			"symbol", obs.Symbol,
			"source", obs.Source,
			"err", err,
		)
		return false
	}
	e.submitted.Add(1)
	return true
}

// Stats returns evaluator counters.
func (e *Evaluator) Stats() EvaluatorStats {
	return EvaluatorStats{
		Submitted:    e.submitted.Load(),
		Dropped:      e.dropped.Load(),
		Evaluated:    e.evaluated.Load(),
		Failed:       e.failed.Load(),
		Triggered:    e.triggered.Load(),
		Notified:     e.notified.Load(),
		NotifyFailed: e.notifyFailed.Load(),
		Queue:        e.queue.Stats(),
	}
}

func (e *Evaluator) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		obs, ok := e.queue.Pop()
		if !ok {
			return
		}
		e.evaluate(ctx, obs)
	}
}

// evaluate uses a context detached from shutdown so queued work drains.
func (e *Evaluator) evaluate(ctx context.Context, obs Observation) {
	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)
	defer cancel()

	res, err := e.store.EvaluateTick(evalCtx, obs.Symbol, obs.Price)
	e.evaluated.Add(1)
	if err != nil {
		e.failed.Add(1)
		e.logger.Error("alert evaluation failed",
			"symbol", obs.Symbol,
			"price", obs.Price,
			"source", obs.Source,
			"err", err,
		)
		return
	}
	if res.Triggered == 0 {
		return
	}

	e.triggered.Add(int64(res.Triggered))
	e.logger.Info("alerts triggered",
		"symbol", obs.Symbol,
		"price", obs.Price,
		"source", obs.Source,
		"triggered", res.Triggered,
		"users", len(res.Notifications),
	)
	// Fired alerts are inactive; obs.Symbol may no longer need a stream.
	if e.refresher != nil {
		e.refresher.RequestRefresh()
	}

	if e.notifier == nil {
		return
	}
	for _, t := range res.Notifications {
		if err := e.notifier.NotifyAlertTriggered(evalCtx, t); err != nil {
			e.notifyFailed.Add(1)
			e.logger.Error("alert notification failed",
				"user_id", t.UserID,
				"alert_id", t.AlertID,
				"err", err,
			)
			continue
		}
		e.notified.Add(1)
	}
}
