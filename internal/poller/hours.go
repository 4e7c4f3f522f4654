package poller

import (
	"fmt"
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// MarketHours reports whether the exchange is trading at t.
type MarketHours interface {
	IsOpen(t time.Time) bool
}

// ExchangeHours is a MarketHours backed by an exchange calendar.
type ExchangeHours struct {
	cal *calendar.Calendar
}

// NewExchangeHours loads the calendar for an ISO 10383 MIC such as "xnys".
func NewExchangeHours(mic string) (*ExchangeHours, error) {
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic == "" {
		mic = "xnys"
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		return nil, fmt.Errorf("unknown exchange calendar %q", mic)
	}
	return &ExchangeHours{cal: cal}, nil
}

// IsOpen implements MarketHours.
func (h *ExchangeHours) IsOpen(t time.Time) bool {
	return h.cal.IsOpen(t.In(h.cal.Loc))
}

// MarketHoursFunc is a function adapter for MarketHours.
type MarketHoursFunc func(time.Time) bool

func (f MarketHoursFunc) IsOpen(t time.Time) bool {
	return f(t)
}
