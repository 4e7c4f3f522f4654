package alerts

import (
	"context"
	"errors"
	"log/slog"
)

// LogNotifier logs triggered alerts. Used when no push channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// NotifyAlertTriggered implements Notifier.
func (n *LogNotifier) NotifyAlertTriggered(ctx context.Context, t Trigger) error {
	n.logger.Info("alert triggered",
		"user_id", t.UserID,
		"alert_id", t.AlertID,
		"symbol", t.Symbol,
		"price", t.Price,
		"target_price", t.TargetPrice,
	)
	return nil
}

// Close implements Notifier.
func (n *LogNotifier) Close() error { return nil }

// MultiNotifier fans a trigger out to several notifiers and joins errors.
type MultiNotifier []Notifier

// NotifyAlertTriggered implements Notifier.
func (m MultiNotifier) NotifyAlertTriggered(ctx context.Context, t Trigger) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyAlertTriggered(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Notifier.
func (m MultiNotifier) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
