package registry

import (
	"context"
	"time"
)

// Start runs an initial alert refresh and then the periodic sweep in the
// background. A failed initial refresh is logged, not returned.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.refreshAndReconcile(r.ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reconciliationLoop(r.ctx)
	}()

	r.logger.Info("subscription registry started",
		"reconcile_interval", r.cfg.ReconcileInterval,
	)
	return nil
}

// Stop halts the periodic sweep.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("subscription registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestRefresh asks for an out-of-band sweep. It never blocks; requests
// made while one is pending are coalesced.
func (r *Registry) RequestRefresh() {
	select {
	case r.refresh <- struct{}{}:
	default:
	}
}

// reconciliationLoop periodically refreshes alert symbols and reconciles.
func (r *Registry) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAndReconcile(ctx)
		case <-r.refresh:
			r.refreshAndReconcile(ctx)
		}
	}
}

// refreshAndReconcile pulls alert symbols from the store and then rebuilds
// the upstream set. Client interest is reconciled even if the store fails.
func (r *Registry) refreshAndReconcile(ctx context.Context) {
	start := time.Now()

	if r.alerts != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.RefreshTimeout)
		symbols, err := r.alerts.UniqueActiveSymbols(fetchCtx)
		cancel()

		if err != nil {
			r.refreshErrors.Add(1)
			r.logger.Error("failed to refresh alert symbols", "err", err)
		} else {
			r.SetAlertSymbols(symbols)
			r.refreshes.Add(1)
			r.lastRefreshAt.Store(time.Now().UnixNano())
			r.logger.Info("refreshed alert symbols", "symbols", len(symbols))
		}
	}

	added, removed := r.Reconcile()
	if added > 0 || removed > 0 {
		r.logger.Warn("reconciliation corrected upstream set",
			"added", added,
			"removed", removed,
		)
	}

	r.logger.Debug("reconciliation complete", "duration", time.Since(start))
}
