// Package daemon runs the background outbox reconciler.
package daemon

import (
	"context"
	"log/slog"
	"time"
)

const batchSize = 50

type outboxReconciler interface {
	Reconcile(ctx context.Context, limit int) (int, error)
}

// Reconciler retries unconfirmed ledger writes on a fixed interval. Entries
// are processed one at a time by a single goroutine.
type Reconciler struct {
	mirror   outboxReconciler
	interval time.Duration
}

func NewReconciler(mirror outboxReconciler, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{mirror: mirror, interval: interval}
}

// Start runs the reconciler in a goroutine. The returned channel is closed
// once the in-progress pass has finished after ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return done
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("starting outbox reconciler", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce drains retryable entries in batches until a pass confirms nothing.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		confirmed, err := r.mirror.Reconcile(ctx, batchSize)
		if err != nil {
			slog.Error("outbox reconcile failed", "err", err)
			return total
		}
		total += confirmed
		if confirmed < batchSize {
			return total
		}
	}
	return total
}
