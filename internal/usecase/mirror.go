package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/monitoring"
)

var mirrorTracer = otel.Tracer("mirror")

// MirrorUsecase drives outbox entries onto the ledger. It is used inline right
// after a local commit and again by the background reconciler.
type MirrorUsecase struct {
	ledger      LedgerMirror
	outbox      OutboxRepository
	steps       StepRepository
	maxAttempts int
	lease       time.Duration
	now         func() time.Time
}

// NewMirrorUsecase builds the mirror. lease is how long an in_flight entry
// stays owned by its claimer; it must exceed the ledger confirm timeout.
func NewMirrorUsecase(ledger LedgerMirror, outbox OutboxRepository, steps StepRepository, maxAttempts int, lease time.Duration) *MirrorUsecase {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &MirrorUsecase{
		ledger:      ledger,
		outbox:      outbox,
		steps:       steps,
		maxAttempts: maxAttempts,
		lease:       lease,
		now:         time.Now,
	}
}

// Attempt invokes the entry's capability once and records the outcome on the
// entry. The caller must hold the entry's claim. It returns nil when the
// mirror failed.
func (uc *MirrorUsecase) Attempt(ctx context.Context, entry domain.OutboxEntry) *domain.LedgerReceipt {
	ctx, span := mirrorTracer.Start(ctx, "Mirror.Usecase.Attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("Capability", entry.Capability),
		attribute.String("AggregateID", entry.AggregateID),
	)

	args := make([]any, len(entry.Args))
	for i, a := range entry.Args {
		args[i] = a
	}

	receipt := uc.ledger.Invoke(ctx, entry.Capability, args...)
	if receipt == nil {
		monitoring.LedgerMirrorCalls.WithLabelValues(entry.Capability, "failed").Inc()
		if err := uc.outbox.MarkFailed(ctx, entry.ID, "ledger returned no receipt"); err != nil {
			span.RecordError(err)
			slog.ErrorContext(ctx, "failed to mark outbox entry failed", "id", entry.ID, "err", err)
		}
		return nil
	}

	monitoring.LedgerMirrorCalls.WithLabelValues(entry.Capability, "confirmed").Inc()
	if err := uc.outbox.MarkConfirmed(ctx, entry.ID, receipt.TxHash); err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "failed to mark outbox entry confirmed", "id", entry.ID, "err", err)
	}

	if entry.StepID != nil {
		if err := uc.steps.SetTxHash(ctx, *entry.StepID, entry.AggregateID, receipt.TxHash); err != nil {
			span.RecordError(err)
			slog.ErrorContext(ctx, "failed to link step to transaction", "step", *entry.StepID, "product", entry.AggregateID, "err", err)
		}
	}

	return receipt
}

// Reconcile claims pending, failed and abandoned in-flight entries below the
// attempt limit and retries them one at a time. It returns how many were
// confirmed.
func (uc *MirrorUsecase) Reconcile(ctx context.Context, limit int) (int, error) {
	ctx, span := mirrorTracer.Start(ctx, "Mirror.Usecase.Reconcile")
	defer span.End()

	start := time.Now()
	defer func() {
		monitoring.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	entries, err := uc.outbox.ClaimRetryable(ctx, uc.maxAttempts, limit, uc.now().Add(-uc.lease))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	confirmed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if uc.Attempt(ctx, entry) != nil {
			confirmed++
		}
	}

	pending, err := uc.outbox.CountPending(ctx)
	if err == nil {
		monitoring.OutboxPending.Set(float64(pending))
	}

	if len(entries) > 0 {
		slog.InfoContext(ctx, "outbox reconciled", "candidates", len(entries), "confirmed", confirmed)
	}

	return confirmed, nil
}
