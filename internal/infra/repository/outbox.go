package repository

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/infra/database/models"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// MarkConfirmed records the transaction hash. A confirmed entry is final and
// later marks are ignored.
func (r *OutboxRepository) MarkConfirmed(ctx context.Context, id int64, txHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.LedgerOutbox{}).
		Where("id = ? AND status <> ?", id, string(domain.OutboxConfirmed)).
		Updates(map[string]any{
			"status":     string(domain.OutboxConfirmed),
			"tx_hash":    txHash,
			"last_error": nil,
			"claimed_at": nil,
		}).Error
}

// MarkFailed releases the claim and counts the attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.LedgerOutbox{}).
		Where("id = ? AND status <> ?", id, string(domain.OutboxConfirmed)).
		Updates(map[string]any{
			"status":     string(domain.OutboxFailed),
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"claimed_at": nil,
		}).Error
}

const claimRetryableSQL = `
UPDATE ledger_outbox SET status = ?, claimed_at = ?, updated_at = ?
WHERE id IN (
	SELECT id FROM ledger_outbox
	WHERE attempts < ?
	  AND (status IN ? OR (status = ? AND claimed_at < ?))
	ORDER BY id ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimRetryable moves up to limit unconfirmed entries below the attempt
// limit to in_flight and returns them oldest first. In-flight entries are
// only taken over once their claim is older than staleBefore. Rows locked by
// a concurrent claimer are skipped, so each entry has one owner at a time.
func (r *OutboxRepository) ClaimRetryable(ctx context.Context, maxAttempts, limit int, staleBefore time.Time) ([]domain.OutboxEntry, error) {
	now := time.Now()

	var rows []models.LedgerOutbox
	err := r.db.WithContext(ctx).
		Raw(claimRetryableSQL,
			string(domain.OutboxInFlight), now, now,
			maxAttempts,
			[]string{string(domain.OutboxPending), string(domain.OutboxFailed)},
			string(domain.OutboxInFlight), staleBefore,
			limit,
		).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	result := make([]domain.OutboxEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := outboxFromModel(row)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerOutbox{}).
		Where("status <> ?", string(domain.OutboxConfirmed)).
		Count(&count).Error
	return count, err
}

// enqueue writes an outbox entry inside the caller's transaction. Entries
// written in_flight are claimed by the caller from the start.
func enqueue(tx *gorm.DB, entry domain.OutboxEntry) (models.LedgerOutbox, error) {
	args, err := json.Marshal(entry.Args)
	if err != nil {
		return models.LedgerOutbox{}, err
	}

	status := entry.Status
	if status == "" {
		status = domain.OutboxPending
	}
	var claimedAt *time.Time
	if status == domain.OutboxInFlight {
		now := time.Now()
		claimedAt = &now
	}

	row := models.LedgerOutbox{
		AggregateID: entry.AggregateID,
		StepID:      entry.StepID,
		Capability:  entry.Capability,
		Args:        datatypes.JSON(args),
		Status:      string(status),
		ClaimedAt:   claimedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		return models.LedgerOutbox{}, err
	}
	return row, nil
}

func outboxFromModel(m models.LedgerOutbox) (domain.OutboxEntry, error) {
	args := []string{}
	if len(m.Args) > 0 {
		if err := json.Unmarshal(m.Args, &args); err != nil {
			return domain.OutboxEntry{}, err
		}
	}
	return domain.OutboxEntry{
		ID:          m.ID,
		AggregateID: m.AggregateID,
		StepID:      m.StepID,
		Capability:  m.Capability,
		Args:        args,
		Status:      domain.OutboxStatus(m.Status),
		Attempts:    m.Attempts,
		TxHash:      m.TxHash,
		LastError:   m.LastError,
		ClaimedAt:   m.ClaimedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}
