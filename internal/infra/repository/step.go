package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/infra/database/models"
)

type StepRepository struct {
	db *gorm.DB
}

func NewStepRepository(db *gorm.DB) *StepRepository {
	return &StepRepository{db: db}
}

func (r *StepRepository) ListForProducts(ctx context.Context, productIDs []string) ([]domain.SupplyChainStep, error) {
	if len(productIDs) == 0 {
		return []domain.SupplyChainStep{}, nil
	}

	var rows []models.SupplyChainStep
	err := r.db.WithContext(ctx).
		Where("product_id IN ?", productIDs).
		Order(`"timestamp" ASC`).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return stepsFromModels(rows)
}

func (r *StepRepository) ListForProduct(ctx context.Context, productID string) ([]domain.SupplyChainStep, error) {
	return r.ListForProducts(ctx, []string{productID})
}

func (r *StepRepository) Get(ctx context.Context, stepID, productID string) (domain.SupplyChainStep, error) {
	var row models.SupplyChainStep
	err := r.db.WithContext(ctx).
		Where("id = ? AND product_id = ?", stepID, productID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SupplyChainStep{}, domain.NotFoundError{Resource: "step"}
		}
		return domain.SupplyChainStep{}, err
	}
	return stepFromModel(row)
}

// Create locks the product row so concurrent recorders draw distinct
// sequence numbers.
func (r *StepRepository) Create(
	ctx context.Context,
	step domain.SupplyChainStep,
	newStatus *string,
	entry func(domain.SupplyChainStep) domain.OutboxEntry,
) (domain.SupplyChainStep, domain.OutboxEntry, error) {
	metadata, err := json.Marshal(step.Metadata)
	if err != nil {
		return domain.SupplyChainStep{}, domain.OutboxEntry{}, err
	}

	var stored models.LedgerOutbox
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", step.ProductID).
			First(&product).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundError{Resource: "product"}
			}
			return err
		}

		var seq int64
		err = tx.Model(&models.SupplyChainStep{}).
			Where("product_id = ?", step.ProductID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&seq).Error
		if err != nil {
			return err
		}
		seq++
		step.ID = fmt.Sprintf("STEP-%d", seq)

		row := stepToModel(step)
		row.Seq = seq
		row.Metadata = datatypes.JSON(metadata)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		if newStatus != nil {
			err := tx.Model(&models.Product{}).
				Where("id = ?", step.ProductID).
				Update("status", *newStatus).Error
			if err != nil {
				return err
			}
		}

		stored, err = enqueue(tx, entry(step))
		return err
	})
	if err != nil {
		return domain.SupplyChainStep{}, domain.OutboxEntry{}, err
	}

	out, err := outboxFromModel(stored)
	if err != nil {
		return domain.SupplyChainStep{}, domain.OutboxEntry{}, err
	}
	return step, out, nil
}

func (r *StepRepository) SetTxHash(ctx context.Context, stepID, productID, txHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.SupplyChainStep{}).
		Where("id = ? AND product_id = ?", stepID, productID).
		Updates(map[string]any{
			"tx_hash":  txHash,
			"verified": true,
		}).Error
}

func stepToModel(s domain.SupplyChainStep) models.SupplyChainStep {
	row := models.SupplyChainStep{
		ID:          s.ID,
		ProductID:   s.ProductID,
		Timestamp:   s.Timestamp,
		Action:      s.Action,
		Description: s.Description,
		LocationID:  s.LocationID,
		Temperature: s.Temperature,
		Humidity:    s.Humidity,
		Verified:    s.Verified,
		TxHash:      s.TxHash,
	}
	if p := s.PerformedBy; p != nil {
		row.PerformerID = &p.ID
		row.PerformerName = &p.Name
		row.PerformerRole = &p.Role
		row.PerformerOrganization = &p.Organization
	}
	return row
}

func stepFromModel(m models.SupplyChainStep) (domain.SupplyChainStep, error) {
	metadata := map[string]any{}
	if len(m.Metadata) > 0 && string(m.Metadata) != "null" {
		if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
			return domain.SupplyChainStep{}, err
		}
	}

	step := domain.SupplyChainStep{
		ID:          m.ID,
		ProductID:   m.ProductID,
		Timestamp:   m.Timestamp,
		Action:      m.Action,
		Description: m.Description,
		LocationID:  m.LocationID,
		Temperature: m.Temperature,
		Humidity:    m.Humidity,
		Metadata:    metadata,
		Verified:    m.Verified,
		TxHash:      m.TxHash,
	}
	if m.PerformerID != nil {
		step.PerformedBy = &domain.Performer{
			ID:           *m.PerformerID,
			Name:         deref(m.PerformerName),
			Role:         deref(m.PerformerRole),
			Organization: deref(m.PerformerOrganization),
		}
	}
	return step, nil
}

func stepsFromModels(rows []models.SupplyChainStep) ([]domain.SupplyChainStep, error) {
	result := make([]domain.SupplyChainStep, 0, len(rows))
	for _, row := range rows {
		step, err := stepFromModel(row)
		if err != nil {
			return nil, err
		}
		result = append(result, step)
	}
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
