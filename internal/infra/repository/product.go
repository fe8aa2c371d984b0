package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/infra/database/models"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts the product and its outbox entry in one transaction.
func (r *ProductRepository) Create(ctx context.Context, product domain.Product, entry domain.OutboxEntry) (domain.OutboxEntry, error) {
	row := productToModel(product)

	var stored models.LedgerOutbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		var err error
		stored, err = enqueue(tx, entry)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if r.batchIDTaken(ctx, product.BatchID) {
				return domain.OutboxEntry{}, domain.ErrBatchIDTaken
			}
			return domain.OutboxEntry{}, domain.ValidationError{Message: "product already exists"}
		}
		return domain.OutboxEntry{}, err
	}

	return outboxFromModel(stored)
}

func (r *ProductRepository) batchIDTaken(ctx context.Context, batchID string) bool {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Product{}).Where("batch_id = ?", batchID).Count(&count).Error
	return err == nil && count > 0
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (domain.Product, error) {
	var row models.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Product{}, domain.NotFoundError{Resource: "product"}
		}
		return domain.Product{}, err
	}
	return productFromModel(row), nil
}

func (r *ProductRepository) GetByBatchID(ctx context.Context, batchID string) (domain.Product, error) {
	var row models.Product
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Product{}, domain.NotFoundError{Resource: "product"}
		}
		return domain.Product{}, err
	}
	return productFromModel(row), nil
}

func (r *ProductRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	var rows []models.Product
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return productsFromModels(rows), nil
}

// ListVisibleTo returns the products the user registered, performed a step
// on, or certified a step of.
func (r *ProductRepository) ListVisibleTo(ctx context.Context, username string) ([]domain.Product, error) {
	performed := r.db.
		Table("supply_chain_steps s").
		Select("1").
		Where("s.product_id = products.id AND s.performer_id = ?", username)

	certified := r.db.
		Table("step_certificates sc").
		Select("1").
		Joins("JOIN certificates c ON c.id = sc.certificate_id").
		Where("sc.product_id = products.id AND c.issuer = ?", username)

	var rows []models.Product
	err := r.db.WithContext(ctx).
		Where("products.farmer = ?", username).
		Or("EXISTS (?)", performed).
		Or("EXISTS (?)", certified).
		Order("products.created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return productsFromModels(rows), nil
}

// IncrementVerification reports whether a row was updated.
func (r *ProductRepository) IncrementVerification(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"verification_count": gorm.Expr("verification_count + 1"),
			"last_verified":      at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func productToModel(p domain.Product) models.Product {
	return models.Product{
		ID:                p.ID,
		BatchID:           p.BatchID,
		Name:              p.Name,
		Description:       p.Description,
		Type:              p.Type,
		ImageURL:          p.ImageURL,
		QRCode:            p.QRCode,
		QRImage:           p.QRImage,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt,
		LocationID:        p.LocationID,
		Farmer:            p.Farmer,
		RetailPrice:       p.RetailPrice,
		Temperature:       p.Temperature,
		Humidity:          p.Humidity,
		VerificationCount: p.VerificationCount,
		LastVerified:      p.LastVerified,
	}
}

func productFromModel(m models.Product) domain.Product {
	return domain.Product{
		ID:                m.ID,
		BatchID:           m.BatchID,
		Name:              m.Name,
		Description:       m.Description,
		Type:              m.Type,
		ImageURL:          m.ImageURL,
		QRCode:            m.QRCode,
		QRImage:           m.QRImage,
		Status:            m.Status,
		CreatedAt:         m.CreatedAt,
		LocationID:        m.LocationID,
		Farmer:            m.Farmer,
		RetailPrice:       m.RetailPrice,
		Temperature:       m.Temperature,
		Humidity:          m.Humidity,
		VerificationCount: m.VerificationCount,
		LastVerified:      m.LastVerified,
	}
}

func productsFromModels(rows []models.Product) []domain.Product {
	result := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		result = append(result, productFromModel(row))
	}
	return result
}
