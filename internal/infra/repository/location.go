package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/infra/database/models"
)

type LocationRepository struct {
	db *gorm.DB
}

func NewLocationRepository(db *gorm.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

func (r *LocationRepository) Get(ctx context.Context, id string) (domain.Location, error) {
	var row models.Location
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Location{}, domain.NotFoundError{Resource: "location"}
		}
		return domain.Location{}, err
	}
	return locationFromModel(row), nil
}

func (r *LocationRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Location, error) {
	if len(ids) == 0 {
		return []domain.Location{}, nil
	}

	var rows []models.Location
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]domain.Location, 0, len(rows))
	for _, row := range rows {
		result = append(result, locationFromModel(row))
	}
	return result, nil
}

// ResolveForUser returns the location on the user's profile, or nil when the
// profile has none.
func (r *LocationRepository) ResolveForUser(ctx context.Context, username string) (*domain.Location, error) {
	var rows []models.Location
	err := r.db.WithContext(ctx).
		Joins("JOIN profiles ON profiles.location_id = locations.id").
		Where("profiles.username = ?", username).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	location := locationFromModel(rows[0])
	return &location, nil
}

// Save inserts the location or overwrites the one with the same id.
func (r *LocationRepository) Save(ctx context.Context, location domain.Location) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&models.Location{
		ID:        location.ID,
		Name:      location.Name,
		Latitude:  location.Latitude,
		Longitude: location.Longitude,
		Address:   location.Address,
	}).Error
}

func locationFromModel(m models.Location) domain.Location {
	return domain.Location{
		ID:        m.ID,
		Name:      m.Name,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Address:   m.Address,
	}
}
