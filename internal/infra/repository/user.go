package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/infra/database/models"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

type userRow struct {
	Username     string
	Role         string
	Name         *string
	Organization *string
	Email        *string
	Phone        *string
	Address      *string
	LocationID   *string
}

const userColumns = "auth.username, auth.role, profiles.name, profiles.organization, profiles.email, " +
	"profiles.phone, profiles.address, profiles.location_id"

func (r *UserRepository) users(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("auth").
		Select(userColumns).
		Joins("LEFT JOIN profiles ON profiles.username = auth.username")
}

func (r *UserRepository) GetCredentials(ctx context.Context, username string) (domain.Credentials, error) {
	var row models.Auth
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Credentials{}, domain.NotFoundError{Resource: "user"}
		}
		return domain.Credentials{}, err
	}
	return domain.Credentials{
		Username:     row.Username,
		PasswordHash: row.Password,
		Role:         domain.Role(row.Role),
	}, nil
}

func (r *UserRepository) Get(ctx context.Context, username string) (domain.User, error) {
	var rows []userRow
	err := r.users(ctx).Where("auth.username = ?", username).Limit(1).Scan(&rows).Error
	if err != nil {
		return domain.User{}, err
	}
	if len(rows) == 0 {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	return rows[0].user(), nil
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	if err := r.users(ctx).Order("auth.username ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return usersFromRows(rows), nil
}

func (r *UserRepository) ListByUsernames(ctx context.Context, usernames []string) ([]domain.User, error) {
	if len(usernames) == 0 {
		return []domain.User{}, nil
	}
	var rows []userRow
	if err := r.users(ctx).Where("auth.username IN ?", usernames).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return usersFromRows(rows), nil
}

func (r *UserRepository) Exists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Auth{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// Create writes the auth and profile rows in one transaction.
func (r *UserRepository) Create(ctx context.Context, user domain.User, passwordHash string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		auth := models.Auth{
			Username: user.Username,
			Password: passwordHash,
			Role:     string(user.Role),
		}
		if err := tx.Create(&auth).Error; err != nil {
			return err
		}

		profile := models.Profile{
			Username:     user.Username,
			Name:         user.Name,
			Organization: user.Organization,
			Email:        user.Email,
			Phone:        user.Phone,
			Address:      user.Address,
			LocationID:   user.LocationID,
		}
		return tx.Omit("Auth").Create(&profile).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ValidationError{Message: "username already exists"}
	}
	return err
}

// UpdateProfile overwrites the profile fields, including the location.
func (r *UserRepository) UpdateProfile(ctx context.Context, user domain.User) (domain.User, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("username = ?", user.Username).
		Updates(map[string]any{
			"name":         user.Name,
			"organization": user.Organization,
			"email":        user.Email,
			"phone":        user.Phone,
			"address":      user.Address,
			"location_id":  user.LocationID,
		})
	if result.Error != nil {
		return domain.User{}, result.Error
	}
	if result.RowsAffected == 0 {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	return r.Get(ctx, user.Username)
}

func (r *UserRepository) UpdateRole(ctx context.Context, username string, role domain.Role) error {
	result := r.db.WithContext(ctx).
		Model(&models.Auth{}).
		Where("username = ?", username).
		Update("role", string(role))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "user"}
	}
	return nil
}

func (u userRow) user() domain.User {
	return domain.User{
		Username:     u.Username,
		Role:         domain.Role(u.Role),
		Name:         deref(u.Name),
		Organization: deref(u.Organization),
		Email:        deref(u.Email),
		Phone:        deref(u.Phone),
		Address:      deref(u.Address),
		LocationID:   u.LocationID,
	}
}

func usersFromRows(rows []userRow) []domain.User {
	result := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.user())
	}
	return result
}
