package usecase

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/policy"
)

var userTracer = otel.Tracer("user")

const minPasswordLength = 6

type ProfileInput struct {
	Name         string
	Organization string
	Email        string
	Phone        string
	Address      string
}

// AdminEditInput changes a user's profile. A nil LocationID keeps the current
// location and an empty one clears it.
type AdminEditInput struct {
	ProfileInput
	Role       string
	LocationID *string
}

type CreateUserInput struct {
	ProfileInput
	Username        string
	Role            string
	Password        string
	ConfirmPassword string
	LocationID      string
}

type UserUsecase struct {
	users     UserRepository
	locations LocationRepository
}

func NewUserUsecase(users UserRepository, locations LocationRepository) *UserUsecase {
	return &UserUsecase{users: users, locations: locations}
}

func (uc *UserUsecase) Profile(ctx context.Context, username string) (domain.User, error) {
	ctx, span := userTracer.Start(ctx, "User.Usecase.Profile")
	defer span.End()

	user, err := uc.users.Get(ctx, username)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}
	return user, nil
}

// EditProfile updates the requester's own profile fields. The role is left
// untouched and the live session keeps its old snapshot.
func (uc *UserUsecase) EditProfile(ctx context.Context, username string, input ProfileInput) (domain.User, error) {
	ctx, span := userTracer.Start(ctx, "User.Usecase.EditProfile")
	defer span.End()

	current, err := uc.users.Get(ctx, username)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}

	updated, err := uc.users.UpdateProfile(ctx, applyProfile(current, input))
	if err != nil {
		span.RecordError(err)
		return domain.User{}, pkgerrors.Wrap(err, "failed to update profile")
	}
	return updated, nil
}

// AdminEdit updates another user's profile and, when given, their role.
func (uc *UserUsecase) AdminEdit(ctx context.Context, requester domain.SessionUser, username string, input AdminEditInput) (domain.User, error) {
	ctx, span := userTracer.Start(ctx, "User.Usecase.AdminEdit")
	defer span.End()

	if !policy.Allowed(requester.Role, domain.CapManageUsers) {
		return domain.User{}, domain.ErrUnauthorized
	}

	var role domain.Role
	if input.Role != "" {
		r, err := domain.ParseRole(input.Role)
		if err != nil {
			return domain.User{}, err
		}
		role = r
	}

	current, err := uc.users.Get(ctx, username)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}

	next := applyProfile(current, input.ProfileInput)
	if input.LocationID != nil {
		locationID, err := uc.resolveLocation(ctx, *input.LocationID)
		if err != nil {
			span.RecordError(err)
			return domain.User{}, err
		}
		next.LocationID = locationID
	}

	updated, err := uc.users.UpdateProfile(ctx, next)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, pkgerrors.Wrap(err, "failed to update profile")
	}

	if role != "" && role != updated.Role {
		if err := uc.users.UpdateRole(ctx, username, role); err != nil {
			span.RecordError(err)
			return domain.User{}, pkgerrors.Wrap(err, "failed to update role")
		}
		updated.Role = role
	}

	return updated, nil
}

// CreateUser provisions the auth and profile halves of a new account.
func (uc *UserUsecase) CreateUser(ctx context.Context, requester domain.SessionUser, input CreateUserInput) (domain.User, error) {
	ctx, span := userTracer.Start(ctx, "User.Usecase.CreateUser")
	defer span.End()

	if !policy.Allowed(requester.Role, domain.CapManageUsers) {
		return domain.User{}, domain.ErrUnauthorized
	}

	required := []string{
		input.Name, input.Username, input.Email, input.Phone, input.Address,
		input.Organization, input.Role, input.Password, input.ConfirmPassword,
	}
	for _, v := range required {
		if strings.TrimSpace(v) == "" {
			return domain.User{}, domain.ValidationError{Message: "all fields are required"}
		}
	}
	if input.Password != input.ConfirmPassword {
		return domain.User{}, domain.ValidationError{Message: "passwords do not match"}
	}
	if len(input.Password) < minPasswordLength {
		return domain.User{}, domain.ValidationError{Message: "password must be at least 6 characters"}
	}

	role, err := domain.ParseRole(input.Role)
	if err != nil {
		return domain.User{}, err
	}

	locationID, err := uc.resolveLocation(ctx, input.LocationID)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}

	exists, err := uc.users.Exists(ctx, input.Username)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, pkgerrors.Wrap(err, "failed to check username")
	}
	if exists {
		return domain.User{}, domain.ValidationError{Message: "username already exists"}
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}

	user := domain.User{
		Username:     input.Username,
		Name:         input.Name,
		Organization: input.Organization,
		Email:        input.Email,
		Phone:        input.Phone,
		Address:      input.Address,
		Role:         role,
		LocationID:   locationID,
	}
	if err := uc.users.Create(ctx, user, hash); err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}

	return user, nil
}

func (uc *UserUsecase) List(ctx context.Context, requester domain.SessionUser) ([]domain.User, error) {
	ctx, span := userTracer.Start(ctx, "User.Usecase.List")
	defer span.End()

	if !policy.Allowed(requester.Role, domain.CapManageUsers) {
		return nil, domain.ErrUnauthorized
	}

	users, err := uc.users.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, pkgerrors.Wrap(err, "failed to list users")
	}
	return users, nil
}

func (uc *UserUsecase) Get(ctx context.Context, requester domain.SessionUser, username string) (domain.User, error) {
	ctx, span := userTracer.Start(ctx, "User.Usecase.Get")
	defer span.End()

	if !policy.Allowed(requester.Role, domain.CapManageUsers) {
		return domain.User{}, domain.ErrUnauthorized
	}

	user, err := uc.users.Get(ctx, username)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}
	return user, nil
}

// resolveLocation checks that a location id refers to a stored location.
// An empty id means no location.
func (uc *UserUsecase) resolveLocation(ctx context.Context, id string) (*string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	if _, err := uc.locations.Get(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ValidationError{Message: "unknown location"}
		}
		return nil, pkgerrors.Wrap(err, "failed to look up location")
	}
	return &id, nil
}

func applyProfile(user domain.User, input ProfileInput) domain.User {
	user.Name = input.Name
	user.Organization = input.Organization
	user.Email = input.Email
	user.Phone = input.Phone
	user.Address = input.Address
	return user
}
