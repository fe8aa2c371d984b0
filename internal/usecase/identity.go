package usecase

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/totegamma/agrichain/internal/domain"
)

var identityTracer = otel.Tracer("identity")

// dummyHash is compared against when the username is unknown so a miss costs
// the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("agrichain-dummy-password"), bcrypt.DefaultCost)

type IdentityUsecase struct {
	users    UserRepository
	sessions SessionStore
}

func NewIdentityUsecase(users UserRepository, sessions SessionStore) *IdentityUsecase {
	return &IdentityUsecase{
		users:    users,
		sessions: sessions,
	}
}

type LoginResult struct {
	SessionID string
	User      domain.SessionUser
}

// Login checks the credentials and opens a session. expectedRole is the role
// named in the login path and may be empty. Every rejection is reported as
// ErrInvalidCredentials.
func (uc *IdentityUsecase) Login(ctx context.Context, username, password, expectedRole string) (LoginResult, error) {
	ctx, span := identityTracer.Start(ctx, "Identity.Usecase.Login")
	defer span.End()
	span.SetAttributes(attribute.String("Username", username))

	if username == "" || password == "" {
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	creds, err := uc.users.GetCredentials(ctx, username)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			return LoginResult{}, pkgerrors.Wrap(err, "failed to load credentials")
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	if expectedRole != "" && string(creds.Role) != expectedRole {
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	user, err := uc.users.Get(ctx, username)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, pkgerrors.Wrap(err, "failed to load profile")
	}

	snapshot := domain.NewSessionUser(user)
	id, err := uc.sessions.Create(ctx, snapshot)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, pkgerrors.Wrap(err, "failed to create session")
	}

	return LoginResult{SessionID: id, User: snapshot}, nil
}

// Whoami returns the snapshot stored in the session.
func (uc *IdentityUsecase) Whoami(ctx context.Context, sessionID string) (domain.SessionUser, error) {
	ctx, span := identityTracer.Start(ctx, "Identity.Usecase.Whoami")
	defer span.End()

	if sessionID == "" {
		return domain.SessionUser{}, domain.ErrUnauthorized
	}

	user, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return domain.SessionUser{}, err
		}
		span.RecordError(err)
		return domain.SessionUser{}, pkgerrors.Wrap(err, "failed to read session")
	}
	return user, nil
}

func (uc *IdentityUsecase) Logout(ctx context.Context, sessionID string) error {
	ctx, span := identityTracer.Start(ctx, "Identity.Usecase.Logout")
	defer span.End()

	if sessionID == "" {
		return nil
	}
	if err := uc.sessions.Delete(ctx, sessionID); err != nil {
		span.RecordError(err)
		return pkgerrors.Wrap(err, "failed to delete session")
	}
	return nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to hash password")
	}
	return string(hash), nil
}
