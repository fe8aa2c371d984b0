package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/totegamma/agrichain/internal/domain"
)

func newIdentityFixture(t *testing.T) (*mockUserRepo, *mockSessionStore, *IdentityUsecase) {
	t.Helper()

	users := newMockUserRepo(domain.User{Username: "alice", Name: "Alice", Organization: "Green Valley Farm", Email: "a@example.com", Role: domain.RoleFarmer})
	hash, err := HashPassword("secret1")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	users.passwords["alice"] = hash

	sessions := newMockSessionStore()
	return users, sessions, NewIdentityUsecase(users, sessions)
}

func TestIdentityLogin(t *testing.T) {
	_, sessions, uc := newIdentityFixture(t)

	result, err := uc.Login(context.Background(), "alice", "secret1", "farmer")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.User.Role != domain.RoleFarmer || result.User.Organization != "Green Valley Farm" {
		t.Fatalf("unexpected snapshot %+v", result.User)
	}
	if _, ok := sessions.sessions[result.SessionID]; !ok {
		t.Fatalf("expected session to be stored")
	}

	if _, err := uc.Login(context.Background(), "alice", "secret1", ""); err != nil {
		t.Fatalf("login without role failed: %v", err)
	}
}

func TestIdentityLoginRejected(t *testing.T) {
	_, sessions, uc := newIdentityFixture(t)

	cases := []struct {
		name     string
		username string
		password string
		role     string
	}{
		{"wrong password", "alice", "nope", ""},
		{"unknown user", "mallory", "secret1", ""},
		{"role mismatch", "alice", "secret1", "admin"},
		{"empty", "", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.Login(context.Background(), tc.username, tc.password, tc.role)
			if !errors.Is(err, domain.ErrInvalidCredentials) {
				t.Fatalf("expected invalid credentials got %v", err)
			}
		})
	}

	if len(sessions.sessions) != 0 {
		t.Fatalf("expected no sessions")
	}
}

func TestIdentitySessionLifecycle(t *testing.T) {
	users, _, uc := newIdentityFixture(t)

	result, err := uc.Login(context.Background(), "alice", "secret1", "")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	u := users.users["alice"]
	u.Name = "Alice Renamed"
	users.users["alice"] = u

	who, err := uc.Whoami(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("whoami failed: %v", err)
	}
	if who.Name != "Alice" {
		t.Fatalf("expected snapshot to keep the login-time name got %s", who.Name)
	}

	if err := uc.Logout(context.Background(), result.SessionID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := uc.Whoami(context.Background(), result.SessionID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized after logout got %v", err)
	}
	if _, err := uc.Whoami(context.Background(), ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without session got %v", err)
	}
}
