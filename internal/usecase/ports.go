package usecase

import (
	"context"
	"time"

	"github.com/totegamma/agrichain/internal/domain"
)

// ProductRepository defines storage operations for products.
type ProductRepository interface {
	Create(ctx context.Context, product domain.Product, entry domain.OutboxEntry) (domain.OutboxEntry, error)
	GetByID(ctx context.Context, id string) (domain.Product, error)
	GetByBatchID(ctx context.Context, batchID string) (domain.Product, error)
	ListAll(ctx context.Context) ([]domain.Product, error)
	ListVisibleTo(ctx context.Context, username string) ([]domain.Product, error)
	IncrementVerification(ctx context.Context, id string, at time.Time) (bool, error)
}

// CertificateRepository defines storage operations for certificates and
// their product/step associations.
type CertificateRepository interface {
	ListForProducts(ctx context.Context, productIDs []string) ([]domain.ProductCertificate, error)
	ListForProduct(ctx context.Context, productID string) ([]domain.Certificate, error)
	ListForSteps(ctx context.Context, productIDs []string) ([]domain.StepCertificate, error)
	ListForStep(ctx context.Context, stepID, productID string) ([]domain.Certificate, error)
	ListAll(ctx context.Context) ([]domain.Certificate, error)
	ListIssuedBy(ctx context.Context, username string) ([]domain.Certificate, error)
	Get(ctx context.Context, id string) (domain.Certificate, error)
	Create(ctx context.Context, cert domain.Certificate, productID string, stepID *string) error
}

// StepRepository defines storage operations for supply-chain steps.
type StepRepository interface {
	ListForProducts(ctx context.Context, productIDs []string) ([]domain.SupplyChainStep, error)
	ListForProduct(ctx context.Context, productID string) ([]domain.SupplyChainStep, error)
	Get(ctx context.Context, stepID, productID string) (domain.SupplyChainStep, error)
	// Create assigns the next step id of the product, optionally moves the
	// product to newStatus and enqueues the outbox entry built from the
	// stored step, all in one transaction.
	Create(ctx context.Context, step domain.SupplyChainStep, newStatus *string, entry func(domain.SupplyChainStep) domain.OutboxEntry) (domain.SupplyChainStep, domain.OutboxEntry, error)
	// SetTxHash links a step to its ledger transaction and marks it verified.
	SetTxHash(ctx context.Context, stepID, productID, txHash string) error
}

// LocationRepository resolves and stores locations.
type LocationRepository interface {
	Get(ctx context.Context, id string) (domain.Location, error)
	Save(ctx context.Context, location domain.Location) error
	ListByIDs(ctx context.Context, ids []string) ([]domain.Location, error)
	ResolveForUser(ctx context.Context, username string) (*domain.Location, error)
}

// UserRepository defines persistence for the auth and profile halves of an
// identity.
type UserRepository interface {
	GetCredentials(ctx context.Context, username string) (domain.Credentials, error)
	Get(ctx context.Context, username string) (domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	ListByUsernames(ctx context.Context, usernames []string) ([]domain.User, error)
	Exists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user domain.User, passwordHash string) error
	UpdateProfile(ctx context.Context, user domain.User) (domain.User, error)
	UpdateRole(ctx context.Context, username string, role domain.Role) error
}

// OutboxRepository tracks ledger writes that still need confirming.
type OutboxRepository interface {
	MarkConfirmed(ctx context.Context, id int64, txHash string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	// ClaimRetryable takes ownership of unconfirmed entries. In-flight entries
	// are only taken over when claimed before staleBefore.
	ClaimRetryable(ctx context.Context, maxAttempts, limit int, staleBefore time.Time) ([]domain.OutboxEntry, error)
	CountPending(ctx context.Context) (int64, error)
}

// LedgerMirror forwards a named contract call. A nil receipt means the
// mirror failed for whatever reason.
type LedgerMirror interface {
	Invoke(ctx context.Context, capability string, args ...any) *domain.LedgerReceipt
}

// SessionStore keeps server-side sessions.
type SessionStore interface {
	Create(ctx context.Context, user domain.SessionUser) (string, error)
	Get(ctx context.Context, id string) (domain.SessionUser, error)
	Delete(ctx context.Context, id string) error
}

// EventPublisher fans product events out to realtime subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ProductEvent) error
}
