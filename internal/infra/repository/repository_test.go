package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/infra/database"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("agrichain"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewPostgres(dsn)
	require.NoError(t, err)
	require.NoError(t, database.MigratePostgres(db))

	t.Cleanup(func() {
		_ = database.ClosePostgres(db)
	})
	return db
}

type fixture struct {
	products     *ProductRepository
	steps        *StepRepository
	certificates *CertificateRepository
	locations    *LocationRepository
	users        *UserRepository
	outbox       *OutboxRepository
}

func newFixture(t *testing.T) fixture {
	db := setupDB(t)
	return fixture{
		products:     NewProductRepository(db),
		steps:        NewStepRepository(db),
		certificates: NewCertificateRepository(db),
		locations:    NewLocationRepository(db),
		users:        NewUserRepository(db),
		outbox:       NewOutboxRepository(db),
	}
}

func registerEntry(productID string) domain.OutboxEntry {
	return domain.OutboxEntry{
		AggregateID: productID,
		Capability:  domain.CapabilityRegisterProduct,
		Args:        []string{productID, "name"},
	}
}

func createProduct(t *testing.T, f fixture, id, batch, farmer string, createdAt time.Time) {
	t.Helper()
	_, err := f.products.Create(context.Background(), domain.Product{
		ID:        id,
		BatchID:   batch,
		Name:      "Coffee",
		QRCode:    "0x1|" + id,
		Status:    "planted",
		Farmer:    farmer,
		CreatedAt: createdAt,
	}, registerEntry(id))
	require.NoError(t, err)
}

func stepEntry(s domain.SupplyChainStep) domain.OutboxEntry {
	return domain.OutboxEntry{
		AggregateID: s.ProductID,
		StepID:      &s.ID,
		Capability:  domain.CapabilityAddSupplyChainStep,
		Args:        []string{s.ProductID, s.ID},
	}
}

func createUser(t *testing.T, f fixture, username string, role domain.Role) {
	t.Helper()
	require.NoError(t, f.users.Create(context.Background(), domain.User{
		Username: username,
		Name:     username + " name",
		Role:     role,
	}, "hash"))
}

func TestProductCreateAndLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	entry, err := f.products.Create(ctx, domain.Product{
		ID: "PROD-1", BatchID: "BATCH-CO-2026-001", Name: "Coffee", QRCode: "0x1|PROD-1", Status: "planted", Farmer: "alice", CreatedAt: now,
	}, registerEntry("PROD-1"))
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, domain.OutboxPending, entry.Status)
	assert.Equal(t, []string{"PROD-1", "name"}, entry.Args)

	byID, err := f.products.GetByID(ctx, "PROD-1")
	require.NoError(t, err)
	byBatch, err := f.products.GetByBatchID(ctx, "BATCH-CO-2026-001")
	require.NoError(t, err)
	assert.Equal(t, byID, byBatch)

	_, err = f.products.GetByID(ctx, "PROD-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.products.Create(ctx, domain.Product{
		ID: "PROD-2", BatchID: "BATCH-CO-2026-001", Name: "Dup", QRCode: "x", Status: "planted", Farmer: "alice", CreatedAt: now,
	}, registerEntry("PROD-2"))
	assert.ErrorIs(t, err, domain.ErrBatchIDTaken)
	assert.NotErrorIs(t, err, domain.ErrValidation)

	_, err = f.products.Create(ctx, domain.Product{
		ID: "PROD-1", BatchID: "BATCH-CO-2026-002", Name: "Dup", QRCode: "y", Status: "planted", Farmer: "alice", CreatedAt: now,
	}, registerEntry("PROD-1"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.products.GetByID(ctx, "PROD-2")
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed insert must not leave a row")
}

func TestProductVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	createProduct(t, f, "PROD-OWN", "B-1", "alice", base)
	createProduct(t, f, "PROD-STEP", "B-2", "carol", base.Add(time.Hour))
	createProduct(t, f, "PROD-CERT", "B-3", "carol", base.Add(2*time.Hour))
	createProduct(t, f, "PROD-NONE", "B-4", "carol", base.Add(3*time.Hour))

	_, _, err := f.steps.Create(ctx, domain.SupplyChainStep{
		ProductID:   "PROD-STEP",
		Timestamp:   base,
		Action:      "Processed",
		PerformedBy: &domain.Performer{ID: "alice", Name: "Alice", Role: "farmer"},
	}, nil, stepEntry)
	require.NoError(t, err)

	step, _, err := f.steps.Create(ctx, domain.SupplyChainStep{ProductID: "PROD-CERT", Timestamp: base, Action: "Packed"}, nil, stepEntry)
	require.NoError(t, err)
	require.NoError(t, f.certificates.Create(ctx, domain.Certificate{
		ID: "CERT-1", Name: "Organic", Issuer: "alice", IssuedDate: base, Status: "valid",
	}, "PROD-CERT", &step.ID))

	visible, err := f.products.ListVisibleTo(ctx, "alice")
	require.NoError(t, err)

	ids := []string{}
	for _, p := range visible {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"PROD-CERT", "PROD-STEP", "PROD-OWN"}, ids)

	all, err := f.products.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "PROD-NONE", all[0].ID)
}

func TestProductIncrementVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	createProduct(t, f, "PROD-1", "B-1", "alice", time.Now())

	at := time.Now().UTC().Truncate(time.Millisecond)
	ok, err := f.products.IncrementVerification(ctx, "PROD-1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := f.products.GetByID(ctx, "PROD-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.VerificationCount)
	require.NotNil(t, p.LastVerified)
	assert.True(t, p.LastVerified.Equal(at))

	ok, err = f.products.IncrementVerification(ctx, "PROD-404", at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStepOrderingAndNumbering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	createProduct(t, f, "PROD-1", "B-1", "alice", base)
	createProduct(t, f, "PROD-2", "B-2", "alice", base)

	status := "harvested"
	first, entry, err := f.steps.Create(ctx, domain.SupplyChainStep{
		ProductID: "PROD-1", Timestamp: base.Add(2 * time.Hour), Action: "Harvested",
		Metadata: map[string]any{"crate": "A7"},
	}, &status, stepEntry)
	require.NoError(t, err)
	assert.Equal(t, "STEP-1", first.ID)
	require.NotNil(t, entry.StepID)
	assert.Equal(t, "STEP-1", *entry.StepID)
	assert.Equal(t, []string{"PROD-1", "STEP-1"}, entry.Args)

	second, _, err := f.steps.Create(ctx, domain.SupplyChainStep{ProductID: "PROD-1", Timestamp: base, Action: "Planted"}, nil, stepEntry)
	require.NoError(t, err)
	assert.Equal(t, "STEP-2", second.ID)

	other, _, err := f.steps.Create(ctx, domain.SupplyChainStep{ProductID: "PROD-2", Timestamp: base, Action: "Planted"}, nil, stepEntry)
	require.NoError(t, err)
	assert.Equal(t, "STEP-1", other.ID)

	steps, err := f.steps.ListForProduct(ctx, "PROD-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "STEP-2", steps[0].ID, "steps are ordered by timestamp")
	assert.Equal(t, "A7", steps[1].Metadata["crate"])
	assert.Nil(t, steps[0].PerformedBy)

	p, err := f.products.GetByID(ctx, "PROD-1")
	require.NoError(t, err)
	assert.Equal(t, "harvested", p.Status)

	require.NoError(t, f.steps.SetTxHash(ctx, "STEP-1", "PROD-1", "0xabc"))
	s, err := f.steps.Get(ctx, "STEP-1", "PROD-1")
	require.NoError(t, err)
	assert.True(t, s.Verified)
	assert.Equal(t, "0xabc", *s.TxHash)

	s, err = f.steps.Get(ctx, "STEP-1", "PROD-2")
	require.NoError(t, err)
	assert.Nil(t, s.TxHash, "step ids are scoped to their product")

	_, _, err = f.steps.Create(ctx, domain.SupplyChainStep{ProductID: "PROD-404", Timestamp: base, Action: "X"}, nil, stepEntry)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStepCertificateIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	createProduct(t, f, "PROD-1", "B-1", "alice", base)
	createProduct(t, f, "PROD-2", "B-2", "alice", base)
	createUser(t, f, "reg", domain.RoleRegulator)

	for _, id := range []string{"PROD-1", "PROD-2"} {
		_, _, err := f.steps.Create(ctx, domain.SupplyChainStep{ProductID: id, Timestamp: base, Action: "Harvested"}, nil, stepEntry)
		require.NoError(t, err)
	}

	stepID := "STEP-1"
	require.NoError(t, f.certificates.Create(ctx, domain.Certificate{
		ID: "CERT-1", Name: "Organic", Issuer: "reg", IssuedDate: base, Status: "valid",
	}, "PROD-1", &stepID))
	require.NoError(t, f.certificates.Create(ctx, domain.Certificate{
		ID: "CERT-2", Name: "Fair Trade", Issuer: "reg", IssuedDate: base.Add(time.Hour), Status: "valid",
	}, "PROD-1", nil))

	certs, err := f.certificates.ListForStep(ctx, "STEP-1", "PROD-1")
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "reg name", certs[0].IssuerName)

	certs, err = f.certificates.ListForStep(ctx, "STEP-1", "PROD-2")
	require.NoError(t, err)
	assert.Empty(t, certs)

	batched, err := f.certificates.ListForSteps(ctx, []string{"PROD-1", "PROD-2"})
	require.NoError(t, err)
	require.Len(t, batched, 1)
	assert.Equal(t, "PROD-1", batched[0].ProductID)

	productCerts, err := f.certificates.ListForProduct(ctx, "PROD-1")
	require.NoError(t, err)
	require.Len(t, productCerts, 1)
	assert.Equal(t, "CERT-2", productCerts[0].ID)

	all, err := f.certificates.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CERT-2", all[0].ID)

	own, err := f.certificates.ListIssuedBy(ctx, "reg")
	require.NoError(t, err)
	assert.Len(t, own, 2)

	_, err = f.certificates.Get(ctx, "CERT-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.locations.Save(ctx, domain.Location{ID: "LOC-1", Name: "Farm", Address: "1 Farm Road"}))
	loc := "LOC-1"
	require.NoError(t, f.users.Create(ctx, domain.User{
		Username: "alice", Name: "Alice", Email: "a@example.com", Role: domain.RoleFarmer, LocationID: &loc,
	}, "hash"))

	err := f.users.Create(ctx, domain.User{Username: "alice", Role: domain.RoleFarmer}, "hash")
	assert.ErrorIs(t, err, domain.ErrValidation)

	creds, err := f.users.GetCredentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash", creds.PasswordHash)
	assert.Equal(t, domain.RoleFarmer, creds.Role)

	exists, err := f.users.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	updated, err := f.users.UpdateProfile(ctx, domain.User{Username: "alice", Name: "Alice B", Email: "b@example.com", LocationID: &loc})
	require.NoError(t, err)
	assert.Equal(t, "Alice B", updated.Name)
	assert.Equal(t, domain.RoleFarmer, updated.Role)
	require.NotNil(t, updated.LocationID)
	assert.Equal(t, "LOC-1", *updated.LocationID)

	require.NoError(t, f.users.UpdateRole(ctx, "alice", domain.RoleDistributor))
	u, err := f.users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDistributor, u.Role)

	location, err := f.locations.ResolveForUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, location)
	assert.Equal(t, "1 Farm Road", location.Address)

	_, err = f.users.Get(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.users.UpdateRole(ctx, "ghost", domain.RoleAdmin), domain.ErrNotFound)
}

func TestUserLocationAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.locations.Save(ctx, domain.Location{ID: "LOC-1", Name: "Farm", Address: "1 Farm Road"}))
	require.NoError(t, f.locations.Save(ctx, domain.Location{ID: "LOC-1", Name: "Farm", Address: "9 Orchard Way"}))
	createUser(t, f, "bob", domain.RoleFarmer)

	location, err := f.locations.ResolveForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, location)

	loc := "LOC-1"
	_, err = f.users.UpdateProfile(ctx, domain.User{Username: "bob", Name: "Bob", LocationID: &loc})
	require.NoError(t, err)

	location, err = f.locations.ResolveForUser(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, location)
	assert.Equal(t, "9 Orchard Way", location.Address, "saving a location twice overwrites it")

	_, err = f.users.UpdateProfile(ctx, domain.User{Username: "bob", Name: "Bob"})
	require.NoError(t, err)
	location, err = f.locations.ResolveForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, location)
}

func TestOutboxClaimRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	createProduct(t, f, "PROD-1", "B-1", "alice", time.Now())
	createProduct(t, f, "PROD-2", "B-2", "alice", time.Now())
	past := time.Now().Add(-time.Hour)

	entries, err := f.outbox.ClaimRetryable(ctx, 2, 10, past)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "PROD-1", entries[0].AggregateID)
	assert.Equal(t, domain.OutboxInFlight, entries[0].Status)
	require.NotNil(t, entries[0].ClaimedAt)

	again, err := f.outbox.ClaimRetryable(ctx, 2, 10, past)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed entries are not handed out twice")

	require.NoError(t, f.outbox.MarkConfirmed(ctx, entries[0].ID, "0xabc"))
	require.NoError(t, f.outbox.MarkFailed(ctx, entries[1].ID, "timeout"))

	pending, err := f.outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	entries, err = f.outbox.ClaimRetryable(ctx, 2, 10, past)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PROD-2", entries[0].AggregateID)
	assert.Equal(t, 1, entries[0].Attempts)

	require.NoError(t, f.outbox.MarkFailed(ctx, entries[0].ID, "timeout"))
	entries, err = f.outbox.ClaimRetryable(ctx, 2, 10, past)
	require.NoError(t, err)
	assert.Empty(t, entries, "entries at the attempt limit are not retried")
}

func TestOutboxInFlightEntryIsLeased(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := registerEntry("PROD-1")
	entry.Status = domain.OutboxInFlight
	_, err := f.products.Create(ctx, domain.Product{
		ID: "PROD-1", BatchID: "B-1", Name: "Coffee", QRCode: "0x1|PROD-1", Status: "planted", Farmer: "alice", CreatedAt: time.Now(),
	}, entry)
	require.NoError(t, err)

	entries, err := f.outbox.ClaimRetryable(ctx, 5, 10, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, entries, "an entry being attempted inline is not picked up")

	entries, err = f.outbox.ClaimRetryable(ctx, 5, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 1, "an expired claim is taken over")
}

func TestOutboxConfirmedIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	createProduct(t, f, "PROD-1", "B-1", "alice", time.Now())

	entries, err := f.outbox.ClaimRetryable(ctx, 5, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, f.outbox.MarkConfirmed(ctx, entries[0].ID, "0xabc"))
	require.NoError(t, f.outbox.MarkFailed(ctx, entries[0].ID, "reverted duplicate"))
	require.NoError(t, f.outbox.MarkConfirmed(ctx, entries[0].ID, "0xdef"))

	pending, err := f.outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending)

	entries, err = f.outbox.ClaimRetryable(ctx, 5, 10, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOutboxConcurrentClaimsDoNotOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("PROD-%02d", i)
		createProduct(t, f, id, "B-"+id, "alice", time.Now())
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]int{}
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entries, err := f.outbox.ClaimRetryable(ctx, 5, 3, time.Now().Add(-time.Hour))
				if err != nil || len(entries) == 0 {
					assert.NoError(t, err)
					return
				}
				mu.Lock()
				for _, e := range entries {
					seen[e.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %d claimed more than once", id)
	}
}
