package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/totegamma/agrichain/internal/domain"
)

type mockProductRepo struct {
	products     map[string]domain.Product
	order        []string
	entries      []domain.OutboxEntry
	visibleTo    string
	createErr    error
	incremented  []string
	listAllCalls int
	takenBatches map[string]bool
	triedBatches []string
}

func newMockProductRepo(products ...domain.Product) *mockProductRepo {
	m := &mockProductRepo{products: map[string]domain.Product{}}
	for _, p := range products {
		m.products[p.ID] = p
		m.order = append(m.order, p.ID)
	}
	return m
}

func (m *mockProductRepo) Create(ctx context.Context, product domain.Product, entry domain.OutboxEntry) (domain.OutboxEntry, error) {
	if m.createErr != nil {
		return domain.OutboxEntry{}, m.createErr
	}
	m.triedBatches = append(m.triedBatches, product.BatchID)
	if m.takenBatches[product.BatchID] {
		return domain.OutboxEntry{}, domain.ErrBatchIDTaken
	}
	m.products[product.ID] = product
	m.order = append(m.order, product.ID)
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *mockProductRepo) GetByID(ctx context.Context, id string) (domain.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, domain.NotFoundError{Resource: "product"}
	}
	return p, nil
}

func (m *mockProductRepo) GetByBatchID(ctx context.Context, batchID string) (domain.Product, error) {
	for _, p := range m.products {
		if p.BatchID == batchID {
			return p, nil
		}
	}
	return domain.Product{}, domain.NotFoundError{Resource: "product"}
}

func (m *mockProductRepo) ListAll(ctx context.Context) ([]domain.Product, error) {
	m.listAllCalls++
	result := []domain.Product{}
	for _, id := range m.order {
		result = append(result, m.products[id])
	}
	return result, nil
}

func (m *mockProductRepo) ListVisibleTo(ctx context.Context, username string) ([]domain.Product, error) {
	m.visibleTo = username
	result := []domain.Product{}
	for _, id := range m.order {
		if m.products[id].Farmer == username {
			result = append(result, m.products[id])
		}
	}
	return result, nil
}

func (m *mockProductRepo) IncrementVerification(ctx context.Context, id string, at time.Time) (bool, error) {
	p, ok := m.products[id]
	if !ok {
		return false, nil
	}
	p.VerificationCount++
	p.LastVerified = &at
	m.products[id] = p
	m.incremented = append(m.incremented, id)
	return true, nil
}

type mockCertificateRepo struct {
	certificates map[string]domain.Certificate
	productCerts []domain.ProductCertificate
	stepCerts    []domain.StepCertificate
	failSteps    map[string]bool
	created      []domain.Certificate
	createdFor   []domain.StepKey
}

func newMockCertificateRepo() *mockCertificateRepo {
	return &mockCertificateRepo{
		certificates: map[string]domain.Certificate{},
		failSteps:    map[string]bool{},
	}
}

func (m *mockCertificateRepo) ListForProducts(ctx context.Context, productIDs []string) ([]domain.ProductCertificate, error) {
	result := []domain.ProductCertificate{}
	for _, c := range m.productCerts {
		if contains(productIDs, c.ProductID) {
			result = append(result, c)
		}
	}
	return result, nil
}

func (m *mockCertificateRepo) ListForProduct(ctx context.Context, productID string) ([]domain.Certificate, error) {
	result := []domain.Certificate{}
	for _, c := range m.productCerts {
		if c.ProductID == productID {
			result = append(result, c.Certificate)
		}
	}
	return result, nil
}

func (m *mockCertificateRepo) ListForSteps(ctx context.Context, productIDs []string) ([]domain.StepCertificate, error) {
	result := []domain.StepCertificate{}
	for _, c := range m.stepCerts {
		if contains(productIDs, c.ProductID) {
			result = append(result, c)
		}
	}
	return result, nil
}

func (m *mockCertificateRepo) ListForStep(ctx context.Context, stepID, productID string) ([]domain.Certificate, error) {
	if m.failSteps[stepID] {
		return nil, fmt.Errorf("boom")
	}
	result := []domain.Certificate{}
	for _, c := range m.stepCerts {
		if c.StepID == stepID && c.ProductID == productID {
			result = append(result, c.Certificate)
		}
	}
	return result, nil
}

func (m *mockCertificateRepo) ListAll(ctx context.Context) ([]domain.Certificate, error) {
	result := []domain.Certificate{}
	for _, c := range m.certificates {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IssuedDate.After(result[j].IssuedDate) })
	return result, nil
}

func (m *mockCertificateRepo) ListIssuedBy(ctx context.Context, username string) ([]domain.Certificate, error) {
	all, _ := m.ListAll(ctx)
	result := []domain.Certificate{}
	for _, c := range all {
		if c.Issuer == username {
			result = append(result, c)
		}
	}
	return result, nil
}

func (m *mockCertificateRepo) Get(ctx context.Context, id string) (domain.Certificate, error) {
	c, ok := m.certificates[id]
	if !ok {
		return domain.Certificate{}, domain.NotFoundError{Resource: "certificate"}
	}
	return c, nil
}

func (m *mockCertificateRepo) Create(ctx context.Context, cert domain.Certificate, productID string, stepID *string) error {
	m.certificates[cert.ID] = cert
	m.created = append(m.created, cert)
	key := domain.StepKey{ProductID: productID}
	if stepID != nil {
		key.StepID = *stepID
		m.stepCerts = append(m.stepCerts, domain.StepCertificate{StepID: *stepID, ProductID: productID, Certificate: cert})
	} else {
		m.productCerts = append(m.productCerts, domain.ProductCertificate{ProductID: productID, Certificate: cert})
	}
	m.createdFor = append(m.createdFor, key)
	return nil
}

type mockStepRepo struct {
	steps     []domain.SupplyChainStep
	statuses  map[string]string
	entries   []domain.OutboxEntry
	txHashes  map[domain.StepKey]string
	products  *mockProductRepo
	createErr error
}

func newMockStepRepo(products *mockProductRepo) *mockStepRepo {
	return &mockStepRepo{
		statuses: map[string]string{},
		txHashes: map[domain.StepKey]string{},
		products: products,
	}
}

func (m *mockStepRepo) ListForProducts(ctx context.Context, productIDs []string) ([]domain.SupplyChainStep, error) {
	result := []domain.SupplyChainStep{}
	for _, s := range m.steps {
		if contains(productIDs, s.ProductID) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *mockStepRepo) ListForProduct(ctx context.Context, productID string) ([]domain.SupplyChainStep, error) {
	return m.ListForProducts(ctx, []string{productID})
}

func (m *mockStepRepo) Get(ctx context.Context, stepID, productID string) (domain.SupplyChainStep, error) {
	for _, s := range m.steps {
		if s.ID == stepID && s.ProductID == productID {
			return s, nil
		}
	}
	return domain.SupplyChainStep{}, domain.NotFoundError{Resource: "step"}
}

func (m *mockStepRepo) Create(ctx context.Context, step domain.SupplyChainStep, newStatus *string, build func(domain.SupplyChainStep) domain.OutboxEntry) (domain.SupplyChainStep, domain.OutboxEntry, error) {
	if m.createErr != nil {
		return domain.SupplyChainStep{}, domain.OutboxEntry{}, m.createErr
	}
	if m.products != nil {
		if _, ok := m.products.products[step.ProductID]; !ok {
			return domain.SupplyChainStep{}, domain.OutboxEntry{}, domain.NotFoundError{Resource: "product"}
		}
	}

	n := 0
	for _, s := range m.steps {
		if s.ProductID == step.ProductID {
			n++
		}
	}
	step.ID = fmt.Sprintf("STEP-%d", n+1)
	m.steps = append(m.steps, step)

	if newStatus != nil {
		m.statuses[step.ProductID] = *newStatus
	}

	entry := build(step)
	entry.ID = int64(len(m.entries) + 100)
	m.entries = append(m.entries, entry)
	return step, entry, nil
}

func (m *mockStepRepo) SetTxHash(ctx context.Context, stepID, productID, txHash string) error {
	m.txHashes[domain.StepKey{StepID: stepID, ProductID: productID}] = txHash
	return nil
}

type mockLocationRepo struct {
	locations map[string]domain.Location
	forUser   map[string]string
}

func (m *mockLocationRepo) Get(ctx context.Context, id string) (domain.Location, error) {
	l, ok := m.locations[id]
	if !ok {
		return domain.Location{}, domain.NotFoundError{Resource: "location"}
	}
	return l, nil
}

func (m *mockLocationRepo) Save(ctx context.Context, location domain.Location) error {
	if m.locations == nil {
		m.locations = map[string]domain.Location{}
	}
	m.locations[location.ID] = location
	return nil
}

func (m *mockLocationRepo) ListByIDs(ctx context.Context, ids []string) ([]domain.Location, error) {
	result := []domain.Location{}
	for _, id := range ids {
		if l, ok := m.locations[id]; ok {
			result = append(result, l)
		}
	}
	return result, nil
}

func (m *mockLocationRepo) ResolveForUser(ctx context.Context, username string) (*domain.Location, error) {
	id, ok := m.forUser[username]
	if !ok {
		return nil, nil
	}
	l, ok := m.locations[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

type mockUserRepo struct {
	users     map[string]domain.User
	passwords map[string]string
}

func newMockUserRepo(users ...domain.User) *mockUserRepo {
	m := &mockUserRepo{users: map[string]domain.User{}, passwords: map[string]string{}}
	for _, u := range users {
		m.users[u.Username] = u
	}
	return m
}

func (m *mockUserRepo) GetCredentials(ctx context.Context, username string) (domain.Credentials, error) {
	u, ok := m.users[username]
	if !ok {
		return domain.Credentials{}, domain.NotFoundError{Resource: "user"}
	}
	return domain.Credentials{Username: username, PasswordHash: m.passwords[username], Role: u.Role}, nil
}

func (m *mockUserRepo) Get(ctx context.Context, username string) (domain.User, error) {
	u, ok := m.users[username]
	if !ok {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	return u, nil
}

func (m *mockUserRepo) List(ctx context.Context) ([]domain.User, error) {
	result := []domain.User{}
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (m *mockUserRepo) ListByUsernames(ctx context.Context, usernames []string) ([]domain.User, error) {
	result := []domain.User{}
	for _, name := range usernames {
		if u, ok := m.users[name]; ok {
			result = append(result, u)
		}
	}
	return result, nil
}

func (m *mockUserRepo) Exists(ctx context.Context, username string) (bool, error) {
	_, ok := m.users[username]
	return ok, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user domain.User, passwordHash string) error {
	if _, ok := m.users[user.Username]; ok {
		return domain.ValidationError{Message: "username already exists"}
	}
	m.users[user.Username] = user
	m.passwords[user.Username] = passwordHash
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, user domain.User) (domain.User, error) {
	existing, ok := m.users[user.Username]
	if !ok {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	user.Role = existing.Role
	m.users[user.Username] = user
	return user, nil
}

func (m *mockUserRepo) UpdateRole(ctx context.Context, username string, role domain.Role) error {
	u, ok := m.users[username]
	if !ok {
		return domain.NotFoundError{Resource: "user"}
	}
	u.Role = role
	m.users[username] = u
	return nil
}

type mockOutboxRepo struct {
	confirmed map[int64]string
	failed    map[int64]int
	retryable   []domain.OutboxEntry
	pending     int64
	limits      []int
	staleBefore []time.Time
}

func newMockOutboxRepo() *mockOutboxRepo {
	return &mockOutboxRepo{confirmed: map[int64]string{}, failed: map[int64]int{}}
}

func (m *mockOutboxRepo) MarkConfirmed(ctx context.Context, id int64, txHash string) error {
	m.confirmed[id] = txHash
	return nil
}

func (m *mockOutboxRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	m.failed[id]++
	return nil
}

func (m *mockOutboxRepo) ClaimRetryable(ctx context.Context, maxAttempts, limit int, staleBefore time.Time) ([]domain.OutboxEntry, error) {
	m.limits = append(m.limits, maxAttempts)
	m.staleBefore = append(m.staleBefore, staleBefore)
	return m.retryable, nil
}

func (m *mockOutboxRepo) CountPending(ctx context.Context) (int64, error) {
	return m.pending, nil
}

type ledgerCall struct {
	capability string
	args       []any
}

type mockLedger struct {
	receipt *domain.LedgerReceipt
	calls   []ledgerCall
}

func (m *mockLedger) Invoke(ctx context.Context, capability string, args ...any) *domain.LedgerReceipt {
	m.calls = append(m.calls, ledgerCall{capability: capability, args: args})
	return m.receipt
}

type mockEvents struct {
	events []domain.ProductEvent
}

func (m *mockEvents) Publish(ctx context.Context, event domain.ProductEvent) error {
	m.events = append(m.events, event)
	return nil
}

type mockSessionStore struct {
	sessions map[string]domain.SessionUser
	next     int
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: map[string]domain.SessionUser{}}
}

func (m *mockSessionStore) Create(ctx context.Context, user domain.SessionUser) (string, error) {
	m.next++
	id := fmt.Sprintf("session-%d", m.next)
	m.sessions[id] = user
	return id, nil
}

func (m *mockSessionStore) Get(ctx context.Context, id string) (domain.SessionUser, error) {
	u, ok := m.sessions[id]
	if !ok {
		return domain.SessionUser{}, domain.ErrUnauthorized
	}
	return u, nil
}

func (m *mockSessionStore) Delete(ctx context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T {
	return &v
}
