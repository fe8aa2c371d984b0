package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/identifier"
	"github.com/totegamma/agrichain/internal/monitoring"
	"github.com/totegamma/agrichain/policy"
)

var productTracer = otel.Tracer("product")

const (
	defaultProductStatus = "planted"
	batchIDAttempts      = 5
)

type RegisterProductInput struct {
	Name        string
	Description string
	Type        string
	ImageURL    string
	Status      string
	Temperature *float64
	Humidity    *float64
	RetailPrice *float64
}

type ProductUsecase struct {
	products        ProductRepository
	certificates    CertificateRepository
	steps           StepRepository
	locations       LocationRepository
	users           UserRepository
	mirror          *MirrorUsecase
	events          EventPublisher
	contractAddress string
	now             func() time.Time
	batchID         func(name, typ string, now time.Time) string
}

func NewProductUsecase(
	products ProductRepository,
	certificates CertificateRepository,
	steps StepRepository,
	locations LocationRepository,
	users UserRepository,
	mirror *MirrorUsecase,
	events EventPublisher,
	contractAddress string,
) *ProductUsecase {
	return &ProductUsecase{
		products:        products,
		certificates:    certificates,
		steps:           steps,
		locations:       locations,
		users:           users,
		mirror:          mirror,
		events:          events,
		contractAddress: contractAddress,
		now:             time.Now,
		batchID:         identifier.NewBatchID,
	}
}

// List returns every product for admins. Anyone else sees the products they
// registered, performed a step on, or certified a step of.
func (uc *ProductUsecase) List(ctx context.Context, requester domain.SessionUser) ([]domain.ProductView, error) {
	ctx, span := productTracer.Start(ctx, "Product.Usecase.List")
	defer span.End()

	var (
		products []domain.Product
		err      error
	)
	if policy.Allowed(requester.Role, domain.CapListAllProducts) {
		products, err = uc.products.ListAll(ctx)
	} else {
		products, err = uc.products.ListVisibleTo(ctx, requester.Username)
	}
	if err != nil {
		span.RecordError(err)
		return nil, pkgerrors.Wrap(err, "failed to list products")
	}

	views := make([]domain.ProductView, 0, len(products))
	if len(products) == 0 {
		return views, nil
	}

	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}

	productCerts, err := uc.certificates.ListForProducts(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, pkgerrors.Wrap(err, "failed to load product certificates")
	}
	steps, err := uc.steps.ListForProducts(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, pkgerrors.Wrap(err, "failed to load supply chain")
	}
	stepCerts, err := uc.certificates.ListForSteps(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, pkgerrors.Wrap(err, "failed to load step certificates")
	}

	certsByProduct := make(map[string][]domain.CertificateView)
	for _, c := range productCerts {
		certsByProduct[c.ProductID] = append(certsByProduct[c.ProductID], domain.NewCertificateView(c.Certificate))
	}

	certsByStep := make(map[domain.StepKey][]domain.CertificateView)
	for _, c := range stepCerts {
		key := domain.StepKey{StepID: c.StepID, ProductID: c.ProductID}
		certsByStep[key] = append(certsByStep[key], domain.NewCertificateView(c.Certificate))
	}

	stepsByProduct := make(map[string][]domain.SupplyChainStep)
	for _, s := range steps {
		stepsByProduct[s.ProductID] = append(stepsByProduct[s.ProductID], s)
	}

	locations, err := uc.loadLocations(ctx, products, steps)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	farmers, err := uc.loadFarmers(ctx, products)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, p := range products {
		stepViews := make([]domain.StepView, 0, len(stepsByProduct[p.ID]))
		for _, s := range stepsByProduct[p.ID] {
			stepViews = append(stepViews, newStepView(s, locations, certsByStep[domain.StepKey{StepID: s.ID, ProductID: p.ID}]))
		}
		views = append(views, newProductView(p, locations, farmers, certsByProduct[p.ID], stepViews))
	}

	span.SetAttributes(attribute.Int("Count", len(views)))
	return views, nil
}

// Get resolves a product id or batch id and assembles its detail view. Step
// certificates are fetched per step; a step whose fetch fails is left out.
func (uc *ProductUsecase) Get(ctx context.Context, id string) (domain.ProductView, error) {
	ctx, span := productTracer.Start(ctx, "Product.Usecase.Get")
	defer span.End()

	product, err := uc.Resolve(ctx, id)
	if err != nil {
		span.RecordError(err)
		return domain.ProductView{}, err
	}

	certs, err := uc.certificates.ListForProduct(ctx, product.ID)
	if err != nil {
		span.RecordError(err)
		return domain.ProductView{}, pkgerrors.Wrap(err, "failed to load product certificates")
	}
	certViews := make([]domain.CertificateView, 0, len(certs))
	for _, c := range certs {
		certViews = append(certViews, domain.NewCertificateView(c))
	}

	steps, err := uc.steps.ListForProduct(ctx, product.ID)
	if err != nil {
		span.RecordError(err)
		return domain.ProductView{}, pkgerrors.Wrap(err, "failed to load supply chain")
	}

	locations, err := uc.loadLocations(ctx, []domain.Product{product}, steps)
	if err != nil {
		span.RecordError(err)
		return domain.ProductView{}, err
	}
	farmers, err := uc.loadFarmers(ctx, []domain.Product{product})
	if err != nil {
		span.RecordError(err)
		return domain.ProductView{}, err
	}

	stepViews := make([]domain.StepView, 0, len(steps))
	for _, s := range steps {
		stepCerts, err := uc.certificates.ListForStep(ctx, s.ID, product.ID)
		if err != nil {
			slog.WarnContext(ctx, "dropping step with unreadable certificates", "product", product.ID, "step", s.ID, "err", err)
			continue
		}
		views := make([]domain.CertificateView, 0, len(stepCerts))
		for _, c := range stepCerts {
			views = append(views, domain.NewCertificateView(c))
		}
		stepViews = append(stepViews, newStepView(s, locations, views))
	}

	return newProductView(product, locations, farmers, certViews, stepViews), nil
}

// Resolve looks the identifier up as a product id, then as a batch id, then
// as a scanned QR payload.
func (uc *ProductUsecase) Resolve(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, domain.NotFoundError{Resource: "product"}
	}

	product, err := uc.products.GetByID(ctx, id)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Product{}, err
	}

	product, err = uc.products.GetByBatchID(ctx, id)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Product{}, err
	}

	if _, productID, ok := identifier.ParseQRPayload(id); ok {
		return uc.products.GetByID(ctx, productID)
	}

	return domain.Product{}, domain.NotFoundError{Resource: "product"}
}

// Register stores the product and its outbox entry, then mirrors the
// registration on the ledger. When the mirror fails the product is returned
// together with ErrLedgerMirror; the row stays and the reconciler retries.
func (uc *ProductUsecase) Register(ctx context.Context, requester domain.SessionUser, input RegisterProductInput) (domain.Product, error) {
	ctx, span := productTracer.Start(ctx, "Product.Usecase.Register")
	defer span.End()

	if !policy.Allowed(requester.Role, domain.CapRegisterProduct) {
		return domain.Product{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(input.Name) == "" {
		return domain.Product{}, domain.ValidationError{Message: "product name is required"}
	}

	now := uc.now()
	productID := identifier.NewProductID()
	payload := identifier.QRPayload(uc.contractAddress, productID)
	qrImage, err := identifier.QRImage(payload)
	if err != nil {
		span.RecordError(err)
		monitoring.ProductRegistrations.WithLabelValues("error").Inc()
		return domain.Product{}, err
	}

	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = defaultProductStatus
	}

	// The farmer's location is resolved before the insert so the product row
	// and the ledger args carry the same address.
	location, err := uc.locations.ResolveForUser(ctx, requester.Username)
	if err != nil {
		span.RecordError(err)
		monitoring.ProductRegistrations.WithLabelValues("error").Inc()
		return domain.Product{}, pkgerrors.Wrap(err, "failed to resolve farmer location")
	}
	address := ""
	var locationID *string
	if location != nil {
		address = location.Address
		locationID = &location.ID
	}

	product := domain.Product{
		ID:          productID,
		Name:        input.Name,
		Description: input.Description,
		Type:        input.Type,
		ImageURL:    input.ImageURL,
		QRCode:      payload,
		QRImage:     qrImage,
		Status:      status,
		CreatedAt:   now,
		LocationID:  locationID,
		Farmer:      requester.Username,
		RetailPrice: input.RetailPrice,
		Temperature: input.Temperature,
		Humidity:    input.Humidity,
	}

	// Batch ids carry a three digit suffix, so a collision within the same
	// code and year is retried with a fresh suffix.
	var entry domain.OutboxEntry
	for attempt := 1; ; attempt++ {
		product.BatchID = uc.batchID(input.Name, input.Type, now)
		entry, err = uc.products.Create(ctx, product, registerProductEntry(product, address))
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrBatchIDTaken) && attempt < batchIDAttempts {
			slog.DebugContext(ctx, "batch id taken, retrying", "batch", product.BatchID, "attempt", attempt)
			continue
		}
		span.RecordError(err)
		monitoring.ProductRegistrations.WithLabelValues("error").Inc()
		return domain.Product{}, pkgerrors.Wrap(err, "failed to store product")
	}
	span.SetAttributes(attribute.String("ProductID", product.ID))

	uc.publish(ctx, domain.ProductEvent{
		Type:      domain.EventProductRegistered,
		ProductID: product.ID,
		BatchID:   product.BatchID,
		Actor:     requester.Username,
		Status:    product.Status,
		At:        now,
	})

	if receipt := uc.mirror.Attempt(ctx, entry); receipt == nil {
		monitoring.ProductRegistrations.WithLabelValues("mirror_failed").Inc()
		slog.WarnContext(ctx, "product stored but ledger mirror failed", "product", product.ID)
		return product, domain.ErrLedgerMirror
	}

	monitoring.ProductRegistrations.WithLabelValues("ok").Inc()
	return product, nil
}

func registerProductEntry(product domain.Product, address string) domain.OutboxEntry {
	return domain.OutboxEntry{
		AggregateID: product.ID,
		Capability:  domain.CapabilityRegisterProduct,
		Args: []string{
			product.ID,
			product.Name,
			product.BatchID,
			product.Type,
			product.Status,
			product.Farmer,
			address,
		},
		Status: domain.OutboxInFlight,
	}
}

// Verify counts a consumer verification. An unknown identifier touches no row.
func (uc *ProductUsecase) Verify(ctx context.Context, id string) (domain.Product, error) {
	ctx, span := productTracer.Start(ctx, "Product.Usecase.Verify")
	defer span.End()

	product, err := uc.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			monitoring.ProductVerifications.WithLabelValues("not_found").Inc()
		}
		span.RecordError(err)
		return domain.Product{}, err
	}

	now := uc.now()
	updated, err := uc.products.IncrementVerification(ctx, product.ID, now)
	if err != nil {
		span.RecordError(err)
		return domain.Product{}, pkgerrors.Wrap(err, "failed to record verification")
	}
	if !updated {
		monitoring.ProductVerifications.WithLabelValues("not_found").Inc()
		return domain.Product{}, domain.NotFoundError{Resource: "product"}
	}

	monitoring.ProductVerifications.WithLabelValues("ok").Inc()
	product.VerificationCount++
	product.LastVerified = &now

	uc.publish(ctx, domain.ProductEvent{
		Type:      domain.EventProductVerified,
		ProductID: product.ID,
		BatchID:   product.BatchID,
		At:        now,
	})

	return product, nil
}

func (uc *ProductUsecase) publish(ctx context.Context, event domain.ProductEvent) {
	if uc.events == nil {
		return
	}
	if err := uc.events.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish product event", "type", event.Type, "product", event.ProductID, "err", err)
	}
}

func (uc *ProductUsecase) loadLocations(ctx context.Context, products []domain.Product, steps []domain.SupplyChainStep) (map[string]domain.Location, error) {
	seen := make(map[string]bool)
	ids := []string{}
	add := func(id *string) {
		if id == nil || *id == "" || seen[*id] {
			return
		}
		seen[*id] = true
		ids = append(ids, *id)
	}
	for _, p := range products {
		add(p.LocationID)
	}
	for _, s := range steps {
		add(s.LocationID)
	}

	result := make(map[string]domain.Location, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	locations, err := uc.locations.ListByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load locations")
	}
	for _, l := range locations {
		result[l.ID] = l
	}
	return result, nil
}

func (uc *ProductUsecase) loadFarmers(ctx context.Context, products []domain.Product) (map[string]domain.User, error) {
	seen := make(map[string]bool)
	usernames := []string{}
	for _, p := range products {
		if p.Farmer == "" || seen[p.Farmer] {
			continue
		}
		seen[p.Farmer] = true
		usernames = append(usernames, p.Farmer)
	}

	result := make(map[string]domain.User, len(usernames))
	if len(usernames) == 0 {
		return result, nil
	}

	users, err := uc.users.ListByUsernames(ctx, usernames)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load farmers")
	}
	for _, u := range users {
		result[u.Username] = u
	}
	return result, nil
}

func lookupLocation(locations map[string]domain.Location, id *string) *domain.Location {
	if id == nil {
		return nil
	}
	l, ok := locations[*id]
	if !ok {
		return nil
	}
	return &l
}

func newStepView(s domain.SupplyChainStep, locations map[string]domain.Location, certs []domain.CertificateView) domain.StepView {
	if certs == nil {
		certs = []domain.CertificateView{}
	}
	return domain.StepView{
		ID:              s.ID,
		Timestamp:       s.Timestamp,
		Action:          s.Action,
		Description:     s.Description,
		PerformedBy:     s.PerformedBy,
		Location:        lookupLocation(locations, s.LocationID),
		Temperature:     s.Temperature,
		Humidity:        s.Humidity,
		Metadata:        s.Metadata,
		Verified:        s.Verified,
		TransactionHash: s.TxHash,
		Certificates:    certs,
	}
}

func newProductView(
	p domain.Product,
	locations map[string]domain.Location,
	farmers map[string]domain.User,
	certs []domain.CertificateView,
	steps []domain.StepView,
) domain.ProductView {
	if certs == nil {
		certs = []domain.CertificateView{}
	}
	if steps == nil {
		steps = []domain.StepView{}
	}

	farmer := domain.FarmerSummary{Username: p.Farmer}
	if u, ok := farmers[p.Farmer]; ok {
		farmer.Name = u.Name
		farmer.Organization = u.Organization
	}

	return domain.ProductView{
		ID:                p.ID,
		Name:              p.Name,
		Description:       p.Description,
		Type:              p.Type,
		Image:             p.ImageURL,
		BatchID:           p.BatchID,
		QRCode:            p.QRCode,
		QRImage:           p.QRImage,
		CreatedAt:         p.CreatedAt,
		CurrentLocation:   lookupLocation(locations, p.LocationID),
		Certificates:      certs,
		SupplyChain:       steps,
		Status:            p.Status,
		Farmer:            farmer,
		RetailPrice:       p.RetailPrice,
		VerificationCount: p.VerificationCount,
		LastVerified:      p.LastVerified,
	}
}
