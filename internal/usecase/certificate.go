package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/policy"
)

var certificateTracer = otel.Tracer("certificate")

type IssueCertificateInput struct {
	Name       string
	ProductID  string
	StepID     string
	ExpiryDate *time.Time
}

type CertificateUsecase struct {
	certificates CertificateRepository
	products     ProductRepository
	steps        StepRepository
	now          func() time.Time
}

func NewCertificateUsecase(certificates CertificateRepository, products ProductRepository, steps StepRepository) *CertificateUsecase {
	return &CertificateUsecase{
		certificates: certificates,
		products:     products,
		steps:        steps,
		now:          time.Now,
	}
}

// List returns all certificates to admins and the requester's own to
// regulators. Other roles are refused.
func (uc *CertificateUsecase) List(ctx context.Context, requester domain.SessionUser) ([]domain.CertificateView, error) {
	ctx, span := certificateTracer.Start(ctx, "Certificate.Usecase.List")
	defer span.End()

	var (
		certs []domain.Certificate
		err   error
	)
	switch {
	case policy.Allowed(requester.Role, domain.CapListAllCertificates):
		certs, err = uc.certificates.ListAll(ctx)
	case policy.Allowed(requester.Role, domain.CapListOwnCertificates):
		certs, err = uc.certificates.ListIssuedBy(ctx, requester.Username)
	default:
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		span.RecordError(err)
		return nil, pkgerrors.Wrap(err, "failed to list certificates")
	}

	views := make([]domain.CertificateView, 0, len(certs))
	for _, c := range certs {
		views = append(views, domain.NewCertificateView(c))
	}
	return views, nil
}

func (uc *CertificateUsecase) Get(ctx context.Context, requester domain.SessionUser, id string) (domain.CertificateView, error) {
	ctx, span := certificateTracer.Start(ctx, "Certificate.Usecase.Get")
	defer span.End()

	all := policy.Allowed(requester.Role, domain.CapListAllCertificates)
	own := policy.Allowed(requester.Role, domain.CapListOwnCertificates)
	if !all && !own {
		return domain.CertificateView{}, domain.ErrUnauthorized
	}

	cert, err := uc.certificates.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return domain.CertificateView{}, err
	}
	if !all && cert.Issuer != requester.Username {
		return domain.CertificateView{}, domain.NotFoundError{Resource: "certificate"}
	}

	return domain.NewCertificateView(cert), nil
}

// Issue creates a certificate and attaches it to a product, or to one step
// of that product when a step id is given.
func (uc *CertificateUsecase) Issue(ctx context.Context, requester domain.SessionUser, input IssueCertificateInput) (domain.CertificateView, error) {
	ctx, span := certificateTracer.Start(ctx, "Certificate.Usecase.Issue")
	defer span.End()

	if !policy.Allowed(requester.Role, domain.CapIssueCertificate) {
		return domain.CertificateView{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.ProductID) == "" {
		return domain.CertificateView{}, domain.ValidationError{Message: "name and productId are required"}
	}

	product, err := uc.products.GetByID(ctx, input.ProductID)
	if err != nil {
		span.RecordError(err)
		return domain.CertificateView{}, err
	}

	var stepID *string
	if input.StepID != "" {
		step, err := uc.steps.Get(ctx, input.StepID, product.ID)
		if err != nil {
			span.RecordError(err)
			return domain.CertificateView{}, err
		}
		stepID = &step.ID
	}

	now := uc.now()
	status := "valid"
	if input.ExpiryDate != nil && input.ExpiryDate.Before(now) {
		status = "expired"
	}

	cert := domain.Certificate{
		ID:         "CERT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10]),
		Name:       input.Name,
		Issuer:     requester.Username,
		IssuerName: requester.Name,
		IssuedDate: now,
		ExpiryDate: input.ExpiryDate,
		Status:     status,
	}

	if err := uc.certificates.Create(ctx, cert, product.ID, stepID); err != nil {
		span.RecordError(err)
		return domain.CertificateView{}, pkgerrors.Wrap(err, "failed to store certificate")
	}

	return domain.NewCertificateView(cert), nil
}
