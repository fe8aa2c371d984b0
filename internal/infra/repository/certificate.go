package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/infra/database/models"
)

type CertificateRepository struct {
	db *gorm.DB
}

func NewCertificateRepository(db *gorm.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// certificateRow is a certificate joined with its issuer's display name and,
// for association queries, the owning product and step.
type certificateRow struct {
	ID         string
	Name       string
	Issuer     string
	IssuerName *string
	IssuedDate time.Time
	ExpiryDate *time.Time
	Status     string
	ProductID  string
	StepID     string
}

const certificateColumns = "certificates.id, certificates.name, certificates.issuer, profiles.name AS issuer_name, " +
	"certificates.issued_date, certificates.expiry_date, certificates.status"

func (r *CertificateRepository) certificates(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("certificates").
		Joins("LEFT JOIN profiles ON profiles.username = certificates.issuer")
}

func (r *CertificateRepository) ListForProducts(ctx context.Context, productIDs []string) ([]domain.ProductCertificate, error) {
	if len(productIDs) == 0 {
		return []domain.ProductCertificate{}, nil
	}

	var rows []certificateRow
	err := r.certificates(ctx).
		Select(certificateColumns+", pc.product_id").
		Joins("JOIN product_certificates pc ON pc.certificate_id = certificates.id").
		Where("pc.product_id IN ?", productIDs).
		Order("certificates.issued_date ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.ProductCertificate, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.ProductCertificate{ProductID: row.ProductID, Certificate: row.certificate()})
	}
	return result, nil
}

func (r *CertificateRepository) ListForProduct(ctx context.Context, productID string) ([]domain.Certificate, error) {
	linked, err := r.ListForProducts(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	result := make([]domain.Certificate, 0, len(linked))
	for _, l := range linked {
		result = append(result, l.Certificate)
	}
	return result, nil
}

func (r *CertificateRepository) ListForSteps(ctx context.Context, productIDs []string) ([]domain.StepCertificate, error) {
	if len(productIDs) == 0 {
		return []domain.StepCertificate{}, nil
	}

	var rows []certificateRow
	err := r.certificates(ctx).
		Select(certificateColumns+", sc.product_id, sc.step_id").
		Joins("JOIN step_certificates sc ON sc.certificate_id = certificates.id").
		Where("sc.product_id IN ?", productIDs).
		Order("certificates.issued_date ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.StepCertificate, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.StepCertificate{
			StepID:      row.StepID,
			ProductID:   row.ProductID,
			Certificate: row.certificate(),
		})
	}
	return result, nil
}

func (r *CertificateRepository) ListForStep(ctx context.Context, stepID, productID string) ([]domain.Certificate, error) {
	var rows []certificateRow
	err := r.certificates(ctx).
		Select(certificateColumns).
		Joins("JOIN step_certificates sc ON sc.certificate_id = certificates.id").
		Where("sc.step_id = ? AND sc.product_id = ?", stepID, productID).
		Order("certificates.issued_date ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return certificatesFromRows(rows), nil
}

func (r *CertificateRepository) ListAll(ctx context.Context) ([]domain.Certificate, error) {
	var rows []certificateRow
	err := r.certificates(ctx).
		Select(certificateColumns).
		Order("certificates.issued_date DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return certificatesFromRows(rows), nil
}

func (r *CertificateRepository) ListIssuedBy(ctx context.Context, username string) ([]domain.Certificate, error) {
	var rows []certificateRow
	err := r.certificates(ctx).
		Select(certificateColumns).
		Where("certificates.issuer = ?", username).
		Order("certificates.issued_date DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return certificatesFromRows(rows), nil
}

func (r *CertificateRepository) Get(ctx context.Context, id string) (domain.Certificate, error) {
	var rows []certificateRow
	err := r.certificates(ctx).
		Select(certificateColumns).
		Where("certificates.id = ?", id).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return domain.Certificate{}, err
	}
	if len(rows) == 0 {
		return domain.Certificate{}, domain.NotFoundError{Resource: "certificate"}
	}
	return rows[0].certificate(), nil
}

// Create stores the certificate with exactly one link: to the step when
// stepID is set, otherwise to the product.
func (r *CertificateRepository) Create(ctx context.Context, cert domain.Certificate, productID string, stepID *string) error {
	row := models.Certificate{
		ID:         cert.ID,
		Name:       cert.Name,
		Issuer:     cert.Issuer,
		IssuedDate: cert.IssuedDate,
		ExpiryDate: cert.ExpiryDate,
		Status:     cert.Status,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if stepID != nil {
			return tx.Create(&models.StepCertificate{
				StepID:        *stepID,
				ProductID:     productID,
				CertificateID: cert.ID,
			}).Error
		}
		return tx.Create(&models.ProductCertificate{
			ProductID:     productID,
			CertificateID: cert.ID,
		}).Error
	})
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return domain.NotFoundError{Resource: "product"}
	}
	return err
}

func (c certificateRow) certificate() domain.Certificate {
	return domain.Certificate{
		ID:         c.ID,
		Name:       c.Name,
		Issuer:     c.Issuer,
		IssuerName: deref(c.IssuerName),
		IssuedDate: c.IssuedDate,
		ExpiryDate: c.ExpiryDate,
		Status:     c.Status,
	}
}

func certificatesFromRows(rows []certificateRow) []domain.Certificate {
	result := make([]domain.Certificate, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.certificate())
	}
	return result
}
