package domain

import "time"

// ProductView is the nested representation served to clients.
type ProductView struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Type              string            `json:"type"`
	Image             string            `json:"image"`
	BatchID           string            `json:"batchId"`
	QRCode            string            `json:"qrCode"`
	QRImage           string            `json:"qrImage"`
	CreatedAt         time.Time         `json:"createdAt"`
	CurrentLocation   *Location         `json:"currentLocation"`
	Certificates      []CertificateView `json:"certificates"`
	SupplyChain       []StepView        `json:"supplyChain"`
	Status            string            `json:"status"`
	Farmer            FarmerSummary     `json:"farmer"`
	RetailPrice       *float64          `json:"retailPrice"`
	VerificationCount int64             `json:"verificationCount"`
	LastVerified      *time.Time        `json:"lastVerified"`
}

type StepView struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Action          string            `json:"action"`
	Description     string            `json:"description"`
	PerformedBy     *Performer        `json:"performedBy"`
	Location        *Location         `json:"location"`
	Temperature     *float64          `json:"temperature"`
	Humidity        *float64          `json:"humidity"`
	Metadata        map[string]any    `json:"metadata"`
	Verified        bool              `json:"verified"`
	TransactionHash *string           `json:"transactionHash"`
	Certificates    []CertificateView `json:"certificates"`
}

type CertificateView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Issuer         string     `json:"issuer"`
	IssuerUsername string     `json:"issuerUsername"`
	IssuedDate     time.Time  `json:"issuedDate"`
	ExpiryDate     *time.Time `json:"expiryDate"`
	Status         string     `json:"status"`
}

type FarmerSummary struct {
	Username     string `json:"username"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
}

func NewCertificateView(c Certificate) CertificateView {
	issuer := c.IssuerName
	if issuer == "" {
		issuer = c.Issuer
	}
	return CertificateView{
		ID:             c.ID,
		Name:           c.Name,
		Issuer:         issuer,
		IssuerUsername: c.Issuer,
		IssuedDate:     c.IssuedDate,
		ExpiryDate:     c.ExpiryDate,
		Status:         c.Status,
	}
}
