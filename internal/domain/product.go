package domain

import "time"

// Product is a registered batch of produce.
type Product struct {
	ID                string     `json:"id"`
	BatchID           string     `json:"batchId"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	Type              string     `json:"type"`
	ImageURL          string     `json:"imageUrl"`
	QRCode            string     `json:"qrCode"`
	QRImage           string     `json:"qrImage"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	LocationID        *string    `json:"locationId,omitempty"`
	Farmer            string     `json:"farmer"`
	RetailPrice       *float64   `json:"retailPrice"`
	Temperature       *float64   `json:"temperature,omitempty"`
	Humidity          *float64   `json:"humidity,omitempty"`
	VerificationCount int64      `json:"verificationCount"`
	LastVerified      *time.Time `json:"lastVerified"`
}

type Location struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// Performer is frozen into a step when it is recorded. It is not a live
// reference to the user's profile.
type Performer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Organization string `json:"organization"`
}

type SupplyChainStep struct {
	ID          string         `json:"id"`
	ProductID   string         `json:"productId"`
	Timestamp   time.Time      `json:"timestamp"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	PerformedBy *Performer     `json:"performedBy"`
	LocationID  *string        `json:"locationId,omitempty"`
	Temperature *float64       `json:"temperature"`
	Humidity    *float64       `json:"humidity"`
	Metadata    map[string]any `json:"metadata"`
	Verified    bool           `json:"verified"`
	TxHash      *string        `json:"transactionHash"`
}

type Certificate struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Issuer     string     `json:"issuer"`
	IssuerName string     `json:"issuerName"`
	IssuedDate time.Time  `json:"issuedDate"`
	ExpiryDate *time.Time `json:"expiryDate"`
	Status     string     `json:"status"`
}

// ProductCertificate is a certificate attached to a product as a whole.
type ProductCertificate struct {
	ProductID string
	Certificate
}

// StepCertificate is a certificate attached to one step. The link is keyed by
// both step id and product id.
type StepCertificate struct {
	StepID    string
	ProductID string
	Certificate
}

// StepKey identifies a step inside its owning product.
type StepKey struct {
	StepID    string
	ProductID string
}
