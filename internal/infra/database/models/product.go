package models

import (
	"time"

	"gorm.io/datatypes"
)

type Location struct {
	ID        string  `json:"id" gorm:"primaryKey;type:text"`
	Name      string  `json:"name" gorm:"type:text;not null"`
	Latitude  float64 `json:"latitude" gorm:"type:double precision"`
	Longitude float64 `json:"longitude" gorm:"type:double precision"`
	Address   string  `json:"address" gorm:"type:text"`
}

type Product struct {
	ID                string     `json:"id" gorm:"primaryKey;type:text"`
	BatchID           string     `json:"batchId" gorm:"type:text;not null;uniqueIndex"`
	Name              string     `json:"name" gorm:"type:text;not null"`
	Description       string     `json:"description" gorm:"type:text"`
	Type              string     `json:"type" gorm:"type:text"`
	ImageURL          string     `json:"imageUrl" gorm:"type:text"`
	QRCode            string     `json:"qrCode" gorm:"type:text;not null"`
	QRImage           string     `json:"qrImage" gorm:"type:text"`
	Status            string     `json:"status" gorm:"type:text;not null"`
	CreatedAt         time.Time  `json:"createdAt" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp();index"`
	LocationID        *string    `json:"locationId" gorm:"type:text"`
	Location          *Location  `json:"-" gorm:"foreignKey:LocationID;references:ID"`
	Farmer            string     `json:"farmer" gorm:"type:text;not null;index"`
	RetailPrice       *float64   `json:"retailPrice" gorm:"type:numeric(12,2)"`
	Temperature       *float64   `json:"temperature" gorm:"type:double precision"`
	Humidity          *float64   `json:"humidity" gorm:"type:double precision"`
	VerificationCount int64      `json:"verificationCount" gorm:"not null;default:0"`
	LastVerified      *time.Time `json:"lastVerified" gorm:"type:timestamp with time zone"`
}

// SupplyChainStep is keyed by (id, product_id). Step ids are only unique
// within their product.
type SupplyChainStep struct {
	ID                    string         `json:"id" gorm:"primaryKey;type:text"`
	ProductID             string         `json:"productId" gorm:"primaryKey;type:text;index"`
	Product               Product        `json:"-" gorm:"foreignKey:ProductID;references:ID;constraint:OnDelete:CASCADE;"`
	Seq                   int64          `json:"seq" gorm:"not null"`
	Timestamp             time.Time      `json:"timestamp" gorm:"type:timestamp with time zone;not null;index"`
	Action                string         `json:"action" gorm:"type:text;not null"`
	Description           string         `json:"description" gorm:"type:text"`
	PerformerID           *string        `json:"performerId" gorm:"type:text;index"`
	PerformerName         *string        `json:"performerName" gorm:"type:text"`
	PerformerRole         *string        `json:"performerRole" gorm:"type:text"`
	PerformerOrganization *string        `json:"performerOrganization" gorm:"type:text"`
	LocationID            *string        `json:"locationId" gorm:"type:text"`
	Temperature           *float64       `json:"temperature" gorm:"type:double precision"`
	Humidity              *float64       `json:"humidity" gorm:"type:double precision"`
	Metadata              datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	Verified              bool           `json:"verified" gorm:"not null;default:false"`
	TxHash                *string        `json:"txHash" gorm:"type:text"`
}

type Certificate struct {
	ID         string     `json:"id" gorm:"primaryKey;type:text"`
	Name       string     `json:"name" gorm:"type:text;not null"`
	Issuer     string     `json:"issuer" gorm:"type:text;not null;index"`
	IssuedDate time.Time  `json:"issuedDate" gorm:"type:timestamp with time zone;not null"`
	ExpiryDate *time.Time `json:"expiryDate" gorm:"type:timestamp with time zone"`
	Status     string     `json:"status" gorm:"type:text;not null;default:'valid'"`
}

type ProductCertificate struct {
	ProductID     string      `json:"productId" gorm:"primaryKey;type:text"`
	Product       Product     `json:"-" gorm:"foreignKey:ProductID;references:ID;constraint:OnDelete:CASCADE;"`
	CertificateID string      `json:"certificateId" gorm:"primaryKey;type:text"`
	Certificate   Certificate `json:"-" gorm:"foreignKey:CertificateID;references:ID;constraint:OnDelete:CASCADE;"`
}

// StepCertificate links a certificate to a step in the context of its product.
type StepCertificate struct {
	StepID        string      `json:"stepId" gorm:"primaryKey;type:text"`
	ProductID     string      `json:"productId" gorm:"primaryKey;type:text;index"`
	CertificateID string      `json:"certificateId" gorm:"primaryKey;type:text"`
	Certificate   Certificate `json:"-" gorm:"foreignKey:CertificateID;references:ID;constraint:OnDelete:CASCADE;"`
}
