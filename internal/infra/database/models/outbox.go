package models

import (
	"time"

	"gorm.io/datatypes"
)

type LedgerOutbox struct {
	ID          int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	AggregateID string         `json:"aggregateId" gorm:"type:text;not null;index"`
	StepID      *string        `json:"stepId" gorm:"type:text"`
	Capability  string         `json:"capability" gorm:"type:text;not null"`
	Args        datatypes.JSON `json:"args" gorm:"type:jsonb;not null"`
	Status      string         `json:"status" gorm:"type:text;not null;default:'pending';index"`
	Attempts    int            `json:"attempts" gorm:"not null;default:0"`
	TxHash      *string        `json:"txHash" gorm:"type:text"`
	LastError   *string        `json:"lastError" gorm:"type:text"`
	ClaimedAt   *time.Time     `json:"claimedAt" gorm:"index"`
	CreatedAt   time.Time      `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (LedgerOutbox) TableName() string {
	return "ledger_outbox"
}
