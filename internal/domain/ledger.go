package domain

import "time"

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxInFlight  OutboxStatus = "in_flight"
	OutboxConfirmed OutboxStatus = "confirmed"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEntry is a ledger write committed together with the local row it
// mirrors and forwarded to the contract afterwards. An in_flight entry is
// owned by whoever claimed it until ClaimedAt is older than the lease.
type OutboxEntry struct {
	ID          int64        `json:"id"`
	AggregateID string       `json:"aggregateId"`
	StepID      *string      `json:"stepId,omitempty"`
	Capability  string       `json:"capability"`
	Args        []string     `json:"args"`
	Status      OutboxStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	TxHash      *string      `json:"txHash,omitempty"`
	LastError   *string      `json:"lastError,omitempty"`
	ClaimedAt   *time.Time   `json:"claimedAt,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// LedgerReceipt is the confirmation of a mirrored write.
type LedgerReceipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// ProductEvent is published whenever a product changes.
type ProductEvent struct {
	Type      string    `json:"type"`
	ProductID string    `json:"productId"`
	BatchID   string    `json:"batchId,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}
