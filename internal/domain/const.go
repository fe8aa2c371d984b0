package domain

type ctxKey string

const (
	RequesterCtxKey ctxKey = "agrichain-requester"
	SessionIDCtxKey ctxKey = "agrichain-session-id"
)

// Capability names an operation guarded by role.
type Capability string

const (
	CapListAllProducts     Capability = "product.list.all"
	CapRegisterProduct     Capability = "product.register"
	CapRecordStep          Capability = "step.record"
	CapListAllCertificates Capability = "certificate.list.all"
	CapListOwnCertificates Capability = "certificate.list.issued"
	CapIssueCertificate    Capability = "certificate.issue"
	CapManageUsers         Capability = "user.manage"
)

// Contract methods mirrored on the ledger.
const (
	CapabilityRegisterProduct    = "registerProduct"
	CapabilityAddSupplyChainStep = "addSupplyChainStep"
)

const (
	EventProductRegistered = "product.registered"
	EventProductVerified   = "product.verified"
	EventStepRecorded      = "step.recorded"
)
