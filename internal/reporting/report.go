package reporting

import "time"

// Report summarizes ledger activity over a time window.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	From        int64 // unix seconds, inclusive
	To          int64 // unix seconds, inclusive

	// Window activity
	Activity   ActivitySummary
	Operations []OperationKindRow // in domain.AllOperationKinds order, kinds with no operations omitted
	TopUsers   []UserRow          // by base volume DESC, then address ASC

	// Current ledger state
	Ledger LedgerState

	// Integrity (ledger.Audit)
	Integrity IntegritySection
}

// ActivitySummary contains window totals.
type ActivitySummary struct {
	TotalOperations int
	UniqueUsers     int
	BaseIn          uint64
	BaseOut         uint64
	ProtocolFees    uint64
	ReferralFees    uint64
	SweptDays       int
	FirstSequence   uint64
	LastSequence    uint64
	PriceOpen       uint64 // price before the first operation
	PriceClose      uint64 // price after the last operation
	PriceHigh       uint64
}

// OperationKindRow aggregates operations of one kind.
type OperationKindRow struct {
	Kind         string
	Count        int
	BaseIn       uint64
	BaseOut      uint64
	TokensIn     uint64
	TokensOut    uint64
	ProtocolFees uint64
	ReferralFees uint64
}

// UserRow aggregates one user's operations.
type UserRow struct {
	User       string
	Operations int
	BaseVolume uint64 // base in + base out
	Fees       uint64 // protocol + referral
}

// LedgerState is the committed global state at generation time.
type LedgerState struct {
	Version             uint64
	Started             bool
	TokenSupply         uint64
	TotalBorrowed       uint64
	TotalCollateral     uint64
	LastPrice           uint64
	LastLiquidationDate int64
}

// IntegritySection lists audit findings.
type IntegritySection struct {
	LiveLoans  int
	Violations []string
	Passed     bool
}
