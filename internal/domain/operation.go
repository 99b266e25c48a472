package domain

// OperationKind names a ledger operation.
type OperationKind string

const (
	OpStart            OperationKind = "START"
	OpBuy              OperationKind = "BUY"
	OpSell             OperationKind = "SELL"
	OpLeverage         OperationKind = "LEVERAGE"
	OpBorrow           OperationKind = "BORROW"
	OpBorrowMore       OperationKind = "BORROW_MORE"
	OpRemoveCollateral OperationKind = "REMOVE_COLLATERAL"
	OpRepay            OperationKind = "REPAY"
	OpClosePosition    OperationKind = "CLOSE_POSITION"
	OpFlashClose       OperationKind = "FLASH_CLOSE_POSITION"
	OpExtendLoan       OperationKind = "EXTEND_LOAN"
	OpLiquidate        OperationKind = "LIQUIDATE"
)

// AllOperationKinds lists every kind in a stable order.
var AllOperationKinds = []OperationKind{
	OpStart, OpBuy, OpSell, OpLeverage, OpBorrow, OpBorrowMore, OpRemoveCollateral,
	OpRepay, OpClosePosition, OpFlashClose, OpExtendLoan, OpLiquidate,
}

// OperationRecord is the journal entry of a committed operation.
type OperationRecord struct {
	OperationID string        // deterministic hash, see idhash.ComputeOperationID
	Sequence    uint64        // global ledger version after commit
	Kind        OperationKind // operation
	User        Address       // caller
	BaseIn      uint64        // base units paid by the caller
	BaseOut     uint64        // base units paid to the caller
	TokensIn    uint64        // tokens burned or locked from the caller
	TokensOut   uint64        // tokens minted or released to the caller
	ProtocolFee uint64        // base units routed to the fee receiver
	ReferralFee uint64        // base units routed to a referrer
	Referrer    *Address      // nil when no referral
	PriceBefore uint64        // last_price before
	PriceAfter  uint64        // last_price after
	SweptDays   int           // buckets processed by the sweep
	Timestamp   int64         // unix seconds
}

// PricePoint is the post-commit state sample recorded for analytics.
type PricePoint struct {
	Sequence        uint64        // ledger version
	TimestampMs     int64         // unix milliseconds
	Kind            OperationKind // operation that produced the point
	Price           uint64        // scaled by PricePrecision
	Backing         uint64        // total_borrowed + reserve balance
	Supply          uint64        // token supply
	TotalBorrowed   uint64
	TotalCollateral uint64
}
