package domain

// SecondsPerDay is the length of one bucket day.
const SecondsPerDay int64 = 86400

// PricePrecision is the fixed-point scale of GlobalLedger.LastPrice.
const PricePrecision uint64 = 1_000_000_000

// NextMidnight returns the first midnight strictly after ts (unix seconds).
func NextMidnight(ts int64) int64 {
	return ts - ts%SecondsPerDay + SecondsPerDay
}

// DayStart returns the midnight at or before ts.
func DayStart(ts int64) int64 {
	return ts - ts%SecondsPerDay
}

// LoanEndDate returns the midnight-aligned expiry of a loan opened at now for days.
func LoanEndDate(now int64, days uint64) int64 {
	return NextMidnight(now + int64(days)*SecondsPerDay)
}

// FeeParams are the trading fee multipliers, in parts per FeeBase.
type FeeParams struct {
	BuyFee         uint64 // share of a buy the caller keeps, 975..992
	SellFee        uint64 // share of a sell the caller keeps, 975..992
	BuyFeeLeverage uint64 // leverage surcharge, <= 25
}

// GlobalLedger is the protocol-wide accounting state.
type GlobalLedger struct {
	TokenSupply         uint64    // issued units outstanding
	TotalBorrowed       uint64    // sum of borrowed across open loans
	TotalCollateral     uint64    // sum of collateral across open loans
	LastPrice           uint64    // backing per supply, scaled by PricePrecision
	LastLiquidationDate int64     // midnight cursor; earlier buckets are swept
	Fees                FeeParams // trading fee parameters
	Started             bool      // set once by Start
	Version             uint64    // incremented on every commit
	UpdatedAt           int64     // unix seconds of the last commit
}

// Backing returns total_borrowed + reserveBalance.
func (g *GlobalLedger) Backing(reserveBalance uint64) uint64 {
	return g.TotalBorrowed + reserveBalance
}

// Clone returns a copy.
func (g *GlobalLedger) Clone() *GlobalLedger {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}

// LoanState is the lifecycle state of a loan.
type LoanState string

const (
	LoanStateEmpty   LoanState = "EMPTY"
	LoanStateActive  LoanState = "ACTIVE"
	LoanStateExpired LoanState = "EXPIRED"
)

// Loan is a user's single collateralized position.
type Loan struct {
	User       Address // owner
	Collateral uint64  // token units held in the collateral pool
	Borrowed   uint64  // base units owed
	EndDate    int64   // midnight-aligned expiry (unix seconds)
	TermDays   uint64  // term in days, reset to the remaining term by borrow-more
}

// State returns the loan state at now.
func (l *Loan) State(now int64) LoanState {
	if l == nil || (l.Borrowed == 0 && l.Collateral == 0) {
		return LoanStateEmpty
	}
	if l.EndDate < now {
		return LoanStateExpired
	}
	return LoanStateActive
}

// Reset zeroes the position, keeping the owner.
func (l *Loan) Reset() {
	l.Collateral = 0
	l.Borrowed = 0
	l.EndDate = 0
	l.TermDays = 0
}

// Clone returns a copy.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// DailyBucket aggregates every loan expiring at Date.
type DailyBucket struct {
	Date       int64  // midnight (unix seconds)
	Borrowed   uint64 // sum of borrowed expiring at Date
	Collateral uint64 // sum of collateral expiring at Date
}

// IsEmpty reports whether the bucket has been drained.
func (b *DailyBucket) IsEmpty() bool {
	return b.Borrowed == 0 && b.Collateral == 0
}

// ChangeSet is the full write set of one committed operation.
type ChangeSet struct {
	Global    *GlobalLedger
	Loans     []*Loan
	Buckets   []*DailyBucket
	Operation *OperationRecord
}
