package api

import (
	"github.com/shopspring/decimal"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/engine"
)

// Request bodies. Amounts are integer base or token units.

type startBody struct {
	Admin   domain.Address `json:"admin"`
	Deposit uint64         `json:"deposit"`
}

func (b startBody) caller() domain.Address { return b.Admin }
func (b startBody) request() engine.StartRequest {
	return engine.StartRequest{Admin: b.Admin, Deposit: b.Deposit}
}

type buyBody struct {
	User     domain.Address  `json:"user"`
	Deposit  uint64          `json:"deposit"`
	MinOut   uint64          `json:"min_out"`
	Referrer *domain.Address `json:"referrer,omitempty"`
}

func (b buyBody) caller() domain.Address { return b.User }
func (b buyBody) request() engine.BuyRequest {
	return engine.BuyRequest{User: b.User, Deposit: b.Deposit, MinOut: b.MinOut, Referrer: b.Referrer}
}

type sellBody struct {
	User     domain.Address  `json:"user"`
	Amount   uint64          `json:"amount"`
	MinOut   uint64          `json:"min_out"`
	Referrer *domain.Address `json:"referrer,omitempty"`
}

func (b sellBody) caller() domain.Address { return b.User }
func (b sellBody) request() engine.SellRequest {
	return engine.SellRequest{User: b.User, Amount: b.Amount, MinOut: b.MinOut, Referrer: b.Referrer}
}

type leverageBody struct {
	User    domain.Address `json:"user"`
	Deposit uint64         `json:"deposit"`
	Days    uint64         `json:"days"`
}

func (b leverageBody) caller() domain.Address { return b.User }
func (b leverageBody) request() engine.LeverageRequest {
	return engine.LeverageRequest{User: b.User, Deposit: b.Deposit, Days: b.Days}
}

type borrowBody struct {
	User   domain.Address `json:"user"`
	Amount uint64         `json:"amount"`
	Days   uint64         `json:"days"`
}

func (b borrowBody) caller() domain.Address { return b.User }
func (b borrowBody) request() engine.BorrowRequest {
	return engine.BorrowRequest{User: b.User, Amount: b.Amount, Days: b.Days}
}

type amountBody struct {
	User   domain.Address `json:"user"`
	Amount uint64         `json:"amount"`
}

type borrowMoreBody amountBody

func (b borrowMoreBody) caller() domain.Address { return b.User }
func (b borrowMoreBody) request() engine.BorrowMoreRequest {
	return engine.BorrowMoreRequest{User: b.User, Amount: b.Amount}
}

type removeCollateralBody amountBody

func (b removeCollateralBody) caller() domain.Address { return b.User }
func (b removeCollateralBody) request() engine.RemoveCollateralRequest {
	return engine.RemoveCollateralRequest{User: b.User, Amount: b.Amount}
}

type repayBody amountBody

func (b repayBody) caller() domain.Address { return b.User }
func (b repayBody) request() engine.RepayRequest {
	return engine.RepayRequest{User: b.User, Amount: b.Amount}
}

type extendLoanBody struct {
	User    domain.Address `json:"user"`
	Days    uint64         `json:"days"`
	Payment uint64         `json:"payment"`
}

func (b extendLoanBody) caller() domain.Address { return b.User }
func (b extendLoanBody) request() engine.ExtendLoanRequest {
	return engine.ExtendLoanRequest{User: b.User, Days: b.Days, Payment: b.Payment}
}

// userBody is the body of operations that only name the caller.
type userBody struct {
	User domain.Address `json:"user"`
}

func (b userBody) caller() domain.Address  { return b.User }
func (b userBody) request() domain.Address { return b.User }

// OperationResponse describes a committed or quoted operation.
type OperationResponse struct {
	OperationID string          `json:"operation_id,omitempty"`
	Sequence    uint64          `json:"sequence"`
	Kind        string          `json:"kind"`
	User        domain.Address  `json:"user"`
	BaseIn      uint64          `json:"base_in,string"`
	BaseOut     uint64          `json:"base_out,string"`
	TokensIn    uint64          `json:"tokens_in,string"`
	TokensOut   uint64          `json:"tokens_out,string"`
	ProtocolFee uint64          `json:"protocol_fee,string"`
	ReferralFee uint64          `json:"referral_fee,string"`
	Referrer    *domain.Address `json:"referrer,omitempty"`
	PriceBefore string          `json:"price_before"`
	PriceAfter  string          `json:"price_after"`
	SweptDays   int             `json:"swept_days"`
	Timestamp   int64           `json:"timestamp"`
	Committed   bool            `json:"committed"`
}

func newOperationResponse(r *domain.OperationRecord) OperationResponse {
	return OperationResponse{
		OperationID: r.OperationID,
		Sequence:    r.Sequence,
		Kind:        string(r.Kind),
		User:        r.User,
		BaseIn:      r.BaseIn,
		BaseOut:     r.BaseOut,
		TokensIn:    r.TokensIn,
		TokensOut:   r.TokensOut,
		ProtocolFee: r.ProtocolFee,
		ReferralFee: r.ReferralFee,
		Referrer:    r.Referrer,
		PriceBefore: FormatPrice(r.PriceBefore),
		PriceAfter:  FormatPrice(r.PriceAfter),
		SweptDays:   r.SweptDays,
		Timestamp:   r.Timestamp,
	}
}

// LedgerResponse is the ledger snapshot.
type LedgerResponse struct {
	Started             bool           `json:"started"`
	Version             uint64         `json:"version"`
	TokenSupply         uint64         `json:"token_supply,string"`
	TotalBorrowed       uint64         `json:"total_borrowed,string"`
	TotalCollateral     uint64         `json:"total_collateral,string"`
	ReserveBalance      uint64         `json:"reserve_balance,string"`
	PoolBalance         uint64         `json:"pool_balance,string"`
	Backing             string         `json:"backing"`
	LastPrice           string         `json:"last_price"`
	Price               string         `json:"price"`
	LastLiquidationDate int64          `json:"last_liquidation_date"`
	PendingSweepDays    int64          `json:"pending_sweep_days"`
	BuyFee              uint64         `json:"buy_fee"`
	SellFee             uint64         `json:"sell_fee"`
	BuyFeeLeverage      uint64         `json:"buy_fee_leverage"`
	ReserveVault        domain.Address `json:"reserve_vault"`
	CollateralPool      domain.Address `json:"collateral_pool"`
	UpdatedAt           int64          `json:"updated_at"`
}

// LoanResponse is a loan with its state.
type LoanResponse struct {
	User       domain.Address `json:"user"`
	State      string         `json:"state"`
	Collateral uint64         `json:"collateral,string"`
	Borrowed   uint64         `json:"borrowed,string"`
	EndDate    int64          `json:"end_date"`
	TermDays   uint64         `json:"term_days"`
	Value      string         `json:"collateral_value"`
}

// BucketResponse is one daily bucket.
type BucketResponse struct {
	Date       int64  `json:"date"`
	Borrowed   uint64 `json:"borrowed,string"`
	Collateral uint64 `json:"collateral,string"`
}

// PricePointResponse is one analytics sample.
type PricePointResponse struct {
	Sequence    uint64 `json:"sequence"`
	TimestampMs int64  `json:"timestamp_ms"`
	Kind        string `json:"kind"`
	Price       string `json:"price"`
	Backing     string `json:"backing"`
	Supply      uint64 `json:"supply,string"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       uint64 `json:"version"`
	Started       bool   `json:"started"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// priceScale is the number of decimal places in domain.PricePrecision.
const priceScale = 9

// FormatPrice renders a PricePrecision fixed-point price.
func FormatPrice(v uint64) string {
	return decimal.NewFromUint64(v).Shift(-priceScale).StringFixed(priceScale)
}

// FormatUnits renders an integer amount with decimals places.
func FormatUnits(v uint64, decimals int32) string {
	return decimal.NewFromUint64(v).Shift(-decimals).StringFixed(decimals)
}
