// Package fees computes trading fees, loan interest and the protocol cut.
package fees

import (
	"errors"
	"fmt"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/pricing"
)

// Fee constants. Trading fee parameters are parts per FeeBase.
const (
	FeeBase uint64 = 1000

	MinTradeFee    uint64 = 975 // caller keeps at least 97.5%
	MaxTradeFee    uint64 = 992 // caller keeps at most 99.2%
	MaxLeverageFee uint64 = 25

	// MinFee is the dust threshold. A protocol cut at or below it is rejected.
	MinFee uint64 = 1000

	// MaxTermDays is the longest loan term.
	MaxTermDays uint64 = 365

	// CollateralPercent is the share of collateral value a loan may borrow.
	CollateralPercent uint64 = 99

	InterestPrecision uint64 = 1_000_000_000_000_000_000
	DailyRate         uint64 = 39_000_000_000_000_000 // 3.9% a year
	BaseRate          uint64 = 1_000_000_000_000_000  // 0.1% flat

	protocolCutNum uint64 = 3
	protocolCutDen uint64 = 10

	DefaultReferralSharePercent uint64 = 20
)

// Validation errors.
var (
	ErrInvalidBuyFee        = errors.New("fees: buy fee out of bounds")
	ErrInvalidSellFee       = errors.New("fees: sell fee out of bounds")
	ErrInvalidLeverageFee   = errors.New("fees: leverage fee out of bounds")
	ErrInvalidReferralShare = errors.New("fees: referral share must be at most 100 percent")
	ErrInvalidTerm          = errors.New("fees: loan term must be below 366 days")
	ErrFeeTooSmall          = errors.New("fees: protocol fee at or below dust threshold")
	ErrFeeExceedsAmount     = errors.New("fees: fee exceeds amount")
)

// ValidateParams checks fee parameters against their bounds.
func ValidateParams(p domain.FeeParams) error {
	if p.BuyFee < MinTradeFee || p.BuyFee > MaxTradeFee {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidBuyFee, p.BuyFee, MinTradeFee, MaxTradeFee)
	}
	if p.SellFee < MinTradeFee || p.SellFee > MaxTradeFee {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidSellFee, p.SellFee, MinTradeFee, MaxTradeFee)
	}
	if p.BuyFeeLeverage > MaxLeverageFee {
		return fmt.Errorf("%w: %d > %d", ErrInvalidLeverageFee, p.BuyFeeLeverage, MaxLeverageFee)
	}
	return nil
}

// DefaultParams returns the launch fee parameters.
func DefaultParams() domain.FeeParams {
	return domain.FeeParams{BuyFee: 975, SellFee: 975, BuyFeeLeverage: 10}
}

// Calculator evaluates fees for one set of parameters.
type Calculator struct {
	params        domain.FeeParams
	referralShare uint64
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithReferralShare sets the percentage of the protocol cut paid to a referrer.
func WithReferralShare(percent uint64) Option {
	return func(c *Calculator) {
		c.referralShare = percent
	}
}

// NewCalculator validates params and returns a Calculator.
func NewCalculator(params domain.FeeParams, opts ...Option) (*Calculator, error) {
	c := &Calculator{
		params:        params,
		referralShare: DefaultReferralSharePercent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	if c.referralShare > 100 {
		return nil, ErrInvalidReferralShare
	}
	return c, nil
}

// Params returns the fee parameters.
func (c *Calculator) Params() domain.FeeParams {
	return c.params
}

// ValidateTerm rejects terms of 366 days or more.
func ValidateTerm(days uint64) error {
	if days > MaxTermDays {
		return fmt.Errorf("%w: %d", ErrInvalidTerm, days)
	}
	return nil
}

// Interest returns the fee for borrowing amount over days.
func (c *Calculator) Interest(amount, days uint64) (uint64, error) {
	if err := ValidateTerm(days); err != nil {
		return 0, err
	}
	rate := DailyRate*days/365 + BaseRate
	return pricing.MulDiv(amount, rate, InterestPrecision)
}

// LeverageFee returns the leverage surcharge plus interest for amount over days.
func (c *Calculator) LeverageFee(amount, days uint64) (uint64, error) {
	surcharge, err := pricing.MulDiv(amount, c.params.BuyFeeLeverage, FeeBase)
	if err != nil {
		return 0, err
	}
	interest, err := c.Interest(amount, days)
	if err != nil {
		return 0, err
	}
	return pricing.CheckedAdd(surcharge, interest)
}

// TradeFee is the split of a trade between the caller and the protocol.
type TradeFee struct {
	Net uint64 // amount the caller keeps
	Fee uint64 // input - Net
}

// Buy applies the buy fee to input (tokens or base units).
func (c *Calculator) Buy(input uint64) (TradeFee, error) {
	return applyTradeFee(input, c.params.BuyFee)
}

// Sell applies the sell fee to input.
func (c *Calculator) Sell(input uint64) (TradeFee, error) {
	return applyTradeFee(input, c.params.SellFee)
}

func applyTradeFee(input, keep uint64) (TradeFee, error) {
	net, err := pricing.MulDiv(input, keep, FeeBase)
	if err != nil {
		return TradeFee{}, err
	}
	return TradeFee{Net: net, Fee: input - net}, nil
}

// ProtocolCut returns the 30% share of fee routed to the fee receiver.
// A cut at or below MinFee is rejected.
func ProtocolCut(fee uint64) (uint64, error) {
	cut := fee / protocolCutDen * protocolCutNum
	cut += fee % protocolCutDen * protocolCutNum / protocolCutDen
	if cut <= MinFee {
		return 0, fmt.Errorf("%w: %d", ErrFeeTooSmall, cut)
	}
	return cut, nil
}

// Split divides a protocol cut between the fee receiver and an optional referrer.
func (c *Calculator) Split(cut uint64, hasReferrer bool) (receiver, referrer uint64) {
	if !hasReferrer {
		return cut, 0
	}
	referrer = cut / 100 * c.referralShare
	referrer += cut % 100 * c.referralShare / 100
	return cut - referrer, referrer
}

// CollateralShare returns the 99% borrowable share of value.
func CollateralShare(value uint64) uint64 {
	return value/100*CollateralPercent + value%100*CollateralPercent/100
}

// Haircut returns the 1% over-collateralization share of value.
func Haircut(value uint64) uint64 {
	return value / 100
}
