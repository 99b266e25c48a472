package engine

import (
	"errors"
	"fmt"

	"bondcurve-ledger/internal/custody"
	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/fees"
	"bondcurve-ledger/internal/guard"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/pricing"
	"bondcurve-ledger/internal/storage"
)

// Operation errors.
var (
	ErrUnauthorized            = errors.New("engine: caller is not the admin")
	ErrInvalidInput            = errors.New("engine: invalid input")
	ErrNotStarted              = errors.New("engine: trading not started")
	ErrAlreadyStarted          = errors.New("engine: trading already started")
	ErrOutputTooSmall          = errors.New("engine: output below minimum")
	ErrMaxSupplyExceeded       = errors.New("engine: max supply exceeded")
	ErrInsufficientCollateral  = errors.New("engine: insufficient collateral")
	ErrRepayAmountTooLarge     = errors.New("engine: repay amount must be below borrowed")
	ErrIncorrectPayment        = errors.New("engine: payment does not match fee")
	ErrInvalidReferral         = errors.New("engine: referrer must differ from caller")
	ErrInvalidCollateralAmount = errors.New("engine: amount exceeds collateral")
	ErrCompensationFailed      = errors.New("engine: custody compensation failed")
)

// Category groups operation errors by cause.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryState      Category = "state"
	CategoryArithmetic Category = "arithmetic"
	CategoryInvariant  Category = "invariant"
	CategoryResource   Category = "resource"
	CategoryConflict   Category = "conflict"
	CategoryInternal   Category = "internal"
)

// OperationError is returned by every aborted operation.
type OperationError struct {
	Kind     domain.OperationKind
	Category Category
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Category, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// CategoryOf returns the category of err, CategoryInternal if unknown.
func CategoryOf(err error) Category {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Category
	}
	return classify(err)
}

var categories = []struct {
	category Category
	errs     []error
}{
	{CategoryValidation, []error{
		ErrUnauthorized, ErrInvalidInput, ErrOutputTooSmall, ErrRepayAmountTooLarge,
		ErrIncorrectPayment, ErrInvalidReferral, ErrInvalidCollateralAmount,
		fees.ErrInvalidBuyFee, fees.ErrInvalidSellFee, fees.ErrInvalidLeverageFee,
		fees.ErrInvalidReferralShare, fees.ErrInvalidTerm, fees.ErrFeeTooSmall,
		fees.ErrFeeExceedsAmount, domain.ErrInvalidAddress, ledger.ErrUnalignedDate,
	}},
	{CategoryState, []error{
		ErrNotStarted, ErrAlreadyStarted, ErrInsufficientCollateral,
		ledger.ErrNotInitialized, ledger.ErrAlreadyInitialized, ledger.ErrNoActiveLoan,
		ledger.ErrLoanExpired, ledger.ErrActiveLoanExists,
	}},
	{CategoryArithmetic, []error{pricing.ErrDivisionByZero, pricing.ErrOverflow}},
	{CategoryInvariant, []error{guard.ErrCollateralShortfall, guard.ErrPriceDecrease}},
	{CategoryResource, []error{custody.ErrInsufficientFunds, ErrMaxSupplyExceeded}},
	{CategoryConflict, []error{storage.ErrConflict, storage.ErrDuplicateKey}},
}

func classify(err error) Category {
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.category
			}
		}
	}
	return CategoryInternal
}

// guardReason labels invariant failures for metrics.
func guardReason(err error) string {
	switch {
	case errors.Is(err, guard.ErrCollateralShortfall):
		return "collateral_shortfall"
	case errors.Is(err, guard.ErrPriceDecrease):
		return "price_decrease"
	}
	return ""
}
