package engine

import (
	"context"
	"fmt"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/fees"
	"bondcurve-ledger/internal/pricing"
)

// LeverageRequest opens a loan whose collateral is minted from the deposit.
type LeverageRequest struct {
	User    domain.Address
	Deposit uint64 // base units the position is sized on
	Days    uint64 // loan term
}

// BorrowRequest opens a loan against tokens the caller already holds.
type BorrowRequest struct {
	User   domain.Address
	Amount uint64 // base units valued against collateral
	Days   uint64 // loan term
}

// BorrowMoreRequest grows an active loan.
type BorrowMoreRequest struct {
	User   domain.Address
	Amount uint64
}

// Leverage opens a loan sized on deposit. The caller pays the leverage fee
// plus the over-collateralization share; the rest is recorded as debt.
func (e *Engine) Leverage(ctx context.Context, req LeverageRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpLeverage, req.User, false, e.leverage(req))
}

// QuoteLeverage previews Leverage without committing or checking the caller's balance.
func (e *Engine) QuoteLeverage(ctx context.Context, req LeverageRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpLeverage, req.User, true, e.leverage(req))
}

func (e *Engine) leverage(req LeverageRequest) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Deposit == 0 {
			return fmt.Errorf("%w: zero deposit", ErrInvalidInput)
		}
		loan, err := op.tx.OpenableLoan(ctx, req.User, op.now)
		if err != nil {
			return err
		}

		fee, err := op.calc.LeverageFee(req.Deposit, req.Days)
		if err != nil {
			return err
		}
		if fee >= req.Deposit {
			return fmt.Errorf("%w: fee %d, deposit %d", fees.ErrFeeExceedsAmount, fee, req.Deposit)
		}
		userBase := req.Deposit - fee
		cut, err := fees.ProtocolCut(fee)
		if err != nil {
			return err
		}
		borrowed := fees.CollateralShare(userBase)
		overcollateral := fees.Haircut(userBase)

		payment, err := pricing.CheckedAdd(fee, overcollateral)
		if err != nil {
			return err
		}
		if err := op.custody.Receive(ctx, req.User, payment); err != nil {
			return err
		}
		curve, err := op.curve()
		if err != nil {
			return err
		}
		collateral, err := curve.Leverage(userBase, cut+overcollateral)
		if err != nil {
			return err
		}

		if err := e.mintSupply(op, collateral); err != nil {
			return err
		}
		if err := op.custody.Mint(ctx, e.accounts.CollateralPool, collateral); err != nil {
			return err
		}
		if err := e.routeFee(ctx, op, cut, nil); err != nil {
			return err
		}

		endDate := domain.LoanEndDate(op.now, req.Days)
		if err := op.tx.AddToBucket(ctx, endDate, borrowed, collateral); err != nil {
			return err
		}
		loan.Collateral = collateral
		loan.Borrowed = borrowed
		loan.EndDate = endDate
		loan.TermDays = req.Days
		op.tx.MarkLoan(loan)

		op.rec.BaseIn = payment
		return nil
	}
}

// Borrow locks caller tokens worth amount and pays out 99% of amount minus interest.
func (e *Engine) Borrow(ctx context.Context, req BorrowRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpBorrow, req.User, false, e.borrow(req))
}

// QuoteBorrow previews Borrow without committing or checking the caller's balance.
func (e *Engine) QuoteBorrow(ctx context.Context, req BorrowRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpBorrow, req.User, true, e.borrow(req))
}

func (e *Engine) borrow(req BorrowRequest) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Amount == 0 {
			return fmt.Errorf("%w: zero amount", ErrInvalidInput)
		}
		loan, err := op.tx.OpenableLoan(ctx, req.User, op.now)
		if err != nil {
			return err
		}

		fee, err := op.calc.Interest(req.Amount, req.Days)
		if err != nil {
			return err
		}
		cut, err := fees.ProtocolCut(fee)
		if err != nil {
			return err
		}
		curve, err := op.curve()
		if err != nil {
			return err
		}
		collateral, err := curve.NoTradeCeil(req.Amount)
		if err != nil {
			return err
		}
		borrowed := fees.CollateralShare(req.Amount)
		if fee > borrowed {
			return fmt.Errorf("%w: fee %d, borrow %d", fees.ErrFeeExceedsAmount, fee, borrowed)
		}

		if err := op.custody.Transfer(ctx, req.User, e.accounts.CollateralPool, collateral); err != nil {
			return err
		}
		if err := op.custody.Release(ctx, req.User, borrowed-fee); err != nil {
			return err
		}
		if err := e.routeFee(ctx, op, cut, nil); err != nil {
			return err
		}

		endDate := domain.LoanEndDate(op.now, req.Days)
		if err := op.tx.AddToBucket(ctx, endDate, borrowed, collateral); err != nil {
			return err
		}
		loan.Collateral = collateral
		loan.Borrowed = borrowed
		loan.EndDate = endDate
		loan.TermDays = req.Days
		op.tx.MarkLoan(loan)

		op.rec.TokensIn = collateral
		op.rec.BaseOut = borrowed - fee
		return nil
	}
}

// BorrowMore grows an active loan for its remaining term. Collateral already
// in excess of the current debt counts toward the new requirement.
func (e *Engine) BorrowMore(ctx context.Context, req BorrowMoreRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpBorrowMore, req.User, false, e.borrowMore(req))
}

// QuoteBorrowMore previews BorrowMore without committing or checking the caller's balance.
func (e *Engine) QuoteBorrowMore(ctx context.Context, req BorrowMoreRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpBorrowMore, req.User, true, e.borrowMore(req))
}

func (e *Engine) borrowMore(req BorrowMoreRequest) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Amount == 0 {
			return fmt.Errorf("%w: zero amount", ErrInvalidInput)
		}
		loan, err := op.tx.ActiveLoan(ctx, req.User, op.now)
		if err != nil {
			return err
		}

		days := termDays(loan.EndDate - domain.NextMidnight(op.now))
		fee, err := op.calc.Interest(req.Amount, days)
		if err != nil {
			return err
		}
		cut, err := fees.ProtocolCut(fee)
		if err != nil {
			return err
		}
		borrowed := fees.CollateralShare(req.Amount)
		if fee > borrowed {
			return fmt.Errorf("%w: fee %d, borrow %d", fees.ErrFeeExceedsAmount, fee, borrowed)
		}

		curve, err := op.curve()
		if err != nil {
			return err
		}
		needed, err := curve.NoTradeCeil(req.Amount)
		if err != nil {
			return err
		}
		debtInTokens, err := curve.NoTrade(loan.Borrowed)
		if err != nil {
			return err
		}
		excess := pricing.SaturatingSub(fees.CollateralShare(loan.Collateral), debtInTokens)
		required := needed - min(excess, needed)

		if err := op.custody.Transfer(ctx, req.User, e.accounts.CollateralPool, required); err != nil {
			return err
		}
		if err := op.custody.Release(ctx, req.User, borrowed-fee); err != nil {
			return err
		}
		if err := e.routeFee(ctx, op, cut, nil); err != nil {
			return err
		}

		if err := op.tx.AddToBucket(ctx, loan.EndDate, borrowed, required); err != nil {
			return err
		}
		loan.Collateral += required
		loan.Borrowed += borrowed
		loan.TermDays = days
		op.tx.MarkLoan(loan)

		op.rec.TokensIn = required
		op.rec.BaseOut = borrowed - fee
		return nil
	}
}
