package engine

import (
	"context"
	"fmt"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/fees"
	"bondcurve-ledger/internal/liquidation"
)

// RemoveCollateralRequest withdraws collateral from an active loan.
type RemoveCollateralRequest struct {
	User   domain.Address
	Amount uint64 // tokens
}

// RepayRequest partially repays an active loan.
type RepayRequest struct {
	User   domain.Address
	Amount uint64 // base units, below borrowed
}

// ExtendLoanRequest pushes an active loan's expiry forward.
type ExtendLoanRequest struct {
	User    domain.Address
	Days    uint64
	Payment uint64 // must equal the interest on borrowed for Days
}

// RemoveCollateral releases collateral as long as 99% of the remainder's
// sell value still covers the debt.
func (e *Engine) RemoveCollateral(ctx context.Context, req RemoveCollateralRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpRemoveCollateral, req.User, false, e.removeCollateral(req))
}

func (e *Engine) removeCollateral(req RemoveCollateralRequest) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Amount == 0 {
			return fmt.Errorf("%w: zero amount", ErrInvalidInput)
		}
		loan, err := op.tx.ActiveLoan(ctx, req.User, op.now)
		if err != nil {
			return err
		}
		if req.Amount > loan.Collateral {
			return fmt.Errorf("%w: %d > %d", ErrInvalidCollateralAmount, req.Amount, loan.Collateral)
		}

		curve, err := op.curve()
		if err != nil {
			return err
		}
		remaining := loan.Collateral - req.Amount
		value, err := curve.TradeSell(remaining)
		if err != nil {
			return err
		}
		if loan.Borrowed > fees.CollateralShare(value) {
			return fmt.Errorf("%w: borrowed %d, remaining collateral worth %d", ErrInsufficientCollateral, loan.Borrowed, value)
		}

		if err := op.custody.Transfer(ctx, e.accounts.CollateralPool, req.User, req.Amount); err != nil {
			return err
		}
		if err := op.tx.SubFromBucket(ctx, loan.EndDate, 0, req.Amount); err != nil {
			return err
		}
		loan.Collateral = remaining
		op.tx.MarkLoan(loan)

		op.rec.TokensOut = req.Amount
		return nil
	}
}

// Repay reduces an active loan's debt.
func (e *Engine) Repay(ctx context.Context, req RepayRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpRepay, req.User, false, e.repay(req))
}

func (e *Engine) repay(req RepayRequest) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Amount == 0 {
			return fmt.Errorf("%w: zero amount", ErrInvalidInput)
		}
		loan, err := op.tx.ActiveLoan(ctx, req.User, op.now)
		if err != nil {
			return err
		}
		if req.Amount >= loan.Borrowed {
			return fmt.Errorf("%w: %d >= %d", ErrRepayAmountTooLarge, req.Amount, loan.Borrowed)
		}

		if err := op.custody.Receive(ctx, req.User, req.Amount); err != nil {
			return err
		}
		if err := op.tx.SubFromBucket(ctx, loan.EndDate, req.Amount, 0); err != nil {
			return err
		}
		loan.Borrowed -= req.Amount
		op.tx.MarkLoan(loan)

		op.rec.BaseIn = req.Amount
		return nil
	}
}

// ClosePosition repays the full debt and returns all collateral.
func (e *Engine) ClosePosition(ctx context.Context, user domain.Address) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpClosePosition, user, false, e.closePosition(user))
}

func (e *Engine) closePosition(user domain.Address) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		loan, err := op.tx.ActiveLoan(ctx, user, op.now)
		if err != nil {
			return err
		}

		if err := op.custody.Receive(ctx, user, loan.Borrowed); err != nil {
			return err
		}
		if err := op.custody.Transfer(ctx, e.accounts.CollateralPool, user, loan.Collateral); err != nil {
			return err
		}
		if err := op.tx.SubFromBucket(ctx, loan.EndDate, loan.Borrowed, loan.Collateral); err != nil {
			return err
		}

		op.rec.BaseIn = loan.Borrowed
		op.rec.TokensOut = loan.Collateral
		loan.Reset()
		op.tx.MarkLoan(loan)
		return nil
	}
}

// FlashClosePosition settles a loan by burning its collateral. 99% of the
// collateral's sell value repays the debt and the surplus goes to the caller.
func (e *Engine) FlashClosePosition(ctx context.Context, user domain.Address) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpFlashClose, user, false, e.flashClose(user))
}

// QuoteFlashClosePosition previews FlashClosePosition without committing.
func (e *Engine) QuoteFlashClosePosition(ctx context.Context, user domain.Address) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpFlashClose, user, true, e.flashClose(user))
}

func (e *Engine) flashClose(user domain.Address) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		loan, err := op.tx.ActiveLoan(ctx, user, op.now)
		if err != nil {
			return err
		}

		curve, err := op.curve()
		if err != nil {
			return err
		}
		value, err := curve.TradeSell(loan.Collateral)
		if err != nil {
			return err
		}
		afterFee := fees.CollateralShare(value)
		if afterFee < loan.Borrowed {
			return fmt.Errorf("%w: collateral worth %d after haircut, borrowed %d", ErrInsufficientCollateral, afterFee, loan.Borrowed)
		}
		cut, err := fees.ProtocolCut(value - afterFee)
		if err != nil {
			return err
		}

		g := op.global()
		if loan.Collateral > g.TokenSupply {
			return fmt.Errorf("%w: collateral %d exceeds supply %d", ErrInvalidInput, loan.Collateral, g.TokenSupply)
		}
		if err := op.custody.BurnCollateral(ctx, loan.Collateral); err != nil {
			return err
		}
		g.TokenSupply -= loan.Collateral

		surplus := afterFee - loan.Borrowed
		if err := op.custody.Release(ctx, user, surplus); err != nil {
			return err
		}
		if err := e.routeFee(ctx, op, cut, nil); err != nil {
			return err
		}
		if err := op.tx.SubFromBucket(ctx, loan.EndDate, loan.Borrowed, loan.Collateral); err != nil {
			return err
		}

		op.rec.BaseOut = surplus
		loan.Reset()
		op.tx.MarkLoan(loan)
		return nil
	}
}

// ExtendLoan moves an active loan's expiry days forward. The caller pays
// fresh interest on the borrowed amount and must pay exactly that.
func (e *Engine) ExtendLoan(ctx context.Context, req ExtendLoanRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpExtendLoan, req.User, false, e.extendLoan(req))
}

// QuoteExtendLoan previews ExtendLoan. The returned record's BaseIn is the
// payment ExtendLoan expects; req.Payment is ignored.
func (e *Engine) QuoteExtendLoan(ctx context.Context, req ExtendLoanRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpExtendLoan, req.User, true, e.extendLoanWith(req, true))
}

func (e *Engine) extendLoan(req ExtendLoanRequest) handlerFunc {
	return e.extendLoanWith(req, false)
}

func (e *Engine) extendLoanWith(req ExtendLoanRequest, anyPayment bool) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Days == 0 || req.Days > fees.MaxTermDays {
			return fmt.Errorf("%w: %d", fees.ErrInvalidTerm, req.Days)
		}
		loan, err := op.tx.ActiveLoan(ctx, req.User, op.now)
		if err != nil {
			return err
		}

		newEnd := loan.EndDate + int64(req.Days)*domain.SecondsPerDay
		if err := fees.ValidateTerm(termDays(newEnd - op.now)); err != nil {
			return err
		}
		fee, err := op.calc.Interest(loan.Borrowed, req.Days)
		if err != nil {
			return err
		}
		cut, err := fees.ProtocolCut(fee)
		if err != nil {
			return err
		}
		if !anyPayment && req.Payment != fee {
			return fmt.Errorf("%w: paid %d, fee %d", ErrIncorrectPayment, req.Payment, fee)
		}

		if err := op.custody.Receive(ctx, req.User, fee); err != nil {
			return err
		}
		if err := e.routeFee(ctx, op, cut, nil); err != nil {
			return err
		}
		if err := op.tx.MoveBucket(ctx, loan.EndDate, newEnd, loan.Borrowed, loan.Collateral); err != nil {
			return err
		}
		loan.EndDate = newEnd
		loan.TermDays += req.Days
		op.tx.MarkLoan(loan)

		op.rec.BaseIn = fee
		return nil
	}
}

// Liquidate sweeps at most one pending bucket day. With nothing pending it
// returns an uncommitted record with SweptDays 0.
func (e *Engine) Liquidate(ctx context.Context, caller domain.Address) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpLiquidate, caller, false, e.liquidate())
}

func (e *Engine) liquidate() handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if liquidation.PendingDays(op.global(), op.now) == 0 {
			op.noop = true
			return nil
		}
		report, err := e.sweeper.Sweep(ctx, op.tx, op.custody, op.now, 1)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		observeSweep(report, false)
		op.rec.SweptDays = report.Days
		op.rec.TokensIn = report.Collateral
		return nil
	}
}

// SweepPending calls Liquidate until no bucket day is pending or maxCalls
// days were swept (0 means no limit). It returns the days swept.
func (e *Engine) SweepPending(ctx context.Context, caller domain.Address, maxCalls int) (int, error) {
	swept := 0
	for maxCalls <= 0 || swept < maxCalls {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		rec, err := e.Liquidate(ctx, caller)
		if err != nil {
			return swept, err
		}
		if rec.SweptDays == 0 {
			break
		}
		swept += rec.SweptDays
	}
	return swept, nil
}
