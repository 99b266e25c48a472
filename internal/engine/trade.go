package engine

import (
	"context"
	"fmt"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/fees"
)

// StartRequest opens trading with the admin's seed deposit.
type StartRequest struct {
	Admin   domain.Address
	Deposit uint64 // base units, at least one whole unit
}

// BuyRequest buys tokens with a base-asset deposit.
type BuyRequest struct {
	User     domain.Address
	Deposit  uint64          // base units paid
	MinOut   uint64          // minimum tokens received, 0 disables the check
	Referrer *domain.Address // optional
}

// SellRequest sells tokens for base asset.
type SellRequest struct {
	User     domain.Address
	Amount   uint64          // tokens burned
	MinOut   uint64          // minimum base units received, 0 disables the check
	Referrer *domain.Address // optional
}

// Start seeds the reserve and mints the deposit 1:1 to the admin.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpStart, req.Admin, false, e.start(req))
}

func (e *Engine) start(req StartRequest) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Admin != e.admin {
			return ErrUnauthorized
		}
		g := op.global()
		if g.Started {
			return ErrAlreadyStarted
		}
		if unit := pow10(e.reserve.Decimals()); req.Deposit < unit {
			return fmt.Errorf("%w: deposit %d below one whole unit (%d)", ErrInvalidInput, req.Deposit, unit)
		}

		if err := op.custody.Receive(ctx, req.Admin, req.Deposit); err != nil {
			return err
		}
		if err := e.mintSupply(op, req.Deposit); err != nil {
			return err
		}
		if err := op.custody.Mint(ctx, req.Admin, req.Deposit); err != nil {
			return err
		}
		g.Started = true

		op.rec.BaseIn = req.Deposit
		op.rec.TokensOut = req.Deposit
		return nil
	}
}

// Buy mints tokens for a deposit at the curve price net of the buy fee.
func (e *Engine) Buy(ctx context.Context, req BuyRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpBuy, req.User, false, e.buy(req))
}

// QuoteBuy previews Buy without committing or checking the caller's balance.
func (e *Engine) QuoteBuy(ctx context.Context, req BuyRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpBuy, req.User, true, e.buy(req))
}

func (e *Engine) buy(req BuyRequest) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Deposit == 0 {
			return fmt.Errorf("%w: zero deposit", ErrInvalidInput)
		}
		if req.Referrer != nil && *req.Referrer == req.User {
			return ErrInvalidReferral
		}

		baseFee, err := op.calc.Buy(req.Deposit)
		if err != nil {
			return err
		}
		cut, err := fees.ProtocolCut(baseFee.Fee)
		if err != nil {
			return err
		}

		if err := op.custody.Receive(ctx, req.User, req.Deposit); err != nil {
			return err
		}
		curve, err := op.curve()
		if err != nil {
			return err
		}
		gross, err := curve.TradeBuy(req.Deposit)
		if err != nil {
			return err
		}
		tokens, err := op.calc.Buy(gross)
		if err != nil {
			return err
		}
		if tokens.Net < req.MinOut {
			return fmt.Errorf("%w: %d < %d", ErrOutputTooSmall, tokens.Net, req.MinOut)
		}

		if err := e.mintSupply(op, tokens.Net); err != nil {
			return err
		}
		if err := op.custody.Mint(ctx, req.User, tokens.Net); err != nil {
			return err
		}
		if err := e.routeFee(ctx, op, cut, req.Referrer); err != nil {
			return err
		}

		op.rec.BaseIn = req.Deposit
		op.rec.TokensOut = tokens.Net
		return nil
	}
}

// Sell burns tokens and pays their curve value net of the sell fee.
func (e *Engine) Sell(ctx context.Context, req SellRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpSell, req.User, false, e.sell(req))
}

// QuoteSell previews Sell without committing or checking the caller's balance.
func (e *Engine) QuoteSell(ctx context.Context, req SellRequest) (*domain.OperationRecord, error) {
	return e.run(ctx, domain.OpSell, req.User, true, e.sell(req))
}

func (e *Engine) sell(req SellRequest) handlerFunc {
	return func(ctx context.Context, op *opContext) error {
		if req.Amount == 0 {
			return fmt.Errorf("%w: zero amount", ErrInvalidInput)
		}
		if req.Referrer != nil && *req.Referrer == req.User {
			return ErrInvalidReferral
		}

		curve, err := op.curve()
		if err != nil {
			return err
		}
		gross, err := curve.TradeSell(req.Amount)
		if err != nil {
			return err
		}
		payout, err := op.calc.Sell(gross)
		if err != nil {
			return err
		}
		if payout.Net < req.MinOut {
			return fmt.Errorf("%w: %d < %d", ErrOutputTooSmall, payout.Net, req.MinOut)
		}
		cut, err := fees.ProtocolCut(payout.Fee)
		if err != nil {
			return err
		}

		g := op.global()
		if req.Amount > g.TokenSupply {
			return fmt.Errorf("%w: amount %d exceeds supply %d", ErrInvalidInput, req.Amount, g.TokenSupply)
		}
		if err := op.custody.Burn(ctx, req.User, req.Amount); err != nil {
			return err
		}
		g.TokenSupply -= req.Amount

		if err := op.custody.Release(ctx, req.User, payout.Net); err != nil {
			return err
		}
		if err := e.routeFee(ctx, op, cut, req.Referrer); err != nil {
			return err
		}

		op.rec.TokensIn = req.Amount
		op.rec.BaseOut = payout.Net
		return nil
	}
}
