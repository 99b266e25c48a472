package engine

import (
	"context"
	"fmt"

	"bondcurve-ledger/internal/custody"
	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/liquidation"
	"bondcurve-ledger/internal/pricing"
)

type effectKind int

const (
	effectReceive effectKind = iota
	effectRelease
	effectMint
	effectBurn
	effectTransfer
)

func (k effectKind) String() string {
	switch k {
	case effectReceive:
		return "receive"
	case effectRelease:
		return "release"
	case effectMint:
		return "mint"
	case effectBurn:
		return "burn"
	case effectTransfer:
		return "transfer"
	}
	return "unknown"
}

type effect struct {
	kind   effectKind
	from   domain.Address
	to     domain.Address
	amount uint64
}

// custodyTx stages Reserve and TokenLedger effects against a local balance
// view. Nothing reaches custody until apply.
type custodyTx struct {
	reserve custody.Reserve
	tokens  custody.TokenLedger
	pool    domain.Address

	// quote mode skips caller balance checks
	quote bool

	reserveBalance uint64
	wallets        map[domain.Address]uint64
	holdings       map[domain.Address]uint64

	effects []effect
}

// Compile-time interface check.
var _ liquidation.Burner = (*custodyTx)(nil)

func newCustodyTx(ctx context.Context, reserve custody.Reserve, tokens custody.TokenLedger, pool domain.Address, quote bool) (*custodyTx, error) {
	bal, err := reserve.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reserve balance: %w", err)
	}
	return &custodyTx{
		reserve:        reserve,
		tokens:         tokens,
		pool:           pool,
		quote:          quote,
		reserveBalance: bal,
		wallets:        make(map[domain.Address]uint64),
		holdings:       make(map[domain.Address]uint64),
	}, nil
}

// ReserveBalance returns the staged reserve balance.
func (c *custodyTx) ReserveBalance() uint64 {
	return c.reserveBalance
}

// PoolBalance returns the staged collateral pool token balance.
func (c *custodyTx) PoolBalance(ctx context.Context) (uint64, error) {
	return c.holding(ctx, c.pool)
}

func (c *custodyTx) wallet(ctx context.Context, owner domain.Address) (uint64, error) {
	if bal, ok := c.wallets[owner]; ok {
		return bal, nil
	}
	bal, err := c.reserve.Available(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("load wallet %s: %w", owner, err)
	}
	c.wallets[owner] = bal
	return bal, nil
}

func (c *custodyTx) holding(ctx context.Context, owner domain.Address) (uint64, error) {
	if bal, ok := c.holdings[owner]; ok {
		return bal, nil
	}
	bal, err := c.tokens.BalanceOf(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("load token balance %s: %w", owner, err)
	}
	c.holdings[owner] = bal
	return bal, nil
}

// Receive stages a base-asset payment from owner into the reserve.
func (c *custodyTx) Receive(ctx context.Context, from domain.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := c.wallet(ctx, from)
	if err != nil {
		return err
	}
	if bal < amount && !c.quote {
		return fmt.Errorf("%w: %s has %d, needs %d", custody.ErrInsufficientFunds, from, bal, amount)
	}
	reserve, err := pricing.CheckedAdd(c.reserveBalance, amount)
	if err != nil {
		return err
	}
	c.wallets[from] = pricing.SaturatingSub(bal, amount)
	c.reserveBalance = reserve
	c.effects = append(c.effects, effect{kind: effectReceive, from: from, amount: amount})
	return nil
}

// Release stages a base-asset payout from the reserve to owner.
func (c *custodyTx) Release(ctx context.Context, to domain.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if c.reserveBalance < amount {
		return fmt.Errorf("%w: reserve has %d, releasing %d", custody.ErrInsufficientFunds, c.reserveBalance, amount)
	}
	bal, err := c.wallet(ctx, to)
	if err != nil {
		return err
	}
	c.reserveBalance -= amount
	c.wallets[to] = bal + amount
	c.effects = append(c.effects, effect{kind: effectRelease, to: to, amount: amount})
	return nil
}

// Mint stages newly issued tokens for owner.
func (c *custodyTx) Mint(ctx context.Context, to domain.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := c.holding(ctx, to)
	if err != nil {
		return err
	}
	c.holdings[to] = bal + amount
	c.effects = append(c.effects, effect{kind: effectMint, to: to, amount: amount})
	return nil
}

// Burn stages destruction of tokens held by owner.
func (c *custodyTx) Burn(ctx context.Context, from domain.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := c.holding(ctx, from)
	if err != nil {
		return err
	}
	if bal < amount && (!c.quote || from == c.pool) {
		return fmt.Errorf("%w: %s holds %d tokens, burn %d", custody.ErrInsufficientFunds, from, bal, amount)
	}
	c.holdings[from] = pricing.SaturatingSub(bal, amount)
	c.effects = append(c.effects, effect{kind: effectBurn, from: from, amount: amount})
	return nil
}

// Transfer stages a token transfer.
func (c *custodyTx) Transfer(ctx context.Context, from, to domain.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	src, err := c.holding(ctx, from)
	if err != nil {
		return err
	}
	if src < amount && (!c.quote || from == c.pool) {
		return fmt.Errorf("%w: %s holds %d tokens, transfer %d", custody.ErrInsufficientFunds, from, src, amount)
	}
	c.holdings[from] = pricing.SaturatingSub(src, amount)
	dst, err := c.holding(ctx, to)
	if err != nil {
		return err
	}
	c.holdings[to] = dst + amount
	c.effects = append(c.effects, effect{kind: effectTransfer, from: from, to: to, amount: amount})
	return nil
}

// BurnCollateral burns forfeited collateral from the pool.
func (c *custodyTx) BurnCollateral(ctx context.Context, amount uint64) error {
	return c.Burn(ctx, c.pool, amount)
}

// apply executes staged effects in order and returns how many succeeded.
func (c *custodyTx) apply(ctx context.Context) (int, error) {
	for i, eff := range c.effects {
		if err := c.do(ctx, eff); err != nil {
			return i, fmt.Errorf("apply %s of %d: %w", eff.kind, eff.amount, err)
		}
	}
	return len(c.effects), nil
}

// revert undoes the first n effects in reverse order. It keeps going after a
// failure and returns the first error.
func (c *custodyTx) revert(ctx context.Context, n int) error {
	var first error
	for i := n - 1; i >= 0; i-- {
		if err := c.do(ctx, c.effects[i].inverse()); err != nil && first == nil {
			first = fmt.Errorf("%w: revert %s of %d: %v", ErrCompensationFailed, c.effects[i].kind, c.effects[i].amount, err)
		}
	}
	return first
}

func (c *custodyTx) do(ctx context.Context, eff effect) error {
	switch eff.kind {
	case effectReceive:
		return c.reserve.Receive(ctx, eff.from, eff.amount)
	case effectRelease:
		return c.reserve.Release(ctx, eff.to, eff.amount)
	case effectMint:
		return c.tokens.Mint(ctx, eff.to, eff.amount)
	case effectBurn:
		return c.tokens.Burn(ctx, eff.from, eff.amount)
	case effectTransfer:
		return c.tokens.Transfer(ctx, eff.from, eff.to, eff.amount)
	}
	return fmt.Errorf("unknown effect %d", eff.kind)
}

func (e effect) inverse() effect {
	switch e.kind {
	case effectReceive:
		return effect{kind: effectRelease, to: e.from, amount: e.amount}
	case effectRelease:
		return effect{kind: effectReceive, from: e.to, amount: e.amount}
	case effectMint:
		return effect{kind: effectBurn, from: e.to, amount: e.amount}
	case effectBurn:
		return effect{kind: effectMint, to: e.from, amount: e.amount}
	case effectTransfer:
		return effect{kind: effectTransfer, from: e.to, to: e.from, amount: e.amount}
	}
	return e
}
