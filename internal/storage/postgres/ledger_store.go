package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/observability"
	"bondcurve-ledger/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Commit writes the global row, loans, buckets and the operation journal
// entry in one transaction.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const globalColumns = `
	token_supply, total_borrowed, total_collateral, last_price, last_liquidation_date,
	buy_fee, sell_fee, buy_fee_leverage, started, version, updated_at
`

// GetGlobal retrieves the global ledger. Returns ErrNotFound before initialization.
func (s *LedgerStore) GetGlobal(ctx context.Context) (*domain.GlobalLedger, error) {
	query := `SELECT ` + globalColumns + ` FROM global_ledger WHERE id = 1`

	g, err := scanGlobal(s.pool.QueryRow(ctx, query))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get global ledger: %w", err)
	}
	return g, nil
}

// GetLoan retrieves a user's loan. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetLoan(ctx context.Context, user domain.Address) (*domain.Loan, error) {
	query := `
		SELECT user_address, collateral, borrowed, end_date, term_days
		FROM loans
		WHERE user_address = $1
	`

	l, err := scanLoan(s.pool.QueryRow(ctx, query, user.String()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

// GetBucket retrieves the bucket at date. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetBucket(ctx context.Context, date int64) (*domain.DailyBucket, error) {
	query := `SELECT date, borrowed, collateral FROM daily_buckets WHERE date = $1`

	var b domain.DailyBucket
	err := s.pool.QueryRow(ctx, query, date).Scan(&b.Date, (*amount)(&b.Borrowed), (*amount)(&b.Collateral))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get bucket: %w", err)
	}
	return &b, nil
}

// ListLoans retrieves all loans ordered by user address.
func (s *LedgerStore) ListLoans(ctx context.Context) ([]*domain.Loan, error) {
	query := `
		SELECT user_address, collateral, borrowed, end_date, term_days
		FROM loans
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	var loans []*domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}

	// base58 text does not sort like the raw key bytes
	sortLoans(loans)
	return loans, nil
}

// ListBuckets retrieves buckets with date in [from, to], ordered by date ASC.
func (s *LedgerStore) ListBuckets(ctx context.Context, from, to int64) ([]*domain.DailyBucket, error) {
	query := `
		SELECT date, borrowed, collateral
		FROM daily_buckets
		WHERE date >= $1 AND date <= $2
		ORDER BY date ASC
	`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []*domain.DailyBucket
	for rows.Next() {
		var b domain.DailyBucket
		if err := rows.Scan(&b.Date, (*amount)(&b.Borrowed), (*amount)(&b.Collateral)); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

// Commit atomically applies a change set after checking the stored version.
func (s *LedgerStore) Commit(ctx context.Context, cs *domain.ChangeSet) (err error) {
	if cs == nil || cs.Global == nil || cs.Global.Version == 0 {
		return storage.ErrInvalidInput
	}
	if cs.Operation != nil && cs.Operation.OperationID == "" {
		return storage.ErrInvalidInput
	}

	started := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "commit", time.Since(started).Seconds(), err)
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current uint64
	err = tx.QueryRow(ctx, `SELECT version FROM global_ledger WHERE id = 1 FOR UPDATE`).Scan(&current)
	if err != nil && !isNotFoundError(err) {
		return commitError("lock global ledger", err)
	}
	if cs.Global.Version != current+1 {
		return storage.ErrConflict
	}

	if err := writeGlobal(ctx, tx, cs.Global); err != nil {
		return err
	}

	for _, l := range cs.Loans {
		_, err := tx.Exec(ctx, `
			INSERT INTO loans (user_address, collateral, borrowed, end_date, term_days)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_address) DO UPDATE SET
				collateral = EXCLUDED.collateral,
				borrowed = EXCLUDED.borrowed,
				end_date = EXCLUDED.end_date,
				term_days = EXCLUDED.term_days
		`, l.User.String(), amount(l.Collateral), amount(l.Borrowed), l.EndDate, l.TermDays)
		if err != nil {
			return commitError("upsert loan", err)
		}
	}

	for _, b := range cs.Buckets {
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_buckets (date, borrowed, collateral)
			VALUES ($1, $2, $3)
			ON CONFLICT (date) DO UPDATE SET
				borrowed = EXCLUDED.borrowed,
				collateral = EXCLUDED.collateral
		`, b.Date, amount(b.Borrowed), amount(b.Collateral))
		if err != nil {
			return commitError("upsert bucket", err)
		}
	}

	if cs.Operation != nil {
		if err := insertOperation(ctx, tx, cs.Operation); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return commitError("commit tx", err)
	}
	return nil
}

// Operations returns the journal reader backed by the same pool.
func (s *LedgerStore) Operations() *OperationStore {
	return NewOperationStore(s.pool)
}

// writeGlobal inserts the first global row or updates the row holding the
// previous version.
func writeGlobal(ctx context.Context, tx pgx.Tx, g *domain.GlobalLedger) error {
	args := []any{
		amount(g.TokenSupply), amount(g.TotalBorrowed), amount(g.TotalCollateral), amount(g.LastPrice),
		g.LastLiquidationDate, g.Fees.BuyFee, g.Fees.SellFee, g.Fees.BuyFeeLeverage,
		g.Started, g.Version, g.UpdatedAt,
	}

	if g.Version == 1 {
		_, err := tx.Exec(ctx, `
			INSERT INTO global_ledger (id, `+globalColumns+`)
			VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, args...)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrConflict
			}
			return commitError("insert global ledger", err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE global_ledger SET
			token_supply = $1,
			total_borrowed = $2,
			total_collateral = $3,
			last_price = $4,
			last_liquidation_date = $5,
			buy_fee = $6,
			sell_fee = $7,
			buy_fee_leverage = $8,
			started = $9,
			version = $10,
			updated_at = $11
		WHERE id = 1 AND version = $10 - 1
	`, args...)
	if err != nil {
		return commitError("update global ledger", err)
	}
	if tag.RowsAffected() != 1 {
		return storage.ErrConflict
	}
	return nil
}

func scanGlobal(row pgx.Row) (*domain.GlobalLedger, error) {
	var g domain.GlobalLedger
	err := row.Scan(
		(*amount)(&g.TokenSupply), (*amount)(&g.TotalBorrowed), (*amount)(&g.TotalCollateral), (*amount)(&g.LastPrice),
		&g.LastLiquidationDate, &g.Fees.BuyFee, &g.Fees.SellFee, &g.Fees.BuyFeeLeverage,
		&g.Started, &g.Version, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanLoan(row pgx.Row) (*domain.Loan, error) {
	var l domain.Loan
	var user string
	if err := row.Scan(&user, (*amount)(&l.Collateral), (*amount)(&l.Borrowed), &l.EndDate, &l.TermDays); err != nil {
		return nil, err
	}
	addr, err := domain.ParseAddress(user)
	if err != nil {
		return nil, fmt.Errorf("stored loan owner %q: %w", user, err)
	}
	l.User = addr
	return &l, nil
}

func sortLoans(loans []*domain.Loan) {
	sort.Slice(loans, func(i, j int) bool {
		return string(loans[i].User[:]) < string(loans[j].User[:])
	})
}
