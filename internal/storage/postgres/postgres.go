// Package postgres persists the ledger and its operation journal in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"bondcurve-ledger/internal/storage"
)

const applicationName = "bondcurve-ledger"

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation      = "23505"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrNumericOutOfRange    = "22003"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	return err != nil && pgErrorCode(err) == pgErrUniqueViolation
}

// isConflictError reports errors a concurrent writer can cause; the commit
// can be retried from a fresh read.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	switch pgErrorCode(err) {
	case pgErrSerializationFailure, pgErrDeadlockDetected:
		return true
	}
	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// commitError maps a failed statement inside Commit to a storage error.
func commitError(what string, err error) error {
	switch {
	case isConflictError(err):
		return fmt.Errorf("%w: %s: %v", storage.ErrConflict, what, err)
	case pgErrorCode(err) == pgErrNumericOutOfRange:
		return fmt.Errorf("%w: %s: %v", storage.ErrInvalidInput, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// amount stores a uint64 in a NUMERIC(20,0) column. BIGINT tops out at
// math.MaxInt64, below the largest base-unit amount.
type amount uint64

var maxAmount = new(big.Int).SetUint64(^uint64(0))

// NumericValue implements pgtype.NumericValuer.
func (a amount) NumericValue() (pgtype.Numeric, error) {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(uint64(a)), Valid: true}, nil
}

// ScanNumeric implements pgtype.NumericScanner.
func (a *amount) ScanNumeric(n pgtype.Numeric) error {
	if !n.Valid {
		return errors.New("cannot scan NULL into amount")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return errors.New("cannot scan non-finite numeric into amount")
	}

	v := new(big.Int).Set(n.Int)
	ten := big.NewInt(10)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(ten, big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		var rem big.Int
		v.QuoRem(v, new(big.Int).Exp(ten, big.NewInt(int64(-n.Exp)), nil), &rem)
		if rem.Sign() != 0 {
			return fmt.Errorf("numeric %s has a fractional part", n.Int)
		}
	}
	if v.Sign() < 0 || v.Cmp(maxAmount) > 0 {
		return fmt.Errorf("numeric %s out of uint64 range", v)
	}
	*a = amount(v.Uint64())
	return nil
}
