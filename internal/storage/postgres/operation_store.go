package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/storage"
)

// OperationStore implements storage.OperationStore using PostgreSQL.
// Rows are written by LedgerStore.Commit.
type OperationStore struct {
	pool *Pool
}

// NewOperationStore creates a new OperationStore.
func NewOperationStore(pool *Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OperationStore = (*OperationStore)(nil)

const operationColumns = `
	operation_id, sequence, kind, user_address,
	base_in, base_out, tokens_in, tokens_out,
	protocol_fee, referral_fee, referrer,
	price_before, price_after, swept_days, timestamp
`

// GetByID retrieves an operation by its ID. Returns ErrNotFound if not exists.
func (s *OperationStore) GetByID(ctx context.Context, operationID string) (*domain.OperationRecord, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE operation_id = $1`

	op, err := scanOperation(s.pool.QueryRow(ctx, query, operationID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get operation by id: %w", err)
	}
	return op, nil
}

// GetByUser retrieves all operations of a user, ordered by sequence ASC.
func (s *OperationStore) GetByUser(ctx context.Context, user domain.Address) ([]*domain.OperationRecord, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE user_address = $1
		ORDER BY sequence ASC
	`

	rows, err := s.pool.Query(ctx, query, user.String())
	if err != nil {
		return nil, fmt.Errorf("query operations by user: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// GetByTimeRange retrieves operations with timestamp in [start, end], ordered by sequence ASC.
func (s *OperationStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.OperationRecord, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY sequence ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query operations by time range: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

func insertOperation(ctx context.Context, tx pgx.Tx, op *domain.OperationRecord) error {
	var referrer *string
	if op.Referrer != nil {
		r := op.Referrer.String()
		referrer = &r
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO operations (`+operationColumns+`)
		VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		)
	`,
		op.OperationID, op.Sequence, string(op.Kind), op.User.String(),
		amount(op.BaseIn), amount(op.BaseOut), amount(op.TokensIn), amount(op.TokensOut),
		amount(op.ProtocolFee), amount(op.ReferralFee), referrer,
		amount(op.PriceBefore), amount(op.PriceAfter), op.SweptDays, op.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return commitError("insert operation", err)
	}
	return nil
}

func scanOperation(row pgx.Row) (*domain.OperationRecord, error) {
	var op domain.OperationRecord
	var kind, user string
	var referrer *string

	err := row.Scan(
		&op.OperationID, &op.Sequence, &kind, &user,
		(*amount)(&op.BaseIn), (*amount)(&op.BaseOut), (*amount)(&op.TokensIn), (*amount)(&op.TokensOut),
		(*amount)(&op.ProtocolFee), (*amount)(&op.ReferralFee), &referrer,
		(*amount)(&op.PriceBefore), (*amount)(&op.PriceAfter), &op.SweptDays, &op.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	op.Kind = domain.OperationKind(kind)
	if op.User, err = domain.ParseAddress(user); err != nil {
		return nil, fmt.Errorf("stored operation user %q: %w", user, err)
	}
	if referrer != nil {
		r, err := domain.ParseAddress(*referrer)
		if err != nil {
			return nil, fmt.Errorf("stored referrer %q: %w", *referrer, err)
		}
		op.Referrer = &r
	}
	return &op, nil
}

func scanOperations(rows pgx.Rows) ([]*domain.OperationRecord, error) {
	var ops []*domain.OperationRecord
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation rows: %w", err)
	}
	return ops, nil
}
