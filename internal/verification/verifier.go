// Package verification re-derives journal facts and compares them with
// stored operation records.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/idhash"
	"bondcurve-ledger/internal/storage"
)

// ErrOperationNotFound is returned when the operation to verify does not exist.
var ErrOperationNotFound = errors.New("operation not found")

// FieldDivergence represents a mismatch between stored and derived values.
type FieldDivergence struct {
	Field    string // field name
	Expected any    // derived value
	Actual   any    // stored value
}

func (d FieldDivergence) String() string {
	return fmt.Sprintf("%s: expected %v, got %v", d.Field, d.Expected, d.Actual)
}

// VerificationResult contains the result of verifying a single operation.
type VerificationResult struct {
	OperationID string // verified operation ID
	Sequence    uint64 // stored sequence
	Kind        domain.OperationKind
	Match       bool              // true if all fields match
	Divergences []FieldDivergence // list of divergent fields
}

// VerificationReport contains results for journal verification.
type VerificationReport struct {
	TotalOperations     int                  // operations verified
	MatchedOperations   int                  // operations with no divergence
	DivergentOperations int                  // operations with divergences
	Results             []VerificationResult // divergent results only, in sequence order
}

// OK reports whether every operation matched.
func (r *VerificationReport) OK() bool {
	return r.DivergentOperations == 0
}

// Verifier checks the operation journal.
type Verifier interface {
	// VerifyOperation checks a single operation's identifier and price move.
	VerifyOperation(ctx context.Context, operationID string) (*VerificationResult, error)

	// VerifyAll checks every operation and the links between neighbours.
	VerifyAll(ctx context.Context) (*VerificationReport, error)
}

// JournalVerifier implements Verifier over an OperationStore.
type JournalVerifier struct {
	ops storage.OperationStore
}

// Compile-time interface check.
var _ Verifier = (*JournalVerifier)(nil)

// NewJournalVerifier creates a verifier reading from ops.
func NewJournalVerifier(ops storage.OperationStore) *JournalVerifier {
	return &JournalVerifier{ops: ops}
}

// VerifyOperation loads one operation and checks it in isolation.
func (v *JournalVerifier) VerifyOperation(ctx context.Context, operationID string) (*VerificationResult, error) {
	op, err := v.ops.GetByID(ctx, operationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOperationNotFound
		}
		return nil, err
	}
	return result(op, CompareOperation(op, nil)), nil
}

// VerifyAll walks the journal in sequence order.
func (v *JournalVerifier) VerifyAll(ctx context.Context) (*VerificationReport, error) {
	ops, err := v.ops.GetByTimeRange(ctx, math.MinInt64, math.MaxInt64)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	report := &VerificationReport{TotalOperations: len(ops)}
	var prev *domain.OperationRecord
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := result(op, CompareOperation(op, prev))
		if res.Match {
			report.MatchedOperations++
		} else {
			report.DivergentOperations++
			report.Results = append(report.Results, *res)
		}
		prev = op
	}
	return report, nil
}

func result(op *domain.OperationRecord, divergences []FieldDivergence) *VerificationResult {
	return &VerificationResult{
		OperationID: op.OperationID,
		Sequence:    op.Sequence,
		Kind:        op.Kind,
		Match:       len(divergences) == 0,
		Divergences: divergences,
	}
}

// CompareOperation checks op against values derived from its own fields and,
// when prev is not nil, from the preceding journal entry.
func CompareOperation(op, prev *domain.OperationRecord) []FieldDivergence {
	var divergences []FieldDivergence

	// OperationID is a hash of kind, user, sequence and timestamp
	if want := idhash.ComputeOperationID(op.Kind, op.User, op.Sequence, op.Timestamp); op.OperationID != want {
		divergences = append(divergences, FieldDivergence{
			Field:    "OperationID",
			Expected: want,
			Actual:   op.OperationID,
		})
	}

	// Price never decreases
	if op.PriceAfter < op.PriceBefore {
		divergences = append(divergences, FieldDivergence{
			Field:    "PriceAfter",
			Expected: fmt.Sprintf(">= %d", op.PriceBefore),
			Actual:   op.PriceAfter,
		})
	}

	if op.ReferralFee > 0 && op.Referrer == nil {
		divergences = append(divergences, FieldDivergence{
			Field:    "Referrer",
			Expected: "referrer for referral fee",
			Actual:   nil,
		})
	}

	if prev == nil {
		return divergences
	}

	// Every commit bumps the version by one
	if op.Sequence != prev.Sequence+1 {
		divergences = append(divergences, FieldDivergence{
			Field:    "Sequence",
			Expected: prev.Sequence + 1,
			Actual:   op.Sequence,
		})
	}

	// Price carries over between commits
	if op.PriceBefore != prev.PriceAfter {
		divergences = append(divergences, FieldDivergence{
			Field:    "PriceBefore",
			Expected: prev.PriceAfter,
			Actual:   op.PriceBefore,
		})
	}

	return divergences
}
