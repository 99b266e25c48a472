package verification

import (
	"context"
	"errors"
	"testing"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/idhash"
	"bondcurve-ledger/internal/storage/memory"
)

func user(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

func record(seq uint64, kind domain.OperationKind, before, after uint64) *domain.OperationRecord {
	u := user(byte(seq))
	ts := int64(1_700_000_000 + seq)
	return &domain.OperationRecord{
		OperationID: idhash.ComputeOperationID(kind, u, seq, ts),
		Sequence:    seq,
		Kind:        kind,
		User:        u,
		PriceBefore: before,
		PriceAfter:  after,
		Timestamp:   ts,
	}
}

func journal(t *testing.T, ops ...*domain.OperationRecord) *memory.LedgerStore {
	t.Helper()
	store := memory.NewLedgerStore()
	ctx := context.Background()

	if err := store.Commit(ctx, &domain.ChangeSet{Global: &domain.GlobalLedger{Version: 1}}); err != nil {
		t.Fatalf("Commit init failed: %v", err)
	}
	version := uint64(1)
	for _, op := range ops {
		version++
		if err := store.Commit(ctx, &domain.ChangeSet{Global: &domain.GlobalLedger{Version: version}, Operation: op}); err != nil {
			t.Fatalf("Commit v%d failed: %v", version, err)
		}
	}
	return store
}

func TestCompareOperation_Match(t *testing.T) {
	prev := record(2, domain.OpStart, 0, 1_000_000_000)
	op := record(3, domain.OpBuy, 1_000_000_000, 1_008_860_759)

	if d := CompareOperation(op, prev); len(d) != 0 {
		t.Errorf("expected no divergences, got %v", d)
	}
	if d := CompareOperation(op, nil); len(d) != 0 {
		t.Errorf("expected no divergences without prev, got %v", d)
	}
}

func TestCompareOperation_Divergences(t *testing.T) {
	prev := record(2, domain.OpStart, 0, 1_000_000_000)

	tests := []struct {
		name   string
		mutate func(op *domain.OperationRecord)
		field  string
	}{
		{
			name:   "tampered id",
			mutate: func(op *domain.OperationRecord) { op.OperationID = "deadbeef" },
			field:  "OperationID",
		},
		{
			name:   "tampered user",
			mutate: func(op *domain.OperationRecord) { op.User = user(0xEE) },
			field:  "OperationID",
		},
		{
			name: "price fell",
			mutate: func(op *domain.OperationRecord) {
				op.PriceAfter = 999_999_999
			},
			field: "PriceAfter",
		},
		{
			name: "referral without referrer",
			mutate: func(op *domain.OperationRecord) {
				op.ReferralFee = 100
			},
			field: "Referrer",
		},
		{
			name: "sequence gap",
			mutate: func(op *domain.OperationRecord) {
				op.Sequence = 5
				op.OperationID = idhash.ComputeOperationID(op.Kind, op.User, op.Sequence, op.Timestamp)
			},
			field: "Sequence",
		},
		{
			name: "price does not carry over",
			mutate: func(op *domain.OperationRecord) {
				op.PriceBefore = 1_000_000_001
				op.PriceAfter = 1_000_000_001
			},
			field: "PriceBefore",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := record(3, domain.OpBuy, 1_000_000_000, 1_008_860_759)
			tt.mutate(op)

			d := CompareOperation(op, prev)
			if len(d) != 1 {
				t.Fatalf("expected 1 divergence, got %v", d)
			}
			if d[0].Field != tt.field {
				t.Errorf("field = %s, want %s", d[0].Field, tt.field)
			}
		})
	}
}

func TestJournalVerifier_VerifyAll(t *testing.T) {
	bad := record(4, domain.OpSell, 1_008_860_759, 1_009_000_000)
	bad.OperationID = idhash.ComputeOperationID(domain.OpBuy, bad.User, bad.Sequence, bad.Timestamp)

	store := journal(t,
		record(2, domain.OpStart, 0, 1_000_000_000),
		record(3, domain.OpBuy, 1_000_000_000, 1_008_860_759),
		bad,
		record(5, domain.OpLiquidate, 1_009_000_000, 1_009_000_000),
	)

	report, err := NewJournalVerifier(store.Operations()).VerifyAll(context.Background())
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	if report.TotalOperations != 4 {
		t.Errorf("TotalOperations = %d, want 4", report.TotalOperations)
	}
	if report.MatchedOperations != 3 || report.DivergentOperations != 1 {
		t.Errorf("matched/divergent = %d/%d, want 3/1", report.MatchedOperations, report.DivergentOperations)
	}
	if report.OK() {
		t.Error("expected report not OK")
	}
	if len(report.Results) != 1 || report.Results[0].Sequence != 4 {
		t.Fatalf("unexpected results: %+v", report.Results)
	}
	if report.Results[0].Divergences[0].Field != "OperationID" {
		t.Errorf("field = %s, want OperationID", report.Results[0].Divergences[0].Field)
	}
}

func TestJournalVerifier_VerifyAll_Empty(t *testing.T) {
	store := journal(t)

	report, err := NewJournalVerifier(store.Operations()).VerifyAll(context.Background())
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	if report.TotalOperations != 0 || !report.OK() {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestJournalVerifier_VerifyOperation(t *testing.T) {
	op := record(2, domain.OpStart, 0, 1_000_000_000)
	store := journal(t, op)
	v := NewJournalVerifier(store.Operations())

	res, err := v.VerifyOperation(context.Background(), op.OperationID)
	if err != nil {
		t.Fatalf("VerifyOperation failed: %v", err)
	}
	if !res.Match || res.Kind != domain.OpStart {
		t.Errorf("unexpected result: %+v", res)
	}

	_, err = v.VerifyOperation(context.Background(), "missing")
	if !errors.Is(err, ErrOperationNotFound) {
		t.Errorf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestJournalVerifier_Cancelled(t *testing.T) {
	store := journal(t, record(2, domain.OpStart, 0, 1_000_000_000))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewJournalVerifier(store.Operations()).VerifyAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
