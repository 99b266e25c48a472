package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/storage"
)

// DefaultTopUsers is the number of user rows kept in a report.
const DefaultTopUsers = 10

// Generator produces reports from stored data.
type Generator struct {
	ledgerStore storage.LedgerStore
	opStore     storage.OperationStore
	topUsers    int
	now         func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(ledgerStore storage.LedgerStore, opStore storage.OperationStore) *Generator {
	return &Generator{
		ledgerStore: ledgerStore,
		opStore:     opStore,
		topUsers:    DefaultTopUsers,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithTopUsers sets how many user rows are kept. Zero or less keeps all.
func (g *Generator) WithTopUsers(n int) *Generator {
	g.topUsers = n
	return g
}

// Generate produces a report for operations with timestamp in [from, to].
// It also returns the operations so callers can export them.
func (g *Generator) Generate(ctx context.Context, from, to int64) (*Report, []*domain.OperationRecord, error) {
	if from > to {
		return nil, nil, fmt.Errorf("invalid window: from %d > to %d", from, to)
	}

	global, err := g.ledgerStore.GetGlobal(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load global ledger: %w", err)
	}
	ops, err := g.opStore.GetByTimeRange(ctx, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("load operations: %w", err)
	}
	audit, err := ledger.Audit(ctx, g.ledgerStore)
	if err != nil {
		return nil, nil, err
	}

	return &Report{
		GeneratedAt: g.now(),
		From:        from,
		To:          to,
		Activity:    summarize(ops),
		Operations:  operationRows(ops),
		TopUsers:    g.userRows(ops),
		Ledger: LedgerState{
			Version:             global.Version,
			Started:             global.Started,
			TokenSupply:         global.TokenSupply,
			TotalBorrowed:       global.TotalBorrowed,
			TotalCollateral:     global.TotalCollateral,
			LastPrice:           global.LastPrice,
			LastLiquidationDate: global.LastLiquidationDate,
		},
		Integrity: IntegritySection{
			LiveLoans:  audit.LiveLoans,
			Violations: audit.Violations,
			Passed:     audit.OK(),
		},
	}, ops, nil
}

func summarize(ops []*domain.OperationRecord) ActivitySummary {
	var s ActivitySummary
	if len(ops) == 0 {
		return s
	}

	users := make(map[domain.Address]struct{})
	for _, op := range ops {
		users[op.User] = struct{}{}
		s.BaseIn += op.BaseIn
		s.BaseOut += op.BaseOut
		s.ProtocolFees += op.ProtocolFee
		s.ReferralFees += op.ReferralFee
		s.SweptDays += op.SweptDays
		if op.PriceAfter > s.PriceHigh {
			s.PriceHigh = op.PriceAfter
		}
	}

	first, last := ops[0], ops[len(ops)-1]
	s.TotalOperations = len(ops)
	s.UniqueUsers = len(users)
	s.FirstSequence = first.Sequence
	s.LastSequence = last.Sequence
	s.PriceOpen = first.PriceBefore
	s.PriceClose = last.PriceAfter
	return s
}

func operationRows(ops []*domain.OperationRecord) []OperationKindRow {
	byKind := make(map[domain.OperationKind]*OperationKindRow)
	for _, op := range ops {
		row, ok := byKind[op.Kind]
		if !ok {
			row = &OperationKindRow{Kind: string(op.Kind)}
			byKind[op.Kind] = row
		}
		row.Count++
		row.BaseIn += op.BaseIn
		row.BaseOut += op.BaseOut
		row.TokensIn += op.TokensIn
		row.TokensOut += op.TokensOut
		row.ProtocolFees += op.ProtocolFee
		row.ReferralFees += op.ReferralFee
	}

	var rows []OperationKindRow
	for _, kind := range domain.AllOperationKinds {
		if row, ok := byKind[kind]; ok {
			rows = append(rows, *row)
		}
	}
	return rows
}

func (g *Generator) userRows(ops []*domain.OperationRecord) []UserRow {
	byUser := make(map[domain.Address]*UserRow)
	for _, op := range ops {
		row, ok := byUser[op.User]
		if !ok {
			row = &UserRow{User: op.User.String()}
			byUser[op.User] = row
		}
		row.Operations++
		row.BaseVolume += op.BaseIn + op.BaseOut
		row.Fees += op.ProtocolFee + op.ReferralFee
	}

	rows := make([]UserRow, 0, len(byUser))
	for _, row := range byUser {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].BaseVolume != rows[j].BaseVolume {
			return rows[i].BaseVolume > rows[j].BaseVolume
		}
		return rows[i].User < rows[j].User
	})

	if g.topUsers > 0 && len(rows) > g.topUsers {
		rows = rows[:g.topUsers]
	}
	return rows
}
