// Package feed streams committed ledger operations over WebSocket.
package feed

import (
	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/engine"
)

// Event is the message pushed to feed clients for every commit.
type Event struct {
	Sequence        uint64               `json:"sequence"`
	OperationID     string               `json:"operation_id"`
	Kind            domain.OperationKind `json:"kind"`
	User            domain.Address       `json:"user"`
	TimestampMs     int64                `json:"timestamp_ms"`
	BaseIn          uint64               `json:"base_in,string"`
	BaseOut         uint64               `json:"base_out,string"`
	TokensIn        uint64               `json:"tokens_in,string"`
	TokensOut       uint64               `json:"tokens_out,string"`
	Price           uint64               `json:"price,string"`
	TokenSupply     uint64               `json:"token_supply,string"`
	TotalBorrowed   uint64               `json:"total_borrowed,string"`
	TotalCollateral uint64               `json:"total_collateral,string"`
	ReserveBalance  uint64               `json:"reserve_balance,string"`
	SweptDays       int                  `json:"swept_days"`
}

// NewEvent builds the feed message for a commit.
func NewEvent(ev engine.CommitEvent) Event {
	r, g := ev.Record, ev.Global
	return Event{
		Sequence:        r.Sequence,
		OperationID:     r.OperationID,
		Kind:            r.Kind,
		User:            r.User,
		TimestampMs:     ev.TimestampMs,
		BaseIn:          r.BaseIn,
		BaseOut:         r.BaseOut,
		TokensIn:        r.TokensIn,
		TokensOut:       r.TokensOut,
		Price:           g.LastPrice,
		TokenSupply:     g.TokenSupply,
		TotalBorrowed:   g.TotalBorrowed,
		TotalCollateral: g.TotalCollateral,
		ReserveBalance:  ev.ReserveBalance,
		SweptDays:       r.SweptDays,
	}
}
