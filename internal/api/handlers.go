package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"bondcurve-ledger/internal/domain"
)

const maxBodyBytes = 1 << 16

// opBody is a decoded request body that converts to an engine request.
type opBody[R any] interface {
	caller() domain.Address
	request() R
}

// handleOp decodes B, calls the engine and writes the operation record.
// quote marks routes that never commit; every other route must be signed by
// the caller named in the body.
func handleOp[B opBody[R], R any](s *Server, call func(context.Context, R) (*domain.OperationRecord, error), quote bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		var body B
		if err := decodeJSON(raw, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		if body.caller().IsZero() {
			s.writeError(w, r, fmt.Errorf("%w: caller address is required", errBadRequest))
			return
		}
		if !quote && s.auth != nil {
			if err := s.auth.verify(r, raw, body.caller()); err != nil {
				s.writeError(w, r, err)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()

		rec, err := call(ctx, body.request())
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := newOperationResponse(rec)
		resp.Committed = !quote && rec.OperationID != ""
		if quote {
			resp.OperationID = ""
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Version = snap.Global.Version
	resp.Started = snap.Global.Started
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLedger(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	g := snap.Global
	writeJSON(w, http.StatusOK, LedgerResponse{
		Started:             g.Started,
		Version:             g.Version,
		TokenSupply:         g.TokenSupply,
		TotalBorrowed:       g.TotalBorrowed,
		TotalCollateral:     g.TotalCollateral,
		ReserveBalance:      snap.ReserveBalance,
		PoolBalance:         snap.PoolBalance,
		Backing:             FormatUnits(snap.Backing, s.decimals),
		LastPrice:           FormatPrice(g.LastPrice),
		Price:               FormatPrice(snap.Price),
		LastLiquidationDate: g.LastLiquidationDate,
		PendingSweepDays:    snap.PendingSweepDays,
		BuyFee:              g.Fees.BuyFee,
		SellFee:             g.Fees.SellFee,
		BuyFeeLeverage:      g.Fees.BuyFeeLeverage,
		ReserveVault:        snap.Accounts.ReserveVault,
		CollateralPool:      snap.Accounts.CollateralPool,
		UpdatedAt:           g.UpdatedAt,
	})
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	user, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	view, err := s.engine.Loan(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	l := view.Loan
	writeJSON(w, http.StatusOK, LoanResponse{
		User:       user,
		State:      string(view.State),
		Collateral: l.Collateral,
		Borrowed:   l.Borrowed,
		EndDate:    l.EndDate,
		TermDays:   l.TermDays,
		Value:      FormatUnits(view.Value, s.decimals),
	})
}

func (s *Server) listBuckets(w http.ResponseWriter, r *http.Request) {
	from, err := queryInt(r, "from", -1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if from < 0 {
		snap, err := s.engine.Snapshot(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		from = snap.Global.LastLiquidationDate
	}
	to, err := queryInt(r, "to", from+366*domain.SecondsPerDay)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	buckets, err := s.engine.Buckets(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]BucketResponse, 0, len(buckets))
	for _, b := range buckets {
		resp = append(resp, BucketResponse{Date: b.Date, Borrowed: b.Borrowed, Collateral: b.Collateral})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	var (
		ops []*domain.OperationRecord
		err error
	)

	if u := r.URL.Query().Get("user"); u != "" {
		user, perr := domain.ParseAddress(u)
		if perr != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, perr))
			return
		}
		ops, err = s.ops.GetByUser(r.Context(), user)
	} else {
		var from, to int64
		if from, err = queryInt(r, "from", 0); err == nil {
			to, err = queryInt(r, "to", time.Now().Unix())
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ops, err = s.ops.GetByTimeRange(r.Context(), from, to)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		o := newOperationResponse(op)
		o.Committed = true
		resp = append(resp, o)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.ops.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := newOperationResponse(op)
	resp.Committed = true
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listPrices(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UnixMilli()
	from, err := queryInt(r, "from", now-24*time.Hour.Milliseconds())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := queryInt(r, "to", now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	points, err := s.prices.GetByTimeRange(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]PricePointResponse, 0, len(points))
	for _, p := range points {
		resp = append(resp, PricePointResponse{
			Sequence:    p.Sequence,
			TimestampMs: p.TimestampMs,
			Kind:        string(p.Kind),
			Price:       FormatPrice(p.Price),
			Backing:     FormatUnits(p.Backing, s.decimals),
			Supply:      p.Supply,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int64) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return n, nil
}
