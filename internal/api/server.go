// Package api exposes the ledger engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bondcurve-ledger/internal/engine"
	"bondcurve-ledger/internal/observability"
	"bondcurve-ledger/internal/storage"
)

// Options configures a Server.
type Options struct {
	Engine     *engine.Engine
	Operations storage.OperationStore  // optional, enables /v1/operations
	Prices     storage.PricePointStore // optional, enables /v1/prices
	Feed       http.Handler            // optional, mounted at /v1/feed
	Decimals   uint8                   // base asset decimals for display
	Timeout    time.Duration           // per-request timeout, default 10s
	Logger     zerolog.Logger

	// SignatureWindow bounds timestamp skew on signed requests, default 1m.
	SignatureWindow time.Duration
	// InsecureSkipAuth accepts unsigned operation requests.
	InsecureSkipAuth bool
	// Clock is used for signature timestamps, default time.Now.
	Clock func() time.Time
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine   *engine.Engine
	ops      storage.OperationStore
	prices   storage.PricePointStore
	feed     http.Handler
	decimals int32
	timeout  time.Duration
	logger   zerolog.Logger
	auth     *authenticator
	started  time.Time
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var auth *authenticator
	if !opts.InsecureSkipAuth {
		auth = newAuthenticator(opts.SignatureWindow, opts.Clock)
	}
	return &Server{
		engine:   opts.Engine,
		ops:      opts.Operations,
		prices:   opts.Prices,
		feed:     opts.Feed,
		decimals: int32(opts.Decimals),
		timeout:  timeout,
		logger:   opts.Logger.With().Str("component", "api").Logger(),
		auth:     auth,
		started:  time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.health)
	r.Handle("/metrics", observability.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Post("/start", handleOp[startBody](s, s.engine.Start, false))
			r.Post("/buy", handleOp[buyBody](s, s.engine.Buy, false))
			r.Post("/sell", handleOp[sellBody](s, s.engine.Sell, false))
			r.Post("/leverage", handleOp[leverageBody](s, s.engine.Leverage, false))
			r.Post("/borrow", handleOp[borrowBody](s, s.engine.Borrow, false))
			r.Post("/borrow-more", handleOp[borrowMoreBody](s, s.engine.BorrowMore, false))
			r.Post("/remove-collateral", handleOp[removeCollateralBody](s, s.engine.RemoveCollateral, false))
			r.Post("/repay", handleOp[repayBody](s, s.engine.Repay, false))
			r.Post("/close-position", handleOp[userBody](s, s.engine.ClosePosition, false))
			r.Post("/flash-close-position", handleOp[userBody](s, s.engine.FlashClosePosition, false))
			r.Post("/extend-loan", handleOp[extendLoanBody](s, s.engine.ExtendLoan, false))
			r.Post("/liquidate", handleOp[userBody](s, s.engine.Liquidate, false))
		})

		r.Route("/quotes", func(r chi.Router) {
			r.Post("/buy", handleOp[buyBody](s, s.engine.QuoteBuy, true))
			r.Post("/sell", handleOp[sellBody](s, s.engine.QuoteSell, true))
			r.Post("/leverage", handleOp[leverageBody](s, s.engine.QuoteLeverage, true))
			r.Post("/borrow", handleOp[borrowBody](s, s.engine.QuoteBorrow, true))
			r.Post("/borrow-more", handleOp[borrowMoreBody](s, s.engine.QuoteBorrowMore, true))
			r.Post("/flash-close-position", handleOp[userBody](s, s.engine.QuoteFlashClosePosition, true))
			r.Post("/extend-loan", handleOp[extendLoanBody](s, s.engine.QuoteExtendLoan, true))
		})

		r.Get("/ledger", s.getLedger)
		r.Get("/loans/{address}", s.getLoan)
		r.Get("/buckets", s.listBuckets)

		if s.ops != nil {
			r.Get("/operations", s.listOperations)
			r.Get("/operations/{id}", s.getOperation)
		}
		if s.prices != nil {
			r.Get("/prices", s.listPrices)
		}
		if s.feed != nil {
			r.Handle("/feed", s.feed)
		}
	})

	return r
}
