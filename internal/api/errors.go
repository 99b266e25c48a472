package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"bondcurve-ledger/internal/engine"
	"bondcurve-ledger/internal/storage"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Category  string `json:"category,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var categoryStatus = map[engine.Category]int{
	engine.CategoryValidation: http.StatusBadRequest,
	engine.CategoryState:      http.StatusConflict,
	engine.CategoryArithmetic: http.StatusUnprocessableEntity,
	engine.CategoryInvariant:  http.StatusConflict,
	engine.CategoryResource:   http.StatusPaymentRequired,
	engine.CategoryConflict:   http.StatusConflict,
}

// statusFor maps an error to its HTTP status and category label.
func statusFor(err error) (int, engine.Category) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, engine.CategoryValidation
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, engine.CategoryValidation
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ""
	case errors.Is(err, engine.ErrNotStarted):
		return http.StatusServiceUnavailable, engine.CategoryState
	}

	category := engine.CategoryOf(err)
	if status, ok := categoryStatus[category]; ok {
		return status, category
	}
	return http.StatusInternalServerError, category
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, category := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", RequestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		Category:  string(category),
		RequestID: RequestIDFrom(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
