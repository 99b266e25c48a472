package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers every request with the result built by respond.
func rpcServer(t *testing.T, respond func(req rpcRequest) any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  respond(req),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPClient_GetBalance(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) any {
		if req.Method != "getBalance" {
			t.Errorf("expected method getBalance, got %s", req.Method)
		}
		if len(req.Params) != 2 || req.Params[0] != "vault" {
			t.Errorf("unexpected params %v", req.Params)
		}
		return map[string]any{
			"context": map[string]any{"slot": 42},
			"value":   uint64(1_992_500_000),
		}
	})

	client := NewHTTPClient(server.URL)
	lamports, err := client.GetBalance(context.Background(), "vault")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if lamports != 1_992_500_000 {
		t.Errorf("expected 1992500000 lamports, got %d", lamports)
	}
}

func TestHTTPClient_GetTokenSupply(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) any {
		if req.Method != "getTokenSupply" {
			t.Errorf("expected method getTokenSupply, got %s", req.Method)
		}
		return map[string]any{
			"context": map[string]any{"slot": 77},
			"value": map[string]any{
				"amount":         "18446744073709551615",
				"decimals":       9,
				"uiAmountString": "18446744073.709551615",
			},
		}
	})

	client := NewHTTPClient(server.URL)
	supply, err := client.GetTokenSupply(context.Background(), "mint")
	if err != nil {
		t.Fatalf("GetTokenSupply: %v", err)
	}
	if supply.Amount != 18446744073709551615 {
		t.Errorf("expected max uint64 supply, got %d", supply.Amount)
	}
	if supply.Decimals != 9 || supply.Slot != 77 {
		t.Errorf("unexpected decimals %d slot %d", supply.Decimals, supply.Slot)
	}
}

func TestHTTPClient_GetTokenAccountBalance_NotFound(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) any {
		return map[string]any{
			"context": map[string]any{"slot": 1},
			"value":   nil,
		}
	})

	client := NewHTTPClient(server.URL)
	_, err := client.GetTokenAccountBalance(context.Background(), "pool")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestHTTPClient_GetTokenAccountBalance_BadAmount(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) any {
		return map[string]any{
			"context": map[string]any{"slot": 1},
			"value":   map[string]any{"amount": "1.5", "decimals": 9},
		}
	})

	client := NewHTTPClient(server.URL)
	if _, err := client.GetTokenAccountBalance(context.Background(), "pool"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(999),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)
	ctx := context.Background()

	slot, err := client.GetSlot(ctx)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}

	if slot != 999 {
		t.Errorf("expected slot 999, got %d", slot)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]any{
				"code":    -32600,
				"message": "Invalid Request",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	_, err := client.GetBalance(ctx, "vault")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	rpcErr, ok := err.(*rpcError)
	if !ok {
		t.Fatalf("expected rpcError, got %T", err)
	}

	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetSlot(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
