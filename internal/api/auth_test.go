package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondcurve-ledger/internal/domain"
)

func TestAuthenticator_Verify(t *testing.T) {
	now := time.Unix(t0, 0)
	a := newAuthenticator(time.Minute, func() time.Time { return now })
	body := []byte(`{"user":"x"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/buy", bytes.NewReader(body))
	SignRequest(req, body, aliceKey, now)

	require.NoError(t, a.verify(req, body, alice))
	assert.ErrorIs(t, a.verify(req, body, alice), errUnauthorized, "replayed signature")

	// The same signature is forgotten once it can no longer pass the skew check.
	now = now.Add(3 * time.Minute)
	a.remember("other", now)
	assert.Len(t, a.seen, 1)
}

func TestAuthenticator_PathBound(t *testing.T) {
	now := time.Unix(t0, 0)
	a := newAuthenticator(0, func() time.Time { return now })
	body := []byte(`{}`)

	signed := httptest.NewRequest(http.MethodPost, "/v1/ops/buy", bytes.NewReader(body))
	SignRequest(signed, body, aliceKey, now)

	moved := httptest.NewRequest(http.MethodPost, "/v1/ops/sell", bytes.NewReader(body))
	moved.Header = signed.Header.Clone()
	assert.ErrorIs(t, a.verify(moved, body, alice), errUnauthorized)
}

func TestAuthenticator_OffCurveCaller(t *testing.T) {
	now := time.Unix(t0, 0)
	a := newAuthenticator(0, func() time.Time { return now })
	body := []byte(`{}`)

	accounts, err := domain.DeriveProtocolAccounts(domain.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/buy", bytes.NewReader(body))
	SignRequest(req, body, aliceKey, now)
	assert.ErrorIs(t, a.verify(req, body, accounts.ReserveVault), errUnauthorized)
}
