package api

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"bondcurve-ledger/internal/domain"
)

const (
	// HeaderSignature carries the base58 ed25519 signature of the request.
	HeaderSignature = "X-Signature"
	// HeaderTimestamp is the unix millisecond timestamp covered by the signature.
	HeaderTimestamp = "X-Timestamp"

	// DefaultSignatureWindow bounds clock skew and how long a signature is remembered.
	DefaultSignatureWindow = time.Minute
)

// errUnauthorized marks requests whose caller could not be proven.
var errUnauthorized = errors.New("unauthorized")

// SigningMessage is the byte string a caller signs for a request.
func SigningMessage(method, path string, timestampMs int64, body []byte) []byte {
	var b strings.Builder
	b.Grow(len(method) + len(path) + len(body) + 24)
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestampMs, 10))
	b.WriteByte('\n')
	b.Write(body)
	return []byte(b.String())
}

// SignRequest sets the signature headers on req for body, signed by key at now.
func SignRequest(req *http.Request, body []byte, key ed25519.PrivateKey, now time.Time) {
	ts := now.UnixMilli()
	sig := ed25519.Sign(key, SigningMessage(req.Method, req.URL.Path, ts, body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, base58.Encode(sig))
}

// authenticator verifies that a request was signed by the address it acts for.
// Seen signatures are kept for twice the window so a replay is rejected until
// its timestamp falls out of range anyway.
type authenticator struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newAuthenticator(window time.Duration, now func() time.Time) *authenticator {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	if now == nil {
		now = time.Now
	}
	return &authenticator{window: window, now: now, seen: make(map[string]time.Time)}
}

// verify checks the signature headers of r over body against caller.
func (a *authenticator) verify(r *http.Request, body []byte, caller domain.Address) error {
	tsHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if tsHeader == "" {
		return fmt.Errorf("%w: missing %s header", errUnauthorized, HeaderTimestamp)
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp: %v", errUnauthorized, err)
	}
	now := a.now()
	skew := now.Sub(time.UnixMilli(ts))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.window {
		return fmt.Errorf("%w: timestamp outside allowed skew of %s", errUnauthorized, a.window)
	}

	sigHeader := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if sigHeader == "" {
		return fmt.Errorf("%w: missing %s header", errUnauthorized, HeaderSignature)
	}
	sig, err := base58.Decode(sigHeader)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: invalid signature encoding", errUnauthorized)
	}
	if !caller.IsOnCurve() {
		return fmt.Errorf("%w: caller %s is not a signing key", errUnauthorized, caller)
	}
	if !ed25519.Verify(ed25519.PublicKey(caller[:]), SigningMessage(r.Method, r.URL.Path, ts, body), sig) {
		return fmt.Errorf("%w: signature does not match caller %s", errUnauthorized, caller)
	}

	if !a.remember(sigHeader, now) {
		return fmt.Errorf("%w: signature already used", errUnauthorized)
	}
	return nil
}

// remember records sig and reports false if it was already recorded.
func (a *authenticator) remember(sig string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, exp := range a.seen {
		if now.After(exp) {
			delete(a.seen, k)
		}
	}
	if _, dup := a.seen[sig]; dup {
		return false
	}
	a.seen[sig] = now.Add(2 * a.window)
	return true
}
