package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/engine"
)

func commitEvent(seq uint64, kind domain.OperationKind) engine.CommitEvent {
	var user domain.Address
	user[0] = 0xA1
	return engine.CommitEvent{
		Record: &domain.OperationRecord{
			OperationID: strings.Repeat("ab", 32),
			Sequence:    seq,
			Kind:        kind,
			User:        user,
			BaseIn:      1_000_000_000,
			TokensOut:   975_000_000,
			Timestamp:   1_700_000_000,
		},
		Global: &domain.GlobalLedger{
			TokenSupply: 1_975_000_000,
			LastPrice:   1_008_860_759,
			Version:     seq,
			Started:     true,
		},
		ReserveBalance: 1_992_500_000,
		TimestampMs:    1_700_000_000_000,
	}
}

func startHub(t *testing.T, cfg *HubConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, zerolog.Nop())
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Broadcast(t *testing.T) {
	hub, url := startHub(t, nil)

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}
	waitClients(t, hub, 2)

	hub.OnCommit(context.Background(), commitEvent(7, domain.OpBuy))

	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(msg, &raw))
		assert.Equal(t, "BUY", raw["kind"])
		assert.Equal(t, "1008860759", raw["price"])
		assert.Equal(t, "1992500000", raw["reserve_balance"])

		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, uint64(7), ev.Sequence)
		assert.Equal(t, uint64(975_000_000), ev.TokensOut)
		assert.Equal(t, byte(0xA1), ev.User[0])
	}
}

func TestHub_Unregister(t *testing.T) {
	hub, url := startHub(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_DropsForSlowClient(t *testing.T) {
	hub := NewHub(&HubConfig{Buffer: 1, PingInterval: time.Minute, WriteTimeout: time.Second}, zerolog.Nop())
	c := &subscriber{send: make(chan []byte, 1), done: make(chan struct{})}
	hub.clients[c] = struct{}{}

	hub.OnCommit(context.Background(), commitEvent(1, domain.OpBuy))
	hub.OnCommit(context.Background(), commitEvent(2, domain.OpSell))

	require.Len(t, c.send, 1)
	var ev Event
	require.NoError(t, json.Unmarshal(<-c.send, &ev))
	assert.Equal(t, uint64(1), ev.Sequence)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub, url := startHub(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitClients(t, hub, 1)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// New connections are refused once closed.
	conn2, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn2.Close()
	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn2.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
