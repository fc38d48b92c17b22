package relay

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/protocol"
	"drunk-bob/internal/solana"
	"drunk-bob/internal/solana/stub"
	"drunk-bob/internal/storage/memory"
	"drunk-bob/internal/wallet"
)

type harness struct {
	hub             *Hub
	directives      *memory.DirectiveStore
	recommendations *memory.RecommendationStore
	rpc             *stub.RPCClient
	srv             *httptest.Server
}

func testHubConfig() HubConfig {
	return HubConfig{
		RegisterTimeout: time.Second,
		PingInterval:    50 * time.Millisecond,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
	}
}

func newHarness(t *testing.T, opts ...HubOption) *harness {
	t.Helper()

	h := &harness{
		directives:      memory.NewDirectiveStore(),
		recommendations: memory.NewRecommendationStore(),
		rpc:             stub.NewRPCClient(),
	}
	opts = append([]HubOption{WithBroadcaster(h.rpc)}, opts...)
	h.hub = NewHub(testHubConfig(), h.directives, opts...)
	api := NewServer(ServerConfig{}, h.hub, h.directives, h.recommendations, nil)
	h.srv = httptest.NewServer(api.Router())

	t.Cleanup(func() {
		h.hub.Close()
		h.srv.Close()
	})
	return h
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
}

// connectSession registers a keypair wallet through a real wallet session.
func (h *harness) connectSession(t *testing.T) (*wallet.LocalWallet, *wallet.Session) {
	t.Helper()

	kp, err := solana.GenerateKeypair()
	require.NoError(t, err)
	w := wallet.NewLocalWallet(kp, nil)

	cfg := wallet.DefaultSessionConfig(h.wsURL())
	cfg.PingInterval = 50 * time.Millisecond
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	sess := wallet.NewSession(cfg)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.SetWallet(context.Background(), w))
	h.waitRegistered(t, w.PublicKey().String())
	return w, sess
}

func (h *harness) waitRegistered(t *testing.T, address string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, w := range h.hub.Wallets() {
			if w == address {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func (h *harness) waitStatus(t *testing.T, id string, status domain.DirectiveStatus) *domain.Directive {
	t.Helper()
	var d *domain.Directive
	require.Eventually(t, func() bool {
		got, err := h.directives.GetByID(context.Background(), id)
		if err != nil {
			return false
		}
		d = got
		return got.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return d
}

// dialRaw opens a socket without registering.
func (h *harness) dialRaw(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

// expectClosed reads until the server closes the socket and returns the close code.
func expectClosed(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		return websocket.CloseAbnormalClosure
	}
}

func newKeypair(t *testing.T) *solana.Keypair {
	t.Helper()
	kp, err := solana.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

// unsignedTransfer returns a base64 transaction that payer must sign.
func unsignedTransfer(t *testing.T, payer solana.PublicKey, lamports uint64) string {
	t.Helper()
	to := newKeypair(t)
	tx := solana.NewTransaction(solana.NewTransferMessage(payer, to.PublicKey(), lamports, solana.Hash{4, 5, 6}))
	encoded, err := tx.SerializeBase64()
	require.NoError(t, err)
	return encoded
}

// signedWire signs a base64 transaction with kp and returns its wire bytes.
func signedWire(t *testing.T, kp *solana.Keypair, encoded string) protocol.Bytes {
	t.Helper()
	tx, err := solana.DecodeTransactionBase64(encoded)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(kp))
	raw, err := tx.Serialize()
	require.NoError(t, err)
	return raw
}
