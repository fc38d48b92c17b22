package wallet

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"drunk-bob/internal/protocol"
	"drunk-bob/internal/solana"
)

const waitTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeBackend accepts session sockets and exposes their frames.
type fakeBackend struct {
	server *httptest.Server
	conns  chan *serverConn
}

type serverConn struct {
	ws     *websocket.Conn
	frames chan []byte
	done   chan struct{}
	mu     sync.Mutex
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{conns: make(chan *serverConn, 8)}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		sc := &serverConn{ws: ws, frames: make(chan []byte, 32), done: make(chan struct{})}
		defer close(sc.done)
		defer ws.Close()
		b.conns <- sc

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			sc.frames <- data
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *fakeBackend) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-b.conns:
		return sc
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for session to connect")
		return nil
	}
}

func (b *fakeBackend) expectNoConnection(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-b.conns:
		t.Fatal("unexpected new connection")
	case <-time.After(d):
	}
}

func (sc *serverConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case data := <-sc.frames:
		msg, err := protocol.Decode(data)
		require.NoError(t, err, "frame %s", data)
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func (sc *serverConn) expectNoFrame(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-sc.frames:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(d):
	}
}

func (sc *serverConn) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	sc.sendRaw(t, string(data))
}

func (sc *serverConn) sendRaw(t *testing.T, frame string) {
	t.Helper()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	require.NoError(t, sc.ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (sc *serverConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-sc.done:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for socket to close")
	}
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (n *recordingNotifier) Success(title string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, title)
}

func (n *recordingNotifier) Error(title string, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, title)
}

func (n *recordingNotifier) Successes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.successes...)
}

func newTestWallet(t *testing.T, approver Approver) *LocalWallet {
	t.Helper()
	kp, err := solana.GenerateKeypair()
	require.NoError(t, err)
	return NewLocalWallet(kp, approver)
}

// unsignedTransfer returns a base64 transaction that payer must sign.
func unsignedTransfer(t *testing.T, payer solana.PublicKey, lamports uint64) string {
	t.Helper()
	to, err := solana.GenerateKeypair()
	require.NoError(t, err)
	tx := solana.NewTransaction(solana.NewTransferMessage(payer, to.PublicKey(), lamports, solana.Hash{1, 2, 3}))
	encoded, err := tx.SerializeBase64()
	require.NoError(t, err)
	return encoded
}

func testSessionConfig(url string) SessionConfig {
	cfg := DefaultSessionConfig(url)
	cfg.PingInterval = 50 * time.Millisecond
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}
