package wallet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"drunk-bob/internal/observability"
	"drunk-bob/internal/protocol"
	"drunk-bob/internal/solana"
)

// Session errors.
var (
	ErrNotConnected = errors.New("session not connected")
	ErrClosed       = errors.New("session closed")
)

// Notification titles shown after an acknowledgement is sent.
const (
	LockedTitle  = "Locked successfully!"
	ClaimedTitle = "Claimed successfully!"
)

// State is the connection state of a Session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Registered
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Registered:
		return "registered"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// SessionConfig configures socket behavior.
type SessionConfig struct {
	// URL is the backend websocket endpoint.
	URL string
	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long the socket may stay silent, pongs included.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Header is sent with the upgrade request.
	Header http.Header
}

// DefaultSessionConfig returns default socket configuration for url.
func DefaultSessionConfig(url string) SessionConfig {
	return SessionConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// withDefaults fills zero or negative durations from DefaultSessionConfig.
func (c SessionConfig) withDefaults() SessionConfig {
	def := DefaultSessionConfig(c.URL)
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotifier sets where success notifications go.
func WithNotifier(n Notifier) SessionOption {
	return func(s *Session) {
		if n != nil {
			s.notifier = n
		}
	}
}

// Session keeps one websocket open to the backend for the current wallet,
// registers it, and answers signing directives.
//
// A Session dials only when a wallet identity is observed through SetWallet.
// Losing the socket leaves it Disconnected until SetWallet is called again.
type Session struct {
	cfg      SessionConfig
	logger   *zap.Logger
	notifier Notifier
	dialer   websocket.Dialer

	mu       sync.Mutex
	state    State
	wallet   Wallet
	identity solana.PublicKey
	conn     *connection
	gen      uint64
	closed   bool

	wg sync.WaitGroup
}

// connection is one socket lifetime. Its context is cancelled when the socket
// is dropped so in-flight signing observes it.
type connection struct {
	ws       *websocket.Conn
	wallet   Wallet
	identity solana.PublicKey

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewSession creates a disconnected session. Unset durations in cfg take
// their DefaultSessionConfig values.
func NewSession(cfg SessionConfig, opts ...SessionOption) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:    cfg,
		logger: zap.NewNop(),
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the wallet address the session is bound to.
func (s *Session) Identity() (solana.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.wallet != nil
}

// CurrentSocket returns the open socket, or nil when disconnected.
func (s *Session) CurrentSocket() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.ws
}

// SetWallet reports the currently connected wallet; nil means none.
//
// A new identity closes the existing socket. A non-nil wallet observed while
// Disconnected dials and registers; the call returns once the register frame
// is written or the dial fails. Re-reporting the identity that is already
// connecting or registered is a no-op.
func (s *Session) SetWallet(ctx context.Context, w Wallet) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	var identity solana.PublicKey
	if w != nil {
		identity = w.PublicKey()
		if s.wallet != nil && s.identity == identity && s.state != Disconnected {
			s.wallet = w
			s.mu.Unlock()
			return nil
		}
	}

	old := s.detachLocked()
	s.wallet = w
	s.identity = identity
	if w == nil {
		s.mu.Unlock()
		if old != nil {
			s.logger.Info("wallet disconnected, closing socket")
			old.closeGracefully(s.cfg.WriteTimeout)
		}
		return nil
	}

	s.gen++
	gen := s.gen
	s.setStateLocked(Connecting)
	s.mu.Unlock()

	if old != nil {
		s.logger.Info("wallet changed, closing socket", zap.Stringer("wallet", identity))
		old.closeGracefully(s.cfg.WriteTimeout)
	}

	return s.connect(ctx, gen, w, identity)
}

// connect dials, sends register and starts the socket goroutines.
func (s *Session) connect(ctx context.Context, gen uint64, w Wallet, identity solana.PublicKey) error {
	ws, _, err := s.dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
	observability.RecordSessionConnect(err)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			s.setStateLocked(Disconnected)
		}
		s.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &connection{
		ws:       ws,
		wallet:   w,
		identity: identity,
		ctx:      connCtx,
		cancel:   cancel,
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		// Superseded by a newer SetWallet or Close while dialing.
		s.mu.Unlock()
		c.close()
		return nil
	}
	s.conn = c
	s.mu.Unlock()

	ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	if err := s.write(c, protocol.Register{Wallet: identity.String()}); err != nil {
		s.drop(c, err)
		return fmt.Errorf("send register: %w", err)
	}

	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(Registered)
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Info("registered", zap.Stringer("wallet", identity), zap.String("url", s.cfg.URL))

	go s.readLoop(c)
	go s.pingLoop(c)
	return nil
}

// Send writes msg on the current socket.
func (s *Session) Send(msg protocol.Message) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}
	return s.write(c, msg)
}

// Close closes the socket and waits for in-flight handlers to finish.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.detachLocked()
	s.mu.Unlock()

	if c != nil {
		c.closeGracefully(s.cfg.WriteTimeout)
	}
	s.wg.Wait()
	return nil
}

// detachLocked forgets the current socket and returns it for closing.
func (s *Session) detachLocked() *connection {
	c := s.conn
	s.conn = nil
	s.setStateLocked(Disconnected)
	return c
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	observability.SetSessionState(int(state))
}

// drop handles a failed socket: it goes back to Disconnected if c is still current.
func (s *Session) drop(c *connection, err error) {
	s.mu.Lock()
	current := s.conn == c
	if current {
		s.detachLocked()
	}
	s.mu.Unlock()

	c.close()

	if current {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logger.Info("socket closed by server")
		} else {
			s.logger.Warn("socket lost", zap.Error(err))
		}
	}
}

// write encodes msg and writes it under the socket write lock.
func (s *Session) write(c *connection, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.ctx.Err() != nil {
		return ErrNotConnected
	}
	c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type(), err)
	}
	return nil
}

// readLoop reads frames in arrival order until the socket fails.
func (s *Session) readLoop(c *connection) {
	defer s.wg.Done()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			s.drop(c, err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.handleFrame(c, data)
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *Session) pingLoop(c *connection) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// The read loop notices the dead socket.
				s.logger.Debug("ping failed", zap.Error(err))
			}
		}
	}
}

// handleFrame decodes one frame synchronously and hands the signing wait to
// its own goroutine.
func (s *Session) handleFrame(c *connection, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			s.logger.Debug("ignoring frame", zap.Error(err))
			return
		}
		s.logger.Error("malformed frame", zap.Error(err), zap.ByteString("frame", data))
		observability.RecordDirectiveOutcome("unknown", "decode_error")
		return
	}

	switch m := msg.(type) {
	case protocol.SignMessage:
		observability.RecordDirectiveReceived(string(m.Type()))
		s.spawn(func() { s.signMessage(c, m) })

	case protocol.LockBonk:
		observability.RecordDirectiveReceived(string(m.Type()))
		tx, err := solana.DecodeTransactionBase64(m.Transaction)
		if err != nil {
			s.logger.Error("lock_bonk: decode transaction", zap.Error(err))
			observability.RecordDirectiveOutcome(string(m.Type()), "decode_error")
			return
		}
		s.spawn(func() { s.lock(c, tx) })

	case protocol.ClaimBonk:
		observability.RecordDirectiveReceived(string(m.Type()))
		txs := make([]*solana.Transaction, len(m.Transactions))
		for i, encoded := range m.Transactions {
			tx, err := solana.DecodeTransactionBase64(encoded)
			if err != nil {
				s.logger.Error("claim_bonk: decode transaction",
					zap.Int("index", i), zap.Int("count", len(m.Transactions)), zap.Error(err))
				observability.RecordDirectiveOutcome(string(m.Type()), "decode_error")
				return
			}
			txs[i] = tx
		}
		s.spawn(func() { s.claim(c, txs) })

	default:
		s.logger.Debug("ignoring non-directive frame", zap.String("type", string(msg.Type())))
	}
}

func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) signMessage(c *connection, m protocol.SignMessage) {
	start := time.Now()
	_, err := c.wallet.SignMessage(c.ctx, []byte(m.Message))
	observability.RecordSigningLatency(string(m.Type()), time.Since(start).Seconds())
	if err != nil {
		s.logger.Info("sign_message declined", zap.Error(err))
		observability.RecordDirectiveOutcome(string(m.Type()), "rejected")
		return
	}
	// The protocol has no reply for sign_message.
	observability.RecordDirectiveOutcome(string(m.Type()), "signed")
}

func (s *Session) lock(c *connection, tx *solana.Transaction) {
	const msgType = string(protocol.TypeLockBonk)

	start := time.Now()
	signed, err := c.wallet.SignTransaction(c.ctx, tx)
	observability.RecordSigningLatency(msgType, time.Since(start).Seconds())
	if err != nil {
		s.logger.Info("lock_bonk signing declined", zap.Error(err))
		observability.RecordDirectiveOutcome(msgType, "rejected")
		return
	}

	raw, err := signed.Serialize()
	if err != nil {
		s.logger.Error("lock_bonk: serialize signed transaction", zap.Error(err))
		observability.RecordDirectiveOutcome(msgType, "encode_error")
		return
	}

	ack := protocol.LockTxSuccess{Wallet: c.identity.String(), Transaction: raw}
	if err := s.write(c, ack); err != nil {
		s.logger.Debug("lock_tx_success not sent", zap.Error(err))
		observability.RecordDirectiveOutcome(msgType, "send_failed")
		return
	}
	observability.RecordDirectiveOutcome(msgType, "acked")
	s.notifier.Success(LockedTitle)
}

func (s *Session) claim(c *connection, txs []*solana.Transaction) {
	const msgType = string(protocol.TypeClaimBonk)

	start := time.Now()
	signed, err := c.wallet.SignAllTransactions(c.ctx, txs)
	observability.RecordSigningLatency(msgType, time.Since(start).Seconds())
	if err == nil && len(signed) != len(txs) {
		err = fmt.Errorf("wallet returned %d of %d transactions", len(signed), len(txs))
	}
	if err != nil {
		s.logger.Info("claim_bonk signing declined", zap.Error(err))
		observability.RecordDirectiveOutcome(msgType, "rejected")
		return
	}

	raws := make([]protocol.Bytes, len(signed))
	for i, tx := range signed {
		raw, err := tx.Serialize()
		if err != nil {
			s.logger.Error("claim_bonk: serialize signed transaction", zap.Int("index", i), zap.Error(err))
			observability.RecordDirectiveOutcome(msgType, "encode_error")
			return
		}
		raws[i] = raw
	}

	ack := protocol.ClaimTxSuccess{Wallet: c.identity.String(), Transactions: raws}
	if err := s.write(c, ack); err != nil {
		s.logger.Debug("claim_tx_success not sent", zap.Error(err))
		observability.RecordDirectiveOutcome(msgType, "send_failed")
		return
	}
	observability.RecordDirectiveOutcome(msgType, "acked")
	s.notifier.Success(ClaimedTitle)
}

// close cancels the connection context and closes the socket.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

// closeGracefully sends a close frame before closing.
func (c *connection) closeGracefully(timeout time.Duration) {
	c.writeMu.Lock()
	if c.ctx.Err() == nil {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(timeout))
	}
	c.writeMu.Unlock()
	c.close()
}
