// Package relay is the server side of the wallet session protocol. It accepts
// wallet sockets, issues signing directives to them, and settles directives
// when the wallet acknowledges them.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"drunk-bob/internal/domain"
	"drunk-bob/internal/observability"
	"drunk-bob/internal/protocol"
	"drunk-bob/internal/solana"
	"drunk-bob/internal/storage"
)

// Relay errors.
var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrInvalidDirective   = errors.New("invalid directive")
	ErrHubClosed          = errors.New("hub closed")

	errNoPending = errors.New("no pending directive")
	errNoMatch   = errors.New("no pending directive matches")
)

// settleTimeout bounds store access and broadcasting for one acknowledgement.
const settleTimeout = 30 * time.Second

// HubConfig configures wallet sockets.
type HubConfig struct {
	// RegisterTimeout bounds the wait for the register frame after upgrade.
	RegisterTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a socket may stay silent, pongs included.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// CheckOrigin decides which browser origins may open a socket; nil allows all.
	CheckOrigin func(r *http.Request) bool
}

// DefaultHubConfig returns default socket configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		RegisterTimeout: 10 * time.Second,
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithBroadcaster makes the hub submit acknowledged transactions through rpc.
func WithBroadcaster(rpc solana.RPCClient) HubOption {
	return func(h *Hub) {
		h.rpc = rpc
	}
}

// WithClock overrides the time source used for directive timestamps.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// Hub tracks one registered socket per wallet.
type Hub struct {
	cfg      HubConfig
	logger   *zap.Logger
	store    storage.DirectiveStore
	rpc      solana.RPCClient
	upgrader websocket.Upgrader
	now      func() time.Time

	// ackMu guards claimed: directives an ack has picked but not yet
	// completed. Broadcasting happens outside it.
	ackMu   sync.Mutex
	claimed map[string]struct{}

	mu     sync.Mutex
	conns  map[string]*walletConn
	closed bool

	wg sync.WaitGroup
}

// walletConn is one registered wallet socket.
type walletConn struct {
	ws     *websocket.Conn
	wallet string

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *walletConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// withDefaults fills zero or negative durations from DefaultHubConfig.
func (c HubConfig) withDefaults() HubConfig {
	def := DefaultHubConfig()
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = def.RegisterTimeout
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

// NewHub creates a hub that records directives in store. Unset durations in
// cfg take their DefaultHubConfig values.
func NewHub(cfg HubConfig, store storage.DirectiveStore, opts ...HubOption) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		logger:  zap.NewNop(),
		store:   store,
		now:     time.Now,
		conns:   make(map[string]*walletConn),
		claimed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("hub")
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.WriteTimeout,
		CheckOrigin:      cfg.CheckOrigin,
	}
	if h.upgrader.CheckOrigin == nil {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return h
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	wallet, err := h.awaitRegister(ws)
	if err != nil {
		h.logger.Info("rejecting socket", zap.String("remote", r.RemoteAddr), zap.Error(err))
		deadline := time.Now().Add(h.cfg.WriteTimeout)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "register required"), deadline)
		ws.Close()
		return
	}

	c := &walletConn{ws: ws, wallet: wallet, done: make(chan struct{})}
	if !h.attach(c) {
		c.close()
		return
	}
	defer h.wg.Done()
	defer h.detach(c)

	h.logger.Info("wallet registered", zap.String("wallet", wallet), zap.String("remote", r.RemoteAddr))

	ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	h.wg.Add(1)
	go h.pingLoop(c)

	h.readLoop(c)
}

// awaitRegister reads the first frame, which must register a valid wallet.
func (h *Hub) awaitRegister(ws *websocket.Conn) (string, error) {
	ws.SetReadDeadline(time.Now().Add(h.cfg.RegisterTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read register: %w", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return "", err
	}
	reg, ok := msg.(protocol.Register)
	if !ok {
		return "", fmt.Errorf("expected register, got %s", msg.Type())
	}
	pk, err := solana.ValidateWalletAddress(reg.Wallet)
	if err != nil {
		return "", err
	}
	return pk.String(), nil
}

// attach makes c the socket for its wallet, closing any previous one.
// On success the caller owns one count of h.wg.
func (h *Hub) attach(c *walletConn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.wg.Add(1)
	old := h.conns[c.wallet]
	h.conns[c.wallet] = c
	n := len(h.conns)
	h.mu.Unlock()

	observability.SetConnectedWallets(n)
	if old != nil {
		h.logger.Info("wallet re-registered, replacing socket", zap.String("wallet", c.wallet))
		h.closeGracefully(old)
	}
	return true
}

// detach forgets c if it is still the socket for its wallet.
func (h *Hub) detach(c *walletConn) {
	h.mu.Lock()
	if h.conns[c.wallet] == c {
		delete(h.conns, c.wallet)
	}
	n := len(h.conns)
	h.mu.Unlock()

	observability.SetConnectedWallets(n)
	c.close()
}

func (h *Hub) conn(wallet string) (*walletConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	c, ok := h.conns[wallet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotConnected, wallet)
	}
	return c, nil
}

// Wallets returns the registered wallet addresses in sorted order.
func (h *Hub) Wallets() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.conns))
	for w := range h.conns {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Close closes every socket and waits for the socket goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*walletConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*walletConn)
	h.mu.Unlock()

	observability.SetConnectedWallets(0)
	for _, c := range conns {
		h.closeGracefully(c)
	}
	h.wg.Wait()
	return nil
}

func (h *Hub) closeGracefully(c *walletConn) {
	deadline := time.Now().Add(h.cfg.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.close()
}

// write encodes msg and writes it under the socket write lock.
func (h *Hub) write(c *walletConn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrWalletNotConnected, c.wallet)
	default:
	}
	c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type(), err)
	}
	return nil
}

// readLoop reads acknowledgements until the socket fails.
func (h *Hub) readLoop(c *walletConn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					h.logger.Info("socket lost", zap.String("wallet", c.wallet), zap.Error(err))
				}
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		h.handleFrame(c, data)
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (h *Hub) pingLoop(c *walletConn) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.logger.Debug("ping failed", zap.String("wallet", c.wallet), zap.Error(err))
			}
		}
	}
}

func (h *Hub) handleFrame(c *walletConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		h.logger.Warn("dropping malformed frame", zap.String("wallet", c.wallet), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case protocol.LockTxSuccess:
		h.settle(c, m.Wallet, domain.DirectiveLock, [][]byte{m.Transaction})
	case protocol.ClaimTxSuccess:
		signed := make([][]byte, len(m.Transactions))
		for i, tx := range m.Transactions {
			signed[i] = tx
		}
		h.settle(c, m.Wallet, domain.DirectiveClaim, signed)
	case protocol.Register:
		if m.Wallet != c.wallet {
			h.logger.Warn("ignoring register for another wallet on a registered socket",
				zap.String("wallet", c.wallet), zap.String("requested", m.Wallet))
		}
	default:
		h.logger.Warn("ignoring unexpected message", zap.String("wallet", c.wallet), zap.String("type", string(msg.Type())))
	}
}

// settle completes the oldest pending directive of kind for the socket's
// wallet whose payload the ack answers. Acks may arrive in any order.
func (h *Hub) settle(c *walletConn, ackWallet string, kind domain.DirectiveKind, signed [][]byte) {
	logger := h.logger.With(zap.String("wallet", c.wallet), zap.String("kind", kind.String()))
	if ackWallet != c.wallet {
		logger.Warn("ack wallet does not match socket", zap.String("ack_wallet", ackWallet))
		observability.RecordAck(kind.String(), false)
		return
	}

	txs, err := decodeSigned(signed)
	if err != nil {
		logger.Warn("ack carries invalid transactions", zap.Error(err))
		observability.RecordAck(kind.String(), false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	d, err := h.claim(ctx, c.wallet, kind, txs)
	if err != nil {
		switch {
		case errors.Is(err, errNoPending):
			logger.Warn("ack without pending directive")
		case errors.Is(err, errNoMatch):
			logger.Warn("ack does not answer any pending directive", zap.Error(err))
		default:
			logger.Error("lookup pending directives", zap.Error(err))
		}
		observability.RecordAck(kind.String(), false)
		return
	}
	defer h.release(d.DirectiveID)

	result := domain.DirectiveResult{
		Signed:     signed,
		Signatures: h.broadcast(ctx, logger, txs),
	}
	result.CompletedAt = h.now().UnixMilli()

	if err := h.store.Complete(ctx, d.DirectiveID, result); err != nil {
		logger.Error("complete directive", zap.String("directive_id", d.DirectiveID), zap.Error(err))
		observability.RecordAck(kind.String(), false)
		return
	}
	observability.RecordAck(kind.String(), true)
	logger.Info("directive completed", zap.String("directive_id", d.DirectiveID), zap.Int("transactions", len(txs)))
}

// claim picks the oldest pending directive of kind for wallet that txs answer
// and that no other ack is settling.
func (h *Hub) claim(ctx context.Context, wallet string, kind domain.DirectiveKind, txs []*solana.Transaction) (*domain.Directive, error) {
	h.ackMu.Lock()
	defer h.ackMu.Unlock()

	pending, err := h.store.ListPending(ctx, wallet, kind)
	if err != nil {
		return nil, err
	}
	var mismatch error
	for _, d := range pending {
		if _, busy := h.claimed[d.DirectiveID]; busy {
			continue
		}
		if err := matchPayload(d.Payload, txs); err != nil {
			if mismatch == nil {
				mismatch = fmt.Errorf("%s: %w", d.DirectiveID, err)
			}
			continue
		}
		h.claimed[d.DirectiveID] = struct{}{}
		return d, nil
	}
	if mismatch == nil {
		return nil, errNoPending
	}
	return nil, fmt.Errorf("%w: %w", errNoMatch, mismatch)
}

func (h *Hub) release(directiveID string) {
	h.ackMu.Lock()
	delete(h.claimed, directiveID)
	h.ackMu.Unlock()
}

// broadcast submits txs when a broadcaster is configured. Failures are logged
// and leave the signature out; the directive still completes.
func (h *Hub) broadcast(ctx context.Context, logger *zap.Logger, txs []*solana.Transaction) []string {
	if h.rpc == nil {
		return nil
	}
	var sigs []string
	for _, tx := range txs {
		sig, err := h.rpc.SendTransaction(ctx, tx)
		observability.RecordBroadcast(err)
		if err != nil {
			logger.Warn("broadcast failed", zap.Error(err))
			continue
		}
		sigs = append(sigs, sig)
	}
	return sigs
}

func decodeSigned(signed [][]byte) ([]*solana.Transaction, error) {
	if len(signed) == 0 {
		return nil, errors.New("no transactions")
	}
	txs := make([]*solana.Transaction, len(signed))
	for i, raw := range signed {
		tx, err := solana.DecodeTransaction(raw)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		if !tx.VerifySignatures() {
			return nil, fmt.Errorf("transaction %d: signature verification failed", i)
		}
		txs[i] = tx
	}
	return txs, nil
}

// matchPayload checks that txs are the payload transactions, in order, with
// only signatures added.
func matchPayload(payload []string, txs []*solana.Transaction) error {
	if len(payload) != len(txs) {
		return fmt.Errorf("expected %d transactions, got %d", len(payload), len(txs))
	}
	for i, encoded := range payload {
		want, err := solana.DecodeTransactionBase64(encoded)
		if err != nil {
			return fmt.Errorf("payload %d: %w", i, err)
		}
		wantMsg, err := want.Message.Serialize()
		if err != nil {
			return fmt.Errorf("payload %d: %w", i, err)
		}
		gotMsg, err := txs[i].Message.Serialize()
		if err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
		if !bytes.Equal(wantMsg, gotMsg) {
			return fmt.Errorf("transaction %d: message differs from directive", i)
		}
	}
	return nil
}

// SignMessage asks wallet to sign message. The wallet never acknowledges a
// signed message, so the directive completes once it is written.
func (h *Hub) SignMessage(ctx context.Context, wallet, message string) (*domain.Directive, error) {
	if message == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidDirective)
	}
	return h.issue(ctx, wallet, domain.DirectiveSignMessage, []string{message}, protocol.SignMessage{Message: message})
}

// Lock sends one base64 transaction for the wallet to sign.
func (h *Hub) Lock(ctx context.Context, wallet, transaction string) (*domain.Directive, error) {
	if err := validateTransactions([]string{transaction}); err != nil {
		return nil, err
	}
	return h.issue(ctx, wallet, domain.DirectiveLock, []string{transaction}, protocol.LockBonk{Transaction: transaction})
}

// Claim sends a batch of base64 transactions for the wallet to sign together.
func (h *Hub) Claim(ctx context.Context, wallet string, transactions []string) (*domain.Directive, error) {
	if err := validateTransactions(transactions); err != nil {
		return nil, err
	}
	return h.issue(ctx, wallet, domain.DirectiveClaim, transactions, protocol.ClaimBonk{Transactions: transactions})
}

func validateTransactions(txs []string) error {
	if len(txs) == 0 {
		return fmt.Errorf("%w: no transactions", ErrInvalidDirective)
	}
	for i, s := range txs {
		if _, err := solana.DecodeTransactionBase64(s); err != nil {
			return fmt.Errorf("%w: transaction %d: %v", ErrInvalidDirective, i, err)
		}
	}
	return nil
}

// issue records a pending directive and writes it to the wallet's socket.
// A directive whose write fails stays pending until the sweeper expires it.
func (h *Hub) issue(ctx context.Context, wallet string, kind domain.DirectiveKind, payload []string, msg protocol.Message) (*domain.Directive, error) {
	c, err := h.conn(wallet)
	if err != nil {
		return nil, err
	}

	// Version 7 IDs sort in issue order, breaking created_at ties.
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("directive id: %w", err)
	}
	d := &domain.Directive{
		DirectiveID: id.String(),
		Wallet:      wallet,
		Kind:        kind,
		Status:      domain.DirectivePending,
		Payload:     payload,
		CreatedAt:   h.now().UnixMilli(),
	}
	if err := h.store.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("record directive: %w", err)
	}

	if err := h.write(c, msg); err != nil {
		return nil, err
	}
	observability.RecordDirectiveIssued(kind.String())
	h.logger.Info("directive issued",
		zap.String("wallet", wallet), zap.String("kind", kind.String()), zap.String("directive_id", d.DirectiveID))

	if !kind.ExpectsAck() {
		completedAt := h.now().UnixMilli()
		if err := h.store.Complete(ctx, d.DirectiveID, domain.DirectiveResult{CompletedAt: completedAt}); err != nil {
			return nil, fmt.Errorf("complete directive: %w", err)
		}
		d.Status = domain.DirectiveCompleted
		d.CompletedAt = &completedAt
	}
	return d, nil
}

// RunExpiry expires pending directives older than timeout every interval
// until ctx is cancelled.
func (h *Hub) RunExpiry(ctx context.Context, interval, timeout time.Duration) error {
	if interval <= 0 || timeout <= 0 {
		return fmt.Errorf("expiry interval and timeout must be positive, got %s and %s", interval, timeout)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := h.ExpireStale(ctx, timeout); err != nil {
				h.logger.Error("expire directives", zap.Error(err))
			}
		}
	}
}

// ExpireStale expires pending directives created more than timeout ago.
func (h *Hub) ExpireStale(ctx context.Context, timeout time.Duration) (int, error) {
	now := h.now()
	n, err := h.store.ExpireBefore(ctx, now.Add(-timeout).UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.RecordDirectivesExpired(n)
		h.logger.Info("directives expired", zap.Int("count", n))
	}
	return n, nil
}
