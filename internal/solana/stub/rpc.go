package stub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"drunk-bob/internal/solana"
)

// ErrRejected is returned by SendTransaction when the stub is set to fail.
var ErrRejected = errors.New("transaction rejected")

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu        sync.Mutex
	Sent      []*solana.Transaction
	Statuses  map[string]*solana.SignatureStatus
	Blockhash solana.Hash
	// FailSend makes SendTransaction return ErrRejected.
	FailSend bool

	gate        chan struct{}
	waiting     atomic.Int32
	statusCalls int
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Statuses: make(map[string]*solana.SignatureStatus),
	}
}

// SendTransaction records tx and returns its first signature.
// Sent transactions are immediately reported as confirmed.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error) {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		c.waiting.Add(1)
		select {
		case <-gate:
			c.waiting.Add(-1)
		case <-ctx.Done():
			c.waiting.Add(-1)
			return "", ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailSend {
		return "", ErrRejected
	}
	c.Sent = append(c.Sent, tx.Clone())

	var sig string
	if len(tx.Signatures) > 0 {
		sig = tx.Signatures[0].String()
	}
	c.Statuses[sig] = &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed}
	return sig, nil
}

// GetSignatureStatuses returns stored statuses; unknown signatures are nil.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statusCalls++
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		out[i] = c.Statuses[sig]
	}
	return out, nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (solana.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Blockhash, nil
}

// SentCount returns how many transactions were submitted.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

// StatusCalls returns how many times GetSignatureStatuses was called.
func (c *RPCClient) StatusCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCalls
}

// SetStatus sets the status reported for sig.
func (c *RPCClient) SetStatus(sig string, st *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[sig] = st
}

// SetBlockhash sets the blockhash GetLatestBlockhash returns.
func (c *RPCClient) SetBlockhash(h solana.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Blockhash = h
}

// SetFailSend makes SendTransaction fail with ErrRejected.
func (c *RPCClient) SetFailSend(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FailSend = fail
}

// SetSendGate makes SendTransaction wait until gate is closed. nil removes it.
func (c *RPCClient) SetSendGate(gate chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = gate
}

// Waiting returns how many SendTransaction calls are held at the gate.
func (c *RPCClient) Waiting() int {
	return int(c.waiting.Load())
}
