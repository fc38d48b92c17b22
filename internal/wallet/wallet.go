// Package wallet holds the signing capability and the websocket session that
// turns backend directives into signed acknowledgements.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"drunk-bob/internal/solana"
)

// ErrRejected is returned when the user declines a signing request.
var ErrRejected = errors.New("signing request rejected")

// Wallet is the signing capability of a connected wallet.
// Every method may block on user confirmation and may fail.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	// SignAllTransactions signs every transaction or none of them.
	SignAllTransactions(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error)
}

// RequestKind names what a signing request asks for.
type RequestKind string

// Request kinds.
const (
	RequestMessage     RequestKind = "message"
	RequestTransaction RequestKind = "transaction"
	RequestBatch       RequestKind = "batch"
)

// ApprovalRequest describes a pending signing request shown to the user.
type ApprovalRequest struct {
	Kind         RequestKind
	Message      []byte
	Transactions []*solana.Transaction
}

// Approver asks the user to confirm a request. Returning false declines it.
type Approver func(ctx context.Context, req ApprovalRequest) (bool, error)

// AutoApprove approves every request.
func AutoApprove(context.Context, ApprovalRequest) (bool, error) {
	return true, nil
}

// LocalWallet signs with an in-process keypair.
type LocalWallet struct {
	keypair  *solana.Keypair
	approver Approver
}

var _ Wallet = (*LocalWallet)(nil)

// NewLocalWallet creates a wallet for kp. A nil approver approves everything.
func NewLocalWallet(kp *solana.Keypair, approver Approver) *LocalWallet {
	if approver == nil {
		approver = AutoApprove
	}
	return &LocalWallet{keypair: kp, approver: approver}
}

// PublicKey returns the wallet address.
func (w *LocalWallet) PublicKey() solana.PublicKey {
	return w.keypair.PublicKey()
}

func (w *LocalWallet) approve(ctx context.Context, req ApprovalRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := w.approver(ctx, req)
	if err != nil {
		return fmt.Errorf("approval: %w", err)
	}
	if !ok {
		return ErrRejected
	}
	return nil
}

// SignMessage signs an arbitrary message and returns the raw signature.
func (w *LocalWallet) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if err := w.approve(ctx, ApprovalRequest{Kind: RequestMessage, Message: message}); err != nil {
		return nil, err
	}
	sig, err := w.keypair.Sign(message)
	if err != nil {
		return nil, err
	}
	return sig[:], nil
}

// SignTransaction returns a signed copy of tx.
func (w *LocalWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	if err := w.approve(ctx, ApprovalRequest{Kind: RequestTransaction, Transactions: []*solana.Transaction{tx}}); err != nil {
		return nil, err
	}
	signed := tx.Clone()
	if err := signed.Sign(w.keypair); err != nil {
		return nil, err
	}
	return signed, nil
}

// SignAllTransactions asks for one approval covering the whole batch.
func (w *LocalWallet) SignAllTransactions(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	if err := w.approve(ctx, ApprovalRequest{Kind: RequestBatch, Transactions: txs}); err != nil {
		return nil, err
	}
	out := make([]*solana.Transaction, len(txs))
	for i, tx := range txs {
		signed := tx.Clone()
		if err := signed.Sign(w.keypair); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out[i] = signed
	}
	return out, nil
}
