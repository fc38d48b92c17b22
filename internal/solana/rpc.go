package solana

import "context"

// RPCClient defines the Solana RPC HTTP methods the relay needs.
type RPCClient interface {
	// SendTransaction submits a signed wire transaction and returns its signature.
	SendTransaction(ctx context.Context, tx *Transaction) (string, error)

	// GetSignatureStatuses looks up confirmation status for signatures.
	// Unknown signatures yield a nil entry at the same index.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetLatestBlockhash returns a recent blockhash for building transactions.
	GetLatestBlockhash(ctx context.Context) (Hash, error)
}

// Commitment levels reported by getSignatureStatuses.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64  `json:"slot"`
	Confirmations      *int64 `json:"confirmations"` // nil once finalized
	Err                any    `json:"err"`
	ConfirmationStatus string `json:"confirmationStatus"`
}

// Landed reports whether the transaction reached at least confirmed without error.
func (s *SignatureStatus) Landed() bool {
	if s == nil || s.Err != nil {
		return false
	}
	return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
}
