package domain

// DirectiveKind is the wire type of a directive sent to a wallet.
type DirectiveKind string

const (
	DirectiveSignMessage DirectiveKind = "sign_message"
	DirectiveLock        DirectiveKind = "lock_bonk"
	DirectiveClaim       DirectiveKind = "claim_bonk"
)

// String returns the string representation of DirectiveKind.
func (k DirectiveKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k DirectiveKind) IsValid() bool {
	return k == DirectiveSignMessage || k == DirectiveLock || k == DirectiveClaim
}

// ExpectsAck reports whether the wallet answers this kind of directive.
// sign_message has no acknowledgement on the wire.
func (k DirectiveKind) ExpectsAck() bool {
	return k == DirectiveLock || k == DirectiveClaim
}

// DirectiveStatus is the lifecycle state of a directive.
type DirectiveStatus string

const (
	DirectivePending   DirectiveStatus = "PENDING"
	DirectiveCompleted DirectiveStatus = "COMPLETED"
	DirectiveExpired   DirectiveStatus = "EXPIRED"
)

// String returns the string representation of DirectiveStatus.
func (s DirectiveStatus) String() string {
	return string(s)
}

// Directive is one signing request issued by the relay to a wallet.
// Corresponds to directives table in PostgreSQL.
type Directive struct {
	DirectiveID string          // PRIMARY KEY, uuid
	Wallet      string          // base58 wallet address
	Kind        DirectiveKind   // sign_message | lock_bonk | claim_bonk
	Status      DirectiveStatus // PENDING | COMPLETED | EXPIRED
	Payload     []string        // message text, or base64 transactions
	Signed      [][]byte        // signed wire transactions from the ack
	Signatures  []string        // broadcast transaction signatures (base58)
	CreatedAt   int64           // Unix timestamp in milliseconds
	CompletedAt *int64          // completion or expiry timestamp (ms)
}

// DirectiveResult is what an acknowledgement settles a directive with.
type DirectiveResult struct {
	Signed      [][]byte
	Signatures  []string
	CompletedAt int64
}
