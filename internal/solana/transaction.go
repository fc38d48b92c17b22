package solana

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// LegacyVersion marks a message without a version prefix.
const LegacyVersion = -1

// versionPrefixMask flags a versioned message in its first byte.
const versionPrefixMask = 0x80

// ErrNotSigner is returned when a keypair is not a required signer of a transaction.
var ErrNotSigner = errors.New("keypair is not a required signer")

// MessageHeader describes the signer and writability layout of AccountKeys.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// AddressTableLookup loads extra accounts from an address lookup table (v0 only).
type AddressTableLookup struct {
	AccountKey      PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message is the signed portion of a transaction.
type Message struct {
	// Version is LegacyVersion or the versioned message number (0).
	Version             int
	Header              MessageHeader
	AccountKeys         []PublicKey
	RecentBlockhash     Hash
	Instructions        []CompiledInstruction
	AddressTableLookups []AddressTableLookup
}

// Transaction is a message plus one signature slot per required signer.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransaction wraps msg with empty signature slots.
func NewTransaction(msg Message) *Transaction {
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}
}

// DecodeTransactionBase64 decodes a base64 wire transaction.
func DecodeTransactionBase64(s string) (*Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode transaction base64: %w", err)
	}
	return DecodeTransaction(raw)
}

// DecodeTransaction parses a wire transaction.
func DecodeTransaction(data []byte) (*Transaction, error) {
	r := &reader{buf: data}

	numSigs, err := r.shortVec()
	if err != nil {
		return nil, fmt.Errorf("read signature count: %w", err)
	}
	tx := &Transaction{Signatures: make([]Signature, numSigs)}
	for i := range tx.Signatures {
		b, err := r.bytes(SignatureSize)
		if err != nil {
			return nil, fmt.Errorf("read signature %d: %w", i, err)
		}
		copy(tx.Signatures[i][:], b)
	}

	msg, err := decodeMessage(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("transaction has %d trailing bytes", r.remaining())
	}
	if int(msg.Header.NumRequiredSignatures) != len(tx.Signatures) {
		return nil, fmt.Errorf("transaction has %d signatures, message requires %d",
			len(tx.Signatures), msg.Header.NumRequiredSignatures)
	}
	tx.Message = *msg
	return tx, nil
}

// DecodeMessage parses a serialized message.
func DecodeMessage(data []byte) (*Message, error) {
	r := &reader{buf: data}
	msg, err := decodeMessage(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("message has %d trailing bytes", r.remaining())
	}
	return msg, nil
}

func decodeMessage(r *reader) (*Message, error) {
	msg := &Message{Version: LegacyVersion}

	first, err := r.peek()
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if first&versionPrefixMask != 0 {
		r.off++
		msg.Version = int(first &^ versionPrefixMask)
		if msg.Version != 0 {
			return nil, fmt.Errorf("unsupported message version %d", msg.Version)
		}
	}

	header, err := r.bytes(3)
	if err != nil {
		return nil, fmt.Errorf("read message header: %w", err)
	}
	msg.Header = MessageHeader{
		NumRequiredSignatures:       header[0],
		NumReadonlySignedAccounts:   header[1],
		NumReadonlyUnsignedAccounts: header[2],
	}

	numKeys, err := r.shortVec()
	if err != nil {
		return nil, fmt.Errorf("read account key count: %w", err)
	}
	msg.AccountKeys = make([]PublicKey, numKeys)
	for i := range msg.AccountKeys {
		b, err := r.bytes(PublicKeySize)
		if err != nil {
			return nil, fmt.Errorf("read account key %d: %w", i, err)
		}
		copy(msg.AccountKeys[i][:], b)
	}
	if int(msg.Header.NumRequiredSignatures) > numKeys {
		return nil, fmt.Errorf("message requires %d signers but has %d account keys",
			msg.Header.NumRequiredSignatures, numKeys)
	}

	blockhash, err := r.bytes(HashSize)
	if err != nil {
		return nil, fmt.Errorf("read recent blockhash: %w", err)
	}
	copy(msg.RecentBlockhash[:], blockhash)

	numIx, err := r.shortVec()
	if err != nil {
		return nil, fmt.Errorf("read instruction count: %w", err)
	}
	msg.Instructions = make([]CompiledInstruction, numIx)
	for i := range msg.Instructions {
		ix := &msg.Instructions[i]
		if ix.ProgramIDIndex, err = r.byte(); err != nil {
			return nil, fmt.Errorf("read instruction %d program: %w", i, err)
		}
		if ix.Accounts, err = r.shortVecBytes(); err != nil {
			return nil, fmt.Errorf("read instruction %d accounts: %w", i, err)
		}
		if ix.Data, err = r.shortVecBytes(); err != nil {
			return nil, fmt.Errorf("read instruction %d data: %w", i, err)
		}
	}

	if msg.Version == LegacyVersion {
		return msg, nil
	}

	numLookups, err := r.shortVec()
	if err != nil {
		return nil, fmt.Errorf("read address table lookup count: %w", err)
	}
	msg.AddressTableLookups = make([]AddressTableLookup, numLookups)
	for i := range msg.AddressTableLookups {
		lookup := &msg.AddressTableLookups[i]
		b, err := r.bytes(PublicKeySize)
		if err != nil {
			return nil, fmt.Errorf("read lookup %d table: %w", i, err)
		}
		copy(lookup.AccountKey[:], b)
		if lookup.WritableIndexes, err = r.shortVecBytes(); err != nil {
			return nil, fmt.Errorf("read lookup %d writable indexes: %w", i, err)
		}
		if lookup.ReadonlyIndexes, err = r.shortVecBytes(); err != nil {
			return nil, fmt.Errorf("read lookup %d readonly indexes: %w", i, err)
		}
	}
	return msg, nil
}

// Serialize encodes the message exactly as it is signed.
func (m *Message) Serialize() ([]byte, error) {
	var out []byte
	if m.Version != LegacyVersion {
		if m.Version < 0 || m.Version > 0x7f {
			return nil, fmt.Errorf("invalid message version %d", m.Version)
		}
		out = append(out, versionPrefixMask|byte(m.Version))
	}
	out = append(out,
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	)

	var err error
	if out, err = appendShortVec(out, len(m.AccountKeys)); err != nil {
		return nil, err
	}
	for _, key := range m.AccountKeys {
		out = append(out, key[:]...)
	}
	out = append(out, m.RecentBlockhash[:]...)

	if out, err = appendShortVec(out, len(m.Instructions)); err != nil {
		return nil, err
	}
	for _, ix := range m.Instructions {
		out = append(out, ix.ProgramIDIndex)
		if out, err = appendShortVecBytes(out, ix.Accounts); err != nil {
			return nil, err
		}
		if out, err = appendShortVecBytes(out, ix.Data); err != nil {
			return nil, err
		}
	}

	if m.Version == LegacyVersion {
		return out, nil
	}
	if out, err = appendShortVec(out, len(m.AddressTableLookups)); err != nil {
		return nil, err
	}
	for _, lookup := range m.AddressTableLookups {
		out = append(out, lookup.AccountKey[:]...)
		if out, err = appendShortVecBytes(out, lookup.WritableIndexes); err != nil {
			return nil, err
		}
		if out, err = appendShortVecBytes(out, lookup.ReadonlyIndexes); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Signers returns the accounts whose signatures the message requires, in slot order.
func (m *Message) Signers() []PublicKey {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return m.AccountKeys[:n]
}

// Serialize encodes the transaction for the wire.
func (tx *Transaction) Serialize() ([]byte, error) {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	out, err := appendShortVec(make([]byte, 0, 1+len(tx.Signatures)*SignatureSize+len(msg)), len(tx.Signatures))
	if err != nil {
		return nil, err
	}
	for _, sig := range tx.Signatures {
		out = append(out, sig[:]...)
	}
	return append(out, msg...), nil
}

// SerializeBase64 encodes the transaction as base64 wire bytes.
func (tx *Transaction) SerializeBase64() (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Sign fills the keypair's signature slot.
// Returns ErrNotSigner if the keypair is not among the required signers.
func (tx *Transaction) Sign(kp *Keypair) error {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	pk := kp.PublicKey()
	for i, signer := range tx.Message.Signers() {
		if signer != pk {
			continue
		}
		if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
			tx.Signatures = append(tx.Signatures, make([]Signature, int(tx.Message.Header.NumRequiredSignatures)-len(tx.Signatures))...)
		}
		sig, err := kp.Sign(msg)
		if err != nil {
			return err
		}
		tx.Signatures[i] = sig
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotSigner, pk)
}

// VerifySignatures checks every non-empty signature slot against its signer.
// It returns false if any slot is empty or invalid.
func (tx *Transaction) VerifySignatures() bool {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return false
	}
	signers := tx.Message.Signers()
	if len(signers) != len(tx.Signatures) {
		return false
	}
	for i, sig := range tx.Signatures {
		if sig.IsZero() || !Verify(signers[i], msg, sig) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of tx.
func (tx *Transaction) Clone() *Transaction {
	out := &Transaction{
		Signatures: append([]Signature(nil), tx.Signatures...),
		Message: Message{
			Version:         tx.Message.Version,
			Header:          tx.Message.Header,
			AccountKeys:     append([]PublicKey(nil), tx.Message.AccountKeys...),
			RecentBlockhash: tx.Message.RecentBlockhash,
		},
	}
	for _, ix := range tx.Message.Instructions {
		out.Message.Instructions = append(out.Message.Instructions, CompiledInstruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       append([]uint8(nil), ix.Accounts...),
			Data:           append([]byte(nil), ix.Data...),
		})
	}
	for _, l := range tx.Message.AddressTableLookups {
		out.Message.AddressTableLookups = append(out.Message.AddressTableLookups, AddressTableLookup{
			AccountKey:      l.AccountKey,
			WritableIndexes: append([]uint8(nil), l.WritableIndexes...),
			ReadonlyIndexes: append([]uint8(nil), l.ReadonlyIndexes...),
		})
	}
	return out
}
