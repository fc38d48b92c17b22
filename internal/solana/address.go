package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	solanago "github.com/gagliardetto/solana-go"
)

// Sizes of Solana primitives.
const (
	PublicKeySize = solanago.PublicKeyLength
	HashSize      = 32
	SignatureSize = 64
)

// PublicKey is an ed25519 account address.
type PublicKey = solanago.PublicKey

// Hash is a 32-byte blockhash.
type Hash = solanago.Hash

// Signature is an ed25519 signature. Its base58 form is the transaction id.
type Signature = solanago.Signature

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	pk, err := solanago.PublicKeyFromBase58(s)
	if err != nil {
		return pk, fmt.Errorf("parse public key %q: %w", s, err)
	}
	return pk, nil
}

// ParseHash decodes a base58 blockhash.
func ParseHash(s string) (Hash, error) {
	h, err := solanago.HashFromBase58(s)
	if err != nil {
		return h, fmt.Errorf("parse blockhash %q: %w", s, err)
	}
	return h, nil
}

// IsOnCurve reports whether pk is a valid ed25519 point.
// Wallet addresses are on the curve; program derived addresses are not.
func IsOnCurve(pk PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}

// ValidateWalletAddress checks that s is a base58 ed25519 wallet address.
func ValidateWalletAddress(s string) (PublicKey, error) {
	pk, err := ParsePublicKey(s)
	if err != nil {
		return pk, err
	}
	if !IsOnCurve(pk) {
		return pk, fmt.Errorf("public key %s is not on the ed25519 curve", s)
	}
	return pk, nil
}
