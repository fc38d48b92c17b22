package solana

import (
	"crypto/ed25519"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Keypair is an ed25519 signing key.
type Keypair struct {
	private solanago.PrivateKey
}

// GenerateKeypair creates a random keypair.
func GenerateKeypair() (*Keypair, error) {
	priv, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{private: priv}, nil
}

// KeypairFromSecret builds a keypair from a 64-byte secret (seed || public key),
// the layout used by Solana CLI keypair files.
func KeypairFromSecret(secret []byte) (*Keypair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair secret: expected %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}
	priv := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	if string(priv[ed25519.SeedSize:]) != string(secret[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("keypair secret: public key does not match seed")
	}
	return &Keypair{private: solanago.PrivateKey(priv)}, nil
}

// LoadKeypairFile reads a Solana CLI keypair file (a JSON array of 64 bytes).
func LoadKeypairFile(path string) (*Keypair, error) {
	priv, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair file %s: %w", path, err)
	}
	return KeypairFromSecret(priv)
}

// PublicKey returns the keypair's address.
func (k *Keypair) PublicKey() PublicKey {
	return k.private.PublicKey()
}

// Sign signs message.
func (k *Keypair) Sign(message []byte) (Signature, error) {
	sig, err := k.private.Sign(message)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify checks sig over message for pk.
func Verify(pk PublicKey, message []byte, sig Signature) bool {
	return sig.Verify(pk, message)
}
