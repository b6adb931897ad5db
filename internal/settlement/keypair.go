package settlement

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

const (
	addressPrefix = "G"
	secretPrefix  = "S"
)

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Keypair is an ed25519 key pair identified on the ledger by its address.
// Keypairs parsed from an address carry no private key and cannot sign.
type Keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// RandomKeypair generates a new key pair.
func RandomKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &Keypair{public: pub, private: priv}, nil
}

// KeypairFromSecret restores a key pair from its encoded seed.
func KeypairFromSecret(secret string) (*Keypair, error) {
	if !strings.HasPrefix(secret, secretPrefix) {
		return nil, errors.New("invalid secret key prefix")
	}
	seed, err := keyEncoding.DecodeString(secret[len(secretPrefix):])
	if err != nil {
		return nil, fmt.Errorf("invalid secret key encoding: %w", err)
	}
	return KeypairFromSeed(seed)
}

// KeypairFromSeed builds the key pair of a raw 32 byte ed25519 seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("invalid secret key length")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// KeypairFromAddress returns a verify-only key pair.
func KeypairFromAddress(address string) (*Keypair, error) {
	pub, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &Keypair{public: pub}, nil
}

// ParseAddress decodes a ledger address into its public key.
func ParseAddress(address string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(address, addressPrefix) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	raw, err := keyEncoding.DecodeString(address[len(addressPrefix):])
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid address length %q", address)
	}
	return ed25519.PublicKey(raw), nil
}

func (k *Keypair) Address() string {
	return addressPrefix + keyEncoding.EncodeToString(k.public)
}

// Secret returns the encoded seed. It panics for verify-only key pairs.
func (k *Keypair) Secret() string {
	if k.private == nil {
		panic("settlement: keypair has no private key")
	}
	return secretPrefix + keyEncoding.EncodeToString(k.private.Seed())
}

func (k *Keypair) CanSign() bool {
	return k.private != nil
}

func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.public
}

func (k *Keypair) PrivateKey() ed25519.PrivateKey {
	return k.private
}

func (k *Keypair) Sign(message []byte) ([]byte, error) {
	if k.private == nil {
		return nil, fmt.Errorf("keypair %s cannot sign", k.Address())
	}
	return ed25519.Sign(k.private, message), nil
}

// Verify checks sig against the public key encoded in address.
func Verify(address string, message, sig []byte) bool {
	pub, err := ParseAddress(address)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}
