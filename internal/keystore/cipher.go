// Package keystore keeps ledger secret keys encrypted at rest.
//
// Each currency owns a random 32 byte encryption key, stored encrypted with
// the process master key. Ledger keys of the currency are stored encrypted
// with the currency key. Ciphertexts are hex(iv | tag | ciphertext) produced
// by AES-256-GCM with a 12 byte iv.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	ivSize    = 12
	tagSize   = 16
	hkdfInfo  = "komunitin.org"
	minSecret = 16
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// MasterKey derives the master key from the configured password and salt.
func MasterKey(password, salt string) ([]byte, error) {
	if len(password) < minSecret {
		return nil, fmt.Errorf("master password must be at least %d characters", minSecret)
	}
	if len(salt) < minSecret {
		return nil, fmt.Errorf("master password salt must be at least %d characters", minSecret)
	}
	return deriveKey([]byte(password), []byte(salt), hkdfInfo)
}

func deriveKey(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, secret, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// TagHash returns the lookup hash of an account tag value. The salt is fixed
// so that equal values hash equally.
func TagHash(value string) (string, error) {
	key, err := deriveKey([]byte(value), []byte(hkdfInfo), hkdfInfo)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext with a 32 byte key.
func Encrypt(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	// Seal appends the tag after the ciphertext.
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, ivSize+len(sealed))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return hex.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(key []byte, encrypted string) ([]byte, error) {
	raw, err := hex.DecodeString(encrypted)
	if err != nil || len(raw) < ivSize+tagSize {
		return nil, ErrInvalidCiphertext
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv, tag, ct := raw[:ivSize], raw[ivSize:ivSize+tagSize], raw[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes", keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// DeriveSeeds returns n stable 32 byte seeds bound to master and purpose,
// used for keys the process needs on every start without storing them.
func DeriveSeeds(master []byte, purpose string, n int) ([][]byte, error) {
	seeds := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		seed, err := deriveKey(master, []byte(purpose), fmt.Sprintf("%s/%s/%d", hkdfInfo, purpose, i))
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}
