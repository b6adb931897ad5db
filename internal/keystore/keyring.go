package keystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/secret"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

// CreateEncryptionKey generates a currency encryption key, stores it
// encrypted with master and returns its id.
func CreateEncryptionKey(ctx context.Context, master []byte, secrets secret.Repository) (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	encrypted, err := Encrypt(master, []byte(hex.EncodeToString(key)))
	if err != nil {
		return "", err
	}
	s := &secret.Secret{ID: uuid.NewString(), Encrypted: encrypted, CreatedAt: time.Now()}
	if err := secrets.Create(ctx, s); err != nil {
		return "", fmt.Errorf("failed to store encryption key: %w", err)
	}
	return s.ID, nil
}

// Keyring stores and retrieves the ledger keys of one currency.
type Keyring struct {
	master          []byte
	encryptionKeyID string
	secrets         secret.Repository
	logger          *slog.Logger

	mu  *sync.Mutex
	key *[]byte
}

func NewKeyring(logger *slog.Logger, master []byte, encryptionKeyID string, secrets secret.Repository) *Keyring {
	return &Keyring{
		master:          master,
		encryptionKeyID: encryptionKeyID,
		secrets:         secrets,
		logger:          logger,
		mu:              &sync.Mutex{},
		key:             new([]byte),
	}
}

// WithTx binds the keyring to a database transaction. The decrypted currency
// key is shared with the original keyring.
func (k *Keyring) WithTx(tx pgx.Tx) *Keyring {
	c := *k
	c.secrets = k.secrets.WithTx(tx)
	return &c
}

// StoreKey encrypts and stores kp. The key id is its address.
func (k *Keyring) StoreKey(ctx context.Context, kp *settlement.Keypair) (string, error) {
	key, err := k.currencyKey(ctx)
	if err != nil {
		return "", err
	}
	encrypted, err := Encrypt(key, []byte(kp.Secret()))
	if err != nil {
		return "", err
	}
	s := &secret.Secret{ID: kp.Address(), Encrypted: encrypted, CreatedAt: time.Now()}
	if err := k.secrets.Create(ctx, s); err != nil {
		k.logger.Error("Failed to store ledger key", "key_id", s.ID, "error", err)
		return "", fmt.Errorf("failed to store key %s: %w", s.ID, err)
	}
	return s.ID, nil
}

// RetrieveKey loads and decrypts the key with the given id.
func (k *Keyring) RetrieveKey(ctx context.Context, id string) (*settlement.Keypair, error) {
	key, err := k.currencyKey(ctx)
	if err != nil {
		return nil, err
	}
	s, err := k.secrets.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load key %s: %w", id, err)
	}
	plain, err := Decrypt(key, s.Encrypted)
	if err != nil {
		k.logger.Error("Failed to decrypt ledger key", "key_id", id, "error", err)
		return nil, fmt.Errorf("failed to decrypt key %s: %w", id, err)
	}
	kp, err := settlement.KeypairFromSecret(string(plain))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key %s: %w", id, err)
	}
	return kp, nil
}

func (k *Keyring) currencyKey(ctx context.Context) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if *k.key != nil {
		return *k.key, nil
	}
	s, err := k.secrets.Get(ctx, k.encryptionKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load currency encryption key: %w", err)
	}
	plain, err := Decrypt(k.master, s.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt currency encryption key: %w", err)
	}
	key, err := hex.DecodeString(string(plain))
	if err != nil || len(key) != keySize {
		return nil, fmt.Errorf("malformed currency encryption key %s", k.encryptionKeyID)
	}
	*k.key = key
	return key, nil
}
