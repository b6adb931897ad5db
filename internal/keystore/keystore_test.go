package keystore

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/secret"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySecrets struct {
	mu    sync.Mutex
	items map[string]*secret.Secret
	gets  int
}

func newMemorySecrets() *memorySecrets {
	return &memorySecrets{items: map[string]*secret.Secret{}}
}

func (m *memorySecrets) Create(_ context.Context, s *secret.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.ID] = s
	return nil
}

func (m *memorySecrets) Get(_ context.Context, id string) (*secret.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	s, ok := m.items[id]
	if !ok {
		return nil, secret.ErrSecretNotFound{ID: id}
	}
	return s, nil
}

func (m *memorySecrets) WithTx(pgx.Tx) secret.Repository {
	return m
}

func TestMasterKey(t *testing.T) {
	_, err := MasterKey("short", "a long enough salt value")
	assert.Error(t, err)
	_, err = MasterKey("a long enough password", "short")
	assert.Error(t, err)

	k1, err := MasterKey("a long enough password", "a long enough salt value")
	require.NoError(t, err)
	k2, err := MasterKey("a long enough password", "a long enough salt value")
	require.NoError(t, err)
	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
}

func TestEncryptDecrypt(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	encrypted, err := Encrypt(key, []byte("hello ledger"))
	require.NoError(t, err)

	raw, err := hex.DecodeString(encrypted)
	require.NoError(t, err)
	assert.Len(t, raw, ivSize+tagSize+len("hello ledger"))

	plain, err := Decrypt(key, encrypted)
	require.NoError(t, err)
	assert.Equal(t, "hello ledger", string(plain))

	other, err := Encrypt(key, []byte("hello ledger"))
	require.NoError(t, err)
	assert.NotEqual(t, encrypted, other, "iv must be random")

	t.Run("TamperedTag", func(t *testing.T) {
		raw[ivSize] ^= 0xff
		_, err := Decrypt(key, hex.EncodeToString(raw))
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("NotHex", func(t *testing.T) {
		_, err := Decrypt(key, "zz")
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("BadKeySize", func(t *testing.T) {
		_, err := Encrypt([]byte("short"), []byte("x"))
		assert.Error(t, err)
	})
}

func TestTagHash(t *testing.T) {
	h1, err := TagHash("04:A2:19:B2")
	require.NoError(t, err)
	h2, err := TagHash("04:A2:19:B2")
	require.NoError(t, err)
	h3, err := TagHash("04:A2:19:B3")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestDeriveSeeds(t *testing.T) {
	master := make([]byte, 32)
	a, err := DeriveSeeds(master, "channel", 3)
	require.NoError(t, err)
	b, err := DeriveSeeds(master, "channel", 3)
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0], a[1])
}

func TestKeyring(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()
	master, err := MasterKey("a long enough password", "a long enough salt value")
	require.NoError(t, err)

	secrets := newMemorySecrets()
	keyID, err := CreateEncryptionKey(ctx, master, secrets)
	require.NoError(t, err)
	require.NotEmpty(t, keyID)

	ring := NewKeyring(logger, master, keyID, secrets)

	kp, err := settlement.RandomKeypair()
	require.NoError(t, err)

	id, err := ring.StoreKey(ctx, kp)
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), id)
	assert.NotContains(t, secrets.items[id].Encrypted, kp.Secret())

	restored, err := ring.WithTx(nil).RetrieveKey(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, kp.Secret(), restored.Secret())

	t.Run("CurrencyKeyLoadedOnce", func(t *testing.T) {
		before := secrets.gets
		_, err := ring.RetrieveKey(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before+1, secrets.gets)
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := ring.RetrieveKey(ctx, "GMISSING")
		assert.ErrorIs(t, err, secret.ErrSecretNotFound{})
	})

	t.Run("WrongMaster", func(t *testing.T) {
		wrong, err := MasterKey("another long password", "a long enough salt value")
		require.NoError(t, err)
		_, err = NewKeyring(logger, wrong, keyID, secrets).RetrieveKey(ctx, id)
		assert.Error(t, err)
	})
}
