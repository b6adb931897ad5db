package trustline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrustline(t *testing.T) {
	tl, err := NewTrustline("remote-currency", 1000)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tl.ID)
	assert.Equal(t, int64(1000), tl.Limit)
	assert.Equal(t, int64(0), tl.Balance)

	_, err = NewTrustline("remote-currency", 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestErrors(t *testing.T) {
	err := ErrTrustlineNotFound{Ref: "x"}
	assert.ErrorIs(t, err, ErrTrustlineNotFound{})
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
	assert.Equal(t, shared.KindBadRequest, shared.KindOf(ErrDuplicateTrustline{TrustedID: "x"}))
}
