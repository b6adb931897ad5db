package transfer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransfer(t *testing.T) {
	payer, payee := uuid.New(), uuid.New()

	t.Run("SuccessfulCreation", func(t *testing.T) {
		tr, err := NewTransfer(nil, payer, payee, 100, "lunch", "user-1")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, tr.ID)
		assert.Equal(t, StateNew, tr.State)
		assert.Equal(t, int64(100), tr.Amount)
		assert.False(t, tr.IsExternal())
	})

	t.Run("ClientID", func(t *testing.T) {
		id := uuid.New()
		tr, err := NewTransfer(&id, payer, payee, 1, "", "user-1")
		require.NoError(t, err)
		assert.Equal(t, id, tr.ID)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		_, err := NewTransfer(nil, payer, payee, 0, "", "u")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = NewTransfer(nil, payer, payer, 10, "", "u")
		assert.ErrorIs(t, err, ErrSameAccount)
	})
}

func TestCheckRequest(t *testing.T) {
	tests := []struct {
		from     State
		to       State
		wantKind shared.ErrorKind
	}{
		{StateNew, StateCommitted, ""},
		{StateNew, StateDeleted, ""},
		{StatePending, StateCommitted, ""},
		{StatePending, StateRejected, ""},
		{StatePending, StateDeleted, ""},
		{StateRejected, StateDeleted, ""},
		{StateFailed, StateDeleted, ""},
		{StateCommitted, StateCommitted, ""},
		{StateDeleted, StateDeleted, ""},
		{StateNew, StatePending, shared.KindBadRequest},
		{StateNew, StateSubmitted, shared.KindBadRequest},
		{StatePending, StateFailed, shared.KindBadRequest},
		{StateNew, StateRejected, shared.KindInvalidTransition},
		{StateCommitted, StateDeleted, shared.KindInvalidTransition},
		{StateDeleted, StateCommitted, shared.KindInvalidTransition},
		{StateRejected, StateCommitted, shared.KindInvalidTransition},
		{StateSubmitted, StateCommitted, shared.KindInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			err := CheckRequest(tt.from, tt.to)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, shared.KindOf(err))
		})
	}
}

func TestTransfer_SetState(t *testing.T) {
	tr := &Transfer{State: StateNew, UpdatedAt: time.Now().Add(-time.Hour)}

	changed, err := tr.SetState(StateNew)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = tr.SetState(StateCommitted)
	assert.ErrorIs(t, err, ErrInvalidTransition{From: StateNew, To: StateCommitted})
	assert.Equal(t, StateNew, tr.State)

	for _, s := range []State{StateSubmitted, StateFailed, StateDeleted} {
		changed, err := tr.SetState(s)
		require.NoError(t, err)
		assert.True(t, changed)
	}
	assert.WithinDuration(t, time.Now(), tr.UpdatedAt, time.Second)

	_, err = tr.SetState(StateNew)
	assert.ErrorIs(t, err, ErrInvalidTransition{})
}

func TestCommittedOnlyThroughSubmitted(t *testing.T) {
	for from := range transitions {
		if from == StateSubmitted {
			continue
		}
		assert.False(t, CanTransition(from, StateCommitted), "from %s", from)
		assert.False(t, CanTransition(from, StateFailed), "from %s", from)
	}
	assert.True(t, CanTransition(StateSubmitted, StateCommitted))
	assert.True(t, CanTransition(StateSubmitted, StateFailed))
}

func TestTransfer_PendingFor(t *testing.T) {
	now := time.Now()
	tr := &Transfer{UpdatedAt: now.Add(-2 * time.Hour)}
	assert.Equal(t, 2*time.Hour, tr.PendingFor(now))
}
