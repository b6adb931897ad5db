package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteTx(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		fn         func(tx pgx.Tx) error
		setupMocks func(mock pgxmock.PgxPoolIface)
		wantErr    string
	}{
		{
			name: "Commits",
			fn: func(tx pgx.Tx) error {
				_, err := tx.Exec(ctx, "UPDATE accounts SET balance = 0")
				return err
			},
			setupMocks: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE accounts").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "RollsBackOnError",
			fn:   func(pgx.Tx) error { return errors.New("insufficient balance") },
			setupMocks: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			wantErr: "insufficient balance",
		},
		{
			name: "ReportsFailedRollback",
			fn:   func(pgx.Tx) error { return errors.New("insufficient balance") },
			setupMocks: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectRollback().WillReturnError(errors.New("connection reset"))
			},
			wantErr: "failed to roll back transaction: connection reset",
		},
		{
			name: "BeginFails",
			fn:   func(pgx.Tx) error { return nil },
			setupMocks: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin().WillReturnError(errors.New("pool closed"))
			},
			wantErr: "failed to begin transaction",
		},
		{
			name: "CommitFails",
			fn:   func(pgx.Tx) error { return nil },
			setupMocks: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
			},
			wantErr: "failed to commit transaction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setupMocks(mock)

			err = executeTx(ctx, mock, tt.fn)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("RollsBackOnPanic", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "boom", func() {
			_ = executeTx(ctx, mock, func(pgx.Tx) error { panic("boom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
