package outbox_poller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/domain/outbox"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOutboxRepo for testing
type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	return m.Called(ctx, message).Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	return m.Called(tx).Get(0).(outbox.Repository)
}

// MockJournalRepo for testing
type MockJournalRepo struct {
	mock.Mock
}

func (m *MockJournalRepo) Append(ctx context.Context, e *journal.Entry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockJournalRepo) ListByTransfer(ctx context.Context, transferID uuid.UUID) ([]*journal.Entry, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*journal.Entry), args.Error(1)
}

func (m *MockJournalRepo) ListByCurrency(ctx context.Context, currency string, limit, offset int) ([]*journal.Entry, error) {
	args := m.Called(ctx, currency, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*journal.Entry), args.Error(1)
}

func (m *MockJournalRepo) CountByCurrency(ctx context.Context, currency string) (int64, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(int64), args.Error(1)
}

// MockProducer for testing
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, key string, value interface{}) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockProducer) Close() error {
	return m.Called().Error(0)
}

func testMessage(t *testing.T, id int64, state string) (*outbox.Message, *journal.Entry) {
	t.Helper()
	entry := &journal.Entry{
		TransferID:    uuid.New(),
		Currency:      "TEST",
		State:         state,
		Amount:        100,
		PayerID:       uuid.New(),
		PayeeID:       uuid.New(),
		CorrelationID: "corr-1",
		OccurredAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	msg, err := outbox.NewMessage(entry)
	require.NoError(t, err)
	msg.ID = id
	return msg, entry
}

func matchesEntry(want *journal.Entry) interface{} {
	return mock.MatchedBy(func(got *journal.Entry) bool {
		return got.TransferID == want.TransferID && got.State == want.State && got.Amount == want.Amount
	})
}

func TestTransferEventPublisher_Publish(t *testing.T) {
	msg, entry := testMessage(t, 1, "committed")
	key := entry.TransferID.String()

	tests := []struct {
		name          string
		message       *outbox.Message
		setupMocks    func(o *MockOutboxRepo, j *MockJournalRepo, p *MockProducer)
		expectedError string
	}{
		{
			name:    "Relayed",
			message: msg,
			setupMocks: func(o *MockOutboxRepo, j *MockJournalRepo, p *MockProducer) {
				j.On("Append", mock.Anything, matchesEntry(entry)).Return(nil).Once()
				p.On("Publish", mock.Anything, key, matchesEntry(entry)).Return(nil).Once()
				o.On("UpdateStatus", mock.Anything, int64(1), shared.OutboxStatusProcessed).Return(nil).Once()
			},
		},
		{
			name:    "AlreadyJournaled",
			message: msg,
			setupMocks: func(o *MockOutboxRepo, j *MockJournalRepo, p *MockProducer) {
				j.On("Append", mock.Anything, matchesEntry(entry)).
					Return(journal.ErrDuplicateEntry{TransferID: entry.TransferID, State: entry.State}).Once()
				p.On("Publish", mock.Anything, key, matchesEntry(entry)).Return(nil).Once()
				o.On("UpdateStatus", mock.Anything, int64(1), shared.OutboxStatusProcessed).Return(nil).Once()
			},
		},
		{
			name:    "JournalUnavailable",
			message: msg,
			setupMocks: func(o *MockOutboxRepo, j *MockJournalRepo, p *MockProducer) {
				j.On("Append", mock.Anything, matchesEntry(entry)).Return(errors.New("mongo down")).Once()
			},
			expectedError: "failed to append journal entry",
		},
		{
			name:    "KafkaUnavailable",
			message: msg,
			setupMocks: func(o *MockOutboxRepo, j *MockJournalRepo, p *MockProducer) {
				j.On("Append", mock.Anything, matchesEntry(entry)).Return(nil).Once()
				p.On("Publish", mock.Anything, key, matchesEntry(entry)).Return(errors.New("broker down")).Once()
			},
			expectedError: "failed to publish transfer event",
		},
		{
			name:    "MarkProcessedFails",
			message: msg,
			setupMocks: func(o *MockOutboxRepo, j *MockJournalRepo, p *MockProducer) {
				j.On("Append", mock.Anything, matchesEntry(entry)).Return(nil).Once()
				p.On("Publish", mock.Anything, key, matchesEntry(entry)).Return(nil).Once()
				o.On("UpdateStatus", mock.Anything, int64(1), shared.OutboxStatusProcessed).Return(errors.New("db error")).Once()
			},
			expectedError: "failed to mark outbox 1 as PROCESSED",
		},
		{
			name:    "UndecodablePayload",
			message: &outbox.Message{ID: 7, Payload: json.RawMessage(`{"transfer_id":`)},
			setupMocks: func(o *MockOutboxRepo, j *MockJournalRepo, p *MockProducer) {
				o.On("UpdateStatus", mock.Anything, int64(7), shared.OutboxStatusFailedToPublish).Return(nil).Once()
			},
			expectedError: "decode payload of outbox message 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outboxRepo := &MockOutboxRepo{}
			journalRepo := &MockJournalRepo{}
			producer := &MockProducer{}
			tt.setupMocks(outboxRepo, journalRepo, producer)

			publisher := NewTransferEventPublisher(outboxRepo, journalRepo, producer, slog.Default())
			err := publisher.Publish(context.Background(), tt.message)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			outboxRepo.AssertExpectations(t)
			journalRepo.AssertExpectations(t)
			producer.AssertExpectations(t)
		})
	}
}
