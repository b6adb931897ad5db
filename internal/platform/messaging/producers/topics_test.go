package producers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTopicAdmin struct {
	mock.Mock
}

func (m *MockTopicAdmin) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	args := m.Called(topics)
	partitions, _ := args.Get(0).([]kafka.Partition)
	return partitions, args.Error(1)
}

func (m *MockTopicAdmin) CreateTopics(topics ...kafka.TopicConfig) error {
	return m.Called(topics).Error(0)
}

func TestEnsureTopic(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	defaultDelay := topicReadRetryDelay
	topicReadRetryDelay = time.Millisecond
	defer func() { topicReadRetryDelay = defaultDelay }()

	created := []kafka.TopicConfig{{Topic: "transfers", NumPartitions: 1, ReplicationFactor: 1}}

	tests := []struct {
		name          string
		topic         kafka.TopicConfig
		setupMocks    func(admin *MockTopicAdmin)
		expectedError string
	}{
		{
			name:  "Exists",
			topic: kafka.TopicConfig{Topic: "transfers"},
			setupMocks: func(admin *MockTopicAdmin) {
				admin.On("ReadPartitions", []string{"transfers"}).Return([]kafka.Partition{{Topic: "transfers"}}, nil).Once()
			},
		},
		{
			name:  "UnknownTopicCreatedWithDefaults",
			topic: kafka.TopicConfig{Topic: "transfers"},
			setupMocks: func(admin *MockTopicAdmin) {
				admin.On("ReadPartitions", []string{"transfers"}).Return(nil, kafka.UnknownTopicOrPartition).Once()
				admin.On("CreateTopics", created).Return(nil).Once()
			},
		},
		{
			name:  "RetriesTransientReadErrors",
			topic: kafka.TopicConfig{Topic: "transfers", NumPartitions: 6, ReplicationFactor: 3},
			setupMocks: func(admin *MockTopicAdmin) {
				admin.On("ReadPartitions", []string{"transfers"}).Return(nil, errors.New("broker not available")).Twice()
				admin.On("ReadPartitions", []string{"transfers"}).Return([]kafka.Partition{{Topic: "transfers"}}, nil).Once()
			},
		},
		{
			name:  "CreatedConcurrently",
			topic: kafka.TopicConfig{Topic: "transfers"},
			setupMocks: func(admin *MockTopicAdmin) {
				admin.On("ReadPartitions", []string{"transfers"}).Return(nil, kafka.UnknownTopicOrPartition).Once()
				admin.On("CreateTopics", created).Return(kafka.TopicAlreadyExists).Once()
			},
		},
		{
			name:  "CreateFails",
			topic: kafka.TopicConfig{Topic: "transfers"},
			setupMocks: func(admin *MockTopicAdmin) {
				admin.On("ReadPartitions", []string{"transfers"}).Return(nil, kafka.UnknownTopicOrPartition).Once()
				admin.On("CreateTopics", created).Return(errors.New("not authorized")).Once()
			},
			expectedError: "failed to create kafka topic transfers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := new(MockTopicAdmin)
			tt.setupMocks(admin)

			err := ensureTopic(context.Background(), admin, tt.topic, logger)
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				require.NoError(t, err)
			}
			admin.AssertExpectations(t)
		})
	}

	t.Run("StopsOnCanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		admin := new(MockTopicAdmin)
		admin.On("ReadPartitions", []string{"transfers"}).Return(nil, errors.New("broker not available")).Once()

		err := ensureTopic(ctx, admin, kafka.TopicConfig{Topic: "transfers"}, logger)
		assert.ErrorIs(t, err, context.Canceled)
		admin.AssertNotCalled(t, "CreateTopics", mock.Anything)
	})
}

var _ topicAdmin = (*kafka.Conn)(nil)
