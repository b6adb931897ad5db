package producers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// topicAdmin is the part of kafka.Conn used to provision topics.
type topicAdmin interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	CreateTopics(topics ...kafka.TopicConfig) error
}

var (
	topicReadAttempts   = 5
	topicReadRetryDelay = 2 * time.Second
)

// ensureTopic creates the topic unless the broker already reports partitions
// for it. Unknown topics are created right away; other read errors are retried
// first, as the broker may still be starting.
func ensureTopic(ctx context.Context, admin topicAdmin, topic kafka.TopicConfig, log *slog.Logger) error {
	if topic.NumPartitions <= 0 {
		topic.NumPartitions = 1
	}
	if topic.ReplicationFactor <= 0 {
		topic.ReplicationFactor = 1
	}

	var err error
	for attempt := 1; attempt <= topicReadAttempts; attempt++ {
		var partitions []kafka.Partition
		partitions, err = admin.ReadPartitions(topic.Topic)
		if err == nil && len(partitions) > 0 {
			log.Info("Kafka topic already exists", "topic", topic.Topic, "partitions", len(partitions))
			return nil
		}
		if err == nil || errors.Is(err, kafka.UnknownTopicOrPartition) {
			break
		}

		log.Warn("Failed to read topic partitions, retrying", "topic", topic.Topic, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(topicReadRetryDelay):
		}
	}

	log.Info("Creating Kafka topic", "topic", topic.Topic,
		"partitions", topic.NumPartitions,
		"replication_factor", topic.ReplicationFactor,
		"last_read_error", err,
	)
	if err := admin.CreateTopics(topic); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create kafka topic %s: %w", topic.Topic, err)
	}
	return nil
}
