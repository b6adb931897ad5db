package producers

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// MessagePublisher writes keyed JSON messages to the transfer topic.
type MessagePublisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// DeadLetterPublisher parks messages that could not be handled, together
// with the reason, so the consumer can move past them.
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
	Close() error
}

// KafkaWriter is the part of kafka.Writer the producers use.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var (
	_ KafkaWriter         = (*kafka.Writer)(nil)
	_ MessagePublisher    = (*TransferEventProducer)(nil)
	_ DeadLetterPublisher = (*DLQProducer)(nil)
)
