package producer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProduceResult holds the result of an asynchronous production
type ProduceResult struct {
	Error error
}

// Producer defines the interface for publishing messages to Kafka
type Producer interface {
	// PublishAsync sends a message to Kafka asynchronously.
	// Returns a channel that receives the result when the write completes.
	PublishAsync(ctx context.Context, key, value []byte) <-chan ProduceResult

	// Close gracefully shuts down the producer
	Close() error
}

// KafkaProducer implements the Producer interface using kafka-go
type KafkaProducer struct {
	writer *kafka.Writer
}

// Config holds Kafka producer configuration
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaProducer creates a new KafkaProducer instance. Messages with the same
// key (faction id) land on the same partition so consumers see them in order.
func NewKafkaProducer(cfg Config) *KafkaProducer {
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: timeout,
	}

	return &KafkaProducer{
		writer: writer,
	}
}

// PublishAsync writes the message from a goroutine and reports the outcome on
// the returned channel
func (p *KafkaProducer) PublishAsync(ctx context.Context, key, value []byte) <-chan ProduceResult {
	resultChan := make(chan ProduceResult, 1)

	msg := kafka.Message{
		Key:   key,
		Value: value,
	}

	go func() {
		err := p.writer.WriteMessages(ctx, msg)
		resultChan <- ProduceResult{Error: err}
		close(resultChan)
	}()

	return resultChan
}

// Close gracefully shuts down the producer
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
