package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaConsumer(t *testing.T) {
	c := NewKafkaConsumer(Config{
		Brokers: []string{"localhost:9092"},
		Topic:   "roster-sync-requests",
		GroupID: "antelope-syncworker",
	})
	require.NotNil(t, c.reader)
	cfg := c.reader.Config()
	assert.Equal(t, 500*time.Millisecond, cfg.MaxWait)
	assert.Equal(t, "antelope-syncworker", cfg.GroupID)
	assert.NoError(t, c.Close())
}

func TestFromKafkaKeepsRawForCommit(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("converted message keeps coordinates and raw message", prop.ForAll(
		func(partition int, offset int64, value []byte) bool {
			raw := kafka.Message{
				Topic:     "roster-sync-requests",
				Partition: partition,
				Offset:    offset,
				Key:       []byte("4"),
				Value:     value,
			}
			m := fromKafka(raw)
			return m.Partition == partition &&
				m.Offset == offset &&
				string(m.Value) == string(value) &&
				m.Raw.Offset == offset &&
				m.Raw.Partition == partition
		},
		gen.IntRange(0, 64),
		gen.Int64Range(0, 1<<40),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestCommitWithCanceledContext(t *testing.T) {
	c := NewKafkaConsumer(Config{
		Brokers: []string{"localhost:9999"},
		Topic:   "roster-sync-requests",
		GroupID: "test",
	})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, c.Commit(ctx, Message{Offset: 7, Raw: kafka.Message{Topic: "roster-sync-requests", Offset: 7}}))
}

func TestConsumerStopsOnContextTimeout(t *testing.T) {
	c := NewKafkaConsumer(Config{
		Brokers: []string{"localhost:9999"},
		Topic:   "roster-sync-requests",
		GroupID: "test",
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	msgChan, _ := c.Consume(ctx)

	select {
	case _, ok := <-msgChan:
		assert.False(t, ok, "no broker is listening")
	case <-time.After(2 * time.Second):
		t.Fatal("consume loop did not stop after the context expired")
	}
}
