// Package audit carries the acting user through a commit and publishes
// committed audit entries to downstream consumers.
package audit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/pkg/producer"
)

type contextKey string

const actorKey contextKey = "audit-actor"

// SystemActor is recorded when no user triggered the commit
const SystemActor = "system"

// WithActor records who confirmed a commit
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the actor stored in ctx or SystemActor
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey).(string); ok && a != "" {
		return a
	}
	return SystemActor
}

// Publisher forwards committed audit entries
type Publisher interface {
	Publish(ctx context.Context, entry model.AuditEntry) error
}

// KafkaPublisher publishes audit entries keyed by faction id
type KafkaPublisher struct {
	producer producer.Producer
}

// NewKafkaPublisher creates a publisher on top of a producer
func NewKafkaPublisher(p producer.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

// Publish serializes the entry and waits for the delivery result
func (p *KafkaPublisher) Publish(ctx context.Context, entry model.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}

	key := []byte(strconv.FormatInt(entry.FactionID, 10))
	select {
	case res := <-p.producer.PublishAsync(ctx, key, data):
		return res.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
