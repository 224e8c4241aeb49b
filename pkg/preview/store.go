// Package preview keeps computed previews for a limited time so a later
// commit can replay exactly what the caller confirmed.
package preview

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown, expired or malformed ids
var ErrNotFound = errors.New("preview not found or expired")

// Record is a stored preview
type Record struct {
	ID        string          `json:"id"`
	FactionID int64           `json:"faction_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store defines the interface for persisting previews
type Store interface {
	// Save stores payload and returns the id to commit it by
	Save(ctx context.Context, factionID int64, kind string, payload []byte) (Record, error)

	// Load returns the preview or ErrNotFound
	Load(ctx context.Context, id string) (Record, error)

	// Delete removes a preview once it was committed
	Delete(ctx context.Context, id string) error
}

func newRecord(factionID int64, kind string, payload []byte, now time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		FactionID: factionID,
		Kind:      kind,
		Payload:   json.RawMessage(payload),
		CreatedAt: now.UTC(),
	}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// FileStore implements Store using one file per preview
type FileStore struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}
	return &FileStore{dir: dir, ttl: ttl, now: time.Now}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Save(ctx context.Context, factionID int64, kind string, payload []byte) (Record, error) {
	rec := newRecord(factionID, kind, payload, s.now())
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("failed to serialize preview: %w", err)
	}
	if err := os.WriteFile(s.path(rec.ID), data, 0o644); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *FileStore) Load(ctx context.Context, id string) (Record, error) {
	if !validID(id) {
		return Record{}, ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode preview %s: %w", id, err)
	}
	if s.ttl > 0 && s.now().Sub(rec.CreatedAt) > s.ttl {
		_ = os.Remove(s.path(id))
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RedisStore implements Store using Redis keys that expire after ttl
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis backed store. Keys are prefix + id.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) Save(ctx context.Context, factionID int64, kind string, payload []byte) (Record, error) {
	rec := newRecord(factionID, kind, payload, time.Now())
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("failed to serialize preview: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+rec.ID, data, s.ttl).Err(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	if !validID(id) {
		return Record{}, ErrNotFound
	}
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode preview %s: %w", id, err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.prefix+id).Err()
}
