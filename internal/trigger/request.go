package trigger

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/model"
)

// ErrBadRequest marks a sync request that can never be processed
var ErrBadRequest = errors.New("malformed sync request")

// Request asks the worker to sync one data set of a faction
type Request struct {
	FactionID int64          `json:"faction_id"`
	Kind      model.SyncKind `json:"kind"`
	// Force skips the staleness check for members
	Force bool   `json:"force,omitempty"`
	Actor string `json:"actor,omitempty"`
}

// DecodeRequest parses a Kafka message value into a Request
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if r.FactionID <= 0 {
		return Request{}, fmt.Errorf("%w: faction_id must be positive", ErrBadRequest)
	}
	kind, ok := model.ParseSyncKind(string(r.Kind))
	if !ok {
		return Request{}, fmt.Errorf("%w: unknown kind %q", ErrBadRequest, r.Kind)
	}
	r.Kind = kind
	return r, nil
}
