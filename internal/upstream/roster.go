package upstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/parser"

	"go.uber.org/zap"
)

// RosterConfig configures the roster and activity-score API client
type RosterConfig struct {
	BaseURL string
	// Token is used when the request context carries no bearer
	Token   string
	Timeout time.Duration
}

// RosterClient fetches faction members and activity scores
type RosterClient struct {
	http    httpClient
	baseURL string
	token   string
	log     *logger.Logger
}

// NewRosterClient creates a roster API client
func NewRosterClient(cfg RosterConfig, l *logger.Logger) *RosterClient {
	return &RosterClient{
		http:    newHTTPClient(cfg.Timeout, l),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		log:     l,
	}
}

// Members returns the live roster of a faction
func (c *RosterClient) Members(ctx context.Context, factionID int64) ([]model.CharacterRecord, error) {
	body, err := c.http.get(ctx, SourceRoster, fmt.Sprintf("%s/factions/%d/members", c.baseURL, factionID), c.headers(ctx))
	if err != nil {
		return nil, err
	}
	members, skipped, err := parser.ParseRoster(body)
	if err != nil {
		return nil, c.http.fail(SourceRoster, c.baseURL, syncerr.Malformed(SourceRoster, err))
	}
	if skipped > 0 {
		c.log.Warn("dropped roster records without a character id",
			zap.Int64("faction_id", factionID),
			zap.Int("skipped", skipped))
	}
	return members, nil
}

// Abas returns the live activity scores of a faction
func (c *RosterClient) Abas(ctx context.Context, factionID int64) ([]model.AbasEntry, error) {
	body, err := c.http.get(ctx, SourceAbas, fmt.Sprintf("%s/factions/%d/abas", c.baseURL, factionID), c.headers(ctx))
	if err != nil {
		return nil, err
	}
	entries, err := parser.ParseAbas(body)
	if err != nil {
		return nil, c.http.fail(SourceAbas, c.baseURL, syncerr.Malformed(SourceAbas, err))
	}
	return entries, nil
}

func (c *RosterClient) headers(ctx context.Context) map[string]string {
	token, ok := BearerFrom(ctx)
	if !ok {
		token = c.token
	}
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}
