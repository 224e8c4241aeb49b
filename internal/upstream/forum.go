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
)

// APIKeyHeader carries the per-faction forum key
const APIKeyHeader = "X-Api-Key"

// ForumClient fetches forum groups. The base URL and key come from the
// faction's integration, so one client serves every faction.
type ForumClient struct {
	http httpClient
}

// NewForumClient creates a forum API client
func NewForumClient(timeout time.Duration, l *logger.Logger) *ForumClient {
	return &ForumClient{http: newHTTPClient(timeout, l)}
}

// Group returns the live members of one forum group
func (c *ForumClient) Group(ctx context.Context, integration *model.ForumIntegration, groupID int64) (model.ForumGroup, error) {
	if !integration.Active() {
		return model.ForumGroup{}, syncerr.ErrNoActiveConfiguration
	}

	base := strings.TrimRight(integration.BaseURL, "/")
	body, err := c.http.get(ctx, SourceForum, fmt.Sprintf("%s/groups/%d", base, groupID), map[string]string{
		APIKeyHeader: integration.APIKey,
	})
	if err != nil {
		return model.ForumGroup{}, err
	}

	g, err := parser.ParseForumGroup(body)
	if err != nil {
		return model.ForumGroup{}, c.http.fail(SourceForum, base, syncerr.Malformed(SourceForum, err))
	}
	if g.GroupID != groupID {
		return model.ForumGroup{}, c.http.fail(SourceForum, base,
			syncerr.Malformed(SourceForum, fmt.Errorf("asked for group %d, got %d", groupID, g.GroupID)))
	}
	return g, nil
}
