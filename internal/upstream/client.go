// Package upstream talks to the external roster, activity-score and forum APIs.
// Every non-success response is terminal for the call; retries are up to the
// caller.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/metrics"

	"go.uber.org/zap"
)

// Source labels used in errors and metrics
const (
	SourceRoster = "roster"
	SourceAbas   = "abas"
	SourceForum  = "forum"
)

// maxBodyBytes caps how much of a response is read
const maxBodyBytes = 16 << 20

type httpClient struct {
	client *http.Client
	logger *logger.Logger
}

func newHTTPClient(timeout time.Duration, l *logger.Logger) httpClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return httpClient{client: &http.Client{Timeout: timeout}, logger: l}
}

// get performs a GET request and returns the body of a 2xx response
func (c httpClient) get(ctx context.Context, source, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", source, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.UpstreamLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.fail(source, url, syncerr.Unavailable(source, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, c.fail(source, url, syncerr.FromStatus(source, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(source, url, syncerr.Unavailable(source, err))
	}
	return body, nil
}

func (c httpClient) fail(source, url string, err error) error {
	metrics.UpstreamFailuresTotal.WithLabelValues(source, syncerr.Code(err)).Inc()
	c.logger.Warn("upstream request failed",
		zap.String("source", source),
		zap.String("url", url),
		zap.String("code", syncerr.Code(err)),
		zap.Error(err))
	return err
}
