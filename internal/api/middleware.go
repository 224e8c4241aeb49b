package api

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/b00skit/antelope-sync/internal/audit"
	"github.com/b00skit/antelope-sync/internal/upstream"
)

// ActorHeader names the user confirming a commit
const ActorHeader = "X-Actor"

// Identity copies the acting user and the caller's roster API credential
// into the request context. Both are optional: commits without an actor are
// recorded as the system, fetches without a bearer use the static token.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()

			if actor := strings.TrimSpace(req.Header.Get(ActorHeader)); actor != "" {
				ctx = audit.WithActor(ctx, actor)
			}
			if token, ok := bearer(req.Header.Get(echo.HeaderAuthorization)); ok {
				ctx = upstream.WithBearer(ctx, token)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
