// Package api exposes previews, commits and the audit trail over HTTP
package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/preview"
)

// MaxBodySize bounds commit payloads
const MaxBodySize = "32M"

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// New builds the echo instance with middleware and routes registered
func New(eng Engine, previews preview.Store, l *logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = errorHandler(l)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(l))
	e.Use(middleware.BodyLimit(MaxBodySize))
	e.Use(Identity())

	RegisterRoutes(e, NewHandler(eng, previews, l))
	return e
}

func requestLogger(l *logger.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID))
			return nil
		},
	})
}

// errorHandler maps engine errors to their HTTP status and machine readable code
func errorHandler(l *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := syncerr.HTTPStatus(err)
		body := ErrorResponse{Error: syncerr.Code(err), Message: err.Error()}

		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			status = he.Code
			body.Error = http.StatusText(he.Code)
			if msg, ok := he.Message.(string); ok {
				body.Message = msg
			}
		case errors.Is(err, preview.ErrNotFound):
			status = http.StatusNotFound
			body.Error = "PREVIEW_NOT_FOUND"
		}

		if status >= http.StatusInternalServerError {
			l.Error("request failed", err,
				zap.String("path", c.Path()),
				zap.String("code", body.Error))
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			l.Error("failed to write error response", werr)
		}
	}
}

// jsonSerializer swaps echo's encoding/json for go-json
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
