package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/b00skit/antelope-sync/internal/diff"
	"github.com/b00skit/antelope-sync/internal/engine"
	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/syncerr"
	"github.com/b00skit/antelope-sync/pkg/logger"
	"github.com/b00skit/antelope-sync/pkg/preview"
)

// DefaultAuditLimit applies when the audit request carries no limit
const DefaultAuditLimit = 50

// Engine is the engine surface served over HTTP
type Engine interface {
	Preview(ctx context.Context, factionID int64, kind model.SyncKind) (any, diff.Stats, error)
	CommitJSON(ctx context.Context, factionID int64, kind model.SyncKind, payload []byte) (model.AuditEntry, error)
	Sync(ctx context.Context, factionID int64, kind model.SyncKind) (engine.SyncResult, error)
	NeedsMembersSync(ctx context.Context, factionID int64) (bool, error)
	AuditLog(ctx context.Context, factionID int64, limit int) ([]model.AuditEntry, error)
	Alternates(ctx context.Context, factionID int64) ([]model.AlternateCharacterEntry, error)
}

// PreviewResponse carries a computed preview. PreviewID is empty when no
// preview store is configured.
type PreviewResponse struct {
	PreviewID string          `json:"preview_id,omitempty"`
	FactionID int64           `json:"faction_id"`
	Kind      model.SyncKind  `json:"kind"`
	Stats     diff.Stats      `json:"stats"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// StalenessResponse answers whether the cached roster needs a refresh
type StalenessResponse struct {
	FactionID int64 `json:"faction_id"`
	NeedsSync bool  `json:"needs_sync"`
}

// Handler serves the faction sync routes
type Handler struct {
	engine   Engine
	previews preview.Store
	logger   *logger.Logger
}

// NewHandler creates a new handler. previews may be nil.
func NewHandler(eng Engine, previews preview.Store, l *logger.Logger) *Handler {
	return &Handler{
		engine:   eng,
		previews: previews,
		logger:   l,
	}
}

// Health answers liveness probes
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Preview computes a preview without writing anything
// GET /api/v1/factions/:faction_id/previews/:kind
func (h *Handler) Preview(c echo.Context) error {
	return h.preview(c, false)
}

// SavePreview computes a preview and stores it for a later commit by id
// POST /api/v1/factions/:faction_id/previews/:kind
func (h *Handler) SavePreview(c echo.Context) error {
	return h.preview(c, true)
}

func (h *Handler) preview(c echo.Context, store bool) error {
	factionID, kind, err := factionAndKind(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	p, stats, err := h.engine.Preview(ctx, factionID, kind)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}

	resp := PreviewResponse{
		FactionID: factionID,
		Kind:      kind,
		Stats:     stats,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	if store && h.previews != nil {
		rec, err := h.previews.Save(ctx, factionID, string(kind), payload)
		if err != nil {
			// the preview is still usable by posting its payload back
			h.logger.Error("failed to store preview", err, zap.Int64("faction_id", factionID))
		} else {
			resp.PreviewID = rec.ID
			resp.CreatedAt = rec.CreatedAt
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Commit applies a preview payload posted by the caller
// POST /api/v1/factions/:faction_id/commits/:kind
func (h *Handler) Commit(c echo.Context) error {
	factionID, kind, err := factionAndKind(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body").SetInternal(err)
	}

	entry, err := h.engine.CommitJSON(c.Request().Context(), factionID, kind, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

// CommitByID applies a stored preview. The preview is removed once committed.
// POST /api/v1/factions/:faction_id/previews/:preview_id/commit
func (h *Handler) CommitByID(c echo.Context) error {
	if h.previews == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "preview storage is disabled")
	}
	factionID, err := factionParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	rec, err := h.previews.Load(ctx, c.Param("preview_id"))
	if err != nil {
		return err
	}
	if rec.FactionID != factionID {
		return fmt.Errorf("%w: preview belongs to faction %d", syncerr.ErrInvalidPayload, rec.FactionID)
	}

	entry, err := h.engine.CommitJSON(ctx, factionID, model.SyncKind(rec.Kind), rec.Payload)
	if err != nil {
		return err
	}
	if err := h.previews.Delete(ctx, rec.ID); err != nil {
		h.logger.Warn("failed to delete committed preview", zap.String("preview_id", rec.ID), zap.Error(err))
	}
	return c.JSON(http.StatusOK, entry)
}

// Sync previews and commits in one step
// POST /api/v1/factions/:faction_id/sync/:kind
func (h *Handler) Sync(c echo.Context) error {
	factionID, kind, err := factionAndKind(c)
	if err != nil {
		return err
	}
	res, err := h.engine.Sync(c.Request().Context(), factionID, kind)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Staleness reports whether the cached roster is older than the threshold
// GET /api/v1/factions/:faction_id/staleness
func (h *Handler) Staleness(c echo.Context) error {
	factionID, err := factionParam(c)
	if err != nil {
		return err
	}
	needs, err := h.engine.NeedsMembersSync(c.Request().Context(), factionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StalenessResponse{FactionID: factionID, NeedsSync: needs})
}

// AuditLog lists the newest commits of a faction
// GET /api/v1/factions/:faction_id/audit?limit=20
func (h *Handler) AuditLog(c echo.Context) error {
	factionID, err := factionParam(c)
	if err != nil {
		return err
	}
	limit := DefaultAuditLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return fmt.Errorf("%w: invalid limit %q", syncerr.ErrInvalidPayload, raw)
		}
	}

	entries, err := h.engine.AuditLog(c.Request().Context(), factionID, limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// Alternates lists the stored alternate-character entries of a faction
// GET /api/v1/factions/:faction_id/alternates
func (h *Handler) Alternates(c echo.Context) error {
	factionID, err := factionParam(c)
	if err != nil {
		return err
	}
	entries, err := h.engine.Alternates(c.Request().Context(), factionID)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []model.AlternateCharacterEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func factionParam(c echo.Context) (int64, error) {
	raw := c.Param("faction_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid faction id %q", syncerr.ErrInvalidPayload, raw)
	}
	return id, nil
}

func factionAndKind(c echo.Context) (int64, model.SyncKind, error) {
	id, err := factionParam(c)
	if err != nil {
		return 0, "", err
	}
	kind, ok := model.ParseSyncKind(c.Param("kind"))
	if !ok {
		return 0, "", fmt.Errorf("%w: unknown kind %q", syncerr.ErrInvalidPayload, c.Param("kind"))
	}
	return id, kind, nil
}
