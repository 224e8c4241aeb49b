package api

import "github.com/labstack/echo/v4"

// RegisterRoutes registers the faction scoped sync routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/health", h.Health)

	factions := e.Group("/api/v1/factions/:faction_id")
	{
		factions.GET("/previews/:kind", h.Preview)                 // GET /api/v1/factions/4/previews/members
		factions.POST("/previews/:kind", h.SavePreview)            // POST /api/v1/factions/4/previews/members
		factions.POST("/previews/:preview_id/commit", h.CommitByID) // POST /api/v1/factions/4/previews/<uuid>/commit
		factions.POST("/commits/:kind", h.Commit)                   // POST /api/v1/factions/4/commits/abas
		factions.POST("/sync/:kind", h.Sync)                        // POST /api/v1/factions/4/sync/organization
		factions.GET("/staleness", h.Staleness)                     // GET /api/v1/factions/4/staleness
		factions.GET("/audit", h.AuditLog)                          // GET /api/v1/factions/4/audit?limit=20
		factions.GET("/alternates", h.Alternates)                   // GET /api/v1/factions/4/alternates
	}
}
