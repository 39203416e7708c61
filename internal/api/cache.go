package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/internal/persist"
	"github.com/Luna-leo/seriesd/internal/registry"
)

// CacheHandler exposes cache occupancy and the manual clear and persist
// controls.
type CacheHandler struct {
	registry  *registry.Registry
	scheduler *persist.Scheduler // may be nil when auto-persist is disabled
	logger    zerolog.Logger
}

// NewCacheHandler creates a CacheHandler. scheduler may be nil.
func NewCacheHandler(reg *registry.Registry, scheduler *persist.Scheduler, logger zerolog.Logger) *CacheHandler {
	return &CacheHandler{
		registry:  reg,
		scheduler: scheduler,
		logger:    logger.With().Str("component", "cache-handler").Logger(),
	}
}

// RegisterRoutes registers cache API routes.
func (h *CacheHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/v1/cache", h.handleUsage)
	app.Post("/api/v1/cache/clear", h.handleClear)
	app.Get("/api/v1/persist/status", h.handlePersistStatus)
	app.Post("/api/v1/persist/trigger", h.handlePersistTrigger)

	h.logger.Info().Msg("Cache routes registered")
}

func (h *CacheHandler) handleUsage(c *fiber.Ctx) error {
	return c.JSON(h.registry.CacheUsage())
}

// handleClear drops every cached table. References that were never
// persisted lose their data, so this is an explicit POST, not a DELETE
// on a collection.
func (h *CacheHandler) handleClear(c *fiber.Ctx) error {
	before := h.registry.CacheUsage()
	h.registry.ClearCache()
	h.logger.Info().
		Int64("freed_bytes", before.UsedBytes).
		Msg("Cache cleared by request")
	return c.JSON(fiber.Map{
		"cleared":     true,
		"freed_bytes": before.UsedBytes,
	})
}

func (h *CacheHandler) handlePersistStatus(c *fiber.Ctx) error {
	if h.scheduler == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}
	status := h.scheduler.Status()
	status["enabled"] = true
	return c.JSON(status)
}

func (h *CacheHandler) handlePersistTrigger(c *fiber.Ctx) error {
	if h.scheduler == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "auto-persist is disabled",
		})
	}
	if err := h.scheduler.TriggerNow(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"triggered": true})
}
