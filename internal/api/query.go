package api

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/internal/engine"
	"github.com/Luna-leo/seriesd/internal/registry"
	"github.com/Luna-leo/seriesd/pkg/models"
)

// QueryHandler serves window-and-downsample queries.
type QueryHandler struct {
	engine *engine.Engine
	logger zerolog.Logger

	totalQueries atomic.Int64
	totalErrors  atomic.Int64
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(eng *engine.Engine, logger zerolog.Logger) *QueryHandler {
	return &QueryHandler{
		engine: eng,
		logger: logger.With().Str("component", "query-handler").Logger(),
	}
}

// RegisterRoutes registers query API routes.
func (h *QueryHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/v1/query", h.handleQuery)
	app.Get("/api/v1/query/stats", h.Stats)

	h.logger.Info().Msg("Query routes registered")
}

// queryRequest is the JSON body of POST /api/v1/query. Start and End
// are optional as a pair; omitting both queries the whole series.
type queryRequest struct {
	ReferenceID string   `json:"reference_id"`
	Start       *int64   `json:"start,omitempty"`
	End         *int64   `json:"end,omitempty"`
	Params      []string `json:"params,omitempty"`
	MaxPoints   int      `json:"max_points,omitempty"`
	Method      string   `json:"method,omitempty"`
}

func (h *QueryHandler) handleQuery(c *fiber.Ctx) error {
	h.totalQueries.Add(1)
	start := time.Now()

	var body queryRequest
	if err := c.BodyParser(&body); err != nil {
		h.totalErrors.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body: " + err.Error(),
		})
	}
	if body.ReferenceID == "" {
		h.totalErrors.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "reference_id is required",
		})
	}

	method, err := engine.ParseMethod(body.Method)
	if err != nil {
		h.totalErrors.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	req := &engine.Request{
		ReferenceID: body.ReferenceID,
		MaxPoints:   body.MaxPoints,
		Method:      method,
	}
	switch {
	case body.Start != nil && body.End != nil:
		req.Range = &models.TimeRange{Start: *body.Start, End: *body.End}
	case body.Start != nil || body.End != nil:
		h.totalErrors.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "start and end must be provided together",
		})
	}
	for _, p := range body.Params {
		req.Params = append(req.Params, models.ParamID(p))
	}

	resp, err := h.engine.Query(c.Context(), req)
	if err != nil {
		h.totalErrors.Add(1)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, registry.ErrDataUnavailable):
			return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	h.logger.Debug().
		Str("reference_id", body.ReferenceID).
		Int("points", resp.Meta.ActualPoints).
		Dur("duration_ms", time.Since(start)).
		Msg("Query served")
	return c.JSON(resp)
}

// Stats returns handler counters.
func (h *QueryHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"total_queries": h.totalQueries.Load(),
		"total_errors":  h.totalErrors.Load(),
	})
}
