package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/query"
	"github.com/quotegate/backend/pkg/logger"
)

type QueryHandler struct {
	queryEngine *query.Engine
}

func NewQueryHandler(queryEngine *query.Engine) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
	}
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.TopK < 0 || req.TopK > 50 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "top_k must be between 0 and 50 (0 = default)",
		})
	}

	env, err := h.queryEngine.ProcessQuery(c.UserContext(), query.Request{Query: req.Query, TopK: req.TopK})
	if err != nil {
		if errors.Is(err, query.ErrEmptyQuery) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Query is required",
			})
		}
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.JSON(env)
}

// HandleRoute reports the query type and route a query would take without
// retrieving anything.
func (h *QueryHandler) HandleRoute(c *fiber.Ctx) error {
	q := c.Query("q")
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "q is required",
		})
	}

	return c.JSON(fiber.Map{
		"query": q,
		"route": h.queryEngine.RouteFor(q),
		"mode":  h.queryEngine.Features().Name(),
	})
}
