package handlers

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/storage/models"
	"github.com/quotegate/backend/pkg/logger"
)

type RunReader interface {
	ListEvalRuns(limit int) ([]models.EvalRun, error)
	GetEvalRun(id string) (*models.EvalRun, []models.EvalRow, error)
}

// EvalHandler exposes persisted evaluation runs. Runs are produced by
// ragctl eval, never over HTTP.
type EvalHandler struct {
	store RunReader
}

func NewEvalHandler(store RunReader) *EvalHandler {
	return &EvalHandler{store: store}
}

func (h *EvalHandler) ListRuns(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 200",
		})
	}

	runs, err := h.store.ListEvalRuns(limit)
	if err != nil {
		logger.Error("Failed to list evaluation runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list evaluation runs",
		})
	}
	if runs == nil {
		runs = []models.EvalRun{}
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *EvalHandler) GetRun(c *fiber.Ctx) error {
	run, rows, err := h.store.GetEvalRun(c.Params("id"))
	if errors.Is(err, sql.ErrNoRows) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Evaluation run not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get evaluation run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get evaluation run",
		})
	}

	return c.JSON(fiber.Map{
		"run":  run,
		"rows": rows,
	})
}
