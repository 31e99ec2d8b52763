package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/ingestion"
	"github.com/quotegate/backend/pkg/logger"
)

type ChunkCounter interface {
	CountChunks() (int, error)
}

type DocumentHandler struct {
	processor *ingestion.Processor
	store     ChunkCounter
}

func NewDocumentHandler(processor *ingestion.Processor, store ChunkCounter) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		store:     store,
	}
}

type documentRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
	HTML    bool   `json:"html"`
}

// UploadDocument chunks one document and makes it searchable immediately.
// Re-uploading a source replaces chunks with the same ids.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req documentRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Source == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source and content are required",
		})
	}

	chunks, err := h.processor.ProcessDocument(c.UserContext(), ingestion.Source{
		Name:    req.Source,
		Content: req.Content,
		HTML:    req.HTML,
	})
	if err != nil {
		logger.Error("Failed to process document", zap.String("source", req.Source), zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "Document processed successfully",
		"source":    req.Source,
		"doc_id":    ingestion.DocID(req.Source),
		"chunk_ids": ids,
	})
}

func (h *DocumentHandler) Stats(c *fiber.Ctx) error {
	n, err := h.store.CountChunks()
	if err != nil {
		logger.Error("Failed to count chunks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read corpus stats",
		})
	}
	return c.JSON(fiber.Map{"chunks": n})
}
