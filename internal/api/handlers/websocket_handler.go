package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/query"
	"github.com/quotegate/backend/pkg/logger"
)

const wsQueryTimeout = 30 * time.Second

type WebSocketHandler struct {
	queryEngine *query.Engine
}

func NewWebSocketHandler(queryEngine *query.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		queryEngine: queryEngine,
	}
}

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	TopK    int    `json:"top_k"`
}

// HandleConnection serves one client. Each query message gets a status
// frame, one quote frame per extracted quote, the answer in line chunks, and
// a complete frame carrying the full envelope.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		messageID := uuid.New().String()
		logger.Info("Processing WebSocket query",
			zap.String("message_id", messageID),
			zap.String("query", msg.Content),
		)

		if err := h.streamResponse(c, messageID, msg); err != nil {
			logger.Error("Failed to stream response", zap.String("message_id", messageID), zap.Error(err))
			h.sendError(c, messageID, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, messageID string, msg wsMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsQueryTimeout)
	defer cancel()

	if err := h.send(c, messageID, "status", "Processing query..."); err != nil {
		return err
	}

	env, err := h.queryEngine.ProcessQuery(ctx, query.Request{Query: msg.Content, TopK: msg.TopK})
	if err != nil {
		return err
	}

	for _, q := range env.Quotes {
		if err := c.WriteJSON(map[string]interface{}{
			"type":       "quote",
			"message_id": messageID,
			"source":     q.Source,
			"content":    q.Text,
		}); err != nil {
			return err
		}
	}

	if env.Answer != nil {
		for _, line := range splitIntoLines(*env.Answer) {
			if err := h.send(c, messageID, "chunk", line); err != nil {
				return err
			}
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"message_id": messageID,
		"envelope":   env,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, messageID, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":       msgType,
		"message_id": messageID,
		"content":    content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, messageID, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":       "error",
		"message_id": messageID,
		"error":      errorMsg,
	})
}

// splitIntoLines keeps the trailing newline on every line but the last so
// clients can concatenate chunks verbatim.
func splitIntoLines(text string) []string {
	parts := strings.SplitAfter(text, "\n")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
