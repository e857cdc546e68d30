package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/storage/sqlite"
	"github.com/knowledge-assistant/backend/pkg/logger"
)

type ConversationHandler struct {
	db           *sqlite.Client
	historyLimit int
}

func NewConversationHandler(db *sqlite.Client, historyLimit int) *ConversationHandler {
	return &ConversationHandler{db: db, historyLimit: historyLimit}
}

func (h *ConversationHandler) GetHistory(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	if conversationID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "conversation id is required",
		})
	}

	limit := c.QueryInt("limit", h.historyLimit)
	if limit <= 0 || limit > 100 {
		limit = h.historyLimit
	}

	turns, err := h.db.History(c.Context(), conversationID, limit)
	if err != nil {
		logger.Error("Failed to load conversation history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load conversation history",
		})
	}

	items := make([]fiber.Map, 0, len(turns))
	for _, t := range turns {
		items = append(items, fiber.Map{
			"role":      t.Role,
			"content":   t.Content,
			"timestamp": t.Timestamp.Unix(),
			"model_id":  t.ModelID,
		})
	}

	return c.JSON(fiber.Map{
		"conversation_id": conversationID,
		"turns":           items,
	})
}
