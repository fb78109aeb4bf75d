package chat

import (
	"alumnet/internal/logging"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	store        Store
	registry     *Registry
	defaultLimit int
}

func NewHandler(store Store, registry *Registry, defaultLimit int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Handler{store: store, registry: registry, defaultLimit: defaultLimit}
}

// GetMessages returns recent history, oldest first.
func (h *Handler) GetMessages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.defaultLimit)

	msgs, err := h.store.ListRecent(c.UserContext(), limit)
	if err != nil {
		l := logging.FromFiber(c)
		l.Error().Err(err).Msg("failed to load chat messages")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load messages",
		})
	}

	return c.JSON(fiber.Map{
		"messages": records(msgs),
	})
}

func (h *Handler) GetOnline(c *fiber.Ctx) error {
	members := h.registry.Online()
	if members == nil {
		members = []Identity{}
	}
	return c.JSON(fiber.Map{
		"count":   len(members),
		"members": members,
	})
}
