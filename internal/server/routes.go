package server

import (
	"errors"
	"strconv"

	"alumnet/internal/chat"
	"alumnet/internal/logging"
	"alumnet/internal/users"

	"github.com/gofiber/fiber/v2"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Get("/", s.HelloWorldHandler)

	s.App.Get("/health", s.healthHandler)

	// User routes (public routes)
	userHandler := users.NewUserHandler(s.userService, s.jwtService)
	s.App.Post("/user/register", userHandler.CreateUser)
	s.App.Post("/user/login", userHandler.LoginUser)

	// Protected routes
	api := s.App.Group("/api", users.AuthMiddleware(s.jwtService))

	api.Get("/user/me", userHandler.GetUser)

	chatHandler := chat.NewHandler(s.store, s.registry, s.cfg.Chat.HistoryLimit)
	api.Get("/chat/messages", chatHandler.GetMessages)
	api.Get("/chat/online", chatHandler.GetOnline)

	// Chat channel. Browsers pass the token as ?token= on the upgrade.
	s.App.Use("/ws", s.gateway.RequireUpgrade)
	s.App.Get("/ws/chat", users.OptionalAuth(s.jwtService), s.chatIdentity, s.gateway.Handler())
}

// chatIdentity resolves the caller's current display name before the
// upgrade and stores it for the gateway.
func (s *FiberServer) chatIdentity(c *fiber.Ctx) error {
	if userID, ok := users.UserIDFromLocals(c); ok {
		identity, err := s.userService.ResolveIdentity(c.UserContext(), userID)
		switch {
		case err == nil:
			c.Locals(chat.LocalsIdentity, &chat.Identity{
				ID:          identity.ID,
				DisplayName: identity.DisplayName,
			})
		case errors.Is(err, users.ErrUserNotFound):
			// Valid token for an account that no longer exists: anonymous.
		default:
			l := logging.FromFiber(c)
			l.Error().Err(err).Str(logging.FieldUserID, userID.Hex()).Msg("failed to resolve chat identity")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Identity lookup failed",
			})
		}
	}

	if s.cfg.Chat.RequireAuth && c.Locals(chat.LocalsIdentity) == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	return c.Next()
}

func (s *FiberServer) HelloWorldHandler(c *fiber.Ctx) error {
	resp := fiber.Map{
		"message": "alumnet chat",
	}

	return c.JSON(resp)
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := s.db.Health()
	health["chat_connections"] = strconv.Itoa(s.registry.Len())
	if health["status"] != "connected" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(health)
	}
	return c.JSON(health)
}
