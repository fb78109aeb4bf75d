package server

import (
	"context"
	"errors"
	"strings"

	"alumnet/internal/chat"
	"alumnet/internal/config"
	"alumnet/internal/database"
	"alumnet/internal/logging"
	"alumnet/internal/users"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type FiberServer struct {
	*fiber.App
	cfg *config.Config
	db  database.Service

	userService *users.UserService
	jwtService  *users.JWTService

	store       chat.Store
	registry    *chat.Registry
	broadcaster *chat.Broadcaster
	gateway     *chat.Gateway
}

// New wires the HTTP app around db and the chat store. Routes are added by
// RegisterFiberRoutes.
func New(cfg *config.Config, db database.Service, store chat.Store) *FiberServer {
	app := fiber.New(fiber.Config{
		ServerHeader: "alumnet",
		AppName:      "alumnet",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: customErrorHandler,
	})

	registry := chat.NewRegistry()
	broadcaster := chat.NewBroadcaster(store, registry, chat.BroadcasterConfig{
		MaxContentLength: cfg.Chat.MaxContentLength,
		PersistTimeout:   cfg.Chat.PersistTimeout,
	})

	server := &FiberServer{
		App:         app,
		cfg:         cfg,
		db:          db,
		userService: users.NewUserService(db.GetDatabase()),
		jwtService:  users.NewJWTService(cfg.JWT.SecretKey, cfg.JWT.Expiration, cfg.JWT.Issuer),
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		gateway:     chat.NewGateway(registry, broadcaster, chat.GatewayConfigFrom(cfg.Chat)),
	}
	server.applyMiddleware()

	return server
}

func (s *FiberServer) applyMiddleware() {
	s.App.Use(logging.FiberMiddleware(logging.L()))

	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(s.cfg.Security.CORSOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.cfg.Security.RateLimit > 0 {
		s.App.Use(limiter.New(limiter.Config{
			Max:        s.cfg.Security.RateLimit,
			Expiration: s.cfg.Security.RateWindow,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests",
				})
			},
		}))
	}
}

// EnsureIndexes creates the indexes the user collection relies on.
func (s *FiberServer) EnsureIndexes(ctx context.Context) error {
	return s.userService.EnsureIndexes(ctx)
}

// ShutdownWithContext closes every chat connection, then stops the listener.
func (s *FiberServer) ShutdownWithContext(ctx context.Context) error {
	s.registry.CloseAll()
	return s.App.ShutdownWithContext(ctx)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		l := logging.FromFiber(c)
		l.Error().Err(err).Msg("unhandled error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
