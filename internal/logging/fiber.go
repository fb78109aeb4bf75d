package logging

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderRequestID = "X-Request-ID"
	localsLogger    = "logger"
)

// FiberMiddleware tags each request with a request id and logs its outcome.
// The request-scoped logger is available to handlers through FromFiber.
func FiberMiddleware(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		child := logger.With().
			Str(FieldRequestID, reqID).
			Str(FieldMethod, c.Method()).
			Str(FieldPath, c.Path()).
			Str(FieldClientIP, c.IP()).
			Logger()

		c.Set(HeaderRequestID, reqID)
		c.Locals(localsLogger, child)

		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		event := child.Info()
		if status >= fiber.StatusInternalServerError {
			event = child.Error().Err(err)
		}
		event.
			Int(FieldStatus, status).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Msg("request completed")

		return err
	}
}

// FromFiber returns the request-scoped logger, or the global logger when the
// middleware did not run.
func FromFiber(c *fiber.Ctx) zerolog.Logger {
	if l, ok := c.Locals(localsLogger).(zerolog.Logger); ok {
		return l
	}
	return L()
}
