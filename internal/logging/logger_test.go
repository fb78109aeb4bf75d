package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestNewWithWriter_ServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, Config{Level: "info", ServiceName: "alumnet"})

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "alumnet", entry[FieldService])
	assert.Equal(t, "shown", entry["message"])
}

func TestCtx_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	scoped := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), scoped)
	l := Ctx(ctx)
	l.Info().Msg("scoped")
	assert.Contains(t, buf.String(), "scoped")

	assert.Equal(t, L(), Ctx(context.Background()))
}

func TestFiberMiddleware(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(FiberMiddleware(zerolog.New(&buf)))
	app.Get("/ping", func(c *fiber.Ctx) error {
		l := FromFiber(c)
		l.Info().Msg("inside handler")
		return c.SendString("pong")
	})

	t.Run("generates request id", func(t *testing.T) {
		buf.Reset()
		resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
		assert.Contains(t, buf.String(), "inside handler")
		assert.Contains(t, buf.String(), "request completed")
	})

	t.Run("propagates request id", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest("GET", "/ping", nil)
		req.Header.Set(HeaderRequestID, "req-123")
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "req-123", resp.Header.Get(HeaderRequestID))
		assert.Contains(t, buf.String(), `"request_id":"req-123"`)
	})
}
