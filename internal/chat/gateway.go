package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"alumnet/internal/config"
	"alumnet/internal/logging"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// LocalsIdentity is the fiber.Ctx locals key the pre-upgrade middleware
// stores the caller's *Identity under.
const LocalsIdentity = "chat_identity"

type GatewayConfig struct {
	HistoryOnJoin bool
	HistoryLimit  int
	SendBuffer    int
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	MaxFrameSize  int64
}

func GatewayConfigFrom(cfg config.ChatConfig) GatewayConfig {
	return GatewayConfig{
		HistoryOnJoin: cfg.HistoryOnJoin,
		HistoryLimit:  cfg.HistoryLimit,
		SendBuffer:    cfg.SendBuffer,
		PingInterval:  cfg.PingInterval,
		PongWait:      cfg.PongWait,
		WriteWait:     cfg.WriteWait,
		MaxFrameSize:  cfg.MaxFrameSize,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// readLimit never drops below what a maximal send event needs, so an
// over-length send reaches validation instead of closing the channel.
func (c GatewayConfig) readLimit(maxContentLength int) int64 {
	if need := config.MinFrameSize(maxContentLength); c.MaxFrameSize < need {
		return need
	}
	return c.MaxFrameSize
}

// Gateway adapts websocket connections to the registry and broadcaster.
type Gateway struct {
	registry    *Registry
	broadcaster *Broadcaster
	cfg         GatewayConfig
}

func NewGateway(registry *Registry, broadcaster *Broadcaster, cfg GatewayConfig) *Gateway {
	cfg = cfg.withDefaults()
	cfg.MaxFrameSize = cfg.readLimit(broadcaster.cfg.MaxContentLength)
	return &Gateway{
		registry:    registry,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
}

// RequireUpgrade rejects plain HTTP requests on the websocket route.
func (g *Gateway) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (g *Gateway) Handler() fiber.Handler {
	return websocket.New(g.Handle)
}

// Handle serves one channel for its whole lifetime.
func (g *Gateway) Handle(ws *websocket.Conn) {
	identity, _ := ws.Locals(LocalsIdentity).(*Identity)
	conn := NewConn(uuid.NewString(), identity, g.cfg.SendBuffer)

	lc := logging.L().With().Str(logging.FieldConnID, conn.ID)
	if identity != nil {
		lc = lc.Str(logging.FieldUserID, identity.ID.Hex()).Str(logging.FieldUserName, identity.DisplayName)
	}
	l := lc.Logger()
	ctx := logging.WithLogger(context.Background(), l)

	historyLimit := 0
	if g.cfg.HistoryOnJoin {
		historyLimit = g.cfg.HistoryLimit
	}
	if err := g.broadcaster.Join(ctx, conn, historyLimit); err != nil {
		l.Warn().Err(err).Msg("chat connection refused")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(g.cfg.WriteWait))
		return
	}

	writerDone := make(chan struct{})
	defer func() {
		conn.Close()
		g.registry.Remove(conn)
		<-writerDone
		l.Info().Dur("duration", time.Since(conn.JoinedAt)).Msg("chat connection closed")
	}()

	l.Info().Bool("authenticated", conn.Authenticated()).Msg("chat connection opened")

	go func() {
		defer close(writerDone)
		g.writePump(ctx, ws, conn)
	}()

	g.readPump(ctx, ws, conn)
}

func (g *Gateway) readPump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	l := logging.Ctx(ctx)

	ws.SetReadLimit(g.cfg.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !conn.Closed() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				l.Debug().Err(err).Msg("chat connection read failed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))

		g.dispatch(ctx, conn, data)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Conn, data []byte) {
	var in InboundEvent
	if err := json.Unmarshal(data, &in); err != nil {
		g.reply(ctx, conn, encodeError(CodeBadRequest, "frame is not a JSON event"))
		return
	}

	switch in.Type {
	case EventSend:
		// Rejections are reported to the sender and logged by the broadcaster.
		_, _ = g.broadcaster.Send(ctx, conn.ID, in.Content)
	case EventPing:
		g.reply(ctx, conn, pongFrame)
	default:
		g.reply(ctx, conn, encodeError(CodeBadRequest, fmt.Sprintf("unknown event type %q", in.Type)))
	}
}

func (g *Gateway) reply(ctx context.Context, conn *Conn, payload []byte) {
	if err := conn.Deliver(payload); err != nil {
		g.broadcaster.dropped(ctx, conn, err)
	}
}

// writePump is the only writer of data frames on ws. It exits, closing the
// socket, when conn is closed or a write fails; that unblocks readPump.
func (g *Gateway) writePump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	l := logging.Ctx(ctx)
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case payload := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				l.Debug().Err(err).Msg("chat write failed")
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
