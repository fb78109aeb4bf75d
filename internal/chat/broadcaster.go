package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"alumnet/internal/logging"

	"github.com/pkg/errors"
)

const (
	DefaultMaxContentLength = 1000
	DefaultPersistTimeout   = 5 * time.Second
)

type BroadcasterConfig struct {
	MaxContentLength int
	PersistTimeout   time.Duration
}

// Broadcaster turns an inbound send into a stored message and fans it out.
//
// A single mutex spans persist and enqueue, so every recipient queue sees
// messages in the order they were appended to the store.
type Broadcaster struct {
	store    Store
	registry *Registry
	cfg      BroadcasterConfig

	mu sync.Mutex
}

func NewBroadcaster(store Store, registry *Registry, cfg BroadcasterConfig) *Broadcaster {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	return &Broadcaster{store: store, registry: registry, cfg: cfg}
}

// Send validates content from connID, persists it under the sender's
// identity and enqueues the stored record to every registered connection.
// Rejections are reported to the sender as error events and returned.
func (b *Broadcaster) Send(ctx context.Context, connID, content string) (*ChatMessage, error) {
	l := logging.Ctx(ctx).With().Str(logging.FieldConnID, connID).Logger()

	sender, found := b.registry.Lookup(connID)

	if verr := b.validate(content); verr != nil {
		if found {
			b.notify(ctx, sender, verr.Code, verr.Message)
		}
		l.Debug().Str(logging.FieldCode, verr.Code).Msg("chat message rejected")
		return nil, verr
	}

	if !found {
		l.Error().Msg("send from connection missing in registry")
		return nil, ErrRegistryInconsistency
	}

	if !sender.Authenticated() {
		verr := &ValidationError{Code: CodeUnauthenticated, Message: "sign in to send messages"}
		b.notify(ctx, sender, verr.Code, verr.Message)
		l.Debug().Str(logging.FieldCode, verr.Code).Msg("chat message rejected")
		return nil, verr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(ctx, b.cfg.PersistTimeout)
	defer cancel()

	msg, err := b.store.Append(persistCtx, NewMessage{
		Content:  content,
		UserName: sender.Identity.DisplayName,
		AuthorID: sender.Identity.ID,
	})
	if err != nil {
		var perr *PersistenceError
		if !errors.As(err, &perr) {
			perr = &PersistenceError{Op: "append", Err: err}
		}
		l.Error().Err(perr).Msg("failed to persist chat message")
		b.notify(ctx, sender, CodePersistenceFailed, "message could not be saved, please retry")
		return nil, perr
	}

	payload, err := encodeMessage(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encode chat message")
	}

	b.fanOut(ctx, payload)

	l.Debug().
		Str(logging.FieldMessageID, msg.ID.Hex()).
		Str(logging.FieldUserID, msg.AuthorID.Hex()).
		Msg("chat message broadcast")
	return msg, nil
}

// Join registers conn and, when historyLimit > 0, queues the newest
// historyLimit messages to it. Both happen under the send lock so the
// history and the live stream neither overlap nor leave a gap.
func (b *Broadcaster) Join(ctx context.Context, conn *Conn, historyLimit int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.registry.Register(conn); err != nil {
		return err
	}
	if historyLimit <= 0 {
		return nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, b.cfg.PersistTimeout)
	defer cancel()

	l := logging.Ctx(ctx)
	msgs, err := b.store.ListRecent(loadCtx, historyLimit)
	if err != nil {
		l.Error().Err(err).Str(logging.FieldConnID, conn.ID).Msg("failed to load chat history")
		b.notify(ctx, conn, CodeHistoryUnavailable, "chat history is unavailable")
		return nil
	}

	payload, err := encodeHistory(msgs)
	if err != nil {
		return errors.Wrap(err, "encode chat history")
	}
	if err := conn.Deliver(payload); err != nil {
		b.dropped(ctx, conn, err)
	}
	return nil
}

func (b *Broadcaster) validate(content string) *ValidationError {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Code: CodeEmptyContent, Message: "message content is required"}
	}
	if n := utf8.RuneCountInString(content); n > b.cfg.MaxContentLength {
		return &ValidationError{
			Code:    CodeContentTooLong,
			Message: fmt.Sprintf("message is %d characters, the limit is %d", n, b.cfg.MaxContentLength),
		}
	}
	return nil
}

func (b *Broadcaster) fanOut(ctx context.Context, payload []byte) {
	b.registry.ForEach(func(c *Conn) {
		if err := c.Deliver(payload); err != nil {
			b.dropped(ctx, c, err)
		}
	})
}

func (b *Broadcaster) notify(ctx context.Context, c *Conn, code, message string) {
	if err := c.Deliver(encodeError(code, message)); err != nil {
		b.dropped(ctx, c, err)
	}
}

// dropped records a failed delivery. A full queue means the client is not
// keeping up; the connection is closed and its gateway loop unregisters it.
func (b *Broadcaster) dropped(ctx context.Context, c *Conn, err error) {
	derr := &DeliveryError{ConnID: c.ID, Err: err}
	l := logging.Ctx(ctx)

	if errors.Is(err, ErrConnClosed) {
		l.Debug().Err(derr).Msg("delivery to closed connection dropped")
		return
	}

	l.Warn().Err(derr).Str(logging.FieldConnID, c.ID).Msg("closing slow chat connection")
	c.Close()
}
