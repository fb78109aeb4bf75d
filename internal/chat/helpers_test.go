package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	msgs      []ChatMessage
	appendErr error
	listErr   error
	appends   int
	lists     int
}

func (s *memStore) Append(_ context.Context, in NewMessage) (*ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appends++
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	now := time.Now().UTC()
	msg := ChatMessage{
		ID:        primitive.NewObjectID(),
		Content:   in.Content,
		UserName:  in.UserName,
		AuthorID:  in.AuthorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.msgs = append(s.msgs, msg)
	return &msg, nil
}

func (s *memStore) ListRecent(_ context.Context, limit int) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	limit = ClampLimit(limit)
	start := len(s.msgs) - limit
	if start < 0 {
		start = 0
	}
	out := make([]ChatMessage, len(s.msgs)-start)
	copy(out, s.msgs[start:])
	return out, nil
}

func (s *memStore) stored() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *memStore) counts() (appends, lists int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends, s.lists
}

var errStoreDown = errors.New("store down")

func newIdentity(name string) *Identity {
	return &Identity{ID: primitive.NewObjectID(), DisplayName: name}
}

// frame is any outbound event decoded loosely.
type frame struct {
	Type     string          `json:"type"`
	Code     string          `json:"code"`
	Message  json.RawMessage `json:"message"`
	Messages []MessageRecord `json:"messages"`
}

func (f frame) record(t *testing.T) MessageRecord {
	t.Helper()
	var rec MessageRecord
	if err := json.Unmarshal(f.Message, &rec); err != nil {
		t.Fatalf("decode message record: %v", err)
	}
	return rec
}

func nextFrame(t *testing.T, c *Conn) frame {
	t.Helper()
	select {
	case payload := <-c.Outbound():
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			t.Fatalf("decode frame %q: %v", payload, err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame queued for %s", c.ID)
		return frame{}
	}
}

func assertNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case payload := <-c.Outbound():
		t.Fatalf("unexpected frame for %s: %s", c.ID, payload)
	default:
	}
}
