package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type room struct {
	store    *memStore
	registry *Registry
	b        *Broadcaster
}

func newRoom(t *testing.T) *room {
	t.Helper()
	store := &memStore{}
	registry := NewRegistry()
	return &room{
		store:    store,
		registry: registry,
		b:        NewBroadcaster(store, registry, BroadcasterConfig{MaxContentLength: 1000}),
	}
}

func (r *room) join(t *testing.T, id string, identity *Identity) *Conn {
	t.Helper()
	c := NewConn(id, identity, 16)
	require.NoError(t, r.registry.Register(c))
	return c
}

func TestBroadcaster_SendReachesEveryoneIncludingSender(t *testing.T) {
	r := newRoom(t)
	ada := newIdentity("ada")
	sender := r.join(t, "sender", ada)
	other := r.join(t, "other", newIdentity("bob"))
	anon := r.join(t, "anon", nil)

	msg, err := r.b.Send(context.Background(), "sender", "hello")
	require.NoError(t, err)

	stored := r.store.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Content)
	assert.Equal(t, "ada", stored[0].UserName)
	assert.Equal(t, ada.ID, stored[0].AuthorID)
	assert.Equal(t, stored[0].ID, msg.ID)

	for _, c := range []*Conn{sender, other, anon} {
		f := nextFrame(t, c)
		require.Equal(t, EventMessage, f.Type)
		rec := f.record(t)
		assert.Equal(t, msg.ID.Hex(), rec.ID)
		assert.Equal(t, "hello", rec.Content)
		assert.Equal(t, "ada", rec.UserName)
		assert.Equal(t, ada.ID.Hex(), rec.AuthorID)
		assertNoFrame(t, c)
	}
}

func TestBroadcaster_RejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    string
	}{
		{name: "empty", content: "", code: CodeEmptyContent},
		{name: "whitespace", content: " \t\n ", code: CodeEmptyContent},
		{name: "too long", content: strings.Repeat("a", 1001), code: CodeContentTooLong},
		{name: "too long multibyte", content: strings.Repeat("é", 1001), code: CodeContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRoom(t)
			sender := r.join(t, "sender", newIdentity("ada"))
			other := r.join(t, "other", newIdentity("bob"))

			_, err := r.b.Send(context.Background(), "sender", tt.content)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.code, verr.Code)

			f := nextFrame(t, sender)
			assert.Equal(t, EventError, f.Type)
			assert.Equal(t, tt.code, f.Code)

			assertNoFrame(t, other)
			appends, _ := r.store.counts()
			assert.Zero(t, appends)
		})
	}
}

func TestBroadcaster_LengthLimitCountsRunes(t *testing.T) {
	r := newRoom(t)
	r.join(t, "sender", newIdentity("ada"))

	_, err := r.b.Send(context.Background(), "sender", strings.Repeat("é", 1000))
	require.NoError(t, err)
	_, err = r.b.Send(context.Background(), "sender", strings.Repeat("a", 1000))
	require.NoError(t, err)

	assert.Len(t, r.store.stored(), 2)
}

func TestBroadcaster_UnauthenticatedSender(t *testing.T) {
	r := newRoom(t)
	anon := r.join(t, "anon", nil)
	other := r.join(t, "other", newIdentity("bob"))

	_, err := r.b.Send(context.Background(), "anon", "hi")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeUnauthenticated, verr.Code)
	assert.Equal(t, CodeUnauthenticated, nextFrame(t, anon).Code)
	assertNoFrame(t, other)
	assert.Empty(t, r.store.stored())
}

func TestBroadcaster_PersistenceFailureIsNotBroadcast(t *testing.T) {
	r := newRoom(t)
	r.store.appendErr = errStoreDown
	sender := r.join(t, "sender", newIdentity("ada"))
	other := r.join(t, "other", newIdentity("bob"))

	_, err := r.b.Send(context.Background(), "sender", "lost")

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, errStoreDown)

	f := nextFrame(t, sender)
	assert.Equal(t, EventError, f.Type)
	assert.Equal(t, CodePersistenceFailed, f.Code)
	assertNoFrame(t, sender)
	assertNoFrame(t, other)
}

func TestBroadcaster_UnknownSender(t *testing.T) {
	r := newRoom(t)
	other := r.join(t, "other", newIdentity("bob"))

	_, err := r.b.Send(context.Background(), "ghost", "boo")

	assert.ErrorIs(t, err, ErrRegistryInconsistency)
	assertNoFrame(t, other)
	assert.Empty(t, r.store.stored())
}

func TestBroadcaster_SlowConsumerIsClosed(t *testing.T) {
	r := newRoom(t)
	r.join(t, "sender", newIdentity("ada"))
	slow := NewConn("slow", newIdentity("bob"), 1)
	require.NoError(t, r.registry.Register(slow))
	fast := r.join(t, "fast", newIdentity("cy"))

	_, err := r.b.Send(context.Background(), "sender", "one")
	require.NoError(t, err)
	_, err = r.b.Send(context.Background(), "sender", "two")
	require.NoError(t, err, "a slow recipient never fails the send")

	assert.True(t, slow.Closed())
	assert.False(t, fast.Closed())
	assert.Equal(t, "one", nextFrame(t, fast).record(t).Content)
	assert.Equal(t, "two", nextFrame(t, fast).record(t).Content)
}

func TestBroadcaster_ClosedRecipientIsSkipped(t *testing.T) {
	r := newRoom(t)
	sender := r.join(t, "sender", newIdentity("ada"))
	gone := r.join(t, "gone", newIdentity("bob"))
	gone.Close()

	_, err := r.b.Send(context.Background(), "sender", "still works")
	require.NoError(t, err)
	assert.Equal(t, EventMessage, nextFrame(t, sender).Type)
}

func TestBroadcaster_ConcurrentSendsKeepOneOrder(t *testing.T) {
	r := newRoom(t)
	const senders, perSender = 4, 25

	listeners := []*Conn{
		NewConn("l1", nil, senders*perSender),
		NewConn("l2", nil, senders*perSender),
	}
	for _, c := range listeners {
		require.NoError(t, r.registry.Register(c))
	}
	for i := 0; i < senders; i++ {
		c := NewConn(fmt.Sprintf("s%d", i), newIdentity(fmt.Sprintf("user%d", i)), senders*perSender)
		require.NoError(t, r.registry.Register(c))
	}

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, err := r.b.Send(context.Background(), fmt.Sprintf("s%d", i), fmt.Sprintf("%d-%d", i, j))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	stored := r.store.stored()
	require.Len(t, stored, senders*perSender)

	for _, c := range listeners {
		lastSeen := map[string]int{}
		for k := 0; k < senders*perSender; k++ {
			rec := nextFrame(t, c).record(t)
			assert.Equal(t, stored[k].ID.Hex(), rec.ID, "recipient order matches append order")

			var s, n int
			_, err := fmt.Sscanf(rec.Content, "%d-%d", &s, &n)
			require.NoError(t, err)
			key := fmt.Sprint(s)
			if prev, ok := lastSeen[key]; ok {
				assert.Greater(t, n, prev, "per-sender order")
			}
			lastSeen[key] = n
		}
	}
}

func TestBroadcaster_JoinBackfillsHistory(t *testing.T) {
	r := newRoom(t)
	r.join(t, "sender", newIdentity("ada"))
	for _, text := range []string{"first", "second", "third"} {
		_, err := r.b.Send(context.Background(), "sender", text)
		require.NoError(t, err)
	}

	late := NewConn("late", newIdentity("bob"), 4)
	require.NoError(t, r.b.Join(context.Background(), late, 2))

	f := nextFrame(t, late)
	require.Equal(t, EventHistory, f.Type)
	require.Len(t, f.Messages, 2)
	assert.Equal(t, "second", f.Messages[0].Content)
	assert.Equal(t, "third", f.Messages[1].Content)

	_, ok := r.registry.Lookup("late")
	assert.True(t, ok)
}

func TestBroadcaster_JoinWithoutHistory(t *testing.T) {
	r := newRoom(t)
	c := NewConn("c", nil, 1)

	require.NoError(t, r.b.Join(context.Background(), c, 0))
	assertNoFrame(t, c)
	_, lists := r.store.counts()
	assert.Zero(t, lists)
}

func TestBroadcaster_JoinHistoryFailure(t *testing.T) {
	r := newRoom(t)
	r.store.listErr = errStoreDown
	c := NewConn("c", nil, 1)

	require.NoError(t, r.b.Join(context.Background(), c, 10))
	assert.Equal(t, CodeHistoryUnavailable, nextFrame(t, c).Code)
	assert.Equal(t, 1, r.registry.Len())
}

func TestBroadcaster_JoinAfterShutdown(t *testing.T) {
	r := newRoom(t)
	r.registry.CloseAll()

	c := NewConn("c", nil, 1)
	assert.ErrorIs(t, r.b.Join(context.Background(), c, 10), ErrRegistryClosed)
	assert.True(t, c.Closed())
}

func TestBroadcaster_TwoMemberScenario(t *testing.T) {
	r := newRoom(t)
	ctx := context.Background()
	a := r.join(t, "A", newIdentity("alice"))
	b := r.join(t, "B", newIdentity("bruno"))

	_, err := r.b.Send(ctx, "A", "hello")
	require.NoError(t, err)
	for _, c := range []*Conn{a, b} {
		rec := nextFrame(t, c).record(t)
		assert.Equal(t, "hello", rec.Content)
		assert.Equal(t, "alice", rec.UserName)
		assert.False(t, rec.CreatedAt.IsZero())
	}

	_, err = r.b.Send(ctx, "B", "")
	require.Error(t, err)
	assert.Equal(t, EventError, nextFrame(t, b).Type)
	assertNoFrame(t, a)
	assertNoFrame(t, b)

	a.Close()
	r.registry.Unregister("A")

	_, err = r.b.Send(ctx, "B", "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", nextFrame(t, b).record(t).Content)
	assertNoFrame(t, a)
}

func TestBroadcaster_UnregisterDuringFanOut(t *testing.T) {
	r := newRoom(t)
	r.join(t, "sender", newIdentity("ada"))
	victim := r.join(t, "victim", newIdentity("bob"))

	// A store that drops the victim between persist and fan-out.
	hooked := &hookStore{Store: r.store, afterAppend: func() { r.registry.Unregister("victim") }}
	b := NewBroadcaster(hooked, r.registry, BroadcasterConfig{})

	_, err := b.Send(context.Background(), "sender", "after")
	require.NoError(t, err)
	assertNoFrame(t, victim)
}

type hookStore struct {
	Store
	afterAppend func()
}

func (s *hookStore) Append(ctx context.Context, in NewMessage) (*ChatMessage, error) {
	msg, err := s.Store.Append(ctx, in)
	s.afterAppend()
	return msg, err
}
