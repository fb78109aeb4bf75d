package chat

import (
	"sort"
	"sync"
	"time"
)

// Conn is the in-memory handle for one open channel. Outbound frames are
// queued on a bounded buffer and drained by the gateway's write pump.
type Conn struct {
	ID       string
	Identity *Identity
	JoinedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(id string, identity *Identity, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		ID:       id,
		Identity: identity,
		JoinedAt: time.Now().UTC(),
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Deliver enqueues payload without blocking. It returns ErrConnClosed once
// the connection is closed and ErrSendBufferFull when the queue is full.
func (c *Conn) Deliver(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close signals the write pump to stop. Safe to call more than once.
// The send channel is never closed so concurrent Deliver calls cannot panic.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Outbound() <-chan []byte { return c.send }

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) Authenticated() bool { return c.Identity != nil }

// Registry tracks every open connection of this process.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Register adds c. A different connection already registered under c.ID is
// replaced and closed. After CloseAll it closes c and returns
// ErrRegistryClosed.
func (r *Registry) Register(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		c.Close()
		return ErrRegistryClosed
	}
	if prev, ok := r.conns[c.ID]; ok && prev != c {
		prev.Close()
	}
	r.conns[c.ID] = c
	return nil
}

// Unregister removes id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Remove unregisters c only while it is still the connection held under
// c.ID, so a replaced connection cannot evict its successor.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	if r.conns[c.ID] == c {
		delete(r.conns, c.ID)
	}
	r.mu.Unlock()
}

func (r *Registry) Lookup(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the connections registered at the time of the call.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// ForEach calls fn for every connection in a snapshot taken up front. fn may
// register or unregister connections; a connection removed during the walk is
// skipped if it has not been visited yet.
func (r *Registry) ForEach(fn func(*Conn)) {
	for _, c := range r.Snapshot() {
		if !r.holds(c) {
			continue
		}
		fn(c)
	}
}

func (r *Registry) holds(c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[c.ID] == c
}

// Online lists the distinct identities with at least one open connection,
// ordered by display name.
func (r *Registry) Online() []Identity {
	seen := make(map[string]struct{})
	var members []Identity
	for _, c := range r.Snapshot() {
		if c.Identity == nil {
			continue
		}
		key := c.Identity.ID.Hex()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		members = append(members, *c.Identity)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].DisplayName == members[j].DisplayName {
			return members[i].ID.Hex() < members[j].ID.Hex()
		}
		return members[i].DisplayName < members[j].DisplayName
	})
	return members
}

// CloseAll closes and forgets every connection. Later Register calls fail.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.closed = true
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
