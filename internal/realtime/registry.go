// Package realtime tracks live client connections, groups them into
// role and user scoped channels, and pushes notification payloads to them.
package realtime

import (
	"sync"

	"github.com/btouchard/switchboard/internal/model"
)

// Conn is a live connection that can receive frames.
// Send must not block; it returns false when the frame was not queued.
type Conn interface {
	ID() string
	Send(f Frame) bool
}

// Hooks are invoked after membership changes, outside the registry lock.
type Hooks struct {
	OnJoin  func(connID string, ch model.Channel)
	OnLeave func(connID string, ch model.Channel)
}

// Registry maps each live connection to exactly one channel.
type Registry struct {
	mu         sync.RWMutex
	channels   map[model.Channel]map[string]Conn // channel -> connID -> conn
	membership map[string]model.Channel          // connID -> channel

	hooks Hooks
}

// NewRegistry creates an empty registry.
func NewRegistry(hooks Hooks) *Registry {
	return &Registry{
		channels:   make(map[model.Channel]map[string]Conn),
		membership: make(map[string]model.Channel),
		hooks:      hooks,
	}
}

// Join places conn in the channel derived from p, removing it from any
// channel it previously held. Joining the same channel again is a no-op.
func (r *Registry) Join(conn Conn, p model.Principal) model.Channel {
	ch := model.ChannelFor(p)
	id := conn.ID()

	r.mu.Lock()
	prev, had := r.membership[id]
	if had && prev != ch {
		r.removeLocked(id, prev)
	}
	members, ok := r.channels[ch]
	if !ok {
		members = make(map[string]Conn)
		r.channels[ch] = members
	}
	members[id] = conn
	r.membership[id] = ch
	r.mu.Unlock()

	if had && prev != ch && r.hooks.OnLeave != nil {
		r.hooks.OnLeave(id, prev)
	}
	if (!had || prev != ch) && r.hooks.OnJoin != nil {
		r.hooks.OnJoin(id, ch)
	}
	return ch
}

// Leave removes a connection from whatever channel it held.
// It returns the channel left and false if the connection was not joined.
func (r *Registry) Leave(connID string) (model.Channel, bool) {
	r.mu.Lock()
	ch, ok := r.membership[connID]
	if ok {
		r.removeLocked(connID, ch)
	}
	r.mu.Unlock()

	if ok && r.hooks.OnLeave != nil {
		r.hooks.OnLeave(connID, ch)
	}
	return ch, ok
}

func (r *Registry) removeLocked(connID string, ch model.Channel) {
	delete(r.membership, connID)
	members := r.channels[ch]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.channels, ch)
	}
}

// Members returns a snapshot of the connections in ch.
// Unknown or empty channels yield an empty slice.
func (r *Registry) Members(ch model.Channel) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[ch]
	result := make([]Conn, 0, len(members))
	for _, c := range members {
		result = append(result, c)
	}
	return result
}

// ChannelOf returns the channel a connection is in.
func (r *Registry) ChannelOf(connID string) (model.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.membership[connID]
	return ch, ok
}

// Count returns the number of joined connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.membership)
}

// ChannelCount returns the number of non-empty channels.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
