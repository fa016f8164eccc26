// Package client keeps a connected user's local view of requests,
// notifications and profile in step with the server's live pushes.
package client

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/btouchard/switchboard/internal/model"
	"github.com/btouchard/switchboard/internal/realtime"
)

// Snapshot is the authoritative state fetched after (re)connecting.
type Snapshot struct {
	Profile       *model.User
	Requests      []model.Request
	Notifications []model.Notification // newest first
}

// Reconciler merges pushed payloads into a local cache. It never fails:
// malformed input is dropped and logged.
type Reconciler struct {
	mu        sync.RWMutex
	principal model.Principal
	profile   *model.User
	requests  map[string]model.Request
	feed      []model.Notification // newest first
	seen      map[string]struct{}
}

// NewReconciler creates an empty cache for p.
func NewReconciler(p model.Principal) *Reconciler {
	return &Reconciler{
		principal: p,
		requests:  make(map[string]model.Request),
		seen:      make(map[string]struct{}),
	}
}

// Principal returns the identity to join with. Once a profile is known
// its role wins, so a promotion is picked up on the next join.
func (r *Reconciler) Principal() model.Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentPrincipal()
}

// HandleFrame dispatches one server frame. Notification frames are
// applied; anything else is ignored.
func (r *Reconciler) HandleFrame(f realtime.Frame) bool {
	switch f.Event {
	case realtime.EventNotifyAdmins, realtime.EventNotifyUser:
		var p model.Payload
		if err := f.Decode(&p); err != nil {
			slog.Debug("dropping malformed payload", "event", string(f.Event), "error", err)
			return false
		}
		return r.Apply(p)
	case realtime.EventError:
		var e realtime.ErrorData
		_ = f.Decode(&e)
		slog.Warn("server rejected frame", "message", e.Message)
		return false
	default:
		slog.Debug("ignoring frame", "event", string(f.Event))
		return false
	}
}

// Apply merges one payload and reports whether it was usable.
func (r *Reconciler) Apply(p model.Payload) bool {
	n := p.Notification
	if n == nil {
		slog.Debug("dropping payload without notification", "user_id", p.UserID)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	self := r.currentPrincipal()

	fresh := n.Request != nil
	if n.Request != nil && n.Request.ID != "" {
		if cached, ok := r.requests[n.Request.ID]; ok && isStale(cached, *n.Request) {
			fresh = false
			slog.Debug("ignoring stale request copy",
				"request_id", n.Request.ID,
				"cached_status", string(cached.Status),
				"incoming_status", string(n.Request.Status))
		} else {
			r.requests[n.Request.ID] = *n.Request
		}
	}

	if n.RoleFor == self.Role {
		r.addToFeed(*n)
	}

	if fresh && p.UserID != "" && p.UserID == self.UserID &&
		n.Request != nil && n.Request.Type == model.TypeAccount && n.Request.User != nil {
		u := *n.Request.User
		r.profile = &u
		slog.Info("profile updated from server push", "user_id", u.ID, "role", string(u.Role))
	}

	return true
}

// isStale reports whether incoming is older than the cached copy of the
// same request. A terminal request never goes back to pending.
func isStale(cached, incoming model.Request) bool {
	if cached.Status.IsTerminal() && !incoming.Status.IsTerminal() {
		return true
	}
	if !cached.UpdatedAt.IsZero() && !incoming.UpdatedAt.IsZero() {
		return incoming.UpdatedAt.Before(cached.UpdatedAt)
	}
	return false
}

func (r *Reconciler) currentPrincipal() model.Principal {
	if r.profile != nil && r.profile.Role.Valid() {
		return r.profile.Principal()
	}
	return r.principal
}

// addToFeed prepends n unless a notification with the same id is already
// in the feed. Notifications without an id are always added.
func (r *Reconciler) addToFeed(n model.Notification) {
	if n.ID != "" {
		if _, dup := r.seen[n.ID]; dup {
			return
		}
		r.seen[n.ID] = struct{}{}
	}
	r.feed = append([]model.Notification{n}, r.feed...)
}

// Replace resets the cache to an authoritative snapshot.
func (r *Reconciler) Replace(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Profile != nil {
		u := *s.Profile
		r.profile = &u
	}

	r.requests = make(map[string]model.Request, len(s.Requests))
	for _, req := range s.Requests {
		r.requests[req.ID] = req
	}

	r.feed = nil
	r.seen = make(map[string]struct{}, len(s.Notifications))
	for i := len(s.Notifications) - 1; i >= 0; i-- {
		r.addToFeed(s.Notifications[i])
	}
}

// Profile returns a copy of the cached profile, or nil.
func (r *Reconciler) Profile() *model.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.profile == nil {
		return nil
	}
	u := *r.profile
	return &u
}

// Request returns the cached request with the given id.
func (r *Reconciler) Request(id string) (model.Request, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	return req, ok
}

// Requests returns the cached requests, newest first.
func (r *Reconciler) Requests() []model.Request {
	r.mu.RLock()
	out := make([]model.Request, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Request) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Feed returns the notification feed, newest first.
func (r *Reconciler) Feed() []model.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.feed)
}
