package realtime

import (
	"log/slog"

	"github.com/btouchard/switchboard/internal/model"
)

// Target is one channel a payload is delivered to, with the event tag used.
type Target struct {
	Channel model.Channel
	Event   Event
}

// Targets resolves the channels a payload is addressed to.
// Admin-scoped notifications go to the admins channel; a payload naming a
// user additionally goes to that user's channel, whatever the role scope.
func Targets(p model.Payload) []Target {
	if p.Notification == nil {
		return nil
	}

	var targets []Target
	if p.Notification.RoleFor == model.RoleAdmin {
		targets = append(targets, Target{Channel: model.AdminsChannel, Event: EventNotifyAdmins})
	}

	userID := p.UserID
	if userID == "" && p.Notification.RoleFor == model.RoleUser {
		userID = p.Notification.UserID
	}
	if userID != "" {
		targets = append(targets, Target{Channel: model.UserChannel(userID), Event: EventNotifyUser})
	}
	return targets
}

// Fanout pushes payloads to every live member of the targeted channels.
// Delivery is at-most-once: no acknowledgment, retry or persistence.
type Fanout struct {
	registry *Registry
	metrics  *Metrics
}

// NewFanout creates a Fanout over reg. metrics may be nil.
func NewFanout(reg *Registry, metrics *Metrics) *Fanout {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Fanout{registry: reg, metrics: metrics}
}

// Publish delivers p to its target channels. It never blocks on clients.
func (f *Fanout) Publish(p model.Payload) {
	targets := Targets(p)
	if len(targets) == 0 {
		slog.Debug("fanout: payload has no target", "user_id", p.UserID)
		return
	}
	f.metrics.Publishes.Add(1)

	for _, t := range targets {
		frame, err := NewFrame(t.Event, p)
		if err != nil {
			slog.Error("fanout: encoding payload", "channel", t.Channel, "error", err)
			continue
		}

		// Members is a snapshot; joins and leaves racing with this loop
		// never mutate the slice being iterated.
		for _, conn := range f.registry.Members(t.Channel) {
			if conn.Send(frame) {
				f.metrics.Deliveries.Add(1)
				continue
			}
			f.metrics.Drops.Add(1)
			slog.Debug("fanout: delivery missed",
				"conn_id", conn.ID(),
				"channel", t.Channel,
				"event", t.Event)
		}
	}
}
