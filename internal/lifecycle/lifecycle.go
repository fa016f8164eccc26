// Package lifecycle drives exchange requests from pending to a terminal
// state and announces every change to the realtime fanout.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/btouchard/switchboard/internal/model"
	"github.com/btouchard/switchboard/internal/store"
)

var (
	// ErrInvalidTransition is returned when a request is not in a state
	// that allows the requested change.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound is returned when the referenced request does not exist.
	ErrNotFound = errors.New("request not found")
	// ErrForbidden is returned when the acting principal may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned for malformed submissions.
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the persistence the lifecycle needs.
type Store interface {
	CreateRequest(ctx context.Context, r *model.Request, n *model.Notification) error
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	TransitionRequest(ctx context.Context, t store.Transition) (*model.Request, *model.Notification, error)
}

// Publisher delivers a payload to live connections.
type Publisher interface {
	Publish(p model.Payload)
}

// Event describes a committed lifecycle change.
type Event struct {
	RequestID string
	Type      model.RequestType
	Status    model.Status
	ActorID   string
}

// NotifyFunc is called after a change is committed and published.
type NotifyFunc func(Event)

var transitions = map[model.Status][]model.Status{
	model.StatusPending: {model.StatusApproved, model.StatusRejected},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Service implements submit, approve and reject.
type Service struct {
	store     Store
	publisher Publisher
	onNotify  NotifyFunc
}

// NewService creates a Service. Both collaborators are required.
func NewService(s Store, p Publisher) *Service {
	return &Service{store: s, publisher: p}
}

// SetNotifyFunc sets the callback for committed lifecycle events.
func (s *Service) SetNotifyFunc(fn NotifyFunc) {
	s.onNotify = fn
}

// Submit creates a pending request for the principal and tells the admins.
func (s *Service) Submit(ctx context.Context, actor model.Principal, typ model.RequestType, note string) (*model.Request, error) {
	if actor.UserID == "" {
		return nil, fmt.Errorf("submitting request: missing user: %w", ErrInvalidInput)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("submitting request: unknown type %q: %w", typ, ErrInvalidInput)
	}

	r := &model.Request{
		Type:   typ,
		Status: model.StatusPending,
		Note:   strings.TrimSpace(note),
		UserID: actor.UserID,
	}
	n := &model.Notification{
		RoleFor: model.RoleAdmin,
		Message: fmt.Sprintf("New %s request", typ),
	}

	if err := s.store.CreateRequest(ctx, r, n); err != nil {
		return nil, fmt.Errorf("submitting request: %w", err)
	}

	// Re-read so the published copy embeds the requesting user.
	created, err := s.store.GetRequest(ctx, r.ID)
	if err != nil {
		slog.Warn("reloading submitted request", "request_id", r.ID, "error", err)
		created = r
	}
	n.Request = created

	slog.Info("request submitted",
		"request_id", created.ID,
		"type", string(typ),
		"user_id", actor.UserID)

	s.publisher.Publish(model.Payload{Notification: n})
	s.notify(Event{RequestID: created.ID, Type: typ, Status: model.StatusPending, ActorID: actor.UserID})
	return created, nil
}

// Approve moves a pending request to approved on behalf of an admin.
// Approving an account request verifies the requesting user.
func (s *Service) Approve(ctx context.Context, requestID string, actor model.Principal) (*model.Request, error) {
	return s.transition(ctx, requestID, actor, model.StatusApproved, "")
}

// Reject moves a pending request to rejected. An empty message is recorded
// as model.DefaultRejectMessage.
func (s *Service) Reject(ctx context.Context, requestID string, actor model.Principal, message string) (*model.Request, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = model.DefaultRejectMessage
	}
	return s.transition(ctx, requestID, actor, model.StatusRejected, message)
}

func (s *Service) transition(ctx context.Context, requestID string, actor model.Principal, to model.Status, message string) (*model.Request, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%s request %q: %w", to, requestID, ErrForbidden)
	}

	current, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapStoreError(requestID, err)
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("request %q is %s, cannot become %s: %w",
			requestID, current.Status, to, ErrInvalidTransition)
	}

	req, notif, err := s.store.TransitionRequest(ctx, store.Transition{
		RequestID:  requestID,
		To:         to,
		AdminID:    actor.UserID,
		Message:    message,
		VerifyUser: to == model.StatusApproved && current.Type == model.TypeAccount,
		Notification: &model.Notification{
			RoleFor: model.RoleAdmin,
			Message: notificationMessage(current.Type, to, message),
		},
	})
	if err != nil {
		slog.Error("request transition failed",
			"request_id", requestID,
			"to", string(to),
			"error", err)
		return nil, mapStoreError(requestID, err)
	}

	slog.Info("request transitioned",
		"request_id", req.ID,
		"type", string(req.Type),
		"status", string(req.Status),
		"admin_id", actor.UserID)

	s.publisher.Publish(payloadFor(req, notif))
	s.notify(Event{RequestID: req.ID, Type: req.Type, Status: req.Status, ActorID: actor.UserID})
	return req, nil
}

// payloadFor addresses the admins, plus the requesting user when the
// change affects that user's own account.
func payloadFor(req *model.Request, n *model.Notification) model.Payload {
	p := model.Payload{Notification: n}
	if req.Type == model.TypeAccount {
		p.UserID = req.UserID
	}
	return p
}

func notificationMessage(typ model.RequestType, to model.Status, message string) string {
	if to == model.StatusRejected {
		return fmt.Sprintf("%s request rejected: %s", typ, message)
	}
	return fmt.Sprintf("%s request %s", typ, to)
}

func mapStoreError(requestID string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("request %q: %w", requestID, ErrNotFound)
	case errors.Is(err, store.ErrNotPending):
		return fmt.Errorf("request %q: %w", requestID, ErrInvalidTransition)
	default:
		return fmt.Errorf("request %q: %w", requestID, err)
	}
}

func (s *Service) notify(e Event) {
	if s.onNotify == nil {
		return
	}
	s.onNotify(e)
}
