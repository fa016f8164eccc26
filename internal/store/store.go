package store

import (
	"context"
	"errors"

	"github.com/btouchard/switchboard/internal/model"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotPending is returned when a transition targets a request that
	// already left the pending state.
	ErrNotPending = errors.New("request is not pending")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("already exists")
)

// Store is the persistence interface for Switchboard.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	SetUserRole(ctx context.Context, id string, role model.Role) (*model.User, error)

	// Requests
	CreateRequest(ctx context.Context, r *model.Request, n *model.Notification) error
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]model.Request, error)
	TransitionRequest(ctx context.Context, t Transition) (*model.Request, *model.Notification, error)

	// Notifications
	ListNotifications(ctx context.Context, f NotificationFilter) ([]model.Notification, int, error)

	Close() error
}

// RequestFilter specifies criteria for listing requests.
type RequestFilter struct {
	UserID string
	Status model.Status
	Type   model.RequestType
	Limit  int
}

// NotificationFilter selects one page of a feed.
type NotificationFilter struct {
	RoleFor model.Role
	UserID  string
	Offset  int
	Limit   int
}

// Transition moves a pending request to a terminal status and records the
// resulting notification in the same transaction.
type Transition struct {
	RequestID string
	To        model.Status
	AdminID   string
	Message   string

	// VerifyUser marks the requesting user verified (account approvals).
	VerifyUser bool

	// Notification is inserted with RequestID filled in. Its ID and
	// CreatedAt are generated when empty.
	Notification *model.Notification
}
