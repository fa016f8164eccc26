// Package model holds the exchange request domain types shared by the
// server, the realtime layer and the client reconciler.
package model

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the visibility scope of a principal or a notification.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Principal is the authenticated identity behind a connection or an HTTP call.
type Principal struct {
	Role   Role   `json:"role"`
	UserID string `json:"userId"`
}

// IsAdmin reports whether the principal acts with administrative rights.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// User is the profile owned by the persistence layer.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal returns the identity this user acts as.
func (u User) Principal() Principal {
	return Principal{Role: u.Role, UserID: u.ID}
}

// RequestType distinguishes what a user asked for.
type RequestType string

const (
	TypeAccount  RequestType = "account"
	TypeUpload   RequestType = "upload"
	TypeDownload RequestType = "download"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	switch t {
	case TypeAccount, TypeUpload, TypeDownload:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending  Status = "pending"  // initial
	StatusApproved Status = "approved" // terminal
	StatusRejected Status = "rejected" // terminal
)

// IsTerminal returns true if no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// DefaultRejectMessage is recorded when a rejection carries no message.
const DefaultRejectMessage = "Not specified"

// Request is an exchange request reviewed by an administrator.
type Request struct {
	ID        string      `json:"id"`
	Type      RequestType `json:"type"`
	Status    Status      `json:"status"`
	Note      string      `json:"note,omitempty"`
	UserID    string      `json:"userId"`
	User      *User       `json:"user,omitempty"`
	AdminID   string      `json:"adminId,omitempty"`
	Admin     *User       `json:"admin,omitempty"`
	Message   string      `json:"message,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Notification is created once per lifecycle event.
type Notification struct {
	ID        string    `json:"id"`
	RoleFor   Role      `json:"roleFor"`
	UserID    string    `json:"userId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Request   *Request  `json:"request,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Payload is the unit pushed to live connections.
// UserID, when set, names the one user whose channel is targeted in
// addition to the role scope of the notification.
type Payload struct {
	UserID       string        `json:"userId,omitempty"`
	Notification *Notification `json:"notification"`
}

// NewID returns a random identifier for persisted entities and connections.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		return fmt.Sprintf("%x", b)
	}
	return id.String()
}
