package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/switchboard/internal/auth"
	"github.com/btouchard/switchboard/internal/model"
	"github.com/btouchard/switchboard/internal/store"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Store is the persistence the HTTP handlers read from.
type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	SetUserRole(ctx context.Context, id string, role model.Role) (*model.User, error)
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	ListRequests(ctx context.Context, f store.RequestFilter) ([]model.Request, error)
	ListNotifications(ctx context.Context, f store.NotificationFilter) ([]model.Notification, int, error)
}

// Lifecycle performs request state changes.
type Lifecycle interface {
	Submit(ctx context.Context, actor model.Principal, typ model.RequestType, note string) (*model.Request, error)
	Approve(ctx context.Context, requestID string, actor model.Principal) (*model.Request, error)
	Reject(ctx context.Context, requestID string, actor model.Principal, message string) (*model.Request, error)
}

// Pagination describes one page of a feed.
type Pagination struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

type handlers struct {
	store     Store
	lifecycle Lifecycle
}

func principal(r *http.Request) model.Principal {
	// Routes are mounted behind auth.BearerAuth, so a principal is always present.
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

// --- Profile ---

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUser(r.Context(), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

// --- Requests ---

func (h *handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	q := r.URL.Query()

	f := store.RequestFilter{
		Status: model.Status(q.Get("status")),
		Type:   model.RequestType(q.Get("type")),
	}
	if !p.IsAdmin() {
		f.UserID = p.UserID
	}

	requests, err := h.store.ListRequests(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if requests == nil {
		requests = []model.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": requests})
}

func (h *handlers) getRequest(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	req, err := h.store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !p.IsAdmin() && req.UserID != p.UserID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": req})
}

type submitBody struct {
	Type model.RequestType `json:"type"`
	Note string            `json:"note"`
}

func (h *handlers) submitRequest(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := h.lifecycle.Submit(r.Context(), principal(r), body.Type, body.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": req})
}

func (h *handlers) approveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.lifecycle.Approve(r.Context(), chi.URLParam(r, "id"), principal(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": req})
}

type rejectBody struct {
	Message string `json:"message"`
}

func (h *handlers) rejectRequest(w http.ResponseWriter, r *http.Request) {
	var body rejectBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := h.lifecycle.Reject(r.Context(), chi.URLParam(r, "id"), principal(r), body.Message)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": req})
}

// --- Notifications ---

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	page, limit := pageParams(r)

	f := store.NotificationFilter{
		RoleFor: p.Role,
		Offset:  (page - 1) * limit,
		Limit:   limit,
	}
	if !p.IsAdmin() {
		f.UserID = p.UserID
	}

	items, total, err := h.store.ListNotifications(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Notification{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    items,
		"pagination": Pagination{
			Total:   total,
			Page:    page,
			Limit:   limit,
			HasMore: f.Offset+len(items) < total,
		},
	})
}

func pageParams(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultPageLimit
	}
	return page, min(limit, maxPageLimit)
}

// --- Admin management ---

type emailBody struct {
	Email string `json:"email"`
}

func (h *handlers) lookupByEmail(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	var body emailBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if strings.TrimSpace(body.Email) == "" {
		writeError(w, http.StatusBadRequest, "Email required")
		return nil, false
	}

	u, err := h.store.GetUserByEmail(r.Context(), body.Email)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return nil, false
	}
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return u, true
}

func (h *handlers) findAdmin(w http.ResponseWriter, r *http.Request) {
	u, ok := h.lookupByEmail(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

func (h *handlers) addAdmin(w http.ResponseWriter, r *http.Request) {
	u, ok := h.lookupByEmail(w, r)
	if !ok {
		return
	}
	if u.Role == model.RoleAdmin {
		writeError(w, http.StatusBadRequest, "User is already an admin")
		return
	}

	updated, err := h.store.SetUserRole(r.Context(), u.ID, model.RoleAdmin)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Admin added successfully",
		"user":    updated,
	})
}
