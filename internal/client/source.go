package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/btouchard/switchboard/internal/model"
)

// Source fetches the authoritative state used to resynchronise after a
// (re)connect.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// HTTPSource reads a Snapshot from the REST API.
type HTTPSource struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPSource creates an HTTPSource for the server at baseURL.
func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Fetch loads the profile, the visible requests and the first feed page.
func (s *HTTPSource) Fetch(ctx context.Context) (Snapshot, error) {
	var me struct {
		User *model.User `json:"user"`
	}
	if err := s.get(ctx, "/api/me", &me); err != nil {
		return Snapshot{}, err
	}

	var requests struct {
		Data []model.Request `json:"data"`
	}
	if err := s.get(ctx, "/api/requests", &requests); err != nil {
		return Snapshot{}, err
	}

	var feed struct {
		Data []model.Notification `json:"data"`
	}
	if err := s.get(ctx, "/api/notifications?page=1&limit=100", &feed); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Profile:       me.User,
		Requests:      requests.Data,
		Notifications: feed.Data,
	}, nil
}

func (s *HTTPSource) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
