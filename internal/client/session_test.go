package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/switchboard/internal/model"
	"github.com/btouchard/switchboard/internal/realtime"
)

type countingSource struct {
	calls atomic.Int32
	snap  Snapshot
}

func (s *countingSource) Fetch(context.Context) (Snapshot, error) {
	s.calls.Add(1)
	return s.snap, nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// tokenPrincipal treats "Bearer <role>:<userID>" as an already verified identity.
func tokenPrincipal(r *http.Request) (model.Principal, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return model.Principal{}, errors.New("no bearer token")
	}
	role, id, _ := strings.Cut(raw, ":")
	return model.Principal{Role: model.Role(role), UserID: id}, nil
}

func newRealtime(t *testing.T, wrap func(http.Handler) http.Handler) (*httptest.Server, *realtime.Registry, *realtime.Fanout) {
	t.Helper()
	m := realtime.NewMetrics()
	reg := realtime.NewRegistry(m.Hooks())
	var h http.Handler = realtime.NewGateway(reg, m, realtime.GatewayConfig{Principal: tokenPrincipal})
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, reg, realtime.NewFanout(reg, m)
}

func runSession(t *testing.T, s *Session) (cancel func()) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancelFn()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(3 * time.Second):
			t.Error("session did not stop")
		}
	}
}

func TestSession_JoinsRefetchesAndApplies(t *testing.T) {
	t.Parallel()
	srv, reg, fanout := newRealtime(t, nil)

	rec := NewReconciler(u1Principal)
	src := &countingSource{snap: Snapshot{Profile: &model.User{ID: "u1", Role: model.RoleUser}}}
	var applied atomic.Int32
	s := NewSession(SessionConfig{URL: wsURL(srv), Token: "user:u1", OnApply: func() { applied.Add(1) }}, rec, src)

	stop := runSession(t, s)
	defer stop()

	require.Eventually(t, func() bool {
		return s.State() == StateJoined && src.calls.Load() == 1 && reg.Count() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, reg.Members(model.UserChannel("u1")), 1)

	fanout.Publish(accountApproval("u1", model.RoleAdmin))

	require.Eventually(t, func() bool { return applied.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.RoleAdmin, rec.Profile().Role)
}

func TestSession_ReconnectsRejoinsAndRefetches(t *testing.T) {
	t.Parallel()
	var conns atomic.Int32

	// The first connection is acknowledged and then dropped by the server.
	srv, reg, fanout := newRealtime(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if conns.Add(1) > 1 {
				next.ServeHTTP(w, r)
				return
			}
			c, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			var join realtime.Frame
			_ = wsjson.Read(r.Context(), c, &join)
			ack, _ := realtime.NewFrame(realtime.EventJoined, realtime.JoinAck{Channel: model.AdminsChannel})
			_ = wsjson.Write(r.Context(), c, ack)
			_ = c.Close(websocket.StatusGoingAway, "restart")
		})
	})

	rec := NewReconciler(adminPrincipal)
	src := &countingSource{}
	s := NewSession(SessionConfig{
		URL:        wsURL(srv),
		Token:      "admin:a1",
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	}, rec, src)

	stop := runSession(t, s)
	defer stop()

	require.Eventually(t, func() bool {
		return conns.Load() >= 2 && src.calls.Load() >= 2 && s.State() == StateJoined && reg.Count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	fanout.Publish(model.Payload{Notification: &model.Notification{ID: "n9", RoleFor: model.RoleAdmin}})

	require.Eventually(t, func() bool { return len(rec.Feed()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestSession_JoinRejected(t *testing.T) {
	t.Parallel()
	srv, reg, _ := newRealtime(t, nil)

	// The token names u1 but the join claims admins.
	rec := NewReconciler(model.Principal{Role: model.RoleAdmin, UserID: "u1"})
	s := NewSession(SessionConfig{URL: wsURL(srv), Token: "user:u1", JoinTimeout: 2 * time.Second}, rec, nil)

	err := s.connectOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join rejected")
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 0, reg.Count())
}

func TestSession_DialFailureLeavesDisconnected(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{URL: "ws://127.0.0.1:1/ws"}, NewReconciler(u1Principal), nil)

	err := s.connectOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_AppliesFramesArrivingBeforeJoinAck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		var join realtime.Frame
		if err := wsjson.Read(r.Context(), c, &join); err != nil {
			return
		}
		early, _ := realtime.NewFrame(realtime.EventNotifyUser, model.Payload{
			UserID:       "u1",
			Notification: &model.Notification{ID: "n-early", RoleFor: model.RoleUser, UserID: "u1"},
		})
		_ = wsjson.Write(r.Context(), c, early)
		ack, _ := realtime.NewFrame(realtime.EventJoined, realtime.JoinAck{Channel: model.UserChannel("u1")})
		_ = wsjson.Write(r.Context(), c, ack)

		// Hold the connection until the client goes away.
		var f realtime.Frame
		_ = wsjson.Read(r.Context(), c, &f)
	}))
	t.Cleanup(srv.Close)

	rec := NewReconciler(u1Principal)
	var applied atomic.Int32
	s := NewSession(SessionConfig{URL: wsURL(srv), Token: "user:u1", OnApply: func() { applied.Add(1) }}, rec, nil)

	stop := runSession(t, s)
	defer stop()

	require.Eventually(t, func() bool { return s.State() == StateJoined }, 3*time.Second, 10*time.Millisecond)
	feed := rec.Feed()
	require.Len(t, feed, 1)
	assert.Equal(t, "n-early", feed[0].ID)
	assert.Equal(t, int32(1), applied.Load())
}
