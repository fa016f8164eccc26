package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jpillora/backoff"

	"github.com/btouchard/switchboard/internal/realtime"
)

const defaultJoinTimeout = 10 * time.Second

// SessionConfig configures a live session.
type SessionConfig struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8420/ws.
	URL   string
	Token string

	JoinTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration

	// OnStateChange is called on every connection state change.
	OnStateChange func(from, to State)
	// OnApply is called after a pushed payload changed the local view.
	OnApply func()
}

// Session keeps one websocket connection joined to the principal's channel,
// reconnecting with backoff and resynchronising from Source after each join.
type Session struct {
	cfg     SessionConfig
	rec     *Reconciler
	source  Source
	machine *Machine
	backoff *backoff.Backoff
}

// NewSession creates a Session. source may be nil to skip resynchronisation.
func NewSession(cfg SessionConfig, rec *Reconciler, source Source) *Session {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	s := &Session{
		cfg:    cfg,
		rec:    rec,
		source: source,
		backoff: &backoff.Backoff{
			Min:    cfg.MinBackoff,
			Max:    cfg.MaxBackoff,
			Factor: 2,
			Jitter: true,
		},
	}
	s.machine = NewMachine(func(from, to State) {
		slog.Debug("connection state changed", "from", from.String(), "to", to.String())
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(from, to)
		}
	})
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.machine.State()
}

// Run connects and stays connected until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	for {
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := s.backoff.Duration()
		slog.Warn("connection lost, reconnecting",
			"error", err,
			"retry_in", wait.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// connectOnce runs one connection from dial to loss.
func (s *Session) connectOnce(ctx context.Context) error {
	if err := s.machine.Fire(TriggerDial); err != nil {
		return err
	}
	defer func() { _ = s.machine.Fire(TriggerLost) }()

	opts := &websocket.DialOptions{}
	if s.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + s.cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, s.cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.cfg.URL, err)
	}
	defer func() { _ = conn.CloseNow() }()

	if err := s.join(ctx, conn); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "join failed")
		return err
	}
	if err := s.machine.Fire(TriggerJoined); err != nil {
		return err
	}
	s.backoff.Reset()

	s.resync(ctx)

	for {
		var f realtime.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		if s.rec.HandleFrame(f) && s.cfg.OnApply != nil {
			s.cfg.OnApply()
		}
	}
}

// join sends the principal and waits for the server's acknowledgment.
func (s *Session) join(ctx context.Context, conn *websocket.Conn) error {
	joinCtx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	defer cancel()

	p := s.rec.Principal()
	frame, err := realtime.NewFrame(realtime.EventJoin, p)
	if err != nil {
		return err
	}
	if err := wsjson.Write(joinCtx, conn, frame); err != nil {
		return fmt.Errorf("sending join: %w", err)
	}

	for {
		var resp realtime.Frame
		if err := wsjson.Read(joinCtx, conn, &resp); err != nil {
			return fmt.Errorf("waiting for join ack: %w", err)
		}
		switch resp.Event {
		case realtime.EventJoined:
			var ack realtime.JoinAck
			_ = resp.Decode(&ack)
			slog.Info("joined channel", "channel", string(ack.Channel), "user_id", p.UserID)
			return nil
		case realtime.EventError:
			var e realtime.ErrorData
			_ = resp.Decode(&e)
			return fmt.Errorf("join rejected: %s", e.Message)
		default:
			// The server registers the connection before queueing the ack, so
			// a publish can land first.
			if s.rec.HandleFrame(resp) && s.cfg.OnApply != nil {
				s.cfg.OnApply()
			}
		}
	}
}

// resync replaces the local view with server truth. Failure leaves the
// view stale until the next reconnect.
func (s *Session) resync(ctx context.Context) {
	if s.source == nil {
		return
	}
	snap, err := s.source.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("state refetch failed", "error", err)
		}
		return
	}
	s.rec.Replace(snap)
}
