package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/btouchard/switchboard/internal/model"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
	defaultJoinTimeout  = 10 * time.Second
	maxFrameSize        = 64 << 10
)

// PrincipalFunc returns the authenticated identity behind an upgrade request.
type PrincipalFunc func(r *http.Request) (model.Principal, error)

// GatewayConfig tunes the websocket endpoint.
type GatewayConfig struct {
	// Principal authenticates the upgrade request. Requests it rejects, and
	// every request when it is nil, get 401 before any upgrade.
	Principal PrincipalFunc

	// ClientOrigin is the permitted cross-origin client address.
	// Empty means same-origin only.
	ClientOrigin string
	SendBuffer   int
	WriteTimeout time.Duration
	// JoinTimeout closes connections that have not joined in time.
	JoinTimeout time.Duration
}

// Gateway accepts websocket connections and drives registry membership
// from their lifecycle: join frames add them, disconnects remove them.
type Gateway struct {
	registry *Registry
	metrics  *Metrics
	cfg      GatewayConfig
	origins  []string
}

// NewGateway creates the websocket endpoint over reg.
func NewGateway(reg *Registry, metrics *Metrics, cfg GatewayConfig) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Gateway{
		registry: reg,
		metrics:  metrics,
		cfg:      cfg,
		origins:  OriginPatterns(cfg.ClientOrigin),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := g.authenticate(r)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "authentication required"})
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(g.origins) > 0 {
		opts.OriginPatterns = g.origins
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Debug("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newWSConn(model.NewID(), g.cfg.SendBuffer)
	conn.principal = principal
	g.metrics.TotalConnections.Add(1)
	g.metrics.ActiveConnections.Add(1)
	slog.Debug("connection opened", "conn_id", conn.id, "remote", r.RemoteAddr)

	defer func() {
		// Leave before anything else so no later publish targets this conn.
		g.registry.Leave(conn.id)
		conn.close()
		g.metrics.ActiveConnections.Add(-1)
		_ = ws.Close(websocket.StatusNormalClosure, "closed")
		slog.Debug("connection closed", "conn_id", conn.id)
	}()

	joinDeadline := time.AfterFunc(g.cfg.JoinTimeout, func() {
		if !conn.joined.Load() {
			slog.Debug("closing connection that never joined", "conn_id", conn.id)
			cancel()
		}
	})
	defer joinDeadline.Stop()

	go g.writeLoop(ctx, cancel, ws, conn)
	g.readLoop(ctx, ws, conn)
}

func (g *Gateway) authenticate(r *http.Request) (model.Principal, bool) {
	if g.cfg.Principal == nil {
		return model.Principal{}, false
	}
	p, err := g.cfg.Principal(r)
	if err != nil {
		slog.Debug("websocket upgrade unauthenticated", "remote", r.RemoteAddr, "error", err)
		return model.Principal{}, false
	}
	return p, true
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn *wsConn) {
	for {
		var f Frame
		if err := wsjson.Read(ctx, ws, &f); err != nil {
			return
		}
		g.handleFrame(conn, f)
	}
}

// handleFrame dispatches a client frame on its event tag. A join always
// uses the authenticated principal; an explicit payload must name it.
func (g *Gateway) handleFrame(conn *wsConn, f Frame) {
	switch f.Event {
	case EventJoin:
		var p model.Principal
		if len(f.Data) > 0 {
			if err := f.Decode(&p); err != nil {
				g.reject(conn, "invalid join payload")
				return
			}
		}
		if p != (model.Principal{}) && p != conn.principal {
			slog.Warn("join does not match authenticated user",
				"conn_id", conn.id,
				"user_id", conn.principal.UserID,
				"requested_role", string(p.Role),
				"requested_user_id", p.UserID)
			g.reject(conn, "join does not match the authenticated user")
			return
		}
		p = conn.principal
		if !p.Role.Valid() || p.UserID == "" {
			g.reject(conn, "join requires a role and a user id")
			return
		}
		ch := g.registry.Join(conn, p)
		conn.joined.Store(true)
		slog.Debug("connection joined", "conn_id", conn.id, "channel", ch)

		ack, _ := NewFrame(EventJoined, JoinAck{Channel: ch})
		conn.Send(ack)
	default:
		slog.Debug("ignoring client frame", "conn_id", conn.id, "event", f.Event)
	}
}

func (g *Gateway) reject(conn *wsConn, msg string) {
	f, _ := NewFrame(EventError, ErrorData{Message: msg})
	conn.Send(f)
}

func (g *Gateway) writeLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, conn *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.done:
			return
		case f := <-conn.out:
			writeCtx, cancelWrite := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := wsjson.Write(writeCtx, ws, f)
			cancelWrite()
			if err != nil {
				slog.Debug("connection write failed", "conn_id", conn.id, "error", err)
				cancel()
				return
			}
		}
	}
}

// wsConn is the registry-facing side of a websocket connection: a bounded
// FIFO queue drained by the connection's writer goroutine.
type wsConn struct {
	id        string
	principal model.Principal
	joined    atomic.Bool
	out       chan Frame
	done      chan struct{}
	once      sync.Once
}

func newWSConn(id string, buffer int) *wsConn {
	return &wsConn{
		id:   id,
		out:  make(chan Frame, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues f without blocking. A full queue or closed connection drops it.
func (c *wsConn) Send(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

// OriginPatterns converts a comma separated list of client origins into
// host patterns for websocket origin checks.
func OriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if u, err := url.Parse(p); err == nil && u.Host != "" {
			p = u.Host
		}
		out = append(out, p)
	}
	return out
}
