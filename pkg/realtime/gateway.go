// Package realtime serves the WebSocket endpoint that binds browser and
// device connections to the registry.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/txn2/karaoke-live/pkg/audit"
	"github.com/txn2/karaoke-live/pkg/auth"
	"github.com/txn2/karaoke-live/pkg/live"
	"github.com/txn2/karaoke-live/pkg/metrics"
	"github.com/txn2/karaoke-live/pkg/registry"
)

// Inbound frame types.
const (
	FrameGuestJoin   = "guest.join"
	FrameBossJoin    = "boss.join"
	FrameToolJoin    = "tool.join"
	FrameBossRun     = "boss.run"
	FrameBossPause   = "boss.pause"
	FrameToolAdvance = "tool.advance"
)

// Reply frame types.
const (
	FrameGuestJoined = "guest.joined"
	FrameBossJoined  = "boss.joined"
	FrameToolJoined  = "tool.joined"
	FrameError       = "error"
)

const (
	// DefaultMaxFrameBytes bounds inbound frames.
	DefaultMaxFrameBytes = 16 << 10

	// DefaultWriteTimeout bounds one outbound frame write.
	DefaultWriteTimeout = 10 * time.Second

	maxDecodeErrors = 3
)

// Service is the subset of live.Service the gateway calls.
type Service interface {
	BossJoin(connID string) (live.BossView, error)
	ToolJoin(connID string) (live.StatusView, error)
	GuestConnect(connID, guestID string) (*live.PublicSession, error)
	SetRunning(ctx context.Context, running bool) (live.StatusView, error)
	Advance(ctx context.Context) int
}

// Registry is the subset of registry.Registry the gateway calls.
type Registry interface {
	Register(conn registry.Conn) error
	Unregister(connID string) (registry.Entry, bool)
	Entry(connID string) (registry.Entry, bool)
	Counts() map[registry.Role]int
}

// Config configures a Gateway.
type Config struct {
	Service  Service
	Registry Registry

	// Authenticator verifies boss and tool tokens. Nil rejects every claim.
	Authenticator auth.Authenticator

	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	MaxFrameBytes int

	// WriteTimeout bounds each outbound write. Defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Gateway accepts WebSocket connections at /ws.
type Gateway struct {
	svc      Service
	reg      Registry
	authn    auth.Authenticator
	metrics  *metrics.Metrics
	logger   *slog.Logger
	maxFrame int
	wtimeout time.Duration
}

// NewGateway creates a Gateway.
func NewGateway(cfg Config) *Gateway {
	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.NewChainedAuthenticator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Gateway{
		svc:      cfg.Service,
		reg:      cfg.Registry,
		authn:    cfg.Authenticator,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		maxFrame: cfg.MaxFrameBytes,
		wtimeout: cfg.WriteTimeout,
	}
}

// frame is an inbound message.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type guestJoinPayload struct {
	GuestID string `json:"guest_id"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

type guestJoined struct {
	GuestID string              `json:"guest_id"`
	Session *live.PublicSession `json:"session"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeHTTP upgrades GET requests to WebSocket.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	websocket.Handler(g.handle).ServeHTTP(w, r)
}

// peer is the per-connection state of the read loop.
type peer struct {
	conn  *Conn
	ctx   context.Context
	actor string
}

func (g *Gateway) handle(ws *websocket.Conn) {
	ws.MaxPayloadBytes = g.maxFrame
	p := &peer{conn: newConn(uuid.NewString(), ws, g.wtimeout), ctx: ws.Request().Context()}

	if err := g.reg.Register(p.conn); err != nil {
		g.logger.Error("registering connection", "conn_id", p.conn.ID(), "error", err)
		_ = ws.Close()
		return
	}
	g.updateConnections()
	g.logger.Debug("connection opened", "conn_id", p.conn.ID())

	defer func() {
		_ = ws.Close()
		entry, _ := g.reg.Unregister(p.conn.ID())
		g.updateConnections()
		g.logger.Debug("connection closed", "conn_id", p.conn.ID(), "role", entry.Role)
	}()

	decodeErrors := 0
	for {
		var f frame
		if err := websocket.JSON.Receive(ws, &f); err != nil {
			if !recoverable(err) {
				return
			}
			decodeErrors++
			g.reply(p, FrameError, frameError{Code: string(live.CodeInvalidArgument), Message: "invalid frame"})
			if decodeErrors >= maxDecodeErrors {
				return
			}
			continue
		}
		decodeErrors = 0
		g.dispatch(p, f)
	}
}

// recoverable reports whether the read loop can continue after err.
func recoverable(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return false
	}
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.Is(err, websocket.ErrFrameTooLarge) || errors.As(err, &syntax) || errors.As(err, &typ)
}

func (g *Gateway) dispatch(p *peer, f frame) {
	switch f.Type {
	case FrameGuestJoin:
		g.guestJoin(p, f)
	case FrameBossJoin:
		g.bossJoin(p, f)
	case FrameToolJoin:
		g.toolJoin(p, f)
	case FrameBossRun, FrameBossPause:
		g.setRunning(p, f.Type == FrameBossRun)
	case FrameToolAdvance:
		g.advance(p)
	default:
		g.fail(p, live.CodeInvalidArgument, "unsupported frame type")
	}
}

func (g *Gateway) guestJoin(p *peer, f frame) {
	var payload guestJoinPayload
	if err := unmarshalPayload(f, &payload); err != nil {
		g.fail(p, live.CodeInvalidArgument, "invalid guest.join payload")
		return
	}
	guestID := strings.TrimSpace(payload.GuestID)
	sess, err := g.svc.GuestConnect(p.conn.ID(), guestID)
	if err != nil {
		g.failErr(p, err)
		return
	}
	g.updateConnections()
	g.reply(p, FrameGuestJoined, guestJoined{GuestID: guestID, Session: sess})
}

func (g *Gateway) bossJoin(p *peer, f frame) {
	user, ok := g.authenticate(p, f, auth.RoleOperator)
	if !ok {
		return
	}
	view, err := g.svc.BossJoin(p.conn.ID())
	if err != nil {
		g.failErr(p, err)
		return
	}
	p.actor = user.UserID
	g.updateConnections()
	g.logger.Info("boss joined", "conn_id", p.conn.ID(), "user", user.UserID)
	g.reply(p, FrameBossJoined, view)
}

func (g *Gateway) toolJoin(p *peer, f frame) {
	user, ok := g.authenticate(p, f, auth.RoleTool, auth.RoleOperator)
	if !ok {
		return
	}
	status, err := g.svc.ToolJoin(p.conn.ID())
	if err != nil {
		g.failErr(p, err)
		return
	}
	p.actor = user.UserID
	g.updateConnections()
	g.logger.Info("tool joined", "conn_id", p.conn.ID(), "user", user.UserID)
	g.reply(p, FrameToolJoined, status)
}

func (g *Gateway) setRunning(p *peer, running bool) {
	if !g.holds(p, registry.RoleBoss) {
		g.fail(p, "forbidden", "boss role required")
		return
	}
	if _, err := g.svc.SetRunning(audit.WithActor(p.ctx, p.actor), running); err != nil {
		g.failErr(p, err)
	}
}

func (g *Gateway) advance(p *peer) {
	if !g.holds(p, registry.RoleTool) {
		g.fail(p, "forbidden", "tool role required")
		return
	}
	g.svc.Advance(p.ctx)
}

// authenticate verifies the token in f against roles.
func (g *Gateway) authenticate(p *peer, f frame, roles ...string) (*auth.UserInfo, bool) {
	var payload tokenPayload
	if err := unmarshalPayload(f, &payload); err != nil || payload.Token == "" {
		g.fail(p, "unauthorized", "token is required")
		return nil, false
	}
	user, err := g.authn.Authenticate(auth.WithToken(p.ctx, payload.Token))
	if err != nil || user == nil {
		g.logger.Warn("rejected role claim", "conn_id", p.conn.ID(), "frame", f.Type, "error", err)
		g.fail(p, "unauthorized", "invalid credentials")
		return nil, false
	}
	if !user.HasAnyRole(roles...) {
		g.fail(p, "forbidden", "role "+strings.Join(roles, " or ")+" required")
		return nil, false
	}
	return user, true
}

func (g *Gateway) holds(p *peer, role registry.Role) bool {
	entry, ok := g.reg.Entry(p.conn.ID())
	return ok && entry.Role == role
}

func (g *Gateway) updateConnections() {
	if g.metrics == nil {
		return
	}
	counts := g.reg.Counts()
	out := make(map[string]int, len(counts))
	for role, n := range counts {
		out[string(role)] = n
	}
	g.metrics.SetConnections(out)
}

func (g *Gateway) reply(p *peer, typ string, payload any) {
	if err := p.conn.Send(registry.Event{Type: typ, Payload: payload}); err != nil {
		g.logger.Debug("writing frame", "conn_id", p.conn.ID(), "type", typ, "error", err)
	}
}

func (g *Gateway) fail(p *peer, code live.Code, message string) {
	g.reply(p, FrameError, frameError{Code: string(code), Message: message})
}

func (g *Gateway) failErr(p *peer, err error) {
	var le *live.Error
	if errors.As(err, &le) {
		g.fail(p, le.Code, le.Message)
		return
	}
	g.logger.Error("frame failed", "conn_id", p.conn.ID(), "error", err)
	g.fail(p, "internal", "internal error")
}

func unmarshalPayload(f frame, v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}
