// Package api provides the JSON request surface for guests, operators and
// the automation tool.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/txn2/karaoke-live/pkg/auth"
	khttp "github.com/txn2/karaoke-live/pkg/http"
	"github.com/txn2/karaoke-live/pkg/live"
	"github.com/txn2/karaoke-live/pkg/reorder"
	"github.com/txn2/karaoke-live/pkg/session"
)

const (
	pathParamID          = "id"
	pathParamSessionGUID = "session_guid"
	pathParamGuestID     = "guest_id"
	pathParamLipID       = "lip_id"

	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 64 << 10
)

// Service is the subset of live.Service the handlers call.
type Service interface {
	GuestJoin(ctx context.Context, sessionGUID, guestID string) (*live.GuestView, error)
	GuestSubmit(ctx context.Context, sub live.Submission) (*session.Lip, error)
	GuestWithdraw(ctx context.Context, w live.Withdrawal) (*session.Lip, error)

	ActiveLips() ([]session.Lip, error)
	GetLip(ctx context.Context, id int64) (*session.Lip, error)
	ListLips(ctx context.Context, sessionID int64) ([]session.Lip, error)
	CreateLip(ctx context.Context, in live.LipInput) (*session.Lip, error)
	Move(ctx context.Context, m reorder.Move) (*reorder.Result, error)
	DeleteLip(ctx context.Context, id int64, message string) (*session.Lip, error)

	ListSessions(ctx context.Context) ([]session.Session, error)
	GetSession(ctx context.Context, id int64) (*session.Session, error)
	CreateSession(ctx context.Context, sess *session.Session) error
	UpdateSession(ctx context.Context, sess *session.Session) error
	DeleteSession(ctx context.Context, id int64) error

	Status() live.StatusView
	SetRunning(ctx context.Context, running bool) (live.StatusView, error)
	Advance(ctx context.Context) int
	ToolAddress() string
	SetToolAddress(ctx context.Context, address string) error
}

// Config configures a Handler.
type Config struct {
	Service Service

	// Authenticator validates operator and tool credentials. Nil rejects
	// every protected route.
	Authenticator auth.Authenticator

	Logger *slog.Logger
}

// Handler serves the /api/v1 routes.
type Handler struct {
	mux    *http.ServeMux
	svc    Service
	authn  auth.Authenticator
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.NewChainedAuthenticator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		mux:    http.NewServeMux(),
		svc:    cfg.Service,
		authn:  cfg.Authenticator,
		logger: cfg.Logger,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes.
func (h *Handler) registerRoutes() {
	// Guests carry no credentials; the session GUID and guest id gate them.
	h.mux.HandleFunc("GET /api/v1/guest/{session_guid}", h.guestJoin)
	h.mux.HandleFunc("GET /api/v1/guest/{session_guid}/{guest_id}", h.guestJoin)
	h.mux.HandleFunc("POST /api/v1/guest/{session_guid}/{guest_id}/lips", h.guestSubmit)
	h.mux.HandleFunc("DELETE /api/v1/guest/{session_guid}/{guest_id}/lips/{lip_id}", h.guestWithdraw)
	h.mux.HandleFunc("GET /api/v1/lips", h.activeLips)
	h.mux.HandleFunc("GET /api/v1/lips/{id}", h.getLip)

	operator := khttp.RequireRole(h.authn, auth.RoleOperator)
	h.mux.Handle("GET /api/v1/sessions", operator(http.HandlerFunc(h.listSessions)))
	h.mux.Handle("POST /api/v1/sessions", operator(http.HandlerFunc(h.createSession)))
	h.mux.Handle("GET /api/v1/sessions/{id}", operator(http.HandlerFunc(h.getSession)))
	h.mux.Handle("PUT /api/v1/sessions/{id}", operator(http.HandlerFunc(h.updateSession)))
	h.mux.Handle("DELETE /api/v1/sessions/{id}", operator(http.HandlerFunc(h.deleteSession)))
	h.mux.Handle("GET /api/v1/sessions/{id}/lips", operator(http.HandlerFunc(h.sessionLips)))
	h.mux.Handle("POST /api/v1/lips", operator(http.HandlerFunc(h.createLip)))
	h.mux.Handle("PUT /api/v1/lips", operator(http.HandlerFunc(h.moveLip)))
	h.mux.Handle("DELETE /api/v1/lips/{id}", operator(http.HandlerFunc(h.deleteLip)))
	h.mux.Handle("GET /api/v1/live", operator(http.HandlerFunc(h.liveStatus)))
	h.mux.Handle("POST /api/v1/live/run", operator(http.HandlerFunc(h.run)))
	h.mux.Handle("POST /api/v1/live/pause", operator(http.HandlerFunc(h.pause)))

	tool := khttp.RequireRole(h.authn, auth.RoleTool, auth.RoleOperator)
	h.mux.Handle("POST /api/v1/tool/advance", tool(http.HandlerFunc(h.advance)))
	h.mux.Handle("GET /api/v1/tool/auto-address", tool(http.HandlerFunc(h.toolAddress)))
	h.mux.Handle("POST /api/v1/tool/auto-address", tool(http.HandlerFunc(h.setToolAddress)))
}
