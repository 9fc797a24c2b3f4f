// Package live coordinates the active karaoke session: the in-memory
// snapshot, guest and moderator operations on the queue, and the events
// pushed to connected participants.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/karaoke-live/pkg/audit"
	"github.com/txn2/karaoke-live/pkg/metrics"
	"github.com/txn2/karaoke-live/pkg/ratelimit"
	"github.com/txn2/karaoke-live/pkg/registry"
	"github.com/txn2/karaoke-live/pkg/repertoire"
	"github.com/txn2/karaoke-live/pkg/session"
)

// Defaults.
const (
	DefaultMaxPendingPerGuest = 3
	DefaultStorageTimeout     = 5 * time.Second
)

// Roles binds connections to roles.
type Roles interface {
	ClaimRole(connID string, role registry.Role, guestID string) (registry.Entry, error)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store       session.Store
	Repertoire  repertoire.Repertoire
	State       *State
	Broadcaster registry.Broadcaster
	Roles       Roles

	// Limiter gates guest mutations. Nil disables rate limiting.
	Limiter ratelimit.Limiter

	Audit   audit.Logger
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// MaxPendingPerGuest caps a guest's idle, staged and live lips.
	MaxPendingPerGuest int

	// StorageTimeout bounds every storage call.
	StorageTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Service implements guest, moderator and tool operations.
type Service struct {
	store       session.Store
	repertoire  repertoire.Repertoire
	state       *State
	broadcaster registry.Broadcaster
	roles       Roles
	limiter     ratelimit.Limiter
	audit       audit.Logger
	metrics     *metrics.Metrics
	logger      *slog.Logger
	maxPending  int
	timeout     time.Duration
	now         func() time.Time

	locks *keyedMutex

	mu          sync.RWMutex
	toolAddress string
	resync      func()
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.State == nil {
		cfg.State = NewState()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NoopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxPendingPerGuest <= 0 {
		cfg.MaxPendingPerGuest = DefaultMaxPendingPerGuest
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:       cfg.Store,
		repertoire:  cfg.Repertoire,
		state:       cfg.State,
		broadcaster: cfg.Broadcaster,
		roles:       cfg.Roles,
		limiter:     cfg.Limiter,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		maxPending:  cfg.MaxPendingPerGuest,
		timeout:     cfg.StorageTimeout,
		now:         cfg.Now,
		locks:       newKeyedMutex(),
	}
}

// State returns the snapshot holder.
func (s *Service) State() *State {
	return s.state
}

// OnSessionChanged registers fn to run after an operator edits or deletes
// the active session. The poller's Trigger is the usual target.
func (s *Service) OnSessionChanged(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resync = fn
}

// broadcast sends ev to target and records the deliveries.
func (s *Service) broadcast(target registry.Target, ev registry.Event) int {
	n := s.broadcaster.Broadcast(target, ev)
	s.metrics.Broadcast(ev.Type, n)
	return n
}

// active returns the current snapshot or ErrNoActiveSession.
func (s *Service) active() (*Snapshot, error) {
	snap := s.state.Load()
	if snap == nil {
		return nil, ErrNoActiveSession
	}
	return snap, nil
}

func (s *Service) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// storageError wraps a storage failure as storage-unavailable.
func (s *Service) storageError(op string, err error) error {
	s.metrics.StorageError(op)
	s.logger.Warn("storage call failed", "operation", op, "error", err)
	return newError(CodeStorageUnavailable, "storage unavailable", fmt.Errorf("%s: %w", op, err))
}

// record writes an audit event for an operator action.
func (s *Service) record(ctx context.Context, ev *audit.Event, err error, start time.Time) {
	ev.WithActor(audit.ActorFromContext(ctx)).WithResult(err, s.now().Sub(start))
	if logErr := s.audit.Log(ctx, *ev); logErr != nil {
		s.logger.Warn("writing audit event", "action", ev.Action, "error", logErr)
	}
}

// HandleBossLost runs when the boss connection disconnects. The boss slot is
// already empty; the session and its running flag are left untouched.
func (s *Service) HandleBossLost(entry registry.Entry) {
	attrs := []any{"conn_id", entry.ConnID}
	if snap := s.state.Load(); snap != nil {
		attrs = append(attrs, "session_id", snap.ID(), "running", snap.Running())
	}
	s.logger.Info("boss disconnected", attrs...)
}

// BossJoin makes connID the boss and returns the current moderator view.
func (s *Service) BossJoin(connID string) (BossView, error) {
	if _, err := s.roles.ClaimRole(connID, registry.RoleBoss, ""); err != nil {
		return BossView{}, fmt.Errorf("claiming boss role: %w", err)
	}
	return NewBossView(s.state.Load()), nil
}

// ToolJoin makes connID the tool and returns the running state, including
// the automation address when one is known.
func (s *Service) ToolJoin(connID string) (StatusView, error) {
	if _, err := s.roles.ClaimRole(connID, registry.RoleTool, ""); err != nil {
		return StatusView{}, fmt.Errorf("claiming tool role: %w", err)
	}
	return s.status(), nil
}

// GuestConnect binds connID to guestID so the guest receives its events.
// It returns the active session, or nil when none is active.
func (s *Service) GuestConnect(connID, guestID string) (*PublicSession, error) {
	if guestID == "" {
		return nil, invalidArgument("guest_id is required")
	}
	if _, err := s.roles.ClaimRole(connID, registry.RoleGuest, guestID); err != nil {
		return nil, fmt.Errorf("claiming guest role: %w", err)
	}
	snap := s.state.Load()
	if snap == nil {
		return nil, nil //nolint:nilnil // no active session is not an error here
	}
	pub := Public(snap.Session())
	return &pub, nil
}

func (s *Service) status() StatusView {
	v := StatusView{Address: s.ToolAddress()}
	if snap := s.state.Load(); snap != nil {
		v.Active = true
		v.SessionID = snap.ID()
		v.IsRunning = snap.Running()
	}
	return v
}

// Status returns the running state of the active session.
func (s *Service) Status() StatusView {
	return s.status()
}

// SetRunning toggles the moderator's running flag on the active session.
// The flag is never persisted. The tool and the boss receive session.status.
func (s *Service) SetRunning(ctx context.Context, running bool) (StatusView, error) {
	start := s.now()
	action := audit.ActionSessionPause
	if running {
		action = audit.ActionSessionRun
	}
	ev := audit.NewEvent(action)

	snap, err := s.active()
	if err != nil {
		s.record(ctx, ev, err, start)
		return StatusView{}, err
	}
	ev.WithTarget(snap.ID(), 0)

	if snap.SetRunning(running) {
		v := s.status()
		s.broadcast(registry.ToRole(registry.RoleTool), registry.Event{Type: EventSessionStatus, Payload: v})
		s.broadcast(registry.ToRole(registry.RoleBoss), registry.Event{Type: EventSessionStatus, Payload: v})
	}
	s.record(ctx, ev, nil, start)
	return s.status(), nil
}

// Advance relays the automation device's advance signal to the boss and tool.
func (s *Service) Advance(_ context.Context) int {
	ev := registry.Event{Type: EventToolNext}
	n := s.broadcast(registry.ToRole(registry.RoleBoss), ev)
	n += s.broadcast(registry.ToRole(registry.RoleTool), ev)
	return n
}

// ToolAddress returns the last address reported by the automation server.
func (s *Service) ToolAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.toolAddress
}

// SetToolAddress stores the automation server's address and pushes it to
// the tool connection.
func (s *Service) SetToolAddress(ctx context.Context, address string) error {
	start := s.now()
	ev := audit.NewEvent(audit.ActionToolAddress).WithParameters(map[string]any{"address": address})
	if address == "" {
		err := invalidArgument("address is required")
		s.record(ctx, ev, err, start)
		return err
	}

	s.mu.Lock()
	s.toolAddress = address
	s.mu.Unlock()

	s.broadcast(registry.ToRole(registry.RoleTool), registry.Event{
		Type:    EventToolConnectAuto,
		Payload: map[string]string{"address": address},
	})
	s.record(ctx, ev, nil, start)
	return nil
}

// endActive clears the snapshot when it belongs to sessionID, announces the
// end and asks for a resync.
func (s *Service) endActive(sessionID int64) {
	old := s.state.ClearIf(sessionID)
	if old == nil {
		return
	}
	s.metrics.SetActiveSession(0)
	n := AnnounceEnded(s.broadcaster, old.Session())
	s.metrics.Broadcast(EventSessionEnded, n)
	s.logger.Info("active session changed by operator", "session_id", sessionID)
	s.triggerResync()
}

func (s *Service) triggerResync() {
	s.mu.RLock()
	resync := s.resync
	s.mu.RUnlock()
	if resync != nil {
		resync()
	}
}
