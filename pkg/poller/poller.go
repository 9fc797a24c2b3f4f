// Package poller detects the active session from storage and keeps the live
// snapshot in step with it.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/karaoke-live/pkg/live"
	"github.com/txn2/karaoke-live/pkg/metrics"
	"github.com/txn2/karaoke-live/pkg/registry"
	"github.com/txn2/karaoke-live/pkg/session"
)

// DefaultInterval is the time between two ticks.
const DefaultInterval = 60 * time.Second

// Config configures a Poller.
type Config struct {
	Store       session.Store
	State       *live.State
	Broadcaster registry.Broadcaster
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// Interval between ticks. Defaults to DefaultInterval.
	Interval time.Duration

	// StorageTimeout bounds the storage calls of one tick.
	StorageTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Poller runs the session detection loop.
type Poller struct {
	store       session.Store
	state       *live.State
	broadcaster registry.Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
	interval    time.Duration
	timeout     time.Duration
	now         func() time.Time

	trigger chan struct{}

	// tickMu serializes Tick between the loop and direct callers.
	tickMu sync.Mutex

	// runMu serializes Start and Stop so one loop runs at a time.
	runMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// current is the poller whose loop runs in this process. Starting a poller
// stops any other.
var (
	currentMu sync.Mutex
	current   *Poller
)

// New creates a Poller. It does not start the loop.
func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = live.DefaultStorageTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		store:       cfg.Store,
		state:       cfg.State,
		broadcaster: cfg.Broadcaster,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "poller"),
		interval:    cfg.Interval,
		timeout:     cfg.StorageTimeout,
		now:         cfg.Now,
		trigger:     make(chan struct{}, 1),
	}
}

// Start runs the loop in the background, ticking immediately and then every
// interval. A loop already started by this or any other poller is stopped
// first.
func (p *Poller) Start(ctx context.Context) {
	currentMu.Lock()
	prev := current
	current = p
	currentMu.Unlock()

	if prev != nil && prev != p {
		prev.halt()
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.stopLoop()

	// A concurrent Start of another poller may have taken over.
	currentMu.Lock()
	owner := current == p
	currentMu.Unlock()
	if !owner {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(loopCtx, done)
	p.logger.Info("session poller started", "interval", p.interval)
}

// Stop cancels the loop and waits for it to exit. It is safe to call Stop
// on a poller that was never started.
func (p *Poller) Stop() {
	p.halt()

	currentMu.Lock()
	if current == p {
		current = nil
	}
	currentMu.Unlock()
}

func (p *Poller) halt() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	p.stopLoop()
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Trigger requests an immediate tick. Requests made while one is pending
// are coalesced.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Poller) stopLoop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		_ = p.Tick(ctx)
		timer.Reset(p.interval)
	}
}

// Tick runs one detection pass. A storage error leaves the snapshot as it
// was and is returned.
func (p *Poller) Tick(ctx context.Context) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.store.FindActiveSessions(sctx, p.now())
	if err != nil {
		return p.fail("find_active_sessions", err)
	}

	cur := p.state.Load()
	if len(rows) == 0 {
		if cur == nil {
			p.metrics.PollTick(metrics.PollUnchanged)
			return nil
		}
		p.end(cur)
		return nil
	}

	chosen := pick(rows)
	if len(rows) > 1 {
		ids := make([]int64, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		p.logger.Warn("more than one active session", "session_ids", ids, "chosen", chosen.ID)
		p.metrics.PollTick(metrics.PollAnomaly)
	}

	if cur != nil && cur.ID() == chosen.ID {
		p.metrics.PollTick(metrics.PollUnchanged)
		return nil
	}

	lips, err := p.store.ListLips(sctx, session.LipFilter{SessionID: chosen.ID})
	if err != nil {
		return p.fail("list_lips", err)
	}

	chosen.IsRunning = false
	snap := live.NewSnapshot(chosen, lips)
	p.state.Swap(snap)

	n := live.AnnounceStarted(p.broadcaster, snap)
	p.metrics.Broadcast(live.EventSessionStarted, n)
	p.metrics.PollTick(metrics.PollStarted)
	p.metrics.SetActiveSession(chosen.ID)
	p.logger.Info("session started",
		"session_id", chosen.ID, "lips", len(lips), "guests", len(snap.Guests()), "delivered", n)
	return nil
}

func (p *Poller) end(cur *live.Snapshot) {
	old := p.state.ClearIf(cur.ID())
	if old == nil {
		p.metrics.PollTick(metrics.PollUnchanged)
		return
	}
	n := live.AnnounceEnded(p.broadcaster, old.Session())
	p.metrics.Broadcast(live.EventSessionEnded, n)
	p.metrics.PollTick(metrics.PollEnded)
	p.metrics.SetActiveSession(0)
	p.logger.Info("session ended", "session_id", old.ID(), "delivered", n)
}

func (p *Poller) fail(op string, err error) error {
	p.metrics.PollTick(metrics.PollError)
	p.metrics.StorageError(op)
	p.logger.Warn("poll failed, keeping current session", "operation", op, "error", err)
	return fmt.Errorf("polling active session: %s: %w", op, err)
}

// pick returns the session with the latest start, ties broken by highest id.
func pick(rows []session.Session) session.Session {
	best := rows[0]
	for _, r := range rows[1:] {
		if r.StartTime.After(best.StartTime) || (r.StartTime.Equal(best.StartTime) && r.ID > best.ID) {
			best = r
		}
	}
	return best
}
