package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnknownConn is returned when a connection id is not registered.
var ErrUnknownConn = errors.New("unknown connection")

type member struct {
	conn  Conn
	entry Entry
}

// Registry manages connection registration and role ownership.
// All mutations are serialized by mu; sends happen outside the lock.
type Registry struct {
	mu sync.RWMutex

	conns  map[string]*member
	boss   string
	tool   string
	guests map[string]map[string]struct{}

	onBossLost func(Entry)
	logger     *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*member),
		guests: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// OnBossLost sets the callback run when the boss connection disconnects.
// It runs after the registry lock is released.
func (r *Registry) OnBossLost(fn func(Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onBossLost = fn
}

// Register adds an unassigned connection.
func (r *Registry) Register(conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, exists := r.conns[id]; exists {
		return fmt.Errorf("connection %s already registered", id)
	}
	r.conns[id] = &member{conn: conn, entry: Entry{ConnID: id, Role: RoleUnassigned}}
	return nil
}

// Unregister removes a connection. It is the only place a disconnect decides
// role loss: when the connection was the boss, the boss slot becomes empty
// and the OnBossLost callback runs.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	r.mu.Lock()
	m, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return Entry{}, false
	}
	entry := m.entry
	r.detach(m)
	delete(r.conns, connID)
	hook := r.onBossLost
	r.mu.Unlock()

	if entry.Role == RoleBoss && hook != nil {
		hook(entry)
	}
	return entry, true
}

// ClaimRole binds a connection to role. A boss or tool claim always wins:
// the previous holder is demoted to unassigned and told so. A guest claim
// binds the connection to guestID; several connections may share one guest.
func (r *Registry) ClaimRole(connID string, role Role, guestID string) (Entry, error) {
	switch role {
	case RoleUnassigned, RoleBoss, RoleTool, RoleGuest:
	default:
		return Entry{}, fmt.Errorf("unknown role %q", role)
	}
	if role == RoleGuest && guestID == "" {
		return Entry{}, errors.New("guest role requires a guest id")
	}

	r.mu.Lock()
	m, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return Entry{}, fmt.Errorf("claiming %s for %s: %w", role, connID, ErrUnknownConn)
	}

	r.detach(m)

	var demoted *member
	switch role {
	case RoleBoss:
		demoted = r.demote(r.boss, connID)
		r.boss = connID
	case RoleTool:
		demoted = r.demote(r.tool, connID)
		r.tool = connID
	case RoleGuest:
		set, exists := r.guests[guestID]
		if !exists {
			set = make(map[string]struct{})
			r.guests[guestID] = set
		}
		set[connID] = struct{}{}
	case RoleUnassigned:
	}

	m.entry.Role = role
	m.entry.GuestID = ""
	if role == RoleGuest {
		m.entry.GuestID = guestID
	}
	entry := m.entry
	r.mu.Unlock()

	if demoted != nil {
		r.logger.Info("connection role taken over",
			"role", role, "previous", demoted.entry.ConnID, "current", connID)
		if err := demoted.conn.Send(Event{Type: EventRoleRevoked, Payload: map[string]string{"role": string(role)}}); err != nil {
			r.logger.Debug("notifying demoted connection", "conn_id", demoted.entry.ConnID, "error", err)
		}
	}
	return entry, nil
}

// Broadcast sends ev to every connection matching target and returns the
// number of successful deliveries. A failed send does not stop the fan-out.
func (r *Registry) Broadcast(target Target, ev Event) int {
	recipients := r.recipients(target)

	delivered := 0
	for _, c := range recipients {
		if err := c.Send(ev); err != nil {
			r.logger.Debug("delivering event", "event", ev.Type, "conn_id", c.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// CurrentBoss returns the boss connection id, if any.
func (r *Registry) CurrentBoss() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.boss, r.boss != ""
}

// CurrentTool returns the tool connection id, if any.
func (r *Registry) CurrentTool() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tool, r.tool != ""
}

// Entry returns the registry entry for a connection.
func (r *Registry) Entry(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[connID]
	if !ok {
		return Entry{}, false
	}
	return m.entry, true
}

// Counts returns the number of connections per role.
func (r *Registry) Counts() map[Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[Role]int{RoleUnassigned: 0, RoleBoss: 0, RoleTool: 0, RoleGuest: 0}
	for _, m := range r.conns {
		counts[m.entry.Role]++
	}
	return counts
}

// Close closes every registered connection and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, m := range r.conns {
		conns = append(conns, m.conn)
	}
	r.conns = make(map[string]*member)
	r.guests = make(map[string]map[string]struct{})
	r.boss, r.tool = "", ""
	r.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %w", errors.Join(errs...))
	}
	return nil
}

func (r *Registry) recipients(target Target) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	switch {
	case target.single:
		if target.guestID == "" {
			return nil
		}
		for id := range r.guests[target.guestID] {
			ids = append(ids, id)
		}
	case target.role == RoleBoss:
		if r.boss != "" {
			ids = append(ids, r.boss)
		}
	case target.role == RoleTool:
		if r.tool != "" {
			ids = append(ids, r.tool)
		}
	default:
		for id, m := range r.conns {
			if m.entry.Role == target.role {
				ids = append(ids, id)
			}
		}
	}

	conns := make([]Conn, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.conns[id]; ok {
			conns = append(conns, m.conn)
		}
	}
	return conns
}

// detach removes m from whatever role it holds. The caller holds mu.
func (r *Registry) detach(m *member) {
	id := m.entry.ConnID
	switch m.entry.Role {
	case RoleBoss:
		if r.boss == id {
			r.boss = ""
		}
	case RoleTool:
		if r.tool == id {
			r.tool = ""
		}
	case RoleGuest:
		if set, ok := r.guests[m.entry.GuestID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.guests, m.entry.GuestID)
			}
		}
	case RoleUnassigned:
	}
	m.entry.Role = RoleUnassigned
	m.entry.GuestID = ""
}

// demote resets the current holder of a single-holder role. The caller holds mu.
func (r *Registry) demote(holder, claimant string) *member {
	if holder == "" || holder == claimant {
		return nil
	}
	prev, ok := r.conns[holder]
	if !ok {
		return nil
	}
	prev.entry.Role = RoleUnassigned
	prev.entry.GuestID = ""
	return prev
}

// Verify interface compliance.
var _ Broadcaster = (*Registry)(nil)
