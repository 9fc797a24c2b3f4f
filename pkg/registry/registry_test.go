package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

const (
	regTestGuest = "guest-1"
	regTestEvent = "session.started"
)

// mockConn records events it receives.
type mockConn struct {
	id      string
	mu      sync.Mutex
	events  []Event
	sendErr error
	closed  bool
}

func newMockConn(id string) *mockConn { return &mockConn{id: id} }

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) received() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func newTestRegistry(t *testing.T, conns ...*mockConn) *Registry {
	t.Helper()
	reg := NewRegistry(nil)
	for _, c := range conns {
		if err := reg.Register(c); err != nil {
			t.Fatalf("Register(%s) error = %v", c.id, err)
		}
	}
	return reg
}

func TestRegistry_RegisterStartsUnassigned(t *testing.T) {
	reg := newTestRegistry(t, newMockConn("a"))

	entry, ok := reg.Entry("a")
	if !ok {
		t.Fatal("Entry() returned false")
	}
	if entry.Role != RoleUnassigned {
		t.Errorf("Role = %q, want %q", entry.Role, RoleUnassigned)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	conn := newMockConn("a")
	reg := newTestRegistry(t, conn)

	if err := reg.Register(conn); err == nil {
		t.Error("Register() expected error for duplicate")
	}
}

func TestRegistry_BossClaimDemotesPreviousHolder(t *testing.T) {
	a, b := newMockConn("a"), newMockConn("b")
	reg := newTestRegistry(t, a, b)

	if _, err := reg.ClaimRole("a", RoleBoss, ""); err != nil {
		t.Fatalf("ClaimRole(a) error = %v", err)
	}
	if _, err := reg.ClaimRole("b", RoleBoss, ""); err != nil {
		t.Fatalf("ClaimRole(b) error = %v", err)
	}

	entry, _ := reg.Entry("a")
	if entry.Role != RoleUnassigned {
		t.Errorf("a.Role = %q, want %q", entry.Role, RoleUnassigned)
	}
	boss, ok := reg.CurrentBoss()
	if !ok || boss != "b" {
		t.Errorf("CurrentBoss() = %q, %v, want b, true", boss, ok)
	}

	events := a.received()
	if len(events) != 1 || events[0].Type != EventRoleRevoked {
		t.Errorf("a received %v, want one %s event", events, EventRoleRevoked)
	}
	if len(b.received()) != 0 {
		t.Error("new boss should not be notified")
	}
}

func TestRegistry_ToolClaimIndependentOfBoss(t *testing.T) {
	reg := newTestRegistry(t, newMockConn("boss"), newMockConn("tool"))

	_, _ = reg.ClaimRole("boss", RoleBoss, "")
	_, _ = reg.ClaimRole("tool", RoleTool, "")

	if id, _ := reg.CurrentBoss(); id != "boss" {
		t.Errorf("CurrentBoss() = %q", id)
	}
	if id, _ := reg.CurrentTool(); id != "tool" {
		t.Errorf("CurrentTool() = %q", id)
	}

	// Switching the boss connection to tool vacates the boss slot.
	_, _ = reg.ClaimRole("boss", RoleTool, "")
	if _, ok := reg.CurrentBoss(); ok {
		t.Error("boss slot should be empty")
	}
	if id, _ := reg.CurrentTool(); id != "boss" {
		t.Errorf("CurrentTool() = %q, want boss", id)
	}
}

func TestRegistry_GuestFanOut(t *testing.T) {
	tab1, tab2, other := newMockConn("tab1"), newMockConn("tab2"), newMockConn("other")
	reg := newTestRegistry(t, tab1, tab2, other)

	for _, id := range []string{"tab1", "tab2"} {
		if _, err := reg.ClaimRole(id, RoleGuest, regTestGuest); err != nil {
			t.Fatalf("ClaimRole(%s) error = %v", id, err)
		}
	}
	_, _ = reg.ClaimRole("other", RoleGuest, "guest-2")

	n := reg.Broadcast(ToGuest(regTestGuest), Event{Type: "lip.updated"})
	if n != 2 {
		t.Errorf("Broadcast() = %d, want 2", n)
	}
	if len(other.received()) != 0 {
		t.Error("other guest should not receive the event")
	}

	if n := reg.Broadcast(ToRole(RoleGuest), Event{Type: regTestEvent}); n != 3 {
		t.Errorf("Broadcast(all guests) = %d, want 3", n)
	}
}

func TestRegistry_EmptyGuestTargetReachesNobody(t *testing.T) {
	a, b := newMockConn("a"), newMockConn("b")
	reg := newTestRegistry(t, a, b)
	_, _ = reg.ClaimRole("a", RoleGuest, regTestGuest)
	_, _ = reg.ClaimRole("b", RoleGuest, "guest-2")

	if n := reg.Broadcast(ToGuest(""), Event{Type: "lip.updated"}); n != 0 {
		t.Errorf("Broadcast(ToGuest(\"\")) = %d, want 0", n)
	}
	if len(a.received())+len(b.received()) != 0 {
		t.Error("no guest should receive an event addressed to an empty guest id")
	}
	if got := ToGuest("").String(); got != "guest:" {
		t.Errorf("String() = %q, want guest:", got)
	}
}

func TestRegistry_GuestClaimRequiresID(t *testing.T) {
	reg := newTestRegistry(t, newMockConn("a"))

	if _, err := reg.ClaimRole("a", RoleGuest, ""); err == nil {
		t.Error("ClaimRole() expected error without guest id")
	}
	if _, err := reg.ClaimRole("a", Role("admin"), ""); err == nil {
		t.Error("ClaimRole() expected error for unknown role")
	}
	if _, err := reg.ClaimRole("missing", RoleBoss, ""); !errors.Is(err, ErrUnknownConn) {
		t.Errorf("ClaimRole() error = %v, want ErrUnknownConn", err)
	}
}

func TestRegistry_UnregisterBoss(t *testing.T) {
	reg := newTestRegistry(t, newMockConn("boss"))

	var lost []Entry
	reg.OnBossLost(func(e Entry) { lost = append(lost, e) })

	_, _ = reg.ClaimRole("boss", RoleBoss, "")
	entry, ok := reg.Unregister("boss")
	if !ok || entry.Role != RoleBoss {
		t.Fatalf("Unregister() = %+v, %v", entry, ok)
	}
	if _, ok := reg.CurrentBoss(); ok {
		t.Error("boss slot should be empty after disconnect")
	}
	if len(lost) != 1 || lost[0].ConnID != "boss" {
		t.Errorf("OnBossLost calls = %v", lost)
	}

	if _, ok := reg.Unregister("boss"); ok {
		t.Error("second Unregister() should report false")
	}
}

func TestRegistry_UnregisterDemotedBossDoesNotFireHook(t *testing.T) {
	reg := newTestRegistry(t, newMockConn("a"), newMockConn("b"))

	calls := 0
	reg.OnBossLost(func(Entry) { calls++ })

	_, _ = reg.ClaimRole("a", RoleBoss, "")
	_, _ = reg.ClaimRole("b", RoleBoss, "")
	reg.Unregister("a")

	if calls != 0 {
		t.Errorf("OnBossLost calls = %d, want 0", calls)
	}
	if id, _ := reg.CurrentBoss(); id != "b" {
		t.Errorf("CurrentBoss() = %q, want b", id)
	}
}

func TestRegistry_UnregisterGuest(t *testing.T) {
	reg := newTestRegistry(t, newMockConn("tab1"))
	_, _ = reg.ClaimRole("tab1", RoleGuest, regTestGuest)
	reg.Unregister("tab1")

	if n := reg.Broadcast(ToGuest(regTestGuest), Event{Type: regTestEvent}); n != 0 {
		t.Errorf("Broadcast() = %d, want 0", n)
	}
}

func TestRegistry_BroadcastSkipsFailedSends(t *testing.T) {
	good, bad := newMockConn("good"), newMockConn("bad")
	bad.sendErr = errors.New("broken pipe")
	reg := newTestRegistry(t, good, bad)
	_, _ = reg.ClaimRole("good", RoleGuest, "g1")
	_, _ = reg.ClaimRole("bad", RoleGuest, "g2")

	if n := reg.Broadcast(ToRole(RoleGuest), Event{Type: regTestEvent}); n != 1 {
		t.Errorf("Broadcast() = %d, want 1", n)
	}
	if len(good.received()) != 1 {
		t.Error("good connection should still receive the event")
	}
}

func TestRegistry_Counts(t *testing.T) {
	reg := newTestRegistry(t, newMockConn("a"), newMockConn("b"), newMockConn("c"), newMockConn("d"))
	_, _ = reg.ClaimRole("a", RoleBoss, "")
	_, _ = reg.ClaimRole("b", RoleGuest, "g")
	_, _ = reg.ClaimRole("c", RoleGuest, "g")

	counts := reg.Counts()
	want := map[Role]int{RoleBoss: 1, RoleGuest: 2, RoleTool: 0, RoleUnassigned: 1}
	for role, n := range want {
		if counts[role] != n {
			t.Errorf("Counts()[%s] = %d, want %d", role, counts[role], n)
		}
	}
}

func TestRegistry_Close(t *testing.T) {
	a, b := newMockConn("a"), newMockConn("b")
	reg := newTestRegistry(t, a, b)
	_, _ = reg.ClaimRole("a", RoleBoss, "")

	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close() should close every connection")
	}
	if _, ok := reg.CurrentBoss(); ok {
		t.Error("boss slot should be empty after Close")
	}
}

func TestRegistry_ConcurrentClaims(t *testing.T) {
	reg := NewRegistry(nil)
	const n = 50

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_ = reg.Register(newMockConn(id))
			_, _ = reg.ClaimRole(id, RoleBoss, "")
			if i%2 == 0 {
				reg.Unregister(id)
			}
		}()
	}
	wg.Wait()

	counts := reg.Counts()
	if counts[RoleBoss] > 1 {
		t.Errorf("Counts()[boss] = %d, want at most 1", counts[RoleBoss])
	}
	if id, ok := reg.CurrentBoss(); ok {
		if entry, _ := reg.Entry(id); entry.Role != RoleBoss {
			t.Errorf("CurrentBoss() %s has role %s", id, entry.Role)
		}
	}
}
