package monitor

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rdpwake/rdpwake/pkg/monitor/ts"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// nopConn is a net.Conn that does nothing; the prober only opens and
// closes connections.
type nopConn struct{}

func (nopConn) Read(b []byte) (int, error)         { return 0, nil }
func (nopConn) Write(b []byte) (int, error)        { return len(b), nil }
func (nopConn) Close() error                       { return nil }
func (nopConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (nopConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (nopConn) SetDeadline(t time.Time) error      { return nil }
func (nopConn) SetReadDeadline(t time.Time) error  { return nil }
func (nopConn) SetWriteDeadline(t time.Time) error { return nil }

// fakeDialer scripts probe outcomes and counts attempts.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (d *fakeDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	return nopConn{}, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

// fakeTS is a scripted ts.Client. Function fields override behavior;
// unset fields return empty results.
type fakeTS struct {
	mu          sync.Mutex
	openCalls   int
	closeCalls  int
	enumExCalls int
	enumCalls   int

	openFn   func(host string) (ts.Handle, error)
	enumExFn func(h ts.Handle) ([]ts.Session, error)
	enumFn   func(h ts.Handle) ([]ts.Session, error)
	queryFn  func(h ts.Handle, id uint32, field ts.Field) (string, error)
	user     string
}

func (c *fakeTS) Open(ctx context.Context, host string) (ts.Handle, error) {
	c.mu.Lock()
	c.openCalls++
	fn := c.openFn
	c.mu.Unlock()
	if fn != nil {
		return fn(host)
	}
	return ts.Handle(1), nil
}

func (c *fakeTS) Close(h ts.Handle) {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
}

func (c *fakeTS) EnumerateEx(h ts.Handle) ([]ts.Session, error) {
	c.mu.Lock()
	c.enumExCalls++
	fn := c.enumExFn
	c.mu.Unlock()
	if fn != nil {
		return fn(h)
	}
	return nil, nil
}

func (c *fakeTS) Enumerate(h ts.Handle) ([]ts.Session, error) {
	c.mu.Lock()
	c.enumCalls++
	fn := c.enumFn
	c.mu.Unlock()
	if fn != nil {
		return fn(h)
	}
	return nil, nil
}

func (c *fakeTS) QueryString(h ts.Handle, id uint32, field ts.Field) (string, error) {
	c.mu.Lock()
	fn := c.queryFn
	c.mu.Unlock()
	if fn != nil {
		return fn(h, id, field)
	}
	return "", nil
}

func (c *fakeTS) CurrentUser() string {
	if c.user == "" {
		return "tester"
	}
	return c.user
}

func (c *fakeTS) counts() (open, enumEx, enum, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openCalls, c.enumExCalls, c.enumCalls, c.closeCalls
}

// newTestMonitor builds a monitor wired entirely to fakes.
func newTestMonitor(t *testing.T, client *fakeTS, dialer *fakeDialer, clock *fakeClock) *Monitor {
	t.Helper()
	m := New(Options{
		Client:  client,
		Dial:    dialer.dial,
		Resolve: func(ctx context.Context, host string) (string, error) { return host, nil },
		Now:     clock.Now,
	})
	t.Cleanup(m.Close)
	return m
}

func TestCheckSessionsUnreachableHost(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{fail: true}
	client := &fakeTS{}
	m := newTestMonitor(t, client, dialer, clock)

	result := m.CheckSessions(context.Background(), "ws-alice", 0, nil)

	if result.OK() {
		t.Fatal("expected an error for an unreachable host")
	}
	if !result.Connectable {
		t.Error("unreachable host must fail open")
	}
	if len(result.Sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(result.Sessions))
	}
	if dialer.callCount() != 2 {
		t.Errorf("expected 2 probe attempts (service + aux port), got %d", dialer.callCount())
	}
	if open, _, _, _ := client.counts(); open != 0 {
		t.Errorf("unreachable host must not open a session connection, got %d opens", open)
	}
}

func TestCheckSessionsBackoffSuppression(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{fail: true}
	client := &fakeTS{}
	m := newTestMonitor(t, client, dialer, clock)

	// First failure opens a 5s suppression window.
	m.CheckSessions(context.Background(), "ws-alice", 0, nil)
	if dialer.callCount() != 2 {
		t.Fatalf("expected 2 probes after first check, got %d", dialer.callCount())
	}

	// Inside the window: answered from the negative cache, no sockets.
	clock.Advance(3 * time.Second)
	result := m.CheckSessions(context.Background(), "ws-alice", 0, nil)
	if dialer.callCount() != 2 {
		t.Errorf("suppressed check must not probe, got %d total probes", dialer.callCount())
	}
	if result.OK() {
		t.Error("suppressed check should report the host unreachable")
	}
	if !result.Connectable {
		t.Error("suppressed check must fail open")
	}

	// Past the window: probes fire again, second failure doubles the delay.
	clock.Advance(3 * time.Second)
	m.CheckSessions(context.Background(), "ws-alice", 0, nil)
	if dialer.callCount() != 4 {
		t.Errorf("expected probes to resume after the window, got %d total", dialer.callCount())
	}

	// Second failure suppresses for 10s: still suppressed at +9s.
	clock.Advance(9 * time.Second)
	m.CheckSessions(context.Background(), "ws-alice", 0, nil)
	if dialer.callCount() != 4 {
		t.Errorf("expected 10s suppression after second failure, got %d total probes", dialer.callCount())
	}
}

func TestCheckSessionsRecoveryClearsBackoff(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{fail: true}
	client := &fakeTS{}
	m := newTestMonitor(t, client, dialer, clock)

	m.CheckSessions(context.Background(), "ws-alice", 0, nil)
	clock.Advance(6 * time.Second)

	// Host comes back: the check succeeds and the counter resets.
	dialer.setFail(false)
	result := m.CheckSessions(context.Background(), "ws-alice", 0, nil)
	if !result.OK() {
		t.Fatalf("expected success once reachable, got %q", result.Error)
	}

	// An immediately following check must not be suppressed.
	before := dialer.callCount()
	m.CheckSessions(context.Background(), "ws-alice", 0, nil)
	if dialer.callCount() != before+2 {
		t.Error("check after recovery was suppressed; failure counter not reset")
	}
}

func TestCheckSessionsZeroSessionsIsSuccess(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{}
	m := newTestMonitor(t, client, dialer, clock)

	result := m.CheckSessions(context.Background(), "srv-empty", 0, nil)
	if !result.OK() {
		t.Fatalf("zero sessions must be success, got %q", result.Error)
	}
	if len(result.Sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(result.Sessions))
	}
	if !result.Connectable {
		t.Error("empty host must be connectable")
	}
	if result.Warning != "" {
		t.Errorf("expected no warning, got %q", result.Warning)
	}
}

func TestCheckSessionsConfidentClassificationSkipsEnumeration(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{}
	m := newTestMonitor(t, client, dialer, clock)

	cached := &OsClassification{
		Type:                  OsWorkstation,
		MultiSessionInstalled: false,
		OsName:                "Windows 11 Pro",
		OsVersion:             "10.0.22631",
	}
	result := m.CheckSessions(context.Background(), "ws-alice", 0, cached)

	if !result.OK() {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	open, enumEx, enum, _ := client.counts()
	if open != 0 || enumEx != 0 || enum != 0 {
		t.Errorf("confident classification must skip the session service entirely, got open=%d enumEx=%d enum=%d",
			open, enumEx, enum)
	}
	if result.Os.Type != OsWorkstation {
		t.Errorf("expected workstation classification in result, got %v", result.Os.Type)
	}
}

func TestCheckSessionsReportsOtherUser(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{
		user: "me",
		enumExFn: func(h ts.Handle) ([]ts.Session, error) {
			return []ts.Session{
				{ID: 1, User: "colleague", Domain: "CORP", Label: "Console", State: ts.StateActive},
			}, nil
		},
	}
	m := newTestMonitor(t, client, dialer, clock)

	cached := &OsClassification{Type: OsWorkstation, MultiSessionInstalled: true}
	result := m.CheckSessions(context.Background(), "ws-alice", 0, cached)

	if !result.OK() {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	if !result.InUseByOthers {
		t.Error("expected InUseByOthers for an active foreign session")
	}
	if result.Connectable {
		t.Error("workstation occupied by someone else must not be connectable")
	}
	if result.Warning == "" {
		t.Error("expected a takeover warning")
	}
}

func TestCheckSessionsOwnSessionIsConnectable(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{
		user: "me",
		enumExFn: func(h ts.Handle) ([]ts.Session, error) {
			return []ts.Session{
				{ID: 1, User: "ME", Domain: "CORP", Label: "RDP-Tcp#0", State: ts.StateActive},
			}, nil
		},
	}
	m := newTestMonitor(t, client, dialer, clock)

	result := m.CheckSessions(context.Background(), "ws-alice", 0, nil)
	if result.InUseByOthers {
		t.Error("the caller's own session must not count as foreign (case-insensitive)")
	}
	if !result.Connectable {
		t.Error("reconnecting to your own session must be allowed")
	}
}

func TestCheckSessionsFailsOpenOnUnexpectedError(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	boom := errors.New("unexpected fault")
	client := &fakeTS{
		enumExFn: func(h ts.Handle) ([]ts.Session, error) { return nil, boom },
		enumFn:   func(h ts.Handle) ([]ts.Session, error) { return nil, boom },
	}
	m := newTestMonitor(t, client, dialer, clock)

	result := m.CheckSessions(context.Background(), "srv-broken", 0, nil)
	if result.OK() {
		t.Fatal("expected the fault to surface in the result")
	}
	if !result.Connectable {
		t.Error("unexpected faults must fail open")
	}
}

func TestCheckSessionsClassificationRoundTrip(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{}
	m := newTestMonitor(t, client, dialer, clock)

	cached := &OsClassification{
		Type:                  OsServerMultiSession,
		MultiSessionInstalled: true,
		OsName:                "Windows Server 2022",
		OsVersion:             "10.0.20348",
	}
	first := m.CheckSessions(context.Background(), "srv-ts", 0, cached)
	if first.Os != *cached {
		t.Fatalf("classification altered on the way through: %+v", first.Os)
	}

	// Feeding the returned classification back in yields the same result
	// and the same enumeration behavior.
	second := m.CheckSessions(context.Background(), "srv-ts", 0, &first.Os)
	if second.Os != first.Os {
		t.Errorf("round trip diverged: %+v vs %+v", second.Os, first.Os)
	}
	if _, enumEx, _, _ := client.counts(); enumEx != 2 {
		t.Errorf("a multi-session server must be enumerated on every check, got %d", enumEx)
	}
}

func TestCheckSessionsDefaultPort(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var addrs []string
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		mu.Lock()
		addrs = append(addrs, address)
		mu.Unlock()
		return nopConn{}, nil
	}
	m := New(Options{
		Client:  &fakeTS{},
		Dial:    dial,
		Resolve: func(ctx context.Context, host string) (string, error) { return host, nil },
		Now:     clock.Now,
	})
	defer m.Close()

	m.CheckSessions(context.Background(), "ws-alice", 0, nil)

	mu.Lock()
	defer mu.Unlock()
	want := map[string]bool{"ws-alice:3389": false, "ws-alice:135": false}
	for _, a := range addrs {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for addr, seen := range want {
		if !seen {
			t.Errorf("expected a probe against %s, probed %v", addr, addrs)
		}
	}
}
