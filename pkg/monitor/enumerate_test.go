package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rdpwake/rdpwake/pkg/monitor/ts"
)

func TestEnumerateDowngradesToLegacyPath(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{
		enumExFn: func(h ts.Handle) ([]ts.Session, error) {
			return nil, ts.ErrUnsupported
		},
		enumFn: func(h ts.Handle) ([]ts.Session, error) {
			return []ts.Session{
				{ID: 2, Label: "RDP-Tcp#1", State: ts.StateActive},
			}, nil
		},
		queryFn: func(h ts.Handle, id uint32, field ts.Field) (string, error) {
			switch field {
			case ts.FieldUserName:
				return "bob", nil
			case ts.FieldDomainName:
				return "CORP", nil
			}
			return "", nil
		},
	}
	m := newTestMonitor(t, client, dialer, clock)

	result := m.CheckSessions(context.Background(), "srv-old", 0, nil)
	if !result.OK() {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	if len(result.Sessions) != 1 {
		t.Fatalf("expected 1 session from the legacy path, got %d", len(result.Sessions))
	}
	s := result.Sessions[0]
	if s.UserName != "bob" || s.Domain != "CORP" {
		t.Errorf("legacy path must fill user and domain via queries, got %q %q", s.Domain, s.UserName)
	}

	// Second check must not retry the extended API: the downgrade is
	// memoized for the process lifetime.
	m.CheckSessions(context.Background(), "srv-old", 0, nil)
	if _, enumEx, _, _ := client.counts(); enumEx != 1 {
		t.Errorf("extended API retried after downgrade: %d calls", enumEx)
	}
}

func TestEnumerateTransientFailureBacksOffAndEvicts(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{
		enumExFn: func(h ts.Handle) ([]ts.Session, error) {
			return nil, ts.Transient(errors.New("the RPC server is unavailable"))
		},
	}
	m := newTestMonitor(t, client, dialer, clock)

	result := m.CheckSessions(context.Background(), "srv-flaky", 0, nil)
	if !result.OK() {
		t.Fatalf("transient failure must surface as zero sessions, not an error: %q", result.Error)
	}
	if len(result.Sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(result.Sessions))
	}
	if _, _, _, closed := client.counts(); closed != 1 {
		t.Errorf("transient failure must evict the pooled handle, got %d closes", closed)
	}

	// The failure enters the shared backoff: the next check within the
	// window is answered negatively without probing.
	clock.Advance(3 * time.Second)
	before := dialer.callCount()
	next := m.CheckSessions(context.Background(), "srv-flaky", 0, nil)
	if dialer.callCount() != before {
		t.Error("check inside the backoff window must not probe")
	}
	if next.OK() {
		t.Error("suppressed check should report unreachability")
	}
}

func TestEnumerateFiltersUnoccupiedSlots(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{
		enumExFn: func(h ts.Handle) ([]ts.Session, error) {
			return []ts.Session{
				{ID: 0, User: "", Label: "Services", State: ts.StateDisconnected},
				{ID: 1, User: "alice", Domain: "CORP", Label: "Console", State: ts.StateActive},
				{ID: 65536, User: "", Label: "RDP-Tcp", State: ts.StateListening},
			}, nil
		},
	}
	m := newTestMonitor(t, client, dialer, clock)

	result := m.CheckSessions(context.Background(), "ws-carol", 0, nil)
	if len(result.Sessions) != 1 {
		t.Fatalf("expected listeners and idle slots filtered out, got %d sessions", len(result.Sessions))
	}
	if result.Sessions[0].UserName != "alice" {
		t.Errorf("wrong surviving session: %+v", result.Sessions[0])
	}
}

func TestEnumerateLegacySkipsUnqueryableSlots(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	client := &fakeTS{
		enumExFn: func(h ts.Handle) ([]ts.Session, error) { return nil, ts.ErrUnsupported },
		enumFn: func(h ts.Handle) ([]ts.Session, error) {
			return []ts.Session{
				{ID: 1, Label: "Console", State: ts.StateActive},
				{ID: 2, Label: "RDP-Tcp#7", State: ts.StateActive},
			}, nil
		},
		queryFn: func(h ts.Handle, id uint32, field ts.Field) (string, error) {
			if id == 2 {
				return "", errors.New("access denied")
			}
			if field == ts.FieldUserName {
				return "dave", nil
			}
			return "CORP", nil
		},
	}
	m := newTestMonitor(t, client, dialer, clock)

	result := m.CheckSessions(context.Background(), "srv-old", 0, nil)
	if !result.OK() {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	if len(result.Sessions) != 1 {
		t.Fatalf("a slot whose user cannot be queried must be dropped, got %d sessions", len(result.Sessions))
	}
	if result.Sessions[0].UserName != "dave" {
		t.Errorf("wrong surviving session: %+v", result.Sessions[0])
	}
}

func TestBoundedAbandonsOverrunningCall(t *testing.T) {
	clock := newFakeClock()
	client := &fakeTS{}
	m := New(Options{
		Client:      client,
		Dial:        (&fakeDialer{}).dial,
		Resolve:     func(ctx context.Context, host string) (string, error) { return host, nil },
		Now:         clock.Now,
		EnumTimeout: 10 * time.Millisecond,
	})
	defer m.Close()

	block := make(chan struct{})
	defer close(block)
	_, err := m.bounded(func() ([]ts.Session, error) {
		<-block
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !ts.IsTransient(err) {
		t.Errorf("an overrun must be classified transient, got %v", err)
	}
}
