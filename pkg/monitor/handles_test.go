package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rdpwake/rdpwake/pkg/monitor/ts"
)

func newTestPool(client *fakeTS, clock *fakeClock) *handlePool {
	return newHandlePool(client, nil, clock.Now,
		func(ctx context.Context, host string) (string, error) { return host + ".corp.example", nil },
		time.Second, 30*time.Minute)
}

func TestHandlePoolLocalHost(t *testing.T) {
	clock := newFakeClock()
	client := &fakeTS{}
	p := newTestPool(client, clock)

	for _, host := range []string{"", "localhost", "LOCALHOST", "127.0.0.1", "::1"} {
		h, ok := p.get(context.Background(), host, &hostFlags{})
		if !ok || h != ts.LocalServer {
			t.Errorf("get(%q) = (%v, %v), want the local sentinel", host, h, ok)
		}
	}
	if open, _, _, _ := client.counts(); open != 0 {
		t.Errorf("local lookups must not open connections, got %d", open)
	}
}

func TestHandlePoolReusesValidatedHandle(t *testing.T) {
	clock := newFakeClock()
	client := &fakeTS{}
	p := newTestPool(client, clock)
	flags := &hostFlags{}

	h1, ok := p.get(context.Background(), "srv-1", flags)
	if !ok {
		t.Fatal("first get failed")
	}
	h2, ok := p.get(context.Background(), "srv-1", flags)
	if !ok || h2 != h1 {
		t.Errorf("expected the pooled handle back, got %v (first %v)", h2, h1)
	}
	if open, _, _, _ := client.counts(); open != 1 {
		t.Errorf("expected exactly one open, got %d", open)
	}
}

func TestHandlePoolEvictsInvalidHandle(t *testing.T) {
	clock := newFakeClock()
	stale := errors.New("handle is stale")
	client := &fakeTS{}
	client.enumFn = func(h ts.Handle) ([]ts.Session, error) {
		// The validation probe fails once the handle goes stale.
		client.mu.Lock()
		defer client.mu.Unlock()
		if client.openCalls == 1 {
			return nil, stale
		}
		return nil, nil
	}
	p := newTestPool(client, clock)
	flags := &hostFlags{}

	p.get(context.Background(), "srv-1", flags)
	_, ok := p.get(context.Background(), "srv-1", flags)
	if !ok {
		t.Fatal("expected a fresh handle after eviction")
	}

	open, _, _, closed := client.counts()
	if open != 2 {
		t.Errorf("expected a reopen after failed validation, got %d opens", open)
	}
	if closed != 1 {
		t.Errorf("expected the stale handle closed, got %d closes", closed)
	}
}

func TestHandlePoolOpenFailureRecordsBackoff(t *testing.T) {
	clock := newFakeClock()
	client := &fakeTS{
		openFn: func(host string) (ts.Handle, error) {
			return 0, ts.ErrUnavailable
		},
	}
	p := newTestPool(client, clock)
	flags := &hostFlags{}

	_, ok := p.get(context.Background(), "srv-down", flags)
	if ok {
		t.Fatal("expected the open to fail")
	}
	if !flags.suppressed(clock.Now().Add(4 * time.Second)) {
		t.Error("an open failure must feed the host's backoff")
	}
}

func TestHandlePoolSweepClosesIdleHandles(t *testing.T) {
	clock := newFakeClock()
	client := &fakeTS{}
	p := newTestPool(client, clock)
	flags := &hostFlags{}

	p.get(context.Background(), "srv-1", flags)
	p.get(context.Background(), "srv-2", flags)

	// srv-1 stays in use; srv-2 goes idle past the threshold.
	clock.Advance(29 * time.Minute)
	p.get(context.Background(), "srv-1", flags)
	clock.Advance(2 * time.Minute)
	p.sweep()

	if _, _, _, closed := client.counts(); closed != 1 {
		t.Fatalf("expected exactly the idle handle closed, got %d", closed)
	}

	// srv-1 must still be pooled.
	before, _, _, _ := client.counts()
	p.get(context.Background(), "srv-1", flags)
	if after, _, _, _ := client.counts(); after != before {
		t.Error("the recently used handle was swept")
	}
}

func TestHandlePoolQualifyCachesResolution(t *testing.T) {
	clock := newFakeClock()
	client := &fakeTS{}
	resolves := 0
	p := newHandlePool(client, nil, clock.Now,
		func(ctx context.Context, host string) (string, error) {
			resolves++
			return host + ".corp.example", nil
		},
		time.Second, 30*time.Minute)

	if got := p.qualify(context.Background(), "srv-1"); got != "srv-1.corp.example" {
		t.Fatalf("qualify = %q", got)
	}
	p.qualify(context.Background(), "srv-1")
	if resolves != 1 {
		t.Errorf("expected one resolution within the cache TTL, got %d", resolves)
	}

	clock.Advance(61 * time.Minute)
	p.qualify(context.Background(), "srv-1")
	if resolves != 2 {
		t.Errorf("expected a re-resolve after the TTL, got %d", resolves)
	}
}

func TestHandlePoolQualifyFallsBackOnFailure(t *testing.T) {
	clock := newFakeClock()
	p := newHandlePool(&fakeTS{}, nil, clock.Now,
		func(ctx context.Context, host string) (string, error) {
			return "", errors.New("no such host")
		},
		time.Second, 30*time.Minute)

	if got := p.qualify(context.Background(), "srv-1"); got != "srv-1" {
		t.Errorf("resolution failure must fall back to the identifier, got %q", got)
	}
}
