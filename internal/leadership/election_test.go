package leadership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memLease is an in-process Lease.
type memLease struct {
	mu      sync.Mutex
	holder  string
	expires time.Time
	fail    bool
}

func (m *memLease) Acquire(_ context.Context, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errors.New("redis unavailable")
	}
	now := time.Now()
	if m.holder == "" || m.holder == holder || now.After(m.expires) {
		m.holder = holder
		m.expires = now.Add(ttl)
		return true, nil
	}
	return false, nil
}

func (m *memLease) Release(_ context.Context, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == holder {
		m.holder = ""
	}
	return nil
}

func (m *memLease) Holder(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder, nil
}

func (m *memLease) setFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

func TestSingleLeader(t *testing.T) {
	lease := &memLease{}
	cfg := Config{LeaseDuration: time.Minute, RenewalInterval: 10 * time.Millisecond}

	a := New(lease, Config{LeaseDuration: cfg.LeaseDuration, RenewalInterval: cfg.RenewalInterval, InstanceID: "a"}, zerolog.Nop())
	b := New(lease, Config{LeaseDuration: cfg.LeaseDuration, RenewalInterval: cfg.RenewalInterval, InstanceID: "b"}, zerolog.Nop())

	ctx := context.Background()
	a.Start(ctx)
	b.Start(ctx)

	if !a.IsLeader() {
		t.Fatal("first campaigner should lead")
	}
	if b.IsLeader() {
		t.Fatal("second campaigner should follow")
	}
	if got := <-a.LeaderCh(); !got {
		t.Fatal("expected acquired notification")
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if holder, _ := lease.Holder(ctx); holder != "" {
		t.Fatalf("lease still held by %q after Stop", holder)
	}

	deadline := time.After(2 * time.Second)
	for !b.IsLeader() {
		select {
		case <-deadline:
			t.Fatal("follower never took over")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestLeaseErrorsDropLeadership(t *testing.T) {
	lease := &memLease{}
	e := New(lease, Config{LeaseDuration: time.Minute, RenewalInterval: 5 * time.Millisecond, InstanceID: "a"}, zerolog.Nop())
	ctx := context.Background()
	e.Start(ctx)
	defer e.Stop(ctx)

	if !e.IsLeader() {
		t.Fatal("expected leadership")
	}
	lease.setFail(true)

	deadline := time.After(2 * time.Second)
	for e.IsLeader() {
		select {
		case <-deadline:
			t.Fatal("leadership kept despite lease errors")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{LeaseDuration: 9 * time.Second, RenewalInterval: time.Minute}.withDefaults()
	if cfg.RenewalInterval != 3*time.Second {
		t.Fatalf("renewal interval = %v, want 3s", cfg.RenewalInterval)
	}
	if cfg.InstanceID == "" {
		t.Fatal("instance id should be generated")
	}
	if got := (Config{}).withDefaults().LeaseDuration; got != defaultLeaseDuration {
		t.Fatalf("lease duration = %v", got)
	}
}
