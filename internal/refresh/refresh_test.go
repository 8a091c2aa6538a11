/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package refresh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/models"
	"github.com/friendsincode/rerun_calendar/internal/planfile"
	"github.com/friendsincode/rerun_calendar/internal/scheduler"
)

const planYAML = `
start: 2020-01-01T00:00:00Z
interval: 1h
intervals: 4
allow_reruns_after: 1h
values: [A, B, C]
`

type fakeBuilder struct {
	mu     sync.Mutex
	names  []string
	seen   map[string]bool
	built  chan string
	failOn string
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{seen: map[string]bool{}, built: make(chan string, 16)}
}

func (b *fakeBuilder) Build(_ context.Context, doc planfile.Document) (*scheduler.Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, doc.Name)
	select {
	case b.built <- doc.Name:
	default:
	}
	if doc.Name == b.failOn {
		return nil, errors.New("boom")
	}
	reused := b.seen[doc.Name]
	b.seen[doc.Name] = true
	return &scheduler.Outcome{Run: &models.CalendarRun{ID: "run-" + doc.Name, Name: doc.Name}, Reused: reused}, nil
}

type fixedGate bool

func (g fixedGate) IsLeader() bool { return bool(g) }

func writePlan(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(planYAML), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
}

func TestRefreshAll(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "a.yaml")
	writePlan(t, dir, "b.yml")
	writePlan(t, dir, "c.yaml")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	builder := newFakeBuilder()
	builder.failOn = "c"
	r, err := New(builder, Config{PlansDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	got, err := r.RefreshAll(ctx, TriggerStartup)
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if got != (Summary{Built: 2, Failed: 1}) {
		t.Fatalf("first pass = %+v", got)
	}

	got, err = r.RefreshAll(ctx, TriggerCron)
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if got != (Summary{Reused: 2, Failed: 1}) {
		t.Fatalf("second pass = %+v", got)
	}
}

func TestRefreshFilesSkipsBrokenPlans(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "a.yaml")
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("values: []"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(newFakeBuilder(), Config{PlansDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := r.RefreshFiles(context.Background(), []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "broken.yaml"),
		filepath.Join(dir, "missing.yaml"),
	}, TriggerWatch)
	if got != (Summary{Built: 1, Failed: 2}) {
		t.Fatalf("summary = %+v", got)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing dir", Config{}, true},
		{"bad cron", Config{PlansDir: "plans", Cron: "every tuesday"}, true},
		{"five fields", Config{PlansDir: "plans", Cron: "*/15 * * * *"}, false},
		{"with seconds", Config{PlansDir: "plans", Cron: "0 */15 * * * *"}, false},
		{"descriptor", Config{PlansDir: "plans", Cron: "@hourly"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newFakeBuilder(), tt.cfg, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func waitFor(t *testing.T, ch <-chan string, name string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == name {
				return
			}
		case <-deadline:
			t.Fatalf("plan %q was never built", name)
		}
	}
}

func TestRunBuildsOnStartupAndOnChange(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "a.yaml")

	builder := newFakeBuilder()
	r, err := New(builder, Config{PlansDir: dir, Watch: true, Debounce: 20 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, builder.built, "a")
	writePlan(t, dir, "b.yaml")
	waitFor(t, builder.built, "b")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunRespectsGate(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, "a.yaml")

	builder := newFakeBuilder()
	r, err := New(builder, Config{PlansDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.SetGate(fixedGate(false))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(builder.names) != 0 {
		t.Fatalf("follower built %v", builder.names)
	}
}
