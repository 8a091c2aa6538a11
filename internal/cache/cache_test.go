package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/models"
)

func TestNilCacheIsAMiss(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	if c.IsAvailable() {
		t.Fatal("nil cache should not be available")
	}
	if _, ok := c.GetRun(ctx, "abc"); ok {
		t.Fatal("nil cache should miss")
	}
	if err := c.SetRun(ctx, &models.CalendarRun{Digest: "abc"}); err != nil {
		t.Fatalf("SetRun: %v", err)
	}
	if err := c.InvalidateRun(ctx, "abc"); err != nil {
		t.Fatalf("InvalidateRun: %v", err)
	}
	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUnreachableRedisDisablesCache(t *testing.T) {
	c := New(Config{RedisAddr: "127.0.0.1:1"}, zerolog.Nop())
	if c.IsAvailable() {
		t.Fatal("cache should be disabled when redis is unreachable")
	}
	if c.config.RunTTL != DefaultRunTTL {
		t.Fatalf("ttl = %v, want default", c.config.RunTTL)
	}
	if _, ok := c.GetRun(context.Background(), "abc"); ok {
		t.Fatal("disabled cache should miss")
	}
}

func TestHandleErrorTripsBreaker(t *testing.T) {
	c := &Cache{logger: zerolog.Nop(), config: Config{DisableOnError: true}}
	c.handleError(errors.New("connection reset"), "get")
	if !c.disabled {
		t.Fatal("breaker should trip")
	}

	lenient := &Cache{logger: zerolog.Nop()}
	lenient.handleError(errors.New("connection reset"), "get")
	if lenient.disabled {
		t.Fatal("breaker should stay closed without DisableOnError")
	}
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(Config{RedisAddr: mr.Addr(), RunTTL: ttl}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })
	if !c.IsAvailable() {
		t.Fatal("cache should be available against a live server")
	}
	return c, mr
}

func sampleRun() *models.CalendarRun {
	start := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)
	return &models.CalendarRun{
		ID:                 "run-1",
		Name:               "late-night",
		Digest:             "d1",
		StartsAt:           start,
		IntervalMS:         3600000,
		Intervals:          2,
		AllowRerunsAfterMS: 7200000,
		ShadowedOverrides:  1,
		Warnings:           []string{"override at 2024-03-04T20:00:00Z was shadowed"},
		Slots: []models.CalendarSlot{
			{ID: "s0", RunID: "run-1", Position: 0, StartsAt: start, EndsAt: start.Add(time.Hour), Label: "A", ValueJSON: `"A"`, Override: true},
			{ID: "s1", RunID: "run-1", Position: 1, StartsAt: start.Add(time.Hour), EndsAt: start.Add(2 * time.Hour), Label: "B", ValueJSON: `"B"`},
		},
	}
}

func TestSetRunGetRunRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, 10*time.Minute)
	ctx := context.Background()
	want := sampleRun()

	if err := c.SetRun(ctx, want); err != nil {
		t.Fatalf("SetRun: %v", err)
	}
	if got := mr.TTL(KeyRun + want.Digest); got != 10*time.Minute {
		t.Fatalf("ttl = %v, want 10m", got)
	}

	got, ok := c.GetRun(ctx, want.Digest)
	if !ok {
		t.Fatal("expected a hit after SetRun")
	}
	if got.ID != want.ID || got.Name != want.Name || got.Intervals != want.Intervals || got.ShadowedOverrides != 1 {
		t.Fatalf("run = %+v, want %+v", got, want)
	}
	if !got.StartsAt.Equal(want.StartsAt) {
		t.Fatalf("starts_at = %v, want %v", got.StartsAt, want.StartsAt)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != want.Warnings[0] {
		t.Fatalf("warnings = %v", got.Warnings)
	}
	if len(got.Slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(got.Slots))
	}
	for i, slot := range got.Slots {
		w := want.Slots[i]
		if slot.Label != w.Label || slot.ValueJSON != w.ValueJSON || slot.Override != w.Override || !slot.EndsAt.Equal(w.EndsAt) {
			t.Fatalf("slot %d = %+v, want %+v", i, slot, w)
		}
	}
}

func TestGetRunExpires(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	if err := c.SetRun(ctx, sampleRun()); err != nil {
		t.Fatalf("SetRun: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok := c.GetRun(ctx, "d1"); ok {
		t.Fatal("entry should expire after its ttl")
	}
}

func TestGetRunDiscardsUndecodableEntry(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	if err := mr.Set(KeyRun+"bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := c.GetRun(context.Background(), "bad"); ok {
		t.Fatal("undecodable entry should be a miss")
	}
	if !c.IsAvailable() {
		t.Fatal("a bad entry should not trip the breaker")
	}
}

func TestSetRunSkipsRunsWithoutDigest(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	run := sampleRun()
	run.Digest = ""
	if err := c.SetRun(context.Background(), run); err != nil {
		t.Fatalf("SetRun: %v", err)
	}
	if n := len(mr.Keys()); n != 0 {
		t.Fatalf("keys = %d, want 0", n)
	}
}

func TestInvalidate(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	for _, digest := range []string{"d1", "d2", "d3"} {
		run := sampleRun()
		run.Digest = digest
		if err := c.SetRun(ctx, run); err != nil {
			t.Fatalf("SetRun %s: %v", digest, err)
		}
	}
	if err := mr.Set("reruncal:leader:refresh", "node-a"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := c.InvalidateRun(ctx, "d1"); err != nil {
		t.Fatalf("InvalidateRun: %v", err)
	}
	if _, ok := c.GetRun(ctx, "d1"); ok {
		t.Fatal("d1 should be gone")
	}
	if _, ok := c.GetRun(ctx, "d2"); !ok {
		t.Fatal("d2 should survive InvalidateRun(d1)")
	}

	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "reruncal:leader:refresh" {
		t.Fatalf("keys after InvalidateAll = %v, want only the lease", keys)
	}
}
