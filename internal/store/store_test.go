/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/rerun_calendar/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.CalendarRun{}, &models.CalendarSlot{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, zerolog.Nop())
}

func sampleRun(digest string, slots int) *models.CalendarRun {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	run := &models.CalendarRun{
		Name:       "late-night",
		Digest:     digest,
		StartsAt:   start,
		IntervalMS: int64(time.Hour / time.Millisecond),
		Intervals:  slots,
		Warnings:   []string{"override shadowed"},
	}
	// Insert out of order to check Get sorts by position.
	for i := slots - 1; i >= 0; i-- {
		run.Slots = append(run.Slots, models.CalendarSlot{
			Position: i,
			StartsAt: start.Add(time.Duration(i) * time.Hour),
			EndsAt:   start.Add(time.Duration(i+1) * time.Hour),
			Label:    "slot",
		})
	}
	return run
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("abc", 3)
	if err := s.Save(ctx, run); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if run.ID == "" {
		t.Fatal("Save should assign an ID")
	}

	got, err := s.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Slots) != 3 {
		t.Fatalf("slots = %d, want 3", len(got.Slots))
	}
	for i, slot := range got.Slots {
		if slot.Position != i || slot.RunID != run.ID {
			t.Fatalf("slot %d = %+v", i, slot)
		}
	}
	if len(got.Warnings) != 1 {
		t.Fatalf("warnings = %v", got.Warnings)
	}

	byDigest, err := s.FindByDigest(ctx, "abc")
	if err != nil || byDigest.ID != run.ID {
		t.Fatalf("FindByDigest = %v, %v", byDigest, err)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
	if _, err := s.FindByDigest(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByDigest err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete err = %v, want ErrNotFound", err)
	}
}

func TestDuplicateDigestRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleRun("same", 1)); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := s.Save(ctx, sampleRun("same", 1)); err == nil {
		t.Fatal("second Save with the same digest should fail")
	}
}

func TestListAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, digest := range []string{"a", "b", "c"} {
		run := sampleRun(digest, 2)
		if err := s.Save(ctx, run); err != nil {
			t.Fatalf("Save(%s): %v", digest, err)
		}
		ids = append(ids, run.ID)
	}

	runs, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if len(runs[0].Slots) != 0 {
		t.Fatal("List should not load slots")
	}

	if err := s.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	all, _ := s.List(ctx, 0)
	if len(all) != 2 {
		t.Fatalf("runs after delete = %d, want 2", len(all))
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	old := sampleRun("old", 2)
	old.CreatedAt = cutoff.Add(-time.Hour)
	recent := sampleRun("recent", 2)
	recent.CreatedAt = cutoff.Add(time.Hour)
	for _, run := range []*models.CalendarRun{old, recent} {
		if err := s.Save(ctx, run); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	digests, err := s.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(digests) != 1 || digests[0] != "old" {
		t.Fatalf("pruned = %v, want [old]", digests)
	}
	if _, err := s.FindByDigest(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old run still present: %v", err)
	}
	if _, err := s.FindByDigest(ctx, "recent"); err != nil {
		t.Fatalf("recent run missing: %v", err)
	}

	digests, err = s.Prune(ctx, cutoff)
	if err != nil || len(digests) != 0 {
		t.Fatalf("second Prune = %v, %v", digests, err)
	}
}
