/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists calendar runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/rerun_calendar/internal/models"
)

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("calendar run not found")

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Store reads and writes calendar runs.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "calendar_store").Logger(),
	}
}

// Save inserts run and its slots in one transaction, assigning IDs where
// missing.
func (s *Store) Save(ctx context.Context, run *models.CalendarRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	for i := range run.Slots {
		if run.Slots[i].ID == "" {
			run.Slots[i].ID = uuid.NewString()
		}
		run.Slots[i].RunID = run.ID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Slots").Create(run).Error; err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		if len(run.Slots) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&run.Slots, 200).Error; err != nil {
			return fmt.Errorf("create slots: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("run_id", run.ID).
		Str("digest", run.Digest).
		Int("slots", len(run.Slots)).
		Msg("calendar run saved")
	return nil
}

// Get loads a run with its slots in position order.
func (s *Store) Get(ctx context.Context, id string) (*models.CalendarRun, error) {
	return s.first(ctx, "id = ?", id)
}

// FindByDigest loads the run computed from an identical plan.
func (s *Store) FindByDigest(ctx context.Context, digest string) (*models.CalendarRun, error) {
	return s.first(ctx, "digest = ?", digest)
}

func (s *Store) first(ctx context.Context, query string, arg any) (*models.CalendarRun, error) {
	var run models.CalendarRun
	err := s.db.WithContext(ctx).
		Preload("Slots", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where(query, arg).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query calendar run: %w", err)
	}
	return &run, nil
}

// List returns the most recent runs without their slots.
func (s *Store) List(ctx context.Context, limit int) ([]models.CalendarRun, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	var runs []models.CalendarRun
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list calendar runs: %w", err)
	}
	return runs, nil
}

// Delete removes a run and its slots.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&models.CalendarSlot{}).Error; err != nil {
			return fmt.Errorf("delete slots: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.CalendarRun{})
		if res.Error != nil {
			return fmt.Errorf("delete run: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Prune deletes runs created before cutoff and returns their digests.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) ([]string, error) {
	var digests []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var runs []models.CalendarRun
		if err := tx.Select("id", "digest").Where("created_at < ?", cutoff).Find(&runs).Error; err != nil {
			return fmt.Errorf("find old runs: %w", err)
		}
		if len(runs) == 0 {
			return nil
		}
		ids := make([]string, len(runs))
		for i, run := range runs {
			ids[i] = run.ID
			digests = append(digests, run.Digest)
		}
		if err := tx.Where("run_id IN ?", ids).Delete(&models.CalendarSlot{}).Error; err != nil {
			return fmt.Errorf("delete slots: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.CalendarRun{}).Error; err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(digests) > 0 {
		s.logger.Info().Int("runs", len(digests)).Time("cutoff", cutoff).Msg("pruned calendar runs")
	}
	return digests, nil
}
