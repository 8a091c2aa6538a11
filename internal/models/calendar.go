/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// CalendarRun is one computed calendar. Runs are keyed by the digest of
// everything that affects the result, so rebuilding an unchanged plan finds
// the earlier run.
type CalendarRun struct {
	ID                 string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string    `gorm:"index" json:"name"`
	Digest             string    `gorm:"type:varchar(64);uniqueIndex" json:"digest"`
	StartsAt           time.Time `gorm:"not null" json:"starts_at"`
	IntervalMS         int64     `gorm:"not null" json:"interval_ms"`
	Intervals          int       `gorm:"not null" json:"intervals"`
	AllowRerunsAfterMS int64     `json:"allow_reruns_after_ms"`

	// Overrides that did not take effect.
	ShadowedOverrides int `json:"shadowed_overrides"`
	IgnoredOverrides  int `json:"ignored_overrides"`

	Warnings []string `gorm:"serializer:json" json:"warnings,omitempty"`
	FeedURL  string   `json:"feed_url,omitempty"`

	Slots []CalendarSlot `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"slots,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (CalendarRun) TableName() string {
	return "calendar_runs"
}

// EndsAt is the end of the last slot.
func (r *CalendarRun) EndsAt() time.Time {
	return r.StartsAt.Add(time.Duration(int64(r.Intervals)*r.IntervalMS) * time.Millisecond)
}

// CalendarSlot is one filled slot of a run.
type CalendarSlot struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	RunID       string    `gorm:"type:uuid;index:idx_calendar_slots_run_position,unique;not null" json:"run_id"`
	Position    int       `gorm:"index:idx_calendar_slots_run_position,unique" json:"position"`
	StartsAt    time.Time `gorm:"not null" json:"starts_at"`
	EndsAt      time.Time `gorm:"not null" json:"ends_at"`
	Label       string    `json:"label"`
	ValueJSON   string    `gorm:"type:text" json:"value_json"`
	Fingerprint string    `gorm:"type:text" json:"fingerprint"`
	Override    bool      `json:"override"`
}

// TableName returns the table name for GORM.
func (CalendarSlot) TableName() string {
	return "calendar_slots"
}
