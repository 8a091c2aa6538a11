/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planfile reads calendar plans from YAML or JSON documents.
//
// A plan names the rotation, the slot layout, and any fixed placements:
//
//	name: late-night
//	start: 2020-01-01T00:00:00Z
//	interval: 1d
//	intervals: 10
//	allow_reruns_after: 2d
//	values: [A, B, C]
//	overrides:
//	  - at: 2020-01-04T00:00:00Z
//	    value: C
//
// Values may be any YAML shape; equal shapes are the same value.
package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/rerun_calendar/internal/calendar"
	"github.com/friendsincode/rerun_calendar/internal/clock"
	"github.com/friendsincode/rerun_calendar/internal/structural"
)

// ErrInvalidPlan wraps every decoding and validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Document is a decoded plan.
type Document struct {
	Name             string     `yaml:"name" json:"name"`
	Start            time.Time  `yaml:"start,omitempty" json:"start,omitempty"`
	Interval         Duration   `yaml:"interval" json:"interval"`
	Intervals        int        `yaml:"intervals" json:"intervals"`
	AllowRerunsAfter Duration   `yaml:"allow_reruns_after" json:"allow_reruns_after"`
	Values           []any      `yaml:"values" json:"values"`
	Overrides        []Override `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// Override pins a value to the slot nearest At.
type Override struct {
	At    time.Time `yaml:"at" json:"at"`
	Value any       `yaml:"value" json:"value"`
}

// File pairs a document with the path it was read from.
type File struct {
	Document Document
	Path     string
}

// Parse decodes and validates a plan. JSON documents are valid YAML and go
// through the same decoder.
func Parse(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, fmt.Errorf("%w: document is empty", ErrInvalidPlan)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: decode: %v", ErrInvalidPlan, err)
	}
	for i := range doc.Values {
		doc.Values[i] = normalize(doc.Values[i])
	}
	for i := range doc.Overrides {
		doc.Overrides[i].Value = normalize(doc.Overrides[i].Value)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Load reads a plan file from disk.
func Load(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("planfile: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("planfile: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("planfile: read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("planfile: %s: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return File{Document: doc, Path: filepath.Clean(path)}, nil
}

// LoadDir reads every plan file in dir, sorted by path. A missing directory
// holds no plans.
func LoadDir(dir string) ([]File, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("planfile: read %s: %w", trimmed, err)
	}
	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !IsPlanFile(entry.Name()) {
			continue
		}
		f, err := Load(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// IsPlanFile reports whether name has a plan file extension.
func IsPlanFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".json")
}

// Validate checks the fields a calendar cannot be computed without.
func (d Document) Validate() error {
	var problems []string
	if len(d.Values) == 0 {
		problems = append(problems, "values must not be empty")
	}
	if d.Intervals <= 0 {
		problems = append(problems, "intervals must be positive")
	}
	if d.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if d.AllowRerunsAfter < 0 {
		problems = append(problems, "allow_reruns_after must not be negative")
	}
	for i, ov := range d.Overrides {
		if ov.At.IsZero() {
			problems = append(problems, fmt.Sprintf("overrides[%d].at is required", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(problems, "; "))
	}
	return nil
}

// WithDefaults fills a missing start with the next full hour after now.
func (d Document) WithDefaults(now time.Time) Document {
	if d.Start.IsZero() {
		d.Start = clock.NextHour(now)
	}
	return d
}

// Parameters converts the plan into calendar parameters.
func (d Document) Parameters() (calendar.Parameters[structural.Reflected], error) {
	params := calendar.Parameters[structural.Reflected]{
		Values:             make([]structural.Reflected, 0, len(d.Values)),
		Overrides:          make([]calendar.Override[structural.Reflected], 0, len(d.Overrides)),
		Intervals:          d.Intervals,
		IntervalMS:         d.Interval.Milliseconds(),
		AllowRerunsAfterMS: d.AllowRerunsAfter.Milliseconds(),
	}
	if !d.Start.IsZero() {
		params.Start = structural.At(d.Start)
	}
	for i, v := range d.Values {
		r, err := structural.Reflect(v)
		if err != nil {
			return params, fmt.Errorf("%w: values[%d]: %v", ErrInvalidPlan, i, err)
		}
		params.Values = append(params.Values, r)
	}
	for i, ov := range d.Overrides {
		r, err := structural.Reflect(ov.Value)
		if err != nil {
			return params, fmt.Errorf("%w: overrides[%d].value: %v", ErrInvalidPlan, i, err)
		}
		params.Overrides = append(params.Overrides, calendar.Override[structural.Reflected]{
			At:    structural.At(ov.At),
			Value: r,
		})
	}
	return params, nil
}

// Key is the structural form of everything that affects the computed
// calendar. The plan name is not part of it.
func (d Document) Key() (structural.Value, error) {
	params, err := d.Parameters()
	if err != nil {
		return nil, err
	}
	values := make(structural.List, len(params.Values))
	for i, v := range params.Values {
		values[i] = v.StructuralKey()
	}
	overrides := make(structural.List, len(params.Overrides))
	for i, ov := range params.Overrides {
		overrides[i] = structural.MakePair(ov.At, ov.Value).StructuralKey()
	}
	var start structural.Value = structural.Null{}
	if !params.Start.IsZero() {
		start = params.Start.StructuralKey()
	}
	return structural.Record{Fields: []structural.Field{
		{Name: "start", Value: start},
		{Name: "interval_ms", Value: structural.Int(params.IntervalMS)},
		{Name: "intervals", Value: structural.Int(params.Intervals)},
		{Name: "allow_reruns_after_ms", Value: structural.Int(params.AllowRerunsAfterMS)},
		{Name: "values", Value: values},
		{Name: "overrides", Value: overrides},
	}}, nil
}

// Fingerprint returns the canonical fingerprint of Key.
func (d Document) Fingerprint() (structural.Fingerprint, error) {
	key, err := d.Key()
	if err != nil {
		return "", err
	}
	return structural.Hash(key), nil
}

// Digest returns the hex digest of Key, used to look up earlier runs.
func (d Document) Digest() (string, error) {
	key, err := d.Key()
	if err != nil {
		return "", err
	}
	return structural.Digest(key), nil
}

// normalize makes every map key a string so values reflect into records.
func normalize(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalize(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	default:
		return in
	}
}
