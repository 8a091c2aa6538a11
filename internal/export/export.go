/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package export renders calendars as iCalendar feeds and plain text
// listings.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/friendsincode/rerun_calendar/internal/calendar"
	"github.com/friendsincode/rerun_calendar/internal/clock"
	"github.com/friendsincode/rerun_calendar/internal/models"
	"github.com/friendsincode/rerun_calendar/internal/structural"
)

// ContentTypeICal is the media type of ICal output.
const ContentTypeICal = "text/calendar; charset=utf-8"

// Event is one slot ready for rendering.
type Event struct {
	UID      string
	StartsAt time.Time
	EndsAt   time.Time
	Summary  string
	Override bool
}

// FromResult lists the slots of a computed calendar.
func FromResult[V structural.Keyer](res *calendar.Result[V], intervalMS int64, label func(V) string) []Event {
	if label == nil {
		label = func(v V) string { return Label(v) }
	}
	slots := clock.Slots(res.Start.Time, res.Schedule.Len(), intervalMS)
	events := make([]Event, 0, len(slots))
	for _, slot := range slots {
		value, ok := res.Schedule.Get(structural.At(slot.StartsAt))
		if !ok {
			continue
		}
		events = append(events, Event{
			UID:      uid(slot.StartsAt, structural.Hash(value)),
			StartsAt: slot.StartsAt,
			EndsAt:   slot.EndsAt,
			Summary:  label(value),
			Override: res.Pinned(slot.Index),
		})
	}
	return events
}

// FromRun lists the slots of a stored run.
func FromRun(run *models.CalendarRun) []Event {
	events := make([]Event, 0, len(run.Slots))
	for _, slot := range run.Slots {
		events = append(events, Event{
			UID:      uid(slot.StartsAt, structural.Fingerprint(slot.Fingerprint)),
			StartsAt: slot.StartsAt,
			EndsAt:   slot.EndsAt,
			Summary:  slot.Label,
			Override: slot.Override,
		})
	}
	return events
}

// Label renders a value for humans. Plan values that are mappings use their
// title or name field when they have one.
func Label(v structural.Keyer) string {
	if r, ok := v.(structural.Reflected); ok {
		switch orig := r.Original().(type) {
		case string:
			return orig
		case map[string]any:
			for _, key := range []string{"title", "name"} {
				if s, ok := orig[key].(string); ok && s != "" {
					if part, ok := orig["part"]; ok {
						return fmt.Sprintf("%s (%v)", s, part)
					}
					return s
				}
			}
			if data, err := json.Marshal(orig); err == nil {
				return string(data)
			}
		}
		return r.String()
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return string(structural.Hash(v))
}

// ICal renders events as a VCALENDAR document. stamp is written as every
// event's DTSTAMP.
func ICal(name string, events []Event, stamp time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Friends Incode//Rerun Calendar//EN\r\n")
	buf.WriteString(fmt.Sprintf("X-WR-CALNAME:%s\r\n", escapeICalText(name)))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	for _, ev := range events {
		buf.WriteString("BEGIN:VEVENT\r\n")
		buf.WriteString(fmt.Sprintf("UID:%s\r\n", ev.UID))
		buf.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", formatICalTime(stamp)))
		buf.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(ev.StartsAt)))
		buf.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(ev.EndsAt)))
		buf.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(ev.Summary)))
		if ev.Override {
			buf.WriteString("CATEGORIES:OVERRIDE\r\n")
		}
		buf.WriteString("END:VEVENT\r\n")
	}

	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes()
}

// Filename suggests a file name for a calendar's iCal feed.
func Filename(name string, start time.Time) string {
	return fmt.Sprintf("%s-%s.ics", slugify(name), start.UTC().Format("2006-01-02"))
}

// Table writes events as an aligned text listing.
func Table(w io.Writer, events []Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTART\tEND\tVALUE\t")
	for i, ev := range events {
		marker := ""
		if ev.Override {
			marker = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s%s\t\n", i,
			ev.StartsAt.UTC().Format(time.RFC3339),
			ev.EndsAt.UTC().Format(time.RFC3339),
			ev.Summary, marker)
	}
	return tw.Flush()
}

func uid(at time.Time, fp structural.Fingerprint) string {
	return structural.Digest(structural.MakePair(structural.At(at), structural.String(fp))) + "@reruncal"
}

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "calendar"
	}
	return out
}
