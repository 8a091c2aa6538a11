/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/rerun_calendar/internal/calendar"
	"github.com/friendsincode/rerun_calendar/internal/export"
	"github.com/friendsincode/rerun_calendar/internal/models"
	"github.com/friendsincode/rerun_calendar/internal/planfile"
	"github.com/friendsincode/rerun_calendar/internal/store"
	"github.com/friendsincode/rerun_calendar/internal/validation"
)

type buildResponse struct {
	Run    *models.CalendarRun `json:"run"`
	Reused bool                `json:"reused"`
	Cached bool                `json:"cached"`
}

type previewSlot struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Label    string    `json:"label"`
	Override bool      `json:"override"`
}

type previewResponse struct {
	Name              string            `json:"name"`
	Digest            string            `json:"digest"`
	StartsAt          time.Time         `json:"starts_at"`
	ShadowedOverrides int               `json:"shadowed_overrides"`
	IgnoredOverrides  int               `json:"ignored_overrides"`
	Report            validation.Report `json:"report"`
	Slots             []previewSlot     `json:"slots"`
}

// readPlan decodes a YAML or JSON plan from the request body.
func readPlan(w http.ResponseWriter, r *http.Request) (planfile.Document, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "plan_too_large")
		return planfile.Document{}, false
	}
	doc, err := planfile.Parse(data)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_plan", err.Error())
		return planfile.Document{}, false
	}
	if name := r.URL.Query().Get("name"); name != "" {
		doc.Name = name
	}
	return doc, true
}

// writeBuildError maps scheduling failures to responses.
func (a *API) writeBuildError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calendar.ErrUnsatisfiable):
		writeErrorMessage(w, http.StatusUnprocessableEntity, "unsatisfiable", err.Error())
	case errors.Is(err, planfile.ErrInvalidPlan), errors.Is(err, calendar.ErrInvalidParameters):
		writeErrorMessage(w, http.StatusBadRequest, "invalid_plan", err.Error())
	default:
		a.logger.Error().Err(err).Msg("calendar build failed")
		writeError(w, http.StatusInternalServerError, "build_failed")
	}
}

func (a *API) handleCalendarsBuild(w http.ResponseWriter, r *http.Request) {
	doc, ok := readPlan(w, r)
	if !ok {
		return
	}
	out, err := a.scheduler.Build(r.Context(), doc)
	if err != nil {
		a.writeBuildError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Reused {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/v1/calendars/"+out.Run.ID)
	writeJSON(w, status, buildResponse{Run: out.Run, Reused: out.Reused, Cached: out.Cached})
}

func (a *API) handleCalendarsPreview(w http.ResponseWriter, r *http.Request) {
	doc, ok := readPlan(w, r)
	if !ok {
		return
	}
	comp, err := a.scheduler.Preview(r.Context(), doc)
	if err != nil {
		a.writeBuildError(w, err)
		return
	}
	events := comp.Events()
	resp := previewResponse{
		Name:              comp.Document.Name,
		Digest:            comp.Digest,
		StartsAt:          comp.Result.Start.Time,
		ShadowedOverrides: len(comp.Result.Shadowed),
		IgnoredOverrides:  len(comp.Result.Ignored),
		Report:            comp.Report,
		Slots:             make([]previewSlot, len(events)),
	}
	for i, ev := range events {
		resp.Slots[i] = previewSlot{StartsAt: ev.StartsAt, EndsAt: ev.EndsAt, Label: ev.Summary, Override: ev.Override}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCalendarsList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	runs, err := a.scheduler.List(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("list calendars failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleCalendarsGet(w http.ResponseWriter, r *http.Request) {
	run, err := a.scheduler.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		a.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleCalendarsICal(w http.ResponseWriter, r *http.Request) {
	data, run, err := a.scheduler.Feed(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		a.writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentTypeICal)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(run.Name, run.StartsAt)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) handleCalendarsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.scheduler.Delete(r.Context(), chi.URLParam(r, "runID")); err != nil {
		a.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	a.logger.Error().Err(err).Msg("calendar lookup failed")
	writeError(w, http.StatusInternalServerError, "db_error")
}
