// Package api exposes triggers, events, observations and stream status over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kilianp07/tracet/core/decision"
	"github.com/kilianp07/tracet/core/heartbeat"
	"github.com/kilianp07/tracet/core/logger"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/store"
)

// Pipeline is the part of the notice pipeline the API drives.
type Pipeline interface {
	Retrigger(ctx context.Context, triggerID, eventID string) (decision.Outcome, error)
	Simulate(ctx context.Context, triggerID, eventID string) ([]model.Decision, error)
}

// Decisions ranks the decisions of a trigger's events.
type Decisions interface {
	Interesting(ctx context.Context, triggerID string) ([]model.Decision, error)
}

// StatusReporter reports stream liveness.
type StatusReporter interface {
	Report() heartbeat.Report
}

// Handler serves the HTTP API.
type Handler struct {
	Store     store.Repository
	Pipeline  Pipeline
	Decisions Decisions
	Heartbeat StatusReporter
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	Logger  logger.Logger
	Now     func() time.Time
}

// Router returns the chi router for the API.
func (h *Handler) Router() http.Handler {
	if h.Now == nil {
		h.Now = time.Now
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/triggers", h.triggers)
		r.Get("/triggers/{id}/events", h.events)
		r.Get("/triggers/{id}/events/{eventID}/simulation", h.simulate)
		r.Post("/triggers/{id}/events/{eventID}/retrigger", h.retrigger)
		r.Get("/observations", h.observations)
		r.Get("/observations/{id}", h.observation)
	})
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	} else if h.Logger != nil {
		h.Logger.Errorf("api error: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	if h.Heartbeat == nil {
		writeJSON(w, http.StatusOK, heartbeat.Report{Status: heartbeat.StatusFailed})
		return
	}
	writeJSON(w, http.StatusOK, h.Heartbeat.Report())
}

type triggerView struct {
	model.Trigger
	LastObservation *observationView `json:"last_observation,omitempty"`
}

type triggerList struct {
	Active   []triggerView `json:"active"`
	Inactive []triggerView `json:"inactive"`
}

func (h *Handler) triggers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := h.Store.Triggers(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := triggerList{Active: []triggerView{}, Inactive: []triggerView{}}
	now := h.Now()
	for _, t := range all {
		v := triggerView{Trigger: t}
		last, err := h.Store.Observations(ctx, store.ObservationQuery{TriggerID: t.ID, Limit: 1})
		if err != nil {
			h.fail(w, err)
			return
		}
		if len(last) > 0 {
			ov := newObservationView(last[0], now)
			v.LastObservation = &ov
		}
		if t.Active {
			out.Active = append(out.Active, v)
		} else {
			out.Inactive = append(out.Inactive, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type decisionView struct {
	model.Decision
	Conclusion model.Vote `json:"conclusion"`
}

func newDecisionView(d model.Decision) decisionView {
	return decisionView{Decision: d, Conclusion: d.Conclusion()}
}

type eventView struct {
	model.Event
	Decision *decisionView `json:"decision,omitempty"`
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := h.Store.Trigger(ctx, id); err != nil {
		h.fail(w, err)
		return
	}
	evs, err := h.Store.Events(ctx, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	byEvent := map[string]model.Decision{}
	if h.Decisions != nil {
		ds, err := h.Decisions.Interesting(ctx, id)
		if err != nil {
			h.fail(w, err)
			return
		}
		for _, d := range ds {
			byEvent[d.EventID] = d
		}
	}
	out := make([]eventView, 0, len(evs))
	for _, ev := range evs {
		v := eventView{Event: ev}
		if d, ok := byEvent[ev.ID]; ok {
			dv := newDecisionView(d)
			v.Decision = &dv
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) simulate(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Pipeline.Simulate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "eventID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]decisionView, 0, len(ds))
	for _, d := range ds {
		out = append(out, newDecisionView(d))
	}
	writeJSON(w, http.StatusOK, out)
}

type retriggerResponse struct {
	Decision    decisionView     `json:"decision"`
	Observation *observationView `json:"observation,omitempty"`
}

func (h *Handler) retrigger(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.Pipeline.Retrigger(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "eventID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := retriggerResponse{Decision: newDecisionView(outcome.Decision)}
	if outcome.Observation != nil {
		ov := newObservationView(*outcome.Observation, h.Now())
		resp.Observation = &ov
	}
	writeJSON(w, http.StatusCreated, resp)
}

type observationView struct {
	model.Observation
	StatusLabel string `json:"status_label"`
	InProgress  bool   `json:"in_progress"`
}

func newObservationView(o model.Observation, now time.Time) observationView {
	return observationView{Observation: o, StatusLabel: o.Status.Label(), InProgress: o.InProgress(now)}
}

func (h *Handler) observations(w http.ResponseWriter, r *http.Request) {
	q, msg := parseObservationQuery(r)
	if msg != "" {
		badRequest(w, msg)
		return
	}
	obs, err := h.Store.Observations(r.Context(), q)
	if err != nil {
		h.fail(w, err)
		return
	}
	now := h.Now()
	out := make([]observationView, 0, len(obs))
	for _, o := range obs {
		out = append(out, newObservationView(o, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseObservationQuery(r *http.Request) (store.ObservationQuery, string) {
	var q store.ObservationQuery
	v := r.URL.Query()
	switch o := model.Observatory(v.Get("observatory")); o {
	case "", model.MWA, model.ATCA:
		q.Observatory = o
	default:
		return q, "unknown observatory " + string(o)
	}
	if s := v.Get("status"); s != "" {
		st, ok := model.ParseStatus(s)
		if !ok {
			return q, "unknown status " + s
		}
		q.Status = st
	}
	if s := v.Get("test"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, "invalid test flag " + s
		}
		q.IsTest = &b
	}
	q.TriggerID = v.Get("trigger")
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, "invalid limit " + s
		}
		q.Limit = n
	}
	return q, ""
}

func (h *Handler) observation(w http.ResponseWriter, r *http.Request) {
	o, err := h.Store.Observation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newObservationView(o, h.Now()))
}
