// Package pipeline runs received notices through grouping, decision and
// dispatch, and applies trigger reconfiguration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/tracet/core/decision"
	"github.com/kilianp07/tracet/core/events"
	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/grouping"
	"github.com/kilianp07/tracet/core/logger"
	"github.com/kilianp07/tracet/core/metrics"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/store"
	"github.com/kilianp07/tracet/internal/eventbus"
)

// TelescopeValidator checks a trigger's telescope configuration.
type TelescopeValidator interface {
	Validate(conf factory.ModuleConfig) error
}

// Pipeline is the single entry point for notices and trigger changes. Calls
// are serialised so that evaluation stays single threaded.
type Pipeline struct {
	store     store.Repository
	grouper   *grouping.Grouper
	engine    *decision.Engine
	validator TelescopeValidator
	logger    logger.Logger
	metrics   metrics.MetricsSink
	bus       eventbus.EventBus
	now       func() time.Time
	mu        sync.Mutex
}

// New creates a Pipeline. validator, sink and bus may be nil.
func New(repo store.Repository, grouper *grouping.Grouper, engine *decision.Engine, validator TelescopeValidator, sink metrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*Pipeline, error) {
	if repo == nil || grouper == nil || engine == nil || log == nil {
		return nil, fmt.Errorf("pipeline: nil parameter provided to New")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Pipeline{
		store:     repo,
		grouper:   grouper,
		engine:    engine,
		validator: validator,
		logger:    log,
		metrics:   sink,
		bus:       bus,
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source used to stamp notices.
func (p *Pipeline) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Run handles notices from the channel until it closes or ctx is done.
func (p *Pipeline) Run(ctx context.Context, notices <-chan *model.Notice) {
	for {
		select {
		case n, ok := <-notices:
			if !ok {
				return
			}
			if _, err := p.HandleNotice(ctx, n); err != nil {
				p.logger.Errorf("handle notice from %s: %v", n.Stream, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// HandleNotice stores n and evaluates it against every trigger listening to
// its stream, highest priority first. Test notices are grouped but never
// start a decision. Errors of one trigger do not stop the others.
func (p *Pipeline) HandleNotice(ctx context.Context, n *model.Notice) ([]decision.Outcome, error) {
	if n == nil {
		return nil, fmt.Errorf("nil notice")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.prepare(ctx, n); err != nil {
		return nil, err
	}
	if err := p.store.SaveNotice(ctx, n); err != nil {
		return nil, fmt.Errorf("save notice: %w", err)
	}
	if rec, ok := p.metrics.(metrics.NoticeRecorder); ok {
		if err := rec.RecordNotice(metrics.NoticeRecord{Stream: n.Stream, IsTest: n.IsTest, Time: n.Created}); err != nil {
			p.logger.Errorf("notice metrics error: %v", err)
		}
	}
	if p.bus != nil {
		p.bus.Publish(events.NoticeEvent{Notice: n})
	}
	p.logger.Debugw("notice received", logger.NoticeFields(n))

	triggers, err := p.store.Triggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}
	var (
		outcomes []decision.Outcome
		errs     []error
	)
	for _, t := range triggers {
		if !t.ListensTo(n.Stream) {
			continue
		}
		ev, ok, err := p.grouper.Assign(ctx, t, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", t.ID, err))
			continue
		}
		if !ok || n.IsTest {
			continue
		}
		out, err := p.engine.Decide(ctx, t, ev, model.SourceNotice)
		if err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", t.ID, err))
		}
		if out.Decision.ID != "" {
			outcomes = append(outcomes, out)
		}
	}
	return outcomes, errors.Join(errs...)
}

// prepare fills the defaults of a received notice from its stream.
func (p *Pipeline) prepare(ctx context.Context, n *model.Notice) error {
	streams, err := p.streams(ctx)
	if err != nil {
		return err
	}
	s, ok := streams[n.Stream]
	if !ok {
		return fmt.Errorf("unknown stream %q", n.Stream)
	}
	if n.Format == "" {
		n.Format = s.Format
	}
	if n.Format != s.Format {
		return fmt.Errorf("notice format %s does not match stream %s (%s)", n.Format, s.Name, s.Format)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Created.IsZero() {
		n.Created = p.now().UTC()
	}
	return nil
}

func (p *Pipeline) streams(ctx context.Context) (map[string]model.Stream, error) {
	list, err := p.store.Streams(ctx)
	if err != nil {
		return nil, fmt.Errorf("load streams: %w", err)
	}
	out := make(map[string]model.Stream, len(list))
	for _, s := range list {
		out[s.Name] = s
	}
	return out, nil
}

// Retrigger takes a manual decision for an event of a trigger.
func (p *Pipeline) Retrigger(ctx context.Context, triggerID, eventID string) (decision.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.store.Trigger(ctx, triggerID)
	if err != nil {
		return decision.Outcome{}, fmt.Errorf("trigger %s: %w", triggerID, err)
	}
	ev, err := p.store.Event(ctx, eventID)
	if err != nil {
		return decision.Outcome{}, fmt.Errorf("event %s: %w", eventID, err)
	}
	if ev.TriggerID != t.ID {
		return decision.Outcome{}, fmt.Errorf("event %s of trigger %s: %w", eventID, triggerID, store.ErrNotFound)
	}
	p.logger.Infof("manual retrigger of %s for event %s", t.ID, ev.GroupID)
	return p.engine.Decide(ctx, t, ev, model.SourceManual)
}

// Simulate returns the simulated decision timeline of an event.
func (p *Pipeline) Simulate(ctx context.Context, triggerID, eventID string) ([]model.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.store.Trigger(ctx, triggerID)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", triggerID, err)
	}
	ev, err := p.store.Event(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", eventID, err)
	}
	if ev.TriggerID != t.ID {
		return nil, fmt.Errorf("event %s of trigger %s: %w", eventID, triggerID, store.ErrNotFound)
	}
	return p.engine.Simulate(ctx, t, ev)
}

// ReconfigureReport describes what a trigger change caused.
type ReconfigureReport struct {
	Created bool
	Resync  *grouping.ResyncReport
	Purged  int
}

// ReconfigureTrigger validates and stores t. Changing its streams or
// selectors rebuilds its events; changing its conditions drops the cached
// simulated decisions.
func (p *Pipeline) ReconfigureTrigger(ctx context.Context, t model.Trigger) (ReconfigureReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	streams, err := p.streams(ctx)
	if err != nil {
		return ReconfigureReport{}, err
	}
	if err := model.ValidateTrigger(t, streams); err != nil {
		return ReconfigureReport{}, err
	}
	if t.Telescope != nil && p.validator != nil {
		if err := p.validator.Validate(*t.Telescope); err != nil {
			return ReconfigureReport{}, fmt.Errorf("trigger %s: %w", t.ID, err)
		}
	}

	var report ReconfigureReport
	prev, err := p.store.Trigger(ctx, t.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		report.Created = true
	case err != nil:
		return report, fmt.Errorf("load trigger %s: %w", t.ID, err)
	}
	if err := p.store.SaveTrigger(ctx, t); err != nil {
		return report, fmt.Errorf("save trigger %s: %w", t.ID, err)
	}

	if report.Created || groupingChanged(prev, t) {
		r, err := p.grouper.Resync(ctx, t)
		if err != nil {
			return report, err
		}
		report.Resync = &r
	}
	if !report.Created && (report.Resync != nil || conditionsChanged(prev, t)) {
		n, err := p.grouper.ConditionsChanged(ctx, t)
		if err != nil {
			return report, err
		}
		report.Purged = n
	}
	return report, nil
}

func groupingChanged(prev, next model.Trigger) bool {
	return prev.GroupBy != next.GroupBy ||
		prev.TimePath != next.TimePath ||
		!slices.Equal(prev.Streams, next.Streams)
}

func conditionsChanged(prev, next model.Trigger) bool {
	return prev.ExpiryMinutes != next.ExpiryMinutes ||
		!slices.Equal(prev.Conditions, next.Conditions)
}

// LoadTriggers registers streams and applies every trigger definition.
// Invalid triggers are reported and skipped.
func (p *Pipeline) LoadTriggers(ctx context.Context, streams []model.Stream, triggers []model.Trigger) error {
	for _, s := range streams {
		if !s.Format.Valid() {
			return fmt.Errorf("stream %s: unknown format %q", s.Name, s.Format)
		}
		if err := p.store.SaveStream(ctx, s); err != nil {
			return fmt.Errorf("save stream %s: %w", s.Name, err)
		}
	}
	var errs []error
	for _, t := range triggers {
		report, err := p.ReconfigureTrigger(ctx, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if report.Resync != nil {
			p.logger.Infof("trigger %s loaded with %d events", t.ID, report.Resync.Events)
		}
	}
	return errors.Join(errs...)
}
