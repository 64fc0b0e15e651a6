package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/tracet/core/events"
	"github.com/kilianp07/tracet/core/logger"
	"github.com/kilianp07/tracet/core/metrics"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/store"
	"github.com/kilianp07/tracet/internal/eventbus"
)

// Dispatcher requests an observation for a passing decision.
type Dispatcher interface {
	Dispatch(ctx context.Context, t model.Trigger, ev model.Event, notices []*model.Notice, d model.Decision) (model.Observation, error)
}

// Outcome is the result of taking a decision. Observation is nil when no
// dispatch was attempted.
type Outcome struct {
	Decision    model.Decision
	Observation *model.Observation
}

// Engine creates decisions and hands passing ones to the dispatcher.
type Engine struct {
	store      store.Repository
	dispatcher Dispatcher
	logger     logger.Logger
	metrics    metrics.MetricsSink
	bus        eventbus.EventBus
	now        func() time.Time
}

// NewEngine creates an Engine. dispatcher may be nil, in which case passing
// decisions are recorded but never dispatched.
func NewEngine(repo store.Repository, dispatcher Dispatcher, sink metrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*Engine, error) {
	if repo == nil || log == nil {
		return nil, fmt.Errorf("decision: nil parameter provided to NewEngine")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Engine{
		store:      repo,
		dispatcher: dispatcher,
		logger:     log,
		metrics:    sink,
		bus:        bus,
		now:        time.Now,
	}, nil
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Decide takes a decision for ev at the current time.
func (e *Engine) Decide(ctx context.Context, t model.Trigger, ev model.Event, source model.Source) (Outcome, error) {
	return e.DecideAt(ctx, t, ev, source, e.now())
}

// DecideAt takes a decision for ev as of at. A real decision concluding Pass
// is dispatched when the trigger has a telescope.
func (e *Engine) DecideAt(ctx context.Context, t model.Trigger, ev model.Event, source model.Source, at time.Time) (Outcome, error) {
	notices, err := e.store.EventNotices(ctx, ev.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load notices of event %s: %w", ev.ID, err)
	}
	factors, err := Recompute(t, ev, notices, at, source)
	if err != nil {
		return Outcome{}, fmt.Errorf("recompute event %s: %w", ev.ID, err)
	}
	d := model.Decision{
		ID:      uuid.NewString(),
		EventID: ev.ID,
		Created: at,
		Source:  source,
		Factors: factors,
	}
	if err := e.store.SaveDecision(ctx, d); err != nil {
		return Outcome{}, fmt.Errorf("save decision: %w", err)
	}
	conclusion := d.Conclusion()
	e.logger.Debugw("decision taken", logger.DecisionFields(t.ID, ev.GroupID, d, conclusion))
	if err := e.metrics.RecordDecision(metrics.DecisionRecord{
		TriggerID:  t.ID,
		EventID:    ev.ID,
		Source:     source,
		Conclusion: conclusion,
		Time:       at,
	}); err != nil {
		e.logger.Errorf("decision metrics error: %v", err)
	}
	if e.bus != nil {
		e.bus.Publish(events.DecisionEvent{TriggerID: t.ID, GroupID: ev.GroupID, Decision: d, Conclusion: conclusion})
	}

	out := Outcome{Decision: d}
	if !d.Real() || conclusion != model.Pass || t.Telescope == nil || e.dispatcher == nil {
		return out, nil
	}
	e.logger.Infof("trigger %s passed for event %s, requesting observation", t.ID, ev.GroupID)
	obs, err := e.dispatcher.Dispatch(ctx, t, ev, Qualifying(notices, at, source), d)
	if err != nil {
		return out, fmt.Errorf("dispatch: %w", err)
	}
	out.Observation = &obs
	return out, nil
}

// Simulate returns one simulated decision per notice of ev, each taken at
// that notice's creation time. Simulated decisions include test notices,
// never dispatch, and are reused until the trigger's conditions change.
func (e *Engine) Simulate(ctx context.Context, t model.Trigger, ev model.Event) ([]model.Decision, error) {
	notices, err := e.store.EventNotices(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("load notices of event %s: %w", ev.ID, err)
	}
	cached, err := e.store.Decisions(ctx, store.DecisionQuery{EventID: ev.ID, Source: model.SourceSimulated})
	if err != nil {
		return nil, fmt.Errorf("load simulated decisions: %w", err)
	}
	byTime := make(map[int64]model.Decision, len(cached))
	for _, d := range cached {
		byTime[d.Created.UnixNano()] = d
	}
	out := make([]model.Decision, 0, len(notices))
	for _, n := range Qualifying(notices, latestNotice(notices), model.SourceSimulated) {
		if d, ok := byTime[n.Created.UnixNano()]; ok {
			out = append(out, d)
			continue
		}
		factors, err := Recompute(t, ev, notices, n.Created, model.SourceSimulated)
		if err != nil {
			return nil, err
		}
		d := model.Decision{
			ID:      uuid.NewString(),
			EventID: ev.ID,
			Created: n.Created,
			Source:  model.SourceSimulated,
			Factors: factors,
		}
		if err := e.store.SaveDecision(ctx, d); err != nil {
			return nil, fmt.Errorf("save simulated decision: %w", err)
		}
		byTime[n.Created.UnixNano()] = d
		out = append(out, d)
	}
	return out, nil
}

// latestNotice returns the creation time of the newest notice.
func latestNotice(notices []*model.Notice) time.Time {
	var latest time.Time
	for _, n := range notices {
		if n.Created.After(latest) {
			latest = n.Created
		}
	}
	return latest
}

// Interesting returns the most interesting real decision of each event of a
// trigger, newest first.
func (e *Engine) Interesting(ctx context.Context, triggerID string) ([]model.Decision, error) {
	all, err := e.store.Decisions(ctx, store.DecisionQuery{TriggerID: triggerID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for _, d := range all {
		if d.Real() {
			ids = append(ids, d.ID)
		}
	}
	var obs []model.Observation
	if len(ids) > 0 {
		obs, err = e.store.Observations(ctx, store.ObservationQuery{DecisionIDs: ids})
		if err != nil {
			return nil, err
		}
	}
	return MostInteresting(all, obs), nil
}
