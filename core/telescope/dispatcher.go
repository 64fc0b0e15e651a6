package telescope

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/tracet/core/events"
	"github.com/kilianp07/tracet/core/logger"
	"github.com/kilianp07/tracet/core/metrics"
	"github.com/kilianp07/tracet/core/model"
	coremon "github.com/kilianp07/tracet/core/monitoring"
	"github.com/kilianp07/tracet/core/store"
	"github.com/kilianp07/tracet/internal/eventbus"
)

// Dispatcher runs the dispatch state machine for passing decisions.
type Dispatcher struct {
	store    store.Repository
	registry *Registry
	logger   logger.Logger
	metrics  metrics.MetricsSink
	bus      eventbus.EventBus
	now      func() time.Time

	mu    sync.Mutex
	locks map[model.Observatory]*sync.Mutex
}

// NewDispatcher creates a Dispatcher. sink and bus are optional.
func NewDispatcher(repo store.Repository, registry *Registry, sink metrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*Dispatcher, error) {
	if repo == nil || registry == nil || log == nil {
		return nil, fmt.Errorf("telescope: nil parameter provided to NewDispatcher")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Dispatcher{
		store:    repo,
		registry: registry,
		logger:   log,
		metrics:  sink,
		bus:      bus,
		now:      time.Now,
		locks:    make(map[model.Observatory]*sync.Mutex),
	}, nil
}

// SetClock replaces the dispatcher's time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", p.value, p.stack)
}

// safely runs fn, turning a panic into an unclassified error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}

func (d *Dispatcher) lockFor(o model.Observatory) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[o]
	if !ok {
		l = &sync.Mutex{}
		d.locks[o] = l
	}
	return l
}

// Dispatch attempts one observation for dec and persists the outcome.
// Dispatch failures end up in the observation status; the returned error
// is only set when the observation could not be saved.
func (d *Dispatcher) Dispatch(ctx context.Context, t model.Trigger, ev model.Event, notices []*model.Notice, dec model.Decision) (model.Observation, error) {
	obs := model.Observation{
		ID:         uuid.NewString(),
		DecisionID: dec.ID,
		TriggerID:  t.ID,
		Created:    d.now(),
		Priority:   t.Priority,
		IsTest:     !t.Active,
	}
	log := NewLog(d.now)
	if t.Telescope == nil {
		return d.finish(ctx, &obs, log, fail(KindPreparation, "trigger %s has no telescope", t.ID))
	}
	obs.Observatory = d.registry.Observatory(t.Telescope.Type)

	tel, err := d.registry.Create(*t.Telescope)
	if err != nil {
		log.Add("Invalid telescope configuration", err)
		return d.finish(ctx, &obs, log, &DispatchError{Kind: KindPreparation, Err: err})
	}
	obs.Observatory = tel.Observatory()

	in := Input{Trigger: t, Event: ev, Notices: notices, Now: obs.Created}
	var req Request
	err = safely(func() error {
		var perr error
		req, perr = tel.Prepare(in, log)
		return perr
	})
	if err != nil {
		var pe *panicError
		if !errors.As(err, &pe) {
			err = &DispatchError{Kind: KindPreparation, Err: err}
		}
		return d.finish(ctx, &obs, log, err)
	}

	lock := d.lockFor(obs.Observatory)
	lock.Lock()
	defer lock.Unlock()
	err = safely(func() error { return d.request(ctx, tel, req, &obs, log) })
	return d.finish(ctx, &obs, log, err)
}

func (d *Dispatcher) request(ctx context.Context, tel Telescope, req Request, obs *model.Observation, log *Log) error {
	current, err := d.store.LatestActiveObservation(ctx, obs.Observatory, d.now())
	if err != nil {
		return fmt.Errorf("lookup active observation: %w", err)
	}
	if current != nil && obs.Priority <= current.Priority {
		log.Add("Clashing observation", fmt.Sprintf(
			"Existing observation (id=%s) in effect with priority %d (versus our priority: %d)",
			current.ID, current.Priority, obs.Priority))
		return fail(KindOverride, "observation %s has priority %d", current.ID, current.Priority)
	}

	start := time.Now()
	err = tel.Submit(ctx, req, log)
	requestLatency.WithLabelValues(string(obs.Observatory)).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	finish := d.now().Add(req.Duration)
	obs.Finish = &finish
	return nil
}

func (d *Dispatcher) finish(ctx context.Context, obs *model.Observation, log *Log, err error) (model.Observation, error) {
	obs.Status = Classify(err)
	if obs.Status == model.StatusUnknownFailure {
		log.Add("An unexpected error occurred while requesting the observation", err)
		d.logger.Errorf("observation %s for trigger %s failed unexpectedly: %v", obs.ID, obs.TriggerID, err)
		coremon.CaptureDispatch(err, string(obs.Observatory), obs.TriggerID)
	} else if err != nil {
		d.logger.Infof("observation %s for trigger %s ended with %s: %v", obs.ID, obs.TriggerID, obs.Status, err)
	} else {
		d.logger.Infof("observation %s accepted by %s until %s", obs.ID, obs.Observatory, obs.Finish.Format(time.RFC3339))
	}
	obs.Log = log.String()
	d.logger.Debugw("observation recorded", logger.ObservationFields(*obs))

	if serr := d.store.SaveObservation(ctx, *obs); serr != nil {
		return *obs, fmt.Errorf("save observation: %w", serr)
	}
	observationsTotal.WithLabelValues(string(obs.Observatory), string(obs.Status)).Inc()
	if rec, ok := d.metrics.(metrics.ObservationRecorder); ok {
		if merr := rec.RecordObservation(metrics.ObservationRecord{
			TriggerID:   obs.TriggerID,
			Observatory: obs.Observatory,
			Status:      obs.Status,
			Priority:    obs.Priority,
			IsTest:      obs.IsTest,
			Time:        obs.Created,
		}); merr != nil {
			d.logger.Errorf("observation metrics error: %v", merr)
		}
	}
	if d.bus != nil {
		d.bus.Publish(events.ObservationEvent{Observation: *obs})
	}
	return *obs, nil
}
