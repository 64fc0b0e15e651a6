// Package grouping assigns notices to the events of the triggers that listen
// to their stream and keeps event times current.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"

	"github.com/kilianp07/tracet/core/conditions"
	"github.com/kilianp07/tracet/core/logger"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/store"
)

// Grouper maintains events in the repository.
type Grouper struct {
	store  store.Repository
	logger logger.Logger
}

// NewGrouper creates a Grouper.
func NewGrouper(repo store.Repository, log logger.Logger) (*Grouper, error) {
	if repo == nil || log == nil {
		return nil, fmt.Errorf("grouping: nil parameter provided to NewGrouper")
	}
	return &Grouper{store: repo, logger: log}, nil
}

// GroupID resolves the group id of n for t. ok is false when the group_by
// selector does not resolve.
func GroupID(t model.Trigger, n *model.Notice) (string, bool) {
	v, ok := n.Query(t.GroupBy)
	if !ok || v == nil {
		return "", false
	}
	id := strings.TrimSpace(conditions.Stringify(v))
	return id, id != ""
}

// Assign attaches n to the event of t sharing its group id, creating the
// event when needed, and refreshes the event time. ok is false when the
// notice has no group id for this trigger.
func (g *Grouper) Assign(ctx context.Context, t model.Trigger, n *model.Notice) (model.Event, bool, error) {
	if !t.ListensTo(n.Stream) {
		return model.Event{}, false, nil
	}
	groupID, ok := GroupID(t, n)
	if !ok {
		g.logger.Warnf("notice %s has no group id for trigger %s (selector %s)", n.ID, t.ID, t.GroupBy)
		return model.Event{}, false, nil
	}
	ev, err := g.getOrCreate(ctx, t.ID, groupID)
	if err != nil {
		return model.Event{}, false, err
	}
	if err := g.store.AttachNotice(ctx, ev.ID, n.ID); err != nil {
		return model.Event{}, false, fmt.Errorf("attach notice %s: %w", n.ID, err)
	}
	ev, err = g.UpdateTime(ctx, t, ev)
	if err != nil {
		return model.Event{}, false, err
	}
	return ev, true, nil
}

func (g *Grouper) getOrCreate(ctx context.Context, triggerID, groupID string) (model.Event, error) {
	ev, err := g.store.EventByGroup(ctx, triggerID, groupID)
	if err == nil {
		return ev, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Event{}, fmt.Errorf("lookup event %s/%s: %w", triggerID, groupID, err)
	}
	ev = model.Event{ID: uuid.NewString(), TriggerID: triggerID, GroupID: groupID}
	if err := g.store.SaveEvent(ctx, ev); err != nil {
		return model.Event{}, fmt.Errorf("save event: %w", err)
	}
	g.logger.Infof("created event %s for trigger %s", groupID, triggerID)
	return ev, nil
}

// UpdateTime sets the event time to the earliest time found in its notices
// and saves the event.
func (g *Grouper) UpdateTime(ctx context.Context, t model.Trigger, ev model.Event) (model.Event, error) {
	notices, err := g.store.EventNotices(ctx, ev.ID)
	if err != nil {
		return ev, fmt.Errorf("load notices of event %s: %w", ev.ID, err)
	}
	ev.Time = g.EventTime(t, notices)
	if err := g.store.SaveEvent(ctx, ev); err != nil {
		return ev, fmt.Errorf("save event: %w", err)
	}
	return ev, nil
}

// EventTime returns the earliest parseable time_path value among notices.
// Notices whose time cannot be parsed are skipped with a warning.
func (g *Grouper) EventTime(t model.Trigger, notices []*model.Notice) *time.Time {
	if t.TimePath == "" {
		return nil
	}
	var earliest *time.Time
	for _, n := range notices {
		ts, err := ParseTime(n, t.TimePath)
		if err != nil {
			g.logger.Warnf("failed to parse time (trigger %s, notice %s) with path %s: %v", t.ID, n.ID, t.TimePath, err)
			continue
		}
		if earliest == nil || ts.Before(*earliest) {
			ts := ts
			earliest = &ts
		}
	}
	return earliest
}

// ParseTime reads the selector from n and parses it as a timestamp. Values
// without a zone are taken as UTC.
func ParseTime(n *model.Notice, selector string) (time.Time, error) {
	v, ok := n.Query(selector)
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("no value at %s", selector)
	}
	ts, err := dateparse.ParseIn(strings.TrimSpace(conditions.Stringify(v)), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// ResyncReport summarises a resync.
type ResyncReport struct {
	Events  int
	Deleted int
}

// Resync rebuilds the events of t from the notice archive. Events whose group
// no longer matches any notice are deleted with their decisions.
func (g *Grouper) Resync(ctx context.Context, t model.Trigger) (ResyncReport, error) {
	notices, err := g.store.NoticesByStreams(ctx, t.Streams)
	if err != nil {
		return ResyncReport{}, fmt.Errorf("load archive: %w", err)
	}
	if _, err := g.store.DetachNotices(ctx, t.ID); err != nil {
		return ResyncReport{}, fmt.Errorf("detach notices: %w", err)
	}
	keep := make(map[string]model.Event)
	for _, n := range notices {
		groupID, ok := GroupID(t, n)
		if !ok {
			continue
		}
		ev, err := g.getOrCreate(ctx, t.ID, groupID)
		if err != nil {
			return ResyncReport{}, err
		}
		if err := g.store.AttachNotice(ctx, ev.ID, n.ID); err != nil {
			return ResyncReport{}, fmt.Errorf("attach notice %s: %w", n.ID, err)
		}
		keep[ev.ID] = ev
	}

	existing, err := g.store.Events(ctx, t.ID)
	if err != nil {
		return ResyncReport{}, fmt.Errorf("load events: %w", err)
	}
	report := ResyncReport{}
	for _, ev := range existing {
		if _, ok := keep[ev.ID]; ok {
			continue
		}
		if err := g.store.DeleteEvent(ctx, ev.ID); err != nil {
			return report, fmt.Errorf("delete event %s: %w", ev.ID, err)
		}
		report.Deleted++
	}
	for _, ev := range keep {
		if _, err := g.UpdateTime(ctx, t, ev); err != nil {
			return report, err
		}
	}
	report.Events = len(keep)
	g.logger.Infof("resynced trigger %s: %d events, %d deleted", t.ID, report.Events, report.Deleted)
	return report, nil
}

// ConditionsChanged drops the cached simulated decisions of t. Real decisions
// are never touched.
func (g *Grouper) ConditionsChanged(ctx context.Context, t model.Trigger) (int, error) {
	n, err := g.store.DeleteDecisions(ctx, store.DecisionQuery{TriggerID: t.ID, Source: model.SourceSimulated})
	if err != nil {
		return 0, fmt.Errorf("purge simulated decisions: %w", err)
	}
	if n > 0 {
		g.logger.Debugf("purged %d simulated decisions of trigger %s", n, t.ID)
	}
	return n, nil
}
