package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/tracet/core/model"
)

// MemoryStore is an in-process Repository used in tests and for the
// "memory" store backend.
type MemoryStore struct {
	mu           sync.RWMutex
	streams      map[string]model.Stream
	notices      map[string]*model.Notice
	triggers     map[string]model.Trigger
	events       map[string]model.Event
	eventNotices map[string][]string
	decisions    map[string]model.Decision
	observations map[string]model.Observation
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:      make(map[string]model.Stream),
		notices:      make(map[string]*model.Notice),
		triggers:     make(map[string]model.Trigger),
		events:       make(map[string]model.Event),
		eventNotices: make(map[string][]string),
		decisions:    make(map[string]model.Decision),
		observations: make(map[string]model.Observation),
	}
}

func (m *MemoryStore) SaveStream(_ context.Context, s model.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[s.Name] = s
	return nil
}

func (m *MemoryStore) Streams(context.Context) ([]model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) SaveNotice(_ context.Context, n *model.Notice) error {
	if n.ID == "" {
		return fmt.Errorf("notice id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices[n.ID] = n
	return nil
}

func (m *MemoryStore) Notice(_ context.Context, id string) (*model.Notice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (m *MemoryStore) NoticesByStreams(_ context.Context, streams []string) ([]*model.Notice, error) {
	want := make(map[string]bool, len(streams))
	for _, s := range streams {
		want[s] = true
	}
	m.mu.RLock()
	var out []*model.Notice
	for _, n := range m.notices {
		if want[n.Stream] {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()
	sortNotices(out)
	return out, nil
}

func (m *MemoryStore) SaveTrigger(_ context.Context, t model.Trigger) error {
	t.Streams = slices.Clone(t.Streams)
	t.Conditions = slices.Clone(t.Conditions)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[t.ID] = t
	return nil
}

func (m *MemoryStore) Trigger(_ context.Context, id string) (model.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.triggers[id]
	if !ok {
		return model.Trigger{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) Triggers(context.Context) ([]model.Trigger, error) {
	m.mu.RLock()
	out := make([]model.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SaveEvent(_ context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return nil
}

func (m *MemoryStore) Event(_ context.Context, id string) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) EventByGroup(_ context.Context, triggerID, groupID string) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.TriggerID == triggerID && e.GroupID == groupID {
			return e, nil
		}
	}
	return model.Event{}, ErrNotFound
}

func (m *MemoryStore) Events(_ context.Context, triggerID string) ([]model.Event, error) {
	m.mu.RLock()
	var out []model.Event
	for _, e := range m.events {
		if e.TriggerID == triggerID {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Time, out[j].Time
		switch {
		case ti == nil && tj == nil:
			return out[i].GroupID < out[j].GroupID
		case ti == nil:
			return false
		case tj == nil:
			return true
		}
		return ti.After(*tj)
	})
	return out, nil
}

func (m *MemoryStore) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	delete(m.eventNotices, id)
	for did, d := range m.decisions {
		if d.EventID == id {
			m.deleteDecisionLocked(did)
		}
	}
	return nil
}

func (m *MemoryStore) AttachNotice(_ context.Context, eventID, noticeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[eventID]; !ok {
		return ErrNotFound
	}
	for _, id := range m.eventNotices[eventID] {
		if id == noticeID {
			return nil
		}
	}
	m.eventNotices[eventID] = append(m.eventNotices[eventID], noticeID)
	return nil
}

func (m *MemoryStore) DetachNotices(_ context.Context, triggerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.events {
		if e.TriggerID != triggerID {
			continue
		}
		n += len(m.eventNotices[id])
		delete(m.eventNotices, id)
	}
	return n, nil
}

func (m *MemoryStore) EventNotices(_ context.Context, eventID string) ([]*model.Notice, error) {
	m.mu.RLock()
	ids := m.eventNotices[eventID]
	out := make([]*model.Notice, 0, len(ids))
	for _, id := range ids {
		if n, ok := m.notices[id]; ok {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()
	sortNotices(out)
	return out, nil
}

func (m *MemoryStore) SaveDecision(_ context.Context, d model.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.ID] = d
	return nil
}

func (m *MemoryStore) Decision(_ context.Context, id string) (model.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[id]
	if !ok {
		return model.Decision{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) matchDecision(d model.Decision, q DecisionQuery) bool {
	if q.EventID != "" && d.EventID != q.EventID {
		return false
	}
	if q.Source != "" && d.Source != q.Source {
		return false
	}
	if q.TriggerID != "" {
		e, ok := m.events[d.EventID]
		if !ok || e.TriggerID != q.TriggerID {
			return false
		}
	}
	return true
}

func (m *MemoryStore) Decisions(_ context.Context, q DecisionQuery) ([]model.Decision, error) {
	m.mu.RLock()
	var out []model.Decision
	for _, d := range m.decisions {
		if m.matchDecision(d, q) {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

func (m *MemoryStore) DeleteDecisions(_ context.Context, q DecisionQuery) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, d := range m.decisions {
		if m.matchDecision(d, q) {
			m.deleteDecisionLocked(id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) deleteDecisionLocked(id string) {
	delete(m.decisions, id)
	for oid, o := range m.observations {
		if o.DecisionID == id {
			o.DecisionID = ""
			m.observations[oid] = o
		}
	}
}

func (m *MemoryStore) SaveObservation(_ context.Context, o model.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations[o.ID] = o
	return nil
}

func (m *MemoryStore) Observation(_ context.Context, id string) (model.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.observations[id]
	if !ok {
		return model.Observation{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) Observations(_ context.Context, q ObservationQuery) ([]model.Observation, error) {
	decisions := make(map[string]bool, len(q.DecisionIDs))
	for _, id := range q.DecisionIDs {
		decisions[id] = true
	}
	m.mu.RLock()
	var out []model.Observation
	for _, o := range m.observations {
		if q.Observatory != "" && o.Observatory != q.Observatory {
			continue
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		if q.TriggerID != "" && o.TriggerID != q.TriggerID {
			continue
		}
		if len(q.DecisionIDs) > 0 && !decisions[o.DecisionID] {
			continue
		}
		if q.IsTest != nil && o.IsTest != *q.IsTest {
			continue
		}
		out = append(out, o)
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID > out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) LatestActiveObservation(_ context.Context, observatory model.Observatory, now time.Time) (*model.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.Observation
	for _, o := range m.observations {
		if o.Status != model.StatusAPIOK || o.Observatory != observatory || o.Finish == nil || o.Finish.Before(now) {
			continue
		}
		if best == nil || o.Finish.After(*best.Finish) {
			o := o
			best = &o
		}
	}
	return best, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortNotices(ns []*model.Notice) {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].Created.Equal(ns[j].Created) {
			return ns[i].ID < ns[j].ID
		}
		return ns[i].Created.Before(ns[j].Created)
	})
}
