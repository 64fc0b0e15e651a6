// Package storetest holds behaviour tests shared by every store.Repository
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/notice"
	"github.com/kilianp07/tracet/core/store"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Run exercises repo against the Repository contract. newRepo must return an
// empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Run("Streams", func(t *testing.T) { testStreams(t, newRepo(t)) })
	t.Run("Notices", func(t *testing.T) { testNotices(t, newRepo(t)) })
	t.Run("Triggers", func(t *testing.T) { testTriggers(t, newRepo(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newRepo(t)) })
	t.Run("DetachNotices", func(t *testing.T) { testDetachNotices(t, newRepo(t)) })
	t.Run("Decisions", func(t *testing.T) { testDecisions(t, newRepo(t)) })
	t.Run("Observations", func(t *testing.T) { testObservations(t, newRepo(t)) })
	t.Run("LatestActiveObservation", func(t *testing.T) { testLatestActive(t, newRepo(t)) })
}

func testStreams(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.SaveStream(ctx, model.Stream{Name: "swift", Format: notice.XML}))
	require.NoError(t, repo.SaveStream(ctx, model.Stream{Name: "lvk", Format: notice.JSON}))
	require.NoError(t, repo.SaveStream(ctx, model.Stream{Name: "swift", Format: notice.JSON}))
	got, err := repo.Streams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Stream{{Name: "lvk", Format: notice.JSON}, {Name: "swift", Format: notice.JSON}}, got)
}

func testNotices(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	later := &model.Notice{ID: "b", Stream: "swift", Format: notice.JSON, Created: base.Add(time.Minute), Payload: []byte(`{"x":1}`)}
	earlier := &model.Notice{ID: "a", Stream: "swift", Format: notice.JSON, Created: base, Payload: []byte(`{"x":2}`), IsTest: true}
	other := &model.Notice{ID: "c", Stream: "fermi", Format: notice.JSON, Created: base, Payload: []byte(`{}`)}
	for _, n := range []*model.Notice{later, earlier, other} {
		require.NoError(t, repo.SaveNotice(ctx, n))
	}

	got, err := repo.Notice(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.IsTest)
	assert.True(t, base.Equal(got.Created))
	v, ok := got.Query("$.x")
	require.True(t, ok)
	assert.EqualValues(t, 2, v)

	_, err = repo.Notice(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	list, err := repo.NoticesByStreams(ctx, []string{"swift"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	none, err := repo.NoticesByStreams(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testTriggers(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	low := model.Trigger{ID: "low", Priority: 1, Streams: []string{"swift"}, GroupBy: "$.id"}
	high := model.Trigger{
		ID: "high", Name: "GRB", Priority: 10, Active: true, Streams: []string{"swift", "fermi"},
		GroupBy: "$.id", TimePath: "$.time", ExpiryMinutes: 90,
		Conditions: []model.ConditionSpec{{Type: model.NumericRange, Selector: "$.snr", Low: 5, High: 100, IfTrue: model.Pass, IfFalse: model.Maybe}},
		Telescope:  &factory.ModuleConfig{Type: "mwa_vcs", Conf: map[string]any{"project_id": "G0055"}},
	}
	require.NoError(t, repo.SaveTrigger(ctx, low))
	require.NoError(t, repo.SaveTrigger(ctx, high))

	got, err := repo.Trigger(ctx, "high")
	require.NoError(t, err)
	assert.Equal(t, high, got)

	_, err = repo.Trigger(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	all, err := repo.Triggers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "high", all[0].ID)
	assert.Equal(t, "low", all[1].ID)

	low.Priority = 20
	require.NoError(t, repo.SaveTrigger(ctx, low))
	all, err = repo.Triggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low", all[0].ID)
}

func testEvents(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	for _, n := range []*model.Notice{
		{ID: "n2", Stream: "swift", Format: notice.JSON, Created: base.Add(time.Minute), Payload: []byte(`{}`)},
		{ID: "n1", Stream: "swift", Format: notice.JSON, Created: base, Payload: []byte(`{}`)},
	} {
		require.NoError(t, repo.SaveNotice(ctx, n))
	}
	early, late := base.Add(-time.Hour), base
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e1", TriggerID: "grb", GroupID: "1", Time: &early}))
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e2", TriggerID: "grb", GroupID: "2", Time: &late}))
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e3", TriggerID: "grb", GroupID: "3"}))
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e4", TriggerID: "gw", GroupID: "1"}))

	ev, err := repo.EventByGroup(ctx, "grb", "2")
	require.NoError(t, err)
	assert.Equal(t, "e2", ev.ID)
	_, err = repo.EventByGroup(ctx, "grb", "9")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	list, err := repo.Events(ctx, "grb")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e2", "e1", "e3"}, ids)

	later := base.Add(time.Hour)
	ev.Time = &later
	require.NoError(t, repo.SaveEvent(ctx, ev))
	ev, err = repo.Event(ctx, "e2")
	require.NoError(t, err)
	require.NotNil(t, ev.Time)
	assert.True(t, later.Equal(*ev.Time))

	require.NoError(t, repo.AttachNotice(ctx, "e1", "n2"))
	require.NoError(t, repo.AttachNotice(ctx, "e1", "n1"))
	require.NoError(t, repo.AttachNotice(ctx, "e1", "n1"))
	ns, err := repo.EventNotices(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.Equal(t, "n1", ns[0].ID)
	assert.True(t, errors.Is(repo.AttachNotice(ctx, "missing", "n1"), store.ErrNotFound))

	require.NoError(t, repo.SaveDecision(ctx, model.Decision{ID: "d1", EventID: "e1", Created: base, Source: model.SourceNotice}))
	require.NoError(t, repo.SaveObservation(ctx, model.Observation{ID: "o1", DecisionID: "d1", TriggerID: "grb", Created: base, Observatory: model.MWA, Status: model.StatusAPIOK}))
	require.NoError(t, repo.DeleteEvent(ctx, "e1"))

	_, err = repo.Event(ctx, "e1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = repo.Decision(ctx, "d1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	obs, err := repo.Observation(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, obs.DecisionID)
	ns, err = repo.EventNotices(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, ns)
	_, err = repo.Notice(ctx, "n1")
	assert.NoError(t, err)
}

func testDecisions(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e1", TriggerID: "grb", GroupID: "1"}))
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e2", TriggerID: "gw", GroupID: "1"}))

	factors := []model.Factor{
		model.Voted("expiry", model.Pass),
		{Condition: "snr", Vote: model.Voted("", model.Maybe).Vote, Inherited: true},
		model.Indeterminate("flag"),
	}
	d := model.Decision{ID: "d2", EventID: "e1", Created: base.Add(time.Minute), Source: model.SourceManual, Factors: factors}
	require.NoError(t, repo.SaveDecision(ctx, d))
	require.NoError(t, repo.SaveDecision(ctx, model.Decision{ID: "d1", EventID: "e1", Created: base, Source: model.SourceSimulated}))
	require.NoError(t, repo.SaveDecision(ctx, model.Decision{ID: "d3", EventID: "e2", Created: base, Source: model.SourceSimulated}))

	got, err := repo.Decision(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, d.Factors, got.Factors)
	assert.Equal(t, model.SourceManual, got.Source)
	assert.True(t, d.Created.Equal(got.Created))

	list, err := repo.Decisions(ctx, store.DecisionQuery{TriggerID: "grb"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d1", list[0].ID)

	list, err = repo.Decisions(ctx, store.DecisionQuery{Source: model.SourceSimulated})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := repo.DeleteDecisions(ctx, store.DecisionQuery{TriggerID: "grb", Source: model.SourceSimulated})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	list, err = repo.Decisions(ctx, store.DecisionQuery{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testObservations(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	finish := base.Add(time.Hour)
	obs := []model.Observation{
		{ID: "o1", DecisionID: "d1", TriggerID: "grb", Created: base, Finish: &finish, Observatory: model.MWA, Priority: 3, Status: model.StatusAPIOK, Log: "ok"},
		{ID: "o2", DecisionID: "d2", TriggerID: "grb", Created: base.Add(time.Minute), Observatory: model.ATCA, Status: model.StatusClash, IsTest: true},
		{ID: "o3", TriggerID: "gw", Created: base.Add(2 * time.Minute), Observatory: model.MWA, Status: model.StatusDataFailure},
	}
	for _, o := range obs {
		require.NoError(t, repo.SaveObservation(ctx, o))
	}

	got, err := repo.Observation(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got.Finish)
	assert.True(t, finish.Equal(*got.Finish))
	assert.Equal(t, "ok", got.Log)
	assert.Equal(t, 3, got.Priority)

	_, err = repo.Observation(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	all, err := repo.Observations(ctx, store.ObservationQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "o3", all[0].ID)

	mwa, err := repo.Observations(ctx, store.ObservationQuery{Observatory: model.MWA})
	require.NoError(t, err)
	assert.Len(t, mwa, 2)

	test := true
	tests, err := repo.Observations(ctx, store.ObservationQuery{IsTest: &test})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "o2", tests[0].ID)

	byDecision, err := repo.Observations(ctx, store.ObservationQuery{DecisionIDs: []string{"d1", "d2"}, Status: model.StatusAPIOK})
	require.NoError(t, err)
	require.Len(t, byDecision, 1)
	assert.Equal(t, "o1", byDecision[0].ID)

	limited, err := repo.Observations(ctx, store.ObservationQuery{TriggerID: "grb", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "o2", limited[0].ID)
}

func testLatestActive(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	got, err := repo.LatestActiveObservation(ctx, model.MWA, base)
	require.NoError(t, err)
	assert.Nil(t, got)

	past, soon, later := base.Add(-time.Minute), base.Add(10*time.Minute), base.Add(time.Hour)
	for _, o := range []model.Observation{
		{ID: "done", Observatory: model.MWA, Status: model.StatusAPIOK, Created: base.Add(-time.Hour), Finish: &past},
		{ID: "soon", Observatory: model.MWA, Status: model.StatusAPIOK, Created: base, Finish: &soon},
		{ID: "later", Observatory: model.MWA, Status: model.StatusAPIOK, Created: base, Finish: &later, Priority: 7},
		{ID: "failed", Observatory: model.MWA, Status: model.StatusAPIFailure, Created: base, Finish: &later},
		{ID: "atca", Observatory: model.ATCA, Status: model.StatusAPIOK, Created: base, Finish: &later},
	} {
		require.NoError(t, repo.SaveObservation(ctx, o))
	}
	got, err = repo.LatestActiveObservation(ctx, model.MWA, base)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "later", got.ID)
	assert.Equal(t, 7, got.Priority)

	got, err = repo.LatestActiveObservation(ctx, model.MWA, later.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testDetachNotices(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		require.NoError(t, repo.SaveNotice(ctx, &model.Notice{ID: id, Stream: "swift", Format: notice.JSON, Created: base, Payload: []byte(`{}`)}))
	}
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e1", TriggerID: "grb", GroupID: "1"}))
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e2", TriggerID: "grb", GroupID: "2"}))
	require.NoError(t, repo.SaveEvent(ctx, model.Event{ID: "e3", TriggerID: "gw", GroupID: "1"}))
	require.NoError(t, repo.AttachNotice(ctx, "e1", "n1"))
	require.NoError(t, repo.AttachNotice(ctx, "e2", "n2"))
	require.NoError(t, repo.AttachNotice(ctx, "e3", "n1"))

	n, err := repo.DetachNotices(ctx, "grb")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range []string{"e1", "e2"} {
		ns, err := repo.EventNotices(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, ns)
		_, err = repo.Event(ctx, id)
		assert.NoError(t, err)
	}
	ns, err := repo.EventNotices(ctx, "e3")
	require.NoError(t, err)
	assert.Len(t, ns, 1)
	_, err = repo.Notice(ctx, "n1")
	assert.NoError(t, err)
}
