package decision

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tracet/core/events"
	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/notice"
	"github.com/kilianp07/tracet/core/store"
	"github.com/kilianp07/tracet/infra/logger"
	"github.com/kilianp07/tracet/internal/eventbus"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	calls []model.Decision
	err   error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, t model.Trigger, _ model.Event, _ []*model.Notice, d model.Decision) (model.Observation, error) {
	r.calls = append(r.calls, d)
	if r.err != nil {
		return model.Observation{}, r.err
	}
	return model.Observation{ID: "obs-" + d.ID, DecisionID: d.ID, TriggerID: t.ID, Status: model.StatusAPIOK}, nil
}

func flagNotice(id string, at time.Time, flag bool, test bool) *model.Notice {
	return &model.Notice{
		ID:      id,
		Stream:  "swift",
		Format:  notice.JSON,
		Created: at,
		Payload: []byte(fmt.Sprintf(`{"id":"grb1","flag":%t}`, flag)),
		IsTest:  test,
	}
}

func flagTrigger() model.Trigger {
	return model.Trigger{
		ID:            "grb",
		Priority:      5,
		Active:        true,
		Streams:       []string{"swift"},
		GroupBy:       "$.id",
		ExpiryMinutes: 60,
		Conditions: []model.ConditionSpec{
			{Type: model.Boolean, Selector: "$.flag", IfTrue: model.Pass, IfFalse: model.Fail},
		},
	}
}

func eventAt(at time.Time) model.Event {
	return model.Event{ID: "ev1", TriggerID: "grb", GroupID: "grb1", Time: &at}
}

func TestRecomputeFoldsLatestVote(t *testing.T) {
	ns := []*model.Notice{
		flagNotice("n3", t0.Add(2*time.Minute), true, false),
		flagNotice("n1", t0, false, false),
		flagNotice("n2", t0.Add(time.Minute), false, false),
	}
	tr := flagTrigger()
	ev := eventAt(t0)

	factors, err := Recompute(tr, ev, ns, t0.Add(2*time.Minute), model.SourceNotice)
	require.NoError(t, err)
	require.Len(t, factors, 2)
	assert.Equal(t, model.Pass, model.Conclude(factors))

	factors, err = Recompute(tr, ev, ns, t0.Add(time.Minute), model.SourceNotice)
	require.NoError(t, err)
	assert.Equal(t, model.Fail, model.Conclude(factors))
}

func TestRecomputeWithoutNotices(t *testing.T) {
	factors, err := Recompute(flagTrigger(), eventAt(t0), nil, t0, model.SourceManual)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.Equal(t, NoNotices, factors[0].Condition)
	assert.Equal(t, model.Fail, model.Conclude(factors))
}

func TestRecomputeExcludesTestNotices(t *testing.T) {
	ns := []*model.Notice{
		flagNotice("n1", t0, false, false),
		flagNotice("n2", t0.Add(time.Minute), true, true),
	}
	at := t0.Add(time.Minute)

	visible, err := Recompute(flagTrigger(), eventAt(t0), ns, at, model.SourceNotice)
	require.NoError(t, err)
	assert.Equal(t, model.Fail, model.Conclude(visible))

	sim, err := Recompute(flagTrigger(), eventAt(t0), ns, at, model.SourceSimulated)
	require.NoError(t, err)
	assert.Equal(t, model.Pass, model.Conclude(sim))

	only := []*model.Notice{flagNotice("n3", t0, true, true)}
	factors, err := Recompute(flagTrigger(), eventAt(t0), only, at, model.SourceNotice)
	require.NoError(t, err)
	assert.Equal(t, NoNotices, factors[0].Condition)
}

func TestRecomputeIndeterminateKeepsPrevious(t *testing.T) {
	ns := []*model.Notice{
		{ID: "a", Format: notice.JSON, Created: t0, Payload: []byte(`{}`)},
		flagNotice("b", t0.Add(time.Minute), true, false),
		{ID: "c", Format: notice.JSON, Created: t0.Add(2 * time.Minute), Payload: []byte(`{}`)},
	}
	factors, err := Recompute(flagTrigger(), eventAt(t0), ns, t0.Add(3*time.Minute), model.SourceNotice)
	require.NoError(t, err)
	require.NotNil(t, factors[1].Vote)
	assert.Equal(t, model.Pass, *factors[1].Vote)
	assert.True(t, factors[1].Inherited)
}

func TestConclusionWithoutConditions(t *testing.T) {
	tr := flagTrigger()
	tr.Conditions = nil
	factors, err := Recompute(tr, eventAt(t0), []*model.Notice{flagNotice("n1", t0, false, false)}, t0, model.SourceNotice)
	require.NoError(t, err)
	assert.Equal(t, model.Pass, model.Conclude(factors))
}

func TestExpiredEventPromotedByManualDecision(t *testing.T) {
	ns := []*model.Notice{flagNotice("n1", t0, true, false)}
	late := t0.Add(2 * time.Hour)

	factors, err := Recompute(flagTrigger(), eventAt(t0), ns, late, model.SourceNotice)
	require.NoError(t, err)
	d := model.Decision{Source: model.SourceNotice, Factors: factors}
	assert.Equal(t, model.Maybe, d.Conclusion())

	d.Source = model.SourceManual
	assert.Equal(t, model.Pass, d.Conclusion())
}

func newEngine(t *testing.T, disp Dispatcher) (*Engine, *store.MemoryStore, model.Trigger, model.Event) {
	t.Helper()
	st := store.NewMemoryStore()
	tr := flagTrigger()
	tr.Telescope = &factory.ModuleConfig{Type: "mwa"}
	ev := eventAt(t0)
	ctx := context.Background()
	require.NoError(t, st.SaveTrigger(ctx, tr))
	require.NoError(t, st.SaveEvent(ctx, ev))
	for _, n := range []*model.Notice{
		flagNotice("n1", t0, false, false),
		flagNotice("n2", t0.Add(time.Minute), true, false),
	} {
		require.NoError(t, st.SaveNotice(ctx, n))
		require.NoError(t, st.AttachNotice(ctx, ev.ID, n.ID))
	}
	e, err := NewEngine(st, disp, nil, nil, logger.NopLogger{})
	require.NoError(t, err)
	return e, st, tr, ev
}

func TestNewEngineRequiresStore(t *testing.T) {
	_, err := NewEngine(nil, nil, nil, nil, logger.NopLogger{})
	assert.Error(t, err)
}

func TestDecideDispatchesPassingDecision(t *testing.T) {
	disp := &recordingDispatcher{}
	e, st, tr, ev := newEngine(t, disp)
	bus := eventbus.New()
	e.bus = bus
	sub := bus.Subscribe()

	out, err := e.DecideAt(context.Background(), tr, ev, model.SourceNotice, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.Pass, out.Decision.Conclusion())
	require.NotNil(t, out.Observation)
	assert.Len(t, disp.calls, 1)

	saved, err := st.Decision(context.Background(), out.Decision.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, saved.EventID)

	select {
	case msg := <-sub:
		de, ok := msg.(events.DecisionEvent)
		require.True(t, ok)
		assert.Equal(t, model.Pass, de.Conclusion)
	case <-time.After(time.Second):
		t.Fatal("no decision event published")
	}
}

func TestDecideSkipsDispatch(t *testing.T) {
	disp := &recordingDispatcher{}
	e, _, tr, ev := newEngine(t, disp)
	ctx := context.Background()

	out, err := e.DecideAt(ctx, tr, ev, model.SourceNotice, t0)
	require.NoError(t, err)
	assert.Equal(t, model.Fail, out.Decision.Conclusion())
	assert.Nil(t, out.Observation)

	out, err = e.DecideAt(ctx, tr, ev, model.SourceSimulated, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.Pass, out.Decision.Conclusion())
	assert.Nil(t, out.Observation)

	tr.Telescope = nil
	out, err = e.DecideAt(ctx, tr, ev, model.SourceNotice, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, out.Observation)
	assert.Empty(t, disp.calls)
}

func TestDecidePropagatesDispatchError(t *testing.T) {
	disp := &recordingDispatcher{err: fmt.Errorf("boom")}
	e, st, tr, ev := newEngine(t, disp)
	out, err := e.DecideAt(context.Background(), tr, ev, model.SourceManual, t0.Add(time.Minute))
	require.Error(t, err)
	_, lookupErr := st.Decision(context.Background(), out.Decision.ID)
	assert.NoError(t, lookupErr)
}

func TestSimulateReusesDecisions(t *testing.T) {
	e, st, tr, ev := newEngine(t, nil)
	ctx := context.Background()

	first, err := e.Simulate(ctx, tr, ev)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, model.Fail, first[0].Conclusion())
	assert.Equal(t, model.Pass, first[1].Conclusion())

	again, err := e.Simulate(ctx, tr, ev)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, again[0].ID)

	all, err := st.Decisions(ctx, store.DecisionQuery{EventID: ev.ID, Source: model.SourceSimulated})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMostInteresting(t *testing.T) {
	ds := []model.Decision{
		{ID: "a", EventID: "e1", Created: t0, Source: model.SourceNotice},
		{ID: "b", EventID: "e1", Created: t0.Add(time.Minute), Source: model.SourceNotice},
		{ID: "c", EventID: "e1", Created: t0.Add(2 * time.Minute), Source: model.SourceSimulated},
		{ID: "d", EventID: "e2", Created: t0.Add(3 * time.Minute), Source: model.SourceManual},
		{ID: "e", EventID: "e2", Created: t0.Add(4 * time.Minute), Source: model.SourceNotice},
	}
	obs := []model.Observation{
		{ID: "o1", DecisionID: "a", Status: model.StatusAPIOK},
		{ID: "o2", DecisionID: "d", Status: model.StatusClash},
	}
	got := MostInteresting(ds, obs)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got = MostInteresting(ds, nil)
	assert.Equal(t, "e", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestMostInterestingCountsPretendObservations(t *testing.T) {
	ds := []model.Decision{
		{ID: "a", EventID: "e1", Created: t0, Source: model.SourceNotice},
		{ID: "b", EventID: "e1", Created: t0.Add(time.Minute), Source: model.SourceNotice},
	}
	obs := []model.Observation{
		{ID: "o1", DecisionID: "a", Status: model.StatusAPIOK, IsTest: true},
		{ID: "o2", DecisionID: "b", Status: model.StatusClash},
	}
	got := MostInteresting(ds, obs)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
