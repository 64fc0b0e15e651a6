package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tracet/core/decision"
	"github.com/kilianp07/tracet/core/events"
	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/grouping"
	"github.com/kilianp07/tracet/core/metrics"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/notice"
	"github.com/kilianp07/tracet/core/store"
	"github.com/kilianp07/tracet/infra/logger"
	"github.com/kilianp07/tracet/internal/eventbus"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	calls []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, t model.Trigger, _ model.Event, _ []*model.Notice, d model.Decision) (model.Observation, error) {
	f.calls = append(f.calls, t.ID)
	return model.Observation{ID: "obs-" + d.ID, DecisionID: d.ID, TriggerID: t.ID, Status: model.StatusAPIOK}, nil
}

type typeValidator struct{}

func (typeValidator) Validate(conf factory.ModuleConfig) error {
	if conf.Type != "fake" {
		return fmt.Errorf("unknown telescope %q", conf.Type)
	}
	return nil
}

type noticeCounter struct {
	metrics.NopSink
	notices int
}

func (c *noticeCounter) RecordNotice(metrics.NoticeRecord) error {
	c.notices++
	return nil
}

type fixture struct {
	p     *Pipeline
	st    *store.MemoryStore
	disp  *fakeDispatcher
	sink  *noticeCounter
	bus   *eventbus.Bus
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:    store.NewMemoryStore(),
		disp:  &fakeDispatcher{},
		sink:  &noticeCounter{},
		bus:   eventbus.New(),
		clock: t0,
	}
	log := logger.NopLogger{}
	g, err := grouping.NewGrouper(f.st, log)
	require.NoError(t, err)
	e, err := decision.NewEngine(f.st, f.disp, f.sink, f.bus, log)
	require.NoError(t, err)
	e.SetClock(func() time.Time { return f.clock })
	f.p, err = New(f.st, g, e, typeValidator{}, f.sink, f.bus, log)
	require.NoError(t, err)
	f.p.SetClock(func() time.Time { return f.clock })

	streams := []model.Stream{{Name: "swift", Format: notice.JSON}, {Name: "voevent", Format: notice.XML}}
	require.NoError(t, f.p.LoadTriggers(context.Background(), streams, []model.Trigger{grbTrigger(5)}))
	return f
}

func grbTrigger(priority int) model.Trigger {
	return model.Trigger{
		ID:            "grb",
		Priority:      priority,
		Active:        true,
		Streams:       []string{"swift"},
		GroupBy:       "$.id",
		TimePath:      "$.time",
		ExpiryMinutes: 60,
		Conditions: []model.ConditionSpec{
			{Type: model.Boolean, Selector: "$.flag", IfTrue: model.Pass, IfFalse: model.Fail},
		},
		Telescope: &factory.ModuleConfig{Type: "fake"},
	}
}

func swiftNotice(id string, flag bool) *model.Notice {
	return &model.Notice{
		ID:      id,
		Stream:  "swift",
		Payload: []byte(fmt.Sprintf(`{"id":"grb1","time":"2024-05-01T09:55:00Z","flag":%t}`, flag)),
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestHandleNoticeDecidesAndDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.bus.Subscribe()

	n := swiftNotice("n1", true)
	out, err := f.p.HandleNotice(ctx, n)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.Pass, out[0].Decision.Conclusion())
	require.NotNil(t, out[0].Observation)
	assert.Equal(t, []string{"grb"}, f.disp.calls)

	assert.Equal(t, notice.JSON, n.Format)
	assert.Equal(t, t0, n.Created)
	assert.Equal(t, 1, f.sink.notices)
	stored, err := f.st.Notice(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "swift", stored.Stream)

	select {
	case msg := <-sub:
		_, ok := msg.(events.NoticeEvent)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no notice event")
	}

	f.clock = t0.Add(time.Minute)
	out, err = f.p.HandleNotice(ctx, swiftNotice("n2", false))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.Fail, out[0].Decision.Conclusion())
	assert.Nil(t, out[0].Observation)
	assert.Len(t, f.disp.calls, 1)

	evs, err := f.st.Events(ctx, "grb")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	ns, err := f.st.EventNotices(ctx, evs[0].ID)
	require.NoError(t, err)
	assert.Len(t, ns, 2)
}

func TestHandleNoticeTestNoticeIsGroupedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := swiftNotice("n1", true)
	n.IsTest = true

	out, err := f.p.HandleNotice(ctx, n)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, f.disp.calls)
	evs, err := f.st.Events(ctx, "grb")
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestHandleNoticeRejectsUnknownStreamAndFormat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.HandleNotice(ctx, &model.Notice{ID: "x", Stream: "fermi", Payload: []byte(`{}`)})
	assert.Error(t, err)

	_, err = f.p.HandleNotice(ctx, &model.Notice{ID: "y", Stream: "swift", Format: notice.XML, Payload: []byte(`<a/>`)})
	assert.Error(t, err)

	_, err = f.st.Notice(ctx, "x")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRetriggerPromotesExpiredEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.p.HandleNotice(ctx, swiftNotice("n1", true))
	require.NoError(t, err)
	evs, err := f.st.Events(ctx, "grb")
	require.NoError(t, err)
	require.Len(t, evs, 1)

	f.clock = t0.Add(3 * time.Hour)
	out, err := f.p.Retrigger(ctx, "grb", evs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceManual, out.Decision.Source)
	assert.Equal(t, model.Pass, out.Decision.Conclusion())
	assert.Len(t, f.disp.calls, 2)

	_, err = f.p.Retrigger(ctx, "grb", "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = f.p.Retrigger(ctx, "nope", evs[0].ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestReconfigureTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.p.HandleNotice(ctx, swiftNotice("n1", true))
	require.NoError(t, err)
	evs, err := f.st.Events(ctx, "grb")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	sims, err := f.p.Simulate(ctx, "grb", evs[0].ID)
	require.NoError(t, err)
	require.Len(t, sims, 1)

	tr := grbTrigger(5)
	tr.Priority = 8
	report, err := f.p.ReconfigureTrigger(ctx, tr)
	require.NoError(t, err)
	assert.False(t, report.Created)
	assert.Nil(t, report.Resync)
	assert.Zero(t, report.Purged)

	tr.Conditions = []model.ConditionSpec{
		{Type: model.Boolean, Selector: "$.flag", IfTrue: model.Pass, IfFalse: model.Maybe},
	}
	report, err = f.p.ReconfigureTrigger(ctx, tr)
	require.NoError(t, err)
	assert.Nil(t, report.Resync)
	assert.Equal(t, 1, report.Purged)

	tr.GroupBy = "$.missing"
	report, err = f.p.ReconfigureTrigger(ctx, tr)
	require.NoError(t, err)
	require.NotNil(t, report.Resync)
	assert.Equal(t, 1, report.Resync.Deleted)
	assert.Zero(t, report.Resync.Events)

	tr.Telescope = &factory.ModuleConfig{Type: "vla"}
	_, err = f.p.ReconfigureTrigger(ctx, tr)
	assert.Error(t, err)

	tr = grbTrigger(1)
	tr.ID = "mixed"
	tr.Streams = []string{"swift", "voevent"}
	_, err = f.p.ReconfigureTrigger(ctx, tr)
	assert.Error(t, err)
}

func TestLoadTriggersCollectsErrors(t *testing.T) {
	f := newFixture(t)
	bad := grbTrigger(1)
	bad.ID = "bad"
	bad.GroupBy = ""
	good := grbTrigger(2)
	good.ID = "good"

	err := f.p.LoadTriggers(context.Background(), nil, []model.Trigger{bad, good})
	assert.Error(t, err)
	_, err = f.st.Trigger(context.Background(), "good")
	assert.NoError(t, err)
	assert.Error(t, f.p.LoadTriggers(context.Background(), []model.Stream{{Name: "x", Format: "yaml"}}, nil))
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	f := newFixture(t)
	ch := make(chan *model.Notice, 1)
	ch <- swiftNotice("n1", true)
	close(ch)
	f.p.Run(context.Background(), ch)
	assert.Equal(t, []string{"grb"}, f.disp.calls)
}
