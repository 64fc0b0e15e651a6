package telescope

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tracet/core/events"
	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/store"
	"github.com/kilianp07/tracet/infra/logger"
	"github.com/kilianp07/tracet/internal/eventbus"
)

type mwaServer struct {
	*httptest.Server
	calls atomic.Int32
	last  atomic.Value
}

func newMWAServer(t *testing.T, status int, body string) *mwaServer {
	t.Helper()
	s := &mwaServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.last.Store(r.URL.Query())
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *mwaServer) query() url.Values {
	v, _ := s.last.Load().(url.Values)
	return v
}

func mwaTrigger(priority int) model.Trigger {
	return model.Trigger{
		ID:       "grb",
		Priority: priority,
		Active:   true,
		Telescope: &factory.ModuleConfig{
			Type: TypeMWACorrelator,
			Conf: map[string]any{
				"project_id": "G0055",
				"secure_key": "secret",
				"ra_path":    "$.ra",
				"dec_path":   "$.dec",
				"tileset":    "p2_compact",
				"frequency":  "145,24 121:24",
				"exposure":   8,
				"nobs":       2,
			},
		},
	}
}

func newDispatcher(t *testing.T, srvURL string) (*Dispatcher, *store.MemoryStore) {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	st := store.NewMemoryStore()
	reg := NewRegistry(Env{MWAURL: srvURL, ATCAURL: srvURL})
	d, err := NewDispatcher(st, reg, nil, nil, logger.NopLogger{})
	require.NoError(t, err)
	d.SetClock(fixedClock)
	return d, st
}

func dispatchInputs() (model.Event, []*model.Notice, model.Decision) {
	ev := model.Event{ID: "ev", TriggerID: "grb", GroupID: "1"}
	ns := []*model.Notice{jsonNotice("n1", now0.Add(-time.Minute), `{"ra":"201.365","dec":-43.019}`)}
	return ev, ns, model.Decision{ID: "dec1", EventID: ev.ID, Source: model.SourceNotice}
}

func TestDispatchMWACorrelatorOK(t *testing.T) {
	srv := newMWAServer(t, http.StatusOK, `{"success": true, "obsid_list": [1]}`)
	d, st := newDispatcher(t, srv.URL)
	bus := eventbus.New()
	d.bus = bus
	sub := bus.Subscribe()
	ev, ns, dec := dispatchInputs()

	obs, err := d.Dispatch(context.Background(), mwaTrigger(5), ev, ns, dec)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAPIOK, obs.Status)
	assert.Equal(t, model.MWA, obs.Observatory)
	assert.False(t, obs.IsTest)
	require.NotNil(t, obs.Finish)
	assert.Equal(t, now0.Add(2*2*8*time.Second+2*time.Minute), *obs.Finish)
	assert.Contains(t, obs.Log, "API params")
	assert.Contains(t, obs.Log, "Pretty API response")

	q := srv.query()
	assert.Equal(t, "G0055", q.Get("project_id"))
	assert.Equal(t, "201.365", q.Get("ra"))
	assert.Equal(t, "-43.019", q.Get("dec"))
	assert.Equal(t, "True", q.Get("calibrator"))
	assert.Equal(t, "True", q.Get("avoidsun"))
	assert.Equal(t, "False", q.Get("pretend"))
	assert.Equal(t, "p2_compact", q.Get("tileset"))
	var freqs []string
	require.NoError(t, json.Unmarshal([]byte(q.Get("freqspecs")), &freqs))
	assert.Equal(t, []string{"145,24", "121:24"}, freqs)

	saved, err := st.Observation(context.Background(), obs.ID)
	require.NoError(t, err)
	assert.Equal(t, obs.Status, saved.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(observationsTotal.WithLabelValues("MWA", "api_ok")))

	select {
	case msg := <-sub:
		oe, ok := msg.(events.ObservationEvent)
		require.True(t, ok)
		assert.Equal(t, obs.ID, oe.Observation.ID)
	case <-time.After(time.Second):
		t.Fatal("no observation event")
	}
}

func TestDispatchOverrideTieFavoursIncumbent(t *testing.T) {
	srv := newMWAServer(t, http.StatusOK, `{"success": true}`)
	d, st := newDispatcher(t, srv.URL)
	finish := now0.Add(10 * time.Minute)
	require.NoError(t, st.SaveObservation(context.Background(), model.Observation{
		ID: "running", Observatory: model.MWA, Priority: 5, Status: model.StatusAPIOK,
		Created: now0.Add(-time.Minute), Finish: &finish,
	}))
	ev, ns, dec := dispatchInputs()

	obs, err := d.Dispatch(context.Background(), mwaTrigger(5), ev, ns, dec)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClash, obs.Status)
	assert.Contains(t, obs.Log, "Existing observation (id=running) in effect with priority 5 (versus our priority: 5)")
	assert.Zero(t, srv.calls.Load())

	obs, err = d.Dispatch(context.Background(), mwaTrigger(6), ev, ns, dec)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAPIOK, obs.Status)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestDispatchConcurrentSameObservatory(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	t.Cleanup(srv.Close)
	d, _ := newDispatcher(t, srv.URL)
	ev, ns, dec := dispatchInputs()

	const n = 5
	statuses := make([]model.Status, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obs, err := d.Dispatch(context.Background(), mwaTrigger(5), ev, ns, dec)
			assert.NoError(t, err)
			statuses[i] = obs.Status
		}(i)
	}
	wg.Wait()

	counts := map[model.Status]int{}
	for _, s := range statuses {
		counts[s]++
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, map[model.Status]int{model.StatusAPIOK: 1, model.StatusClash: n - 1}, counts)
}

func TestDispatchFailureStatuses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   model.Status
	}{
		{"rejected", http.StatusOK, `{"success": false, "errors": {"x": "no"}}`, model.StatusAPIFailure},
		{"http error", http.StatusInternalServerError, `oops`, model.StatusRequestFailure},
		{"malformed", http.StatusOK, `<html>`, model.StatusUnknownFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newMWAServer(t, tc.status, tc.body)
			d, _ := newDispatcher(t, srv.URL)
			ev, ns, dec := dispatchInputs()
			obs, err := d.Dispatch(context.Background(), mwaTrigger(5), ev, ns, dec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, obs.Status)
			assert.Nil(t, obs.Finish)
			assert.NotEmpty(t, obs.Log)
		})
	}
}

func TestDispatchTransportFailure(t *testing.T) {
	srv := newMWAServer(t, http.StatusOK, `{}`)
	addr := srv.URL
	srv.Close()
	d, _ := newDispatcher(t, addr)
	ev, ns, dec := dispatchInputs()
	obs, err := d.Dispatch(context.Background(), mwaTrigger(5), ev, ns, dec)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRequestFailure, obs.Status)
}

func TestDispatchPreparationFailures(t *testing.T) {
	srv := newMWAServer(t, http.StatusOK, `{"success": true}`)
	d, _ := newDispatcher(t, srv.URL)
	ev, _, dec := dispatchInputs()

	bad := []*model.Notice{jsonNotice("n1", now0, `{"ra":"north","dec":1}`)}
	obs, err := d.Dispatch(context.Background(), mwaTrigger(5), ev, bad, dec)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDataFailure, obs.Status)
	assert.Equal(t, model.MWA, obs.Observatory)
	assert.Contains(t, obs.Log, "An error occurred attempting to parse RA,Dec values")

	tr := mwaTrigger(5)
	tr.Telescope.Conf = map[string]any{"project_id": "x"}
	obs, err = d.Dispatch(context.Background(), tr, ev, bad, dec)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDataFailure, obs.Status)
	assert.Zero(t, srv.calls.Load())
}

type panicky struct{ panicIn string }

func (p panicky) Observatory() model.Observatory { return model.ATCA }

func (p panicky) Prepare(Input, *Log) (Request, error) {
	if p.panicIn == "prepare" {
		panic("prepare exploded")
	}
	return Request{Duration: time.Minute}, nil
}

func (p panicky) Submit(context.Context, Request, *Log) error {
	panic("submit exploded")
}

func TestDispatchRecoversPanics(t *testing.T) {
	d, st := newDispatcher(t, "http://127.0.0.1:0")
	require.NoError(t, d.registry.Register("panicky", model.ATCA, func(conf map[string]any) (Telescope, error) {
		where, _ := conf["in"].(string)
		return panicky{panicIn: where}, nil
	}))
	ev, ns, dec := dispatchInputs()

	for _, where := range []string{"prepare", "submit"} {
		tr := model.Trigger{ID: "grb", Priority: 1, Telescope: &factory.ModuleConfig{Type: "panicky", Conf: map[string]any{"in": where}}}
		obs, err := d.Dispatch(context.Background(), tr, ev, ns, dec)
		require.NoError(t, err)
		assert.Equal(t, model.StatusUnknownFailure, obs.Status, where)
		assert.True(t, obs.IsTest)
		assert.Contains(t, obs.Log, where+" exploded")
		assert.Contains(t, obs.Log, "goroutine")
	}
	all, err := st.Observations(context.Background(), store.ObservationQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
