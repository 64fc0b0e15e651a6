package telescope

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/notice"
)

var now0 = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now0 }

func jsonNotice(id string, created time.Time, body string) *model.Notice {
	return &model.Notice{ID: id, Stream: "swift", Format: notice.JSON, Created: created, Payload: []byte(body)}
}

func coordsInput(active bool) Input {
	return Input{
		Trigger: model.Trigger{ID: "grb", Priority: 5, Active: active},
		Event:   model.Event{ID: "ev", TriggerID: "grb", GroupID: "1"},
		Notices: []*model.Notice{
			jsonNotice("n1", now0.Add(-2*time.Minute), `{"ra":"10.5","dec":-20}`),
			jsonNotice("n2", now0.Add(-time.Minute), `{"ra":12.25}`),
		},
		Now: now0,
	}
}

func TestLogFormat(t *testing.T) {
	l := NewLog(fixedClock)
	l.Add("First", "line one\nline two")
	l.Add("Second", errors.New("boom"))
	l.Add("Empty", nil)

	ts := now0.Format(time.RFC3339Nano)
	want := ts + ": First\n\n> line one\n> line two\n\n" + ts + ": Second\n\n> boom\n\n" + ts + ": Empty"
	assert.Equal(t, want, l.String())
}

func TestKindStatus(t *testing.T) {
	assert.Equal(t, model.StatusAPIOK, Classify(nil))
	assert.Equal(t, model.StatusDataFailure, Classify(&DispatchError{Kind: KindPreparation}))
	assert.Equal(t, model.StatusClash, Classify(fmt.Errorf("wrapped: %w", &DispatchError{Kind: KindOverride})))
	assert.Equal(t, model.StatusRequestFailure, Classify(&DispatchError{Kind: KindRequest}))
	assert.Equal(t, model.StatusAPIFailure, Classify(&DispatchError{Kind: KindRejection}))
	assert.Equal(t, model.StatusUnknownFailure, Classify(errors.New("other")))
	assert.Equal(t, "override failure: x", (&DispatchError{Kind: KindOverride, Err: errors.New("x")}).Error())
}

func TestInputQueryLatestScansNewestFirst(t *testing.T) {
	in := coordsInput(true)
	ra, err := in.Float("$.ra")
	require.NoError(t, err)
	assert.Equal(t, 12.25, ra)

	dec, err := in.Float("$.dec")
	require.NoError(t, err)
	assert.Equal(t, -20.0, dec)

	_, err = in.Float("$.missing")
	assert.Error(t, err)
}

func TestSexagesimal(t *testing.T) {
	assert.Equal(t, "12:00:00.00", sexagesimal(180.0/15, 2))
	assert.Equal(t, "00:42:00.00", sexagesimal(10.5/15, 2))
	assert.Equal(t, "-30:30:00.0", sexagesimal(-30.5, 1))
	assert.Equal(t, "01:30:30", minutesToHMS(90.5))
	assert.Equal(t, "00:20:00", minutesToHMS(20))
}

func TestDoRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = do(srv.Client(), req)
	assert.Error(t, err)
}
