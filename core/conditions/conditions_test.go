package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tracet/core/model"
)

type values map[string]any

func (v values) Query(s string) (any, bool) {
	x, ok := v[s]
	return x, ok
}

func voteOf(t *testing.T, f model.Factor) model.Vote {
	t.Helper()
	require.NotNil(t, f.Vote, "expected a vote for %q", f.Condition)
	return *f.Vote
}

func TestNumericRangeBounds(t *testing.T) {
	c := NumericRange{Selector: "snr", Low: 10, High: 20, IfTrue: model.Pass, IfFalse: model.Fail}

	assert.Equal(t, model.Pass, voteOf(t, c.Evaluate(values{"snr": 10.0})))
	assert.Equal(t, model.Fail, voteOf(t, c.Evaluate(values{"snr": 20.0})))
	assert.Equal(t, model.Pass, voteOf(t, c.Evaluate(values{"snr": " 15.5 "})))
	assert.Equal(t, model.Fail, voteOf(t, c.Evaluate(values{"snr": "9.99"})))

	assert.Nil(t, c.Evaluate(values{}).Vote)
	assert.Nil(t, c.Evaluate(values{"snr": "high"}).Vote)
	assert.Equal(t, "IF 10 ≤ snr < 20 THEN Pass ELSE Fail", c.String())
}

func TestBoolean(t *testing.T) {
	c := Boolean{Selector: "flag", IfTrue: model.Pass, IfFalse: model.Fail}
	cases := []struct {
		in   any
		want model.Vote
	}{
		{true, model.Pass},
		{false, model.Fail},
		{"yes", model.Pass},
		{" NO ", model.Fail},
		{"0", model.Fail},
		{"2.5", model.Pass},
		{0.0, model.Fail},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, voteOf(t, c.Evaluate(values{"flag": tc.in})), "input %v", tc.in)
	}
	assert.Nil(t, c.Evaluate(values{"flag": "perhaps"}).Vote)
	assert.Nil(t, c.Evaluate(values{}).Vote)
}

func TestTruthy(t *testing.T) {
	b, err := Truthy("TRUE")
	require.NoError(t, err)
	assert.True(t, b)
	b, err = Truthy(int64(0))
	require.NoError(t, err)
	assert.False(t, b)
	_, err = Truthy("maybe")
	assert.Error(t, err)
	_, err = Truthy([]int{1})
	assert.Error(t, err)
}

func TestEquality(t *testing.T) {
	c := Equality{Selector: "type", Candidates: ParseCandidates("  GRB\n SGR \nXRF\n"), IfTrue: model.Pass, IfFalse: model.Maybe}
	assert.Equal(t, []string{"GRB", "SGR", "XRF"}, c.Candidates)
	assert.Equal(t, model.Pass, voteOf(t, c.Evaluate(values{"type": "SGR"})))
	assert.Equal(t, model.Maybe, voteOf(t, c.Evaluate(values{"type": "grb"})))
	assert.Nil(t, c.Evaluate(values{}).Vote)

	num := Equality{Selector: "n", Candidates: []string{"61"}, IfTrue: model.Pass, IfFalse: model.Fail}
	assert.Equal(t, model.Pass, voteOf(t, num.Evaluate(values{"n": 61.0})))

	flag := Equality{Selector: "retracted", Candidates: []string{"True"}, IfTrue: model.Fail, IfFalse: model.Pass}
	assert.Equal(t, model.Fail, voteOf(t, flag.Evaluate(values{"retracted": true})))
	assert.Equal(t, model.Pass, voteOf(t, flag.Evaluate(values{"retracted": false})))
	assert.Equal(t, model.Fail, voteOf(t, flag.Evaluate(values{"retracted": "True"})))

	long := Equality{Selector: "x", Candidates: []string{"a", "b", "c", "d", "e", "f"}, IfTrue: model.Pass, IfFalse: model.Fail}
	assert.Contains(t, long.String(), "'a', 'b', ..., 'e', 'f'")
}

func TestExpiration(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := Expiration{EventTime: &t0, AsOf: t0.Add(30 * time.Minute), Expiry: 30 * time.Minute}
	assert.Equal(t, model.Pass, voteOf(t, c.Evaluate(nil)))

	c.AsOf = t0.Add(31 * time.Minute)
	assert.Equal(t, model.Maybe, voteOf(t, c.Evaluate(nil)))

	c.EventTime = nil
	assert.Nil(t, c.Evaluate(nil).Vote)
}

func TestBuild(t *testing.T) {
	tr := model.Trigger{
		ExpiryMinutes: 10,
		Conditions: []model.ConditionSpec{
			{Type: model.Boolean, Selector: "a", IfTrue: model.Pass, IfFalse: model.Fail},
			{Type: model.Equality, Selector: "b", Candidates: "x", IfTrue: model.Pass, IfFalse: model.Fail},
			{Type: model.NumericRange, Selector: "c", Low: 1, High: 2, IfTrue: model.Pass, IfFalse: model.Fail},
		},
	}
	evs, err := Build(tr, model.Event{}, time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 4)
	assert.IsType(t, Expiration{}, evs[0])
	assert.IsType(t, Boolean{}, evs[1])
	assert.IsType(t, Equality{}, evs[2])
	assert.IsType(t, NumericRange{}, evs[3])

	tr.Conditions = append(tr.Conditions, model.ConditionSpec{Type: "regex", Selector: "d"})
	_, err = Build(tr, model.Event{}, time.Now())
	assert.Error(t, err)
}
