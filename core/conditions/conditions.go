// Package conditions evaluates trigger conditions against notices. Every
// evaluator maps one notice to one Factor; a selector that resolves nothing,
// or a value that cannot be interpreted, yields an indeterminate Factor.
package conditions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/tracet/core/model"
)

// Queryer resolves selectors against a notice payload.
type Queryer interface {
	Query(selector string) (any, bool)
}

// Evaluator turns one notice into a Factor.
type Evaluator interface {
	Evaluate(n Queryer) model.Factor
	String() string
}

// NumericRange votes IfTrue when Low <= value < High.
type NumericRange struct {
	Selector string
	Low      float64
	High     float64
	IfTrue   model.Vote
	IfFalse  model.Vote
}

func (c NumericRange) String() string {
	return fmt.Sprintf("IF %s ≤ %s < %s THEN %s ELSE %s",
		formatFloat(c.Low), c.Selector, formatFloat(c.High), c.IfTrue, c.IfFalse)
}

// Evaluate implements Evaluator.
func (c NumericRange) Evaluate(n Queryer) model.Factor {
	raw, ok := n.Query(c.Selector)
	if !ok {
		return model.Indeterminate(c.String())
	}
	v, err := toFloat(raw)
	if err != nil {
		return model.Indeterminate(c.String())
	}
	if c.Low <= v && v < c.High {
		return model.Voted(c.String(), c.IfTrue)
	}
	return model.Voted(c.String(), c.IfFalse)
}

// Boolean votes IfTrue when the value is truthy.
type Boolean struct {
	Selector string
	IfTrue   model.Vote
	IfFalse  model.Vote
}

func (c Boolean) String() string {
	return fmt.Sprintf("IF %s THEN %s ELSE %s", c.Selector, c.IfTrue, c.IfFalse)
}

// Evaluate implements Evaluator.
func (c Boolean) Evaluate(n Queryer) model.Factor {
	raw, ok := n.Query(c.Selector)
	if !ok {
		return model.Indeterminate(c.String())
	}
	b, err := Truthy(raw)
	if err != nil {
		return model.Indeterminate(c.String())
	}
	if b {
		return model.Voted(c.String(), c.IfTrue)
	}
	return model.Voted(c.String(), c.IfFalse)
}

// Equality votes IfTrue when the stringified value equals one of the
// candidates. Candidates are given one per line.
type Equality struct {
	Selector   string
	Candidates []string
	IfTrue     model.Vote
	IfFalse    model.Vote
}

// ParseCandidates splits a newline separated list, trimming each entry.
func ParseCandidates(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimSpace(l)
	}
	return out
}

func (c Equality) String() string {
	quoted := make([]string, len(c.Candidates))
	for i, v := range c.Candidates {
		quoted[i] = "'" + v + "'"
	}
	if len(quoted) > 4 {
		quoted = []string{quoted[0], quoted[1], "...", quoted[len(quoted)-2], quoted[len(quoted)-1]}
	}
	return fmt.Sprintf("IF %s IN (%s) THEN %s ELSE %s", c.Selector, strings.Join(quoted, ", "), c.IfTrue, c.IfFalse)
}

// Evaluate implements Evaluator.
func (c Equality) Evaluate(n Queryer) model.Factor {
	raw, ok := n.Query(c.Selector)
	if !ok {
		return model.Indeterminate(c.String())
	}
	s := Stringify(raw)
	for _, cand := range c.Candidates {
		if s == cand {
			return model.Voted(c.String(), c.IfTrue)
		}
	}
	return model.Voted(c.String(), c.IfFalse)
}

// Expiration ignores the notice and compares the age of the event at AsOf
// with the trigger's expiry. It votes Pass within the window and Maybe after
// it. An event without a time cannot be aged and is indeterminate.
type Expiration struct {
	EventTime *time.Time
	AsOf      time.Time
	Expiry    time.Duration
}

func (c Expiration) String() string {
	t0 := "<unknown>"
	if c.EventTime != nil {
		t0 = c.EventTime.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("IF %s - %s <= %s [minute] THEN Pass ELSE Maybe",
		c.AsOf.UTC().Format(time.RFC3339), t0, formatFloat(c.Expiry.Minutes()))
}

// Evaluate implements Evaluator.
func (c Expiration) Evaluate(Queryer) model.Factor {
	if c.EventTime == nil {
		return model.Indeterminate(c.String())
	}
	if c.AsOf.Sub(*c.EventTime) <= c.Expiry {
		return model.Voted(c.String(), model.Pass)
	}
	return model.Voted(c.String(), model.Maybe)
}

// FromSpec builds the evaluator for a configured condition.
func FromSpec(spec model.ConditionSpec) (Evaluator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Type {
	case model.NumericRange:
		return NumericRange{Selector: spec.Selector, Low: spec.Low, High: spec.High, IfTrue: spec.IfTrue, IfFalse: spec.IfFalse}, nil
	case model.Boolean:
		return Boolean{Selector: spec.Selector, IfTrue: spec.IfTrue, IfFalse: spec.IfFalse}, nil
	default:
		return Equality{Selector: spec.Selector, Candidates: ParseCandidates(spec.Candidates), IfTrue: spec.IfTrue, IfFalse: spec.IfFalse}, nil
	}
}

// Build returns the evaluators of a trigger, preceded by the expiration
// condition for an event evaluated at asOf.
func Build(t model.Trigger, ev model.Event, asOf time.Time) ([]Evaluator, error) {
	out := make([]Evaluator, 0, len(t.Conditions)+1)
	out = append(out, Expiration{EventTime: ev.Time, AsOf: asOf, Expiry: t.Expiry()})
	for _, spec := range t.Conditions {
		e, err := FromSpec(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Stringify renders a queried scalar the way candidates are written.
// Booleans render as True and False so that candidate lists match notices in
// either format.
func Stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return formatFloat(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	}
	return fmt.Sprint(v)
}
