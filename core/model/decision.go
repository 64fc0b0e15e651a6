package model

import "time"

// Source tags how a decision came about.
type Source string

const (
	SourceNotice    Source = "notice"
	SourceManual    Source = "manual"
	SourceSimulated Source = "simulated"
)

// Decision is a point in time conclusion over an event's notices. Factors are
// derived and recomputed whenever a decision is created.
type Decision struct {
	ID      string    `json:"id"`
	EventID string    `json:"event_id"`
	Created time.Time `json:"created"`
	Source  Source    `json:"source"`
	Factors []Factor  `json:"factors"`
}

// Real reports whether the decision may lead to an observation.
func (d Decision) Real() bool { return d.Source != SourceSimulated }

// Conclusion is the minimum vote over the factors. A manual decision promotes
// Maybe to Pass.
func (d Decision) Conclusion() Vote {
	c := Conclude(d.Factors)
	if c == Maybe && d.Source == SourceManual {
		return Pass
	}
	return c
}
