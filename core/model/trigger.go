package model

import (
	"fmt"
	"time"

	"github.com/kilianp07/tracet/core/factory"
)

// ConditionType names a condition evaluator.
type ConditionType string

const (
	NumericRange ConditionType = "numeric_range"
	Boolean      ConditionType = "boolean"
	Equality     ConditionType = "equality"
)

// ConditionSpec is the user configuration of one condition. Low and High are
// used by numeric ranges, Candidates (one per line) by equality conditions.
type ConditionSpec struct {
	Type       ConditionType `json:"type"`
	Selector   string        `json:"selector"`
	Low        float64       `json:"low,omitempty"`
	High       float64       `json:"high,omitempty"`
	Candidates string        `json:"candidates,omitempty"`
	IfTrue     Vote          `json:"if_true"`
	IfFalse    Vote          `json:"if_false"`
}

// Validate checks the condition is well formed.
func (c ConditionSpec) Validate() error {
	if c.Selector == "" {
		return fmt.Errorf("condition %s: selector is required", c.Type)
	}
	switch c.Type {
	case NumericRange:
		if c.Low > c.High {
			return fmt.Errorf("numeric range: low %v > high %v", c.Low, c.High)
		}
	case Boolean, Equality:
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// Trigger groups notices from its streams into events and decides whether to
// request an observation.
type Trigger struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Priority      int                   `json:"priority"`
	Active        bool                  `json:"active"`
	Streams       []string              `json:"streams"`
	GroupBy       string                `json:"group_by"`
	TimePath      string                `json:"time_path"`
	ExpiryMinutes float64               `json:"expiry_minutes"`
	Conditions    []ConditionSpec       `json:"conditions"`
	Telescope     *factory.ModuleConfig `json:"telescope,omitempty"`
}

// Expiry returns the validity window of an event.
func (t Trigger) Expiry() time.Duration {
	return time.Duration(t.ExpiryMinutes * float64(time.Minute))
}

// ListensTo reports whether stream feeds the trigger.
func (t Trigger) ListensTo(stream string) bool {
	for _, s := range t.Streams {
		if s == stream {
			return true
		}
	}
	return false
}

// ValidateTrigger checks the trigger definition against the known streams.
// All streams of a trigger must share one payload format.
func ValidateTrigger(t Trigger, streams map[string]Stream) error {
	if t.ID == "" {
		return fmt.Errorf("trigger id is required")
	}
	if t.GroupBy == "" {
		return fmt.Errorf("trigger %s: group_by is required", t.ID)
	}
	if t.ExpiryMinutes < 0 {
		return fmt.Errorf("trigger %s: expiry must not be negative", t.ID)
	}
	var format Format
	for i, name := range t.Streams {
		s, ok := streams[name]
		if !ok {
			return fmt.Errorf("trigger %s: unknown stream %s", t.ID, name)
		}
		if i == 0 {
			format = s.Format
			continue
		}
		if s.Format != format {
			return fmt.Errorf("trigger %s: streams mix %s and %s formats", t.ID, format, s.Format)
		}
	}
	for _, c := range t.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("trigger %s: %w", t.ID, err)
		}
	}
	if t.Telescope != nil && t.Telescope.Type == "" {
		return fmt.Errorf("trigger %s: telescope type is required", t.ID)
	}
	return nil
}

// Event is the set of notices of one trigger sharing a group id. Time is the
// earliest parseable event time found in those notices, nil when none parse.
type Event struct {
	ID        string     `json:"id"`
	TriggerID string     `json:"trigger_id"`
	GroupID   string     `json:"group_id"`
	Time      *time.Time `json:"time"`
}
