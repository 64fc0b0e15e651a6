// Package logger defines the logging interface of the engine packages and the
// structured fields that tie notices, decisions and observations together.
package logger

import "github.com/kilianp07/tracet/core/model"

// Logger exposes logging methods for common severity levels.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Structured field keys.
const (
	FieldNotice      = "notice"
	FieldStream      = "stream"
	FieldTest        = "test"
	FieldTrigger     = "trigger"
	FieldGroup       = "group_id"
	FieldDecision    = "decision"
	FieldSource      = "source"
	FieldConclusion  = "conclusion"
	FieldObservation = "observation"
	FieldObservatory = "observatory"
	FieldStatus      = "status"
)

// Fields holds the structured fields of one log line.
type Fields map[string]any

// NoticeFields identifies a received notice.
func NoticeFields(n *model.Notice) Fields {
	return Fields{FieldNotice: n.ID, FieldStream: n.Stream, FieldTest: n.IsTest}
}

// DecisionFields identifies a decision taken for a trigger's event.
func DecisionFields(triggerID, groupID string, d model.Decision, conclusion model.Vote) Fields {
	return Fields{
		FieldTrigger:    triggerID,
		FieldGroup:      groupID,
		FieldDecision:   d.ID,
		FieldSource:     string(d.Source),
		FieldConclusion: conclusion.String(),
	}
}

// ObservationFields identifies a dispatch attempt and its outcome.
func ObservationFields(o model.Observation) Fields {
	return Fields{
		FieldObservation: o.ID,
		FieldTrigger:     o.TriggerID,
		FieldDecision:    o.DecisionID,
		FieldObservatory: string(o.Observatory),
		FieldStatus:      string(o.Status),
		FieldTest:        o.IsTest,
	}
}
