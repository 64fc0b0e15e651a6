package events

import "github.com/kilianp07/tracet/core/model"

// DecisionEvent is published after a decision is saved.
type DecisionEvent struct {
	TriggerID  string         `json:"trigger_id"`
	GroupID    string         `json:"group_id"`
	Decision   model.Decision `json:"decision"`
	Conclusion model.Vote     `json:"conclusion"`
}

// Topic implements eventbus.Event.
func (DecisionEvent) Topic() string { return TopicDecisions }
