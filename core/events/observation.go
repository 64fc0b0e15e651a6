package events

import "github.com/kilianp07/tracet/core/model"

// ObservationEvent is published after a dispatch attempt has been recorded.
type ObservationEvent struct {
	Observation model.Observation `json:"observation"`
}

// Topic implements eventbus.Event.
func (ObservationEvent) Topic() string { return TopicObservations }
