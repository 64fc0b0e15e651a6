// Package events defines the events emitted on the event bus.
//
// Available event types and their topics:
//   - NoticeEvent ("notices"): a notice was stored
//   - DecisionEvent ("decisions"): a decision was taken for an event
//   - ObservationEvent ("observations"): a dispatch attempt finished
package events

// Bus topics.
const (
	TopicNotices      = "notices"
	TopicDecisions    = "decisions"
	TopicObservations = "observations"
)
