// Package store defines persistence for streams, notices, triggers, events,
// decisions and observations. Deleting a decision never deletes the
// observations it produced; their DecisionID is cleared instead.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/tracet/core/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ObservationQuery filters observations. Zero values match everything.
type ObservationQuery struct {
	Observatory model.Observatory
	Status      model.Status
	TriggerID   string
	DecisionIDs []string
	IsTest      *bool
	Limit       int
}

// DecisionQuery filters decisions. Zero values match everything.
type DecisionQuery struct {
	EventID   string
	TriggerID string
	Source    model.Source
}

// Repository is the storage used by the pipeline.
type Repository interface {
	SaveStream(ctx context.Context, s model.Stream) error
	Streams(ctx context.Context) ([]model.Stream, error)

	SaveNotice(ctx context.Context, n *model.Notice) error
	Notice(ctx context.Context, id string) (*model.Notice, error)
	// NoticesByStreams returns notices ordered by creation time, oldest first.
	NoticesByStreams(ctx context.Context, streams []string) ([]*model.Notice, error)

	SaveTrigger(ctx context.Context, t model.Trigger) error
	Trigger(ctx context.Context, id string) (model.Trigger, error)
	// Triggers returns all triggers by descending priority.
	Triggers(ctx context.Context) ([]model.Trigger, error)

	SaveEvent(ctx context.Context, e model.Event) error
	Event(ctx context.Context, id string) (model.Event, error)
	EventByGroup(ctx context.Context, triggerID, groupID string) (model.Event, error)
	// Events returns a trigger's events, most recent event time first.
	Events(ctx context.Context, triggerID string) ([]model.Event, error)
	// DeleteEvent removes the event and its decisions.
	DeleteEvent(ctx context.Context, id string) error
	AttachNotice(ctx context.Context, eventID, noticeID string) error
	// DetachNotices removes every notice link of the trigger's events and
	// returns how many were removed. Events and notices are kept.
	DetachNotices(ctx context.Context, triggerID string) (int, error)
	// EventNotices returns the event's notices ordered oldest first.
	EventNotices(ctx context.Context, eventID string) ([]*model.Notice, error)

	SaveDecision(ctx context.Context, d model.Decision) error
	Decision(ctx context.Context, id string) (model.Decision, error)
	// Decisions returns matching decisions, oldest first.
	Decisions(ctx context.Context, q DecisionQuery) ([]model.Decision, error)
	DeleteDecisions(ctx context.Context, q DecisionQuery) (int, error)

	SaveObservation(ctx context.Context, o model.Observation) error
	Observation(ctx context.Context, id string) (model.Observation, error)
	// Observations returns matching observations, most recent first.
	Observations(ctx context.Context, q ObservationQuery) ([]model.Observation, error)
	// LatestActiveObservation returns the API_OK observation of observatory
	// with the latest finish not before now, or nil.
	LatestActiveObservation(ctx context.Context, observatory model.Observatory, now time.Time) (*model.Observation, error)

	Close() error
}
