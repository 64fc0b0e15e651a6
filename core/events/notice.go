package events

import "github.com/kilianp07/tracet/core/model"

// NoticeEvent is published once a notice has been stored.
type NoticeEvent struct {
	Notice *model.Notice
}

// Topic implements eventbus.Event.
func (NoticeEvent) Topic() string { return TopicNotices }
