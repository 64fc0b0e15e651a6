package model

import (
	"sync"
	"time"

	"github.com/kilianp07/tracet/core/notice"
)

// Format aliases the payload format of a stream.
type Format = notice.Format

// Stream is a named source of notices sharing one payload format.
type Stream struct {
	Name   string `json:"name"`
	Format Format `json:"format"`
}

// Notice is one received alert payload. Notices are immutable once stored.
type Notice struct {
	ID      string    `json:"id"`
	Stream  string    `json:"stream"`
	Format  Format    `json:"format"`
	Created time.Time `json:"created"`
	Payload []byte    `json:"payload"`
	IsTest  bool      `json:"is_test"`

	once sync.Once
	doc  notice.Document
}

// Query returns the first scalar matching selector in the payload. Payloads
// that cannot be parsed resolve nothing.
func (n *Notice) Query(selector string) (any, bool) {
	n.once.Do(func() {
		doc, err := notice.Parse(n.Format, n.Payload)
		if err == nil {
			n.doc = doc
		}
	})
	if n.doc == nil {
		return nil, false
	}
	return n.doc.Query(selector)
}
