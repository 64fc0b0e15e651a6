package telescope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Log accumulates the timestamped entries stored with an observation.
type Log struct {
	now   func() time.Time
	lines []string
}

// NewLog returns an empty log using now for timestamps.
func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

// Add appends an entry. Each line of message is quoted with "> ".
func (l *Log) Add(title string, message any) {
	ts := l.now().UTC().Format(time.RFC3339Nano)
	l.lines = append(l.lines, "\n"+ts+": "+title+"\n")
	var text string
	switch m := message.(type) {
	case nil:
		return
	case error:
		text = fmt.Sprintf("%+v", m)
	case string:
		text = m
	case []byte:
		text = string(m)
	default:
		text = fmt.Sprint(m)
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		l.lines = append(l.lines, "> "+strings.TrimRight(line, "\r"))
	}
}

// AddJSON appends v pretty printed.
func (l *Log) AddJSON(title string, v any) {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		l.Add(title, fmt.Sprint(v))
		return
	}
	l.Add(title, b)
}

// String renders the log.
func (l *Log) String() string {
	return strings.TrimSpace(strings.Join(l.lines, "\n"))
}
