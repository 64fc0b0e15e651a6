// Package monitoring routes unexpected errors to the process-wide monitor.
// Captures are tagged so that failures can be grouped by observatory, trigger
// or infrastructure module.
package monitoring

import (
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Recover()
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover()                                  {}
func (NopMonitor) Flush(time.Duration)                       {}

// Tag keys attached to captured errors.
const (
	TagModule      = "module"
	TagTopic       = "topic"
	TagTrigger     = "trigger"
	TagObservatory = "observatory"
)

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func monitor() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Tags builds a tag set from key/value pairs. Empty values and a trailing
// key without value are dropped.
func Tags(kv ...string) map[string]string {
	tags := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			tags[kv[i]] = kv[i+1]
		}
	}
	return tags
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	monitor().CaptureException(err, tags)
}

// CaptureModule records an error raised by an infrastructure module such as
// the broker listener or the NATS forwarder.
func CaptureModule(err error, module string, kv ...string) {
	CaptureException(err, Tags(append([]string{TagModule, module}, kv...)...))
}

// CaptureDispatch records an unexpected failure while requesting an
// observation.
func CaptureDispatch(err error, observatory, triggerID string) {
	CaptureException(err, Tags(TagModule, "dispatch", TagObservatory, observatory, TagTrigger, triggerID))
}

// Recover captures panics in goroutines.
func Recover() {
	monitor().Recover()
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	monitor().Flush(d)
}
