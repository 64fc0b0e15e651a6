// Package telescope requests observations from observatories. Every attempt
// ends in exactly one terminal status which is persisted together with a
// human readable log.
package telescope

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/tracet/core/model"
)

// Telescope prepares and submits observation requests for one observatory.
type Telescope interface {
	Observatory() model.Observatory
	// Prepare builds the request from the event's notices. Any error is a
	// preparation failure.
	Prepare(in Input, log *Log) (Request, error)
	// Submit sends the request. Transport problems are returned as
	// KindRequest errors and refusals as KindRejection errors.
	Submit(ctx context.Context, req Request, log *Log) error
}

// Input is what a telescope sees of the decision that triggered it.
type Input struct {
	Trigger model.Trigger
	Event   model.Event
	// Notices are ordered oldest first.
	Notices []*model.Notice
	Now     time.Time
}

// QueryLatest scans notices newest first and returns the first value the
// selector resolves to.
func (in Input) QueryLatest(selector string) (any, bool) {
	for i := len(in.Notices) - 1; i >= 0; i-- {
		if v, ok := in.Notices[i].Query(selector); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Float resolves selector with QueryLatest and parses it as a number.
func (in Input) Float(selector string) (float64, error) {
	v, ok := in.QueryLatest(selector)
	if !ok {
		return 0, fmt.Errorf("no notice provides %s", selector)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", selector, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%s: unsupported value %v", selector, v)
}

// Request is a prepared observatory call.
type Request struct {
	Params url.Values
	// Duration is how long the observatory is busy once the request is accepted.
	Duration time.Duration
}

// Kind classifies a dispatch failure.
type Kind int

const (
	KindPreparation Kind = iota + 1
	KindOverride
	KindRequest
	KindRejection
)

func (k Kind) String() string {
	switch k {
	case KindPreparation:
		return "preparation"
	case KindOverride:
		return "override"
	case KindRequest:
		return "request"
	case KindRejection:
		return "rejection"
	}
	return "unknown"
}

// Status returns the observation status a failure of this kind ends in.
func (k Kind) Status() model.Status {
	switch k {
	case KindPreparation:
		return model.StatusDataFailure
	case KindOverride:
		return model.StatusClash
	case KindRequest:
		return model.StatusRequestFailure
	case KindRejection:
		return model.StatusAPIFailure
	}
	return model.StatusUnknownFailure
}

// DispatchError is a classified dispatch failure.
type DispatchError struct {
	Kind Kind
	Err  error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " failure"
	}
	return e.Kind.String() + " failure: " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }

func fail(kind Kind, format string, args ...any) *DispatchError {
	return &DispatchError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify maps the outcome of a dispatch attempt to its status.
func Classify(err error) model.Status {
	if err == nil {
		return model.StatusAPIOK
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind.Status()
	}
	return model.StatusUnknownFailure
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
