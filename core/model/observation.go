package model

import "time"

// Observatory identifies the facility an observation was requested from.
type Observatory string

const (
	MWA  Observatory = "MWA"
	ATCA Observatory = "ATCA"
)

// Status is the terminal state of a dispatch attempt.
type Status string

const (
	StatusAPIOK          Status = "api_ok"
	StatusAPIFailure     Status = "api_failure"
	StatusClash          Status = "clash"
	StatusRequestFailure Status = "request_failure"
	StatusDataFailure    Status = "data_failure"
	StatusUnknownFailure Status = "unknown_failure"
)

// Label is the human readable status.
func (s Status) Label() string {
	switch s {
	case StatusAPIOK:
		return "OK"
	case StatusAPIFailure:
		return "Failure"
	case StatusClash:
		return "Clashing observation"
	case StatusRequestFailure:
		return "Could not make API request"
	case StatusDataFailure:
		return "Unable to prepare request"
	case StatusUnknownFailure:
		return "An unexpected failure occurred"
	}
	return string(s)
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusAPIOK, StatusAPIFailure, StatusClash, StatusRequestFailure, StatusDataFailure, StatusUnknownFailure:
		return st, true
	}
	return "", false
}

// Observation records one dispatch attempt. It is written once and never
// updated. DecisionID is empty once the decision has been deleted.
type Observation struct {
	ID          string      `json:"id"`
	DecisionID  string      `json:"decision_id,omitempty"`
	TriggerID   string      `json:"trigger_id"`
	Created     time.Time   `json:"created"`
	Finish      *time.Time  `json:"finish,omitempty"`
	Observatory Observatory `json:"observatory"`
	Priority    int         `json:"priority"`
	Status      Status      `json:"status"`
	IsTest      bool        `json:"is_test"`
	Log         string      `json:"log"`
}

// InProgress reports whether the telescope is busy with this observation at now.
func (o Observation) InProgress(now time.Time) bool {
	if o.Status != StatusAPIOK || o.Finish == nil || o.Created.IsZero() {
		return false
	}
	return !now.Before(o.Created) && !now.After(*o.Finish)
}

// Successful reports whether the observatory accepted the request. Pretend
// requests count too.
func (o Observation) Successful() bool {
	return o.Status == StatusAPIOK
}
