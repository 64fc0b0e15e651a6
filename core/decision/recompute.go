// Package decision aggregates condition evaluations over an event's notices
// into a conclusion and hands passing decisions to the telescope dispatcher.
package decision

import (
	"sort"
	"time"

	"github.com/kilianp07/tracet/core/conditions"
	"github.com/kilianp07/tracet/core/model"
)

// NoNotices is the condition reported when nothing qualifies for evaluation.
const NoNotices = "Event contains no notices"

// Recompute derives the factors of a decision taken at asOf. Notices created
// after asOf are ignored, as are test notices unless the decision is
// simulated. Each condition is seeded from the oldest notice and later
// notices are folded in ascending time order. The result depends only on its
// arguments.
func Recompute(t model.Trigger, ev model.Event, notices []*model.Notice, asOf time.Time, source model.Source) ([]model.Factor, error) {
	qualifying := Qualifying(notices, asOf, source)
	if len(qualifying) == 0 {
		return []model.Factor{model.Voted(NoNotices, model.Fail)}, nil
	}
	evaluators, err := conditions.Build(t, ev, asOf)
	if err != nil {
		return nil, err
	}
	factors := make([]model.Factor, len(evaluators))
	for i, c := range evaluators {
		factors[i] = c.Evaluate(qualifying[0])
	}
	for _, n := range qualifying[1:] {
		for i, c := range evaluators {
			factors[i] = model.Fold(factors[i], c.Evaluate(n))
		}
	}
	return factors, nil
}

// Qualifying returns the notices visible to a decision at asOf, oldest first.
func Qualifying(notices []*model.Notice, asOf time.Time, source model.Source) []*model.Notice {
	out := make([]*model.Notice, 0, len(notices))
	for _, n := range notices {
		if n.Created.After(asOf) {
			continue
		}
		if n.IsTest && source != model.SourceSimulated {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}
