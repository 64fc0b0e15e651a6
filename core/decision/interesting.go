package decision

import (
	"sort"

	"github.com/kilianp07/tracet/core/model"
)

// MostInteresting picks one real decision per event. Decisions that led to a
// successful observation rank first, then decisions with any observation,
// then the most recent one. Events are returned newest decision first.
func MostInteresting(decisions []model.Decision, observations []model.Observation) []model.Decision {
	ok := make(map[string]bool)
	observed := make(map[string]bool)
	for _, o := range observations {
		if o.DecisionID == "" {
			continue
		}
		observed[o.DecisionID] = true
		if o.Successful() {
			ok[o.DecisionID] = true
		}
	}
	better := func(a, b model.Decision) bool {
		if ok[a.ID] != ok[b.ID] {
			return ok[a.ID]
		}
		if observed[a.ID] != observed[b.ID] {
			return observed[a.ID]
		}
		return a.Created.After(b.Created)
	}

	best := make(map[string]model.Decision)
	for _, d := range decisions {
		if !d.Real() {
			continue
		}
		cur, seen := best[d.EventID]
		if !seen || better(d, cur) {
			best[d.EventID] = d
		}
	}
	out := make([]model.Decision, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})
	return out
}
