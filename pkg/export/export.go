// Package export writes observation histories for offline review.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/tracet/core/model"
)

// WriteJSON writes the observations to w in JSON format.
func WriteJSON(w io.Writer, obs []model.Observation) error {
	enc := json.NewEncoder(w)
	return enc.Encode(obs)
}

var csvHeader = []string{"id", "trigger_id", "decision_id", "observatory", "priority", "status", "is_test", "created", "finish"}

// WriteCSV writes the observations to w in CSV format. The log is omitted.
func WriteCSV(w io.Writer, obs []model.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range obs {
		finish := ""
		if o.Finish != nil {
			finish = o.Finish.UTC().Format(time.RFC3339)
		}
		rec := []string{
			o.ID,
			o.TriggerID,
			o.DecisionID,
			string(o.Observatory),
			strconv.Itoa(o.Priority),
			string(o.Status),
			strconv.FormatBool(o.IsTest),
			o.Created.UTC().Format(time.RFC3339),
			finish,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
