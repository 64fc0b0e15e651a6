package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/store"
	"github.com/kilianp07/tracet/pkg/export"
)

var (
	obsFormat      string
	obsObservatory string
	obsStatus      string
	obsTrigger     string
	obsLimit       int
)

var observationsCmd = &cobra.Command{
	Use:   "observations",
	Short: "Export recorded observations",
	Args:  cobra.NoArgs,
	RunE:  exportObservations,
}

func init() {
	f := observationsCmd.Flags()
	f.StringVarP(&obsFormat, "format", "f", "csv", "output format (csv or json)")
	f.StringVar(&obsObservatory, "observatory", "", "only this observatory (MWA or ATCA)")
	f.StringVar(&obsStatus, "status", "", "only this status")
	f.StringVar(&obsTrigger, "trigger", "", "only this trigger")
	f.IntVar(&obsLimit, "limit", 0, "maximum number of observations")
	rootCmd.AddCommand(observationsCmd)
}

func exportObservations(cmd *cobra.Command, args []string) error {
	q := store.ObservationQuery{Observatory: model.Observatory(obsObservatory), TriggerID: obsTrigger, Limit: obsLimit}
	if obsStatus != "" {
		st, ok := model.ParseStatus(obsStatus)
		if !ok {
			return fmt.Errorf("unknown status %q", obsStatus)
		}
		q.Status = st
	}
	write := export.WriteCSV
	switch obsFormat {
	case "csv":
	case "json":
		write = export.WriteJSON
	default:
		return fmt.Errorf("unknown format %q", obsFormat)
	}

	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)
	obs, err := svc.Store.Observations(ctx, q)
	if err != nil {
		return err
	}
	return write(cmd.OutOrStdout(), obs)
}
