package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var retriggerCmd = &cobra.Command{
	Use:   "retrigger <trigger-id> <event-id>",
	Short: "Take a manual decision for an event",
	Long: "Takes a manual decision for an event as of now. A manual decision " +
		"concluding Maybe is promoted to Pass, so expired events can still be observed.",
	Args: cobra.ExactArgs(2),
	RunE: retrigger,
}

func init() {
	rootCmd.AddCommand(retriggerCmd)
}

func retrigger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	outcome, err := svc.Pipeline.Retrigger(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	out := map[string]any{
		"decision":   outcome.Decision,
		"conclusion": outcome.Decision.Conclusion(),
	}
	if outcome.Observation != nil {
		out["observation"] = outcome.Observation
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
