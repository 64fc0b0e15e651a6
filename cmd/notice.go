package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/tracet/core/model"
)

var (
	noticeStream string
	noticeTest   bool
)

var noticeCmd = &cobra.Command{
	Use:   "notice <file|->",
	Short: "Submit a notice payload to the pipeline",
	Long: "Stores a notice read from a file (or stdin with -) on the given stream and " +
		"evaluates it against the listening triggers. Test notices are grouped into " +
		"events but never start a decision.",
	Args: cobra.ExactArgs(1),
	RunE: submitNotice,
}

func init() {
	noticeCmd.Flags().StringVarP(&noticeStream, "stream", "s", "", "stream the notice belongs to")
	noticeCmd.Flags().BoolVar(&noticeTest, "test", false, "mark the notice as a test notice")
	_ = noticeCmd.MarkFlagRequired("stream")
	rootCmd.AddCommand(noticeCmd)
}

func readPayload(in io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}

func submitNotice(cmd *cobra.Command, args []string) error {
	payload, err := readPayload(cmd.InOrStdin(), args[0])
	if err != nil {
		return fmt.Errorf("read notice: %w", err)
	}
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	n := &model.Notice{Stream: noticeStream, Payload: payload, IsTest: noticeTest}
	outcomes, err := svc.Pipeline.HandleNotice(ctx, n)
	type result struct {
		Decision    model.Decision     `json:"decision"`
		Conclusion  model.Vote         `json:"conclusion"`
		Observation *model.Observation `json:"observation,omitempty"`
	}
	results := make([]result, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, result{Decision: o.Decision, Conclusion: o.Decision.Conclusion(), Observation: o.Observation})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(map[string]any{"notice": n.ID, "decisions": results}); encErr != nil {
		return encErr
	}
	return err
}
