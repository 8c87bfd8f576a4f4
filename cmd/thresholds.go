package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/face-match/internal/facematch"
	"github.com/spf13/cobra"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Print the calibrated distance thresholds",
	Long: `Print the calibrated verification threshold for every supported model
and distance metric. A pair verifies as the same person when its
distance is at or below the threshold for the chosen model and metric.

Examples:
  # Full table
  face-match thresholds

  # One model
  face-match thresholds --model ArcFace

  # Machine-readable
  face-match thresholds --json`,
	RunE: runThresholds,
}

func init() {
	rootCmd.AddCommand(thresholdsCmd)

	thresholdsCmd.Flags().String("model", "", "Show only this model")
	thresholdsCmd.Flags().Bool("json", false, "Output as JSON")
}

// thresholdRow is one model's calibration in the JSON output.
type thresholdRow struct {
	Model      string             `json:"model"`
	Dim        int                `json:"dim"`
	Thresholds map[string]float64 `json:"thresholds"`
}

func runThresholds(cmd *cobra.Command, args []string) error {
	modelFilter := mustGetString(cmd, "model")
	jsonOutput := mustGetBool(cmd, "json")

	table := facematch.DefaultThresholds()

	models := table.Models()
	if modelFilter != "" {
		if !table.HasModel(modelFilter) {
			return fmt.Errorf("unknown model %q (known: %s)", modelFilter, strings.Join(models, ", "))
		}
		models = []string{modelFilter}
	}

	if jsonOutput {
		rows := make([]thresholdRow, 0, len(models))
		for _, model := range models {
			dim, _ := table.Dim(model)
			row := thresholdRow{Model: model, Dim: dim, Thresholds: make(map[string]float64)}
			for _, metric := range facematch.Metrics() {
				if v, err := table.ThresholdFor(model, metric); err == nil {
					row.Thresholds[string(metric)] = v
				}
			}
			rows = append(rows, row)
		}
		return outputJSON(rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tDIM\tCOSINE\tEUCLIDEAN\tEUCLIDEAN_L2")
	fmt.Fprintln(w, "-----\t---\t------\t---------\t------------")
	for _, model := range models {
		dim, _ := table.Dim(model)
		fmt.Fprintf(w, "%s\t%d", model, dim)
		for _, metric := range facematch.Metrics() {
			v, err := table.ThresholdFor(model, metric)
			if err != nil {
				fmt.Fprint(w, "\t-")
				continue
			}
			fmt.Fprintf(w, "\t%.4g", v)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
