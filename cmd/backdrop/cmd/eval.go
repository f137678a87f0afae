package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/backdrop/internal/evaluate"
	"github.com/spf13/cobra"
)

// evalCmd scores segmentation models against a labelled dataset.
var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate segmentation models against ground truth masks",
	Long: `Run every case of a dataset through one or more models and compare the
predicted masks with the expected ones using Dice and IoU.

The dataset directory holds one folder per case with input.png and
expected.png. A JSON report per model is written to the results directory and
cases scoring below the Dice threshold are listed as failures.

Examples:
  backdrop eval --dataset dataset
  backdrop eval --models u2net,isnet-general-use --threshold 0.9
  backdrop eval --cache-dir .mask-cache --json`,
	SilenceUsage: true,
	RunE:         runEval,
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	flags := cmd.Flags()

	ec := evaluate.Config{
		Models:     cfg.Eval.Models,
		Threshold:  cfg.Eval.Threshold,
		ResultsDir: cfg.Eval.ResultsDir,
	}
	datasetDir := cfg.Eval.DatasetDir
	if flags.Changed("dataset") {
		datasetDir, _ = flags.GetString("dataset")
	}
	if flags.Changed("models") {
		ec.Models, _ = flags.GetStringSlice("models")
	}
	if flags.Changed("threshold") {
		ec.Threshold, _ = flags.GetFloat64("threshold")
	}
	if flags.Changed("results-dir") {
		ec.ResultsDir, _ = flags.GetString("results-dir")
	}
	ec.CacheDir, _ = flags.GetString("cache-dir")

	cases, err := evaluate.LoadDataset(datasetDir)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	pl, err := buildPipeline(cfg, logHooks())
	if err != nil {
		return err
	}
	defer func() { _ = pl.Close() }()

	ev, err := evaluate.NewEvaluator(pl, ec)
	if err != nil {
		return err
	}
	reports, err := ev.Run(cmd.Context(), cases)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := flags.GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			evaluate.PrintReport(out, r)
		}
	}

	failed := 0
	for _, r := range reports {
		if !r.Passed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d models had cases below the threshold", failed, len(reports))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().String("dataset", "dataset", "dataset directory with one folder per case")
	evalCmd.Flags().StringSlice("models", []string{"u2net"}, "models to evaluate")
	evalCmd.Flags().Float64("threshold", evaluate.DefaultThreshold, "Dice score a case must reach")
	evalCmd.Flags().String("results-dir", "results", "directory for cutouts and reports (empty disables)")
	evalCmd.Flags().String("cache-dir", "", "reuse predicted masks stored here")
	evalCmd.Flags().Bool("json", false, "print reports as JSON")
}
