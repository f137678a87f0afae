package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MeKo-Tech/backdrop/internal/batch"
	"github.com/MeKo-Tech/backdrop/internal/config"
	"github.com/MeKo-Tech/backdrop/internal/pipeline"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// removeCmd cuts out the subjects of one or more images.
var removeCmd = &cobra.Command{
	Use:   "remove [files or directories...]",
	Short: "Remove image backgrounds",
	Long: `Remove the background of every image given on the command line. Directories
are scanned for images; results are written as <stem>_processed.<ext> next to
each input or into --output-dir.

Supported inputs: JPEG, PNG, WebP, BMP

Examples:
  backdrop remove photo.jpg
  backdrop remove photos/ --recursive --workers 8 --output-dir cutouts
  backdrop remove a.jpg b.png --model isnet-general-use --report json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args, "")
	},
}

// addBatchFlags registers the flags shared by remove and replace.
func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("model", "m", "", "segmentation model (default: configured default model)")
	cmd.Flags().String("output-dir", "", "directory for results (default: next to each input)")
	cmd.Flags().StringP("format", "f", "png", "output image format: png, jpeg, webp")
	cmd.Flags().String("report", "text", "summary format: text, json, csv")
	cmd.Flags().StringP("output", "o", "", "summary file (default: stdout)")

	cmd.Flags().IntP("workers", "w", 4, "number of parallel workers")
	cmd.Flags().Bool("continue-on-error", false, "keep going when an image fails")

	cmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	cmd.Flags().StringSlice("include", []string{}, "file patterns to include (default: all supported images)")
	cmd.Flags().StringSlice("exclude", []string{"*_processed.*"}, "file patterns to exclude")

	cmd.Flags().Bool("progress", false, "show progress bar")
	cmd.Flags().Bool("quiet", false, "suppress progress output")
	cmd.Flags().Bool("stats", false, "show processing statistics")
	cmd.Flags().Duration("progress-interval", 200*time.Millisecond, "progress update interval")
}

// configToBatchConfig maps centralized configuration to batch.Config.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) batch.Config {
	bc := batch.DefaultConfig()
	bc.TargetRatio = cfg.Compose.TargetRatio
	bc.SmartPlacement = cfg.Compose.SmartPlacement
	bc.Normalize = cfg.Compose.Normalize
	bc.Workers = cfg.Batch.Workers
	bc.ContinueOnError = cfg.Batch.ContinueOnError

	flags := cmd.Flags()
	bc.Model, _ = flags.GetString("model")
	bc.OutputDir, _ = flags.GetString("output-dir")
	bc.Format, _ = flags.GetString("format")
	bc.Report, _ = flags.GetString("report")
	if flags.Changed("workers") {
		bc.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("continue-on-error") {
		bc.ContinueOnError, _ = flags.GetBool("continue-on-error")
	}

	// File discovery and progress settings are CLI-only
	bc.Recursive, _ = flags.GetBool("recursive")
	bc.IncludePatterns, _ = flags.GetStringSlice("include")
	bc.ExcludePatterns, _ = flags.GetStringSlice("exclude")
	bc.ShowProgress, _ = flags.GetBool("progress")
	bc.Quiet, _ = flags.GetBool("quiet")
	bc.ProgressInterval, _ = flags.GetDuration("progress-interval")
	return bc
}

// logProgressEvery is how many images pass between progress log lines.
const logProgressEvery = 10

// progressReporter draws a bar on terminals and falls back to periodic log
// lines when w is redirected.
func progressReporter(w io.Writer, bc batch.Config) pipeline.ProgressCallback {
	if !bc.ShowProgress || bc.Quiet {
		return nil
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return pipeline.NewConsoleProgressCallback(f, "Processing: ").WithUpdateInterval(bc.ProgressInterval)
	}
	return pipeline.NewLogProgressCallback(slog.Default(), slog.LevelInfo, logProgressEvery)
}

func runBatch(cmd *cobra.Command, args []string, background string) error {
	cfg := GetConfig()
	bc := configToBatchConfig(cfg, cmd)
	bc.Background = background
	if background != "" {
		applyComposeFlags(cmd, &bc)
	}
	bc.Progress = progressReporter(cmd.ErrOrStderr(), bc)

	pl, err := buildPipeline(cfg, logHooks())
	if err != nil {
		return err
	}
	defer func() { _ = pl.Close() }()

	if !bc.Quiet {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Processing %d paths...\n", len(args))
	}

	result, err := batch.ProcessBatch(cmd.Context(), pl, args, bc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := result.SaveResults(out, bc.Report); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	if stats, _ := cmd.Flags().GetBool("stats"); stats && !bc.Quiet {
		result.PrintStats(cmd.ErrOrStderr())
	}
	if n := result.Failed(); n > 0 {
		return fmt.Errorf("%d of %d images failed", n, len(result.Items))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(removeCmd)
	addBatchFlags(removeCmd)
}
