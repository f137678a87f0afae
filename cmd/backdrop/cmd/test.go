package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/backdrop/internal/onnx"
	"github.com/spf13/cobra"
)

// testCmd represents the test command.
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test ONNX Runtime setup and dependencies",
	Long: `Test the ONNX Runtime installation and verify that the shared library can
be loaded and session options created, including the CUDA provider when GPU
inference is configured.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, "Testing ONNX Runtime setup...")

		info, err := onnx.CheckRuntime(cfg.Segmentation.LibraryPath, cfg.Segmentation.GPU)
		if err != nil {
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "Please ensure ONNX Runtime is properly set up:")
			_, _ = fmt.Fprintln(out, "1. Install the onnxruntime shared library")
			_, _ = fmt.Fprintln(out, "2. Point segmentation.library_path or "+onnx.EnvLibraryPath+" at it")
			return fmt.Errorf("ONNX Runtime test failed: %w", err)
		}

		_, _ = fmt.Fprintf(out, "Library: %s\n", info.LibraryPath)
		_, _ = fmt.Fprintf(out, "GPU: %t\n", info.GPU)
		_, _ = fmt.Fprintln(out, "All checks passed. ONNX Runtime is ready for use.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
