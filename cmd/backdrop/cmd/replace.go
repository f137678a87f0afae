package cmd

import (
	"errors"

	"github.com/MeKo-Tech/backdrop/internal/batch"
	"github.com/spf13/cobra"
)

// replaceCmd composites subjects onto a new background.
var replaceCmd = &cobra.Command{
	Use:   "replace --background <image> [files or directories...]",
	Short: "Replace image backgrounds",
	Long: `Cut out the subject of every input image and place it onto the given
background. The subject is scaled so its bounding box fits within
--target-ratio of the canvas on both axes.

With smart placement the lowest visible row of the subject always stands on
the ground line near the bottom of the canvas. When the bottom of the
background looks like a floor the subject is additionally shrunk by 0.9.
Without smart placement the subject is centered horizontally at a fixed
vertical offset.

Examples:
  backdrop replace --background beach.jpg portrait.png
  backdrop replace -b studio.png people/ --target-ratio 0.7 --format jpeg
  backdrop replace -b wall.jpg item.png --smart-placement=false --normalize=false`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		background, _ := cmd.Flags().GetString("background")
		if background == "" {
			return errors.New("--background is required")
		}
		return runBatch(cmd, args, background)
	},
}

// applyComposeFlags overrides placement settings from flags.
func applyComposeFlags(cmd *cobra.Command, bc *batch.Config) {
	flags := cmd.Flags()
	if flags.Lookup("target-ratio") == nil {
		return
	}
	if flags.Changed("target-ratio") {
		bc.TargetRatio, _ = flags.GetFloat64("target-ratio")
	}
	if flags.Changed("smart-placement") {
		bc.SmartPlacement, _ = flags.GetBool("smart-placement")
	}
	if flags.Changed("normalize") {
		bc.Normalize, _ = flags.GetBool("normalize")
	}
}

func init() {
	rootCmd.AddCommand(replaceCmd)
	addBatchFlags(replaceCmd)
	replaceCmd.Flags().StringP("background", "b", "", "background image")
	replaceCmd.Flags().Float64("target-ratio", 0.6, "largest fraction of the canvas width or height the subject may span")
	replaceCmd.Flags().Bool("smart-placement", true, "anchor the subject on the ground line and shrink it on floor-like backgrounds")
	replaceCmd.Flags().Bool("normalize", true, "scale the subject to the target ratio")
}
