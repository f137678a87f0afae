package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/MeKo-Tech/backdrop/internal/models"
	"github.com/spf13/cobra"
)

// modelsCmd lists the model registry.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered segmentation models",
	Long: `List every registered segmentation model, its input size and whether its
ONNX file is present in the models directory.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		infos := models.ListAvailableModels(cfg.ModelsDir)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "MODEL\tFAMILY\tINPUT\tAVAILABLE\tDEFAULT")
		for _, info := range infos {
			def := ""
			if info.ID == cfg.Segmentation.DefaultModel {
				def = "*"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", info.ID, info.Family, info.InputSize, info.Available, def)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().Bool("json", false, "print as JSON")
}
