package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/toraxia/internal/i18n"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
)

// modelReport is the JSON form of the model command output.
type modelReport struct {
	Model      pipeline.ModelInfo `json:"model"`
	Thresholds map[string]float64 `json:"thresholds"`
}

func newModelCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Load the classifier and describe it",
		Long: `Load the configured classifier exactly as analyze and serve would and print its
labels, input size, attribution layer and decision thresholds.

A failure here means the model files, the ONNX Runtime library or the
attribution layer are not set up correctly.

Examples:
  toraxia model
  toraxia model --backend reference --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			if err := applyAnalyzerFlags(cmd, cfg); err != nil {
				return err
			}
			an, err := pipeline.NewBuilder().WithConfig(cfg.ToPipelineConfig()).Build()
			if err != nil {
				return fmt.Errorf("failed to load model: %w", err)
			}
			defer func() {
				if err := an.Close(); err != nil {
					slog.Error("Error closing analyzer", "error", err)
				}
			}()

			info := an.Info()
			table := an.Thresholds()
			rep := modelReport{Model: info, Thresholds: make(map[string]float64, len(info.Labels))}
			for _, l := range info.Labels {
				rep.Thresholds[l] = table.Threshold(l)
			}

			out := cmd.OutOrStdout()
			if cfg.Output.Format == outputFormatJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}

			tr := i18n.New(cfg.Output.Language)
			_, _ = fmt.Fprintf(out, "Backend: %s\n", info.Backend)
			if info.Architecture != "" {
				_, _ = fmt.Fprintf(out, "Architecture: %s\n", info.Architecture)
			}
			_, _ = fmt.Fprintf(out, "Input: %dx%d\n", info.InputWidth, info.InputHeight)
			_, _ = fmt.Fprintf(out, "Attribution: %s (layer %s)\n", info.Mode, info.Layer)
			_, _ = fmt.Fprintf(out, "Overlay: %s, alpha %.2f\n", info.Palette, info.Alpha)
			_, _ = fmt.Fprintf(out, "Labels (%d):\n", len(info.Labels))
			for _, l := range info.Labels {
				name := tr.Label(l)
				if !strings.EqualFold(name, l) {
					name = fmt.Sprintf("%s (%s)", name, l)
				}
				_, _ = fmt.Fprintf(out, "  %-32s threshold %.2f\n", name, rep.Thresholds[l])
			}
			return nil
		},
	}
	addAnalyzerFlags(cmd)
	cmd.Flags().StringP("format", "f", outputFormatText, "output format: text or json")
	return cmd
}
