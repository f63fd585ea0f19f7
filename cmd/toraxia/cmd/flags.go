package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/toraxia/internal/config"
)

// addAnalyzerFlags registers the flags shared by every command that builds
// an analyzer.
func addAnalyzerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend", "onnx", "classifier backend: onnx or reference")
	f.String("model", "", "override classifier model path")
	f.String("layer", "", "attribution layer (default from the model description)")
	f.String("mode", "auto", "attribution mode: auto, gradcam or saliency")
	f.Float64("alpha", 0.5, "overlay opacity (0..1)")
	f.String("palette", "jet", "heatmap palette: jet or coolwarm")
	f.Int("top-k", 5, "number of findings to report")
	f.String("lang", "en", "display language for pathology names: en or es")
	f.Bool("gpu", false, "use GPU acceleration when available")
}

// applyAnalyzerFlags copies changed flags over cfg and validates the result.
func applyAnalyzerFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if changed(f, "backend") {
		cfg.Model.Backend, _ = f.GetString("backend")
	}
	if changed(f, "model") {
		cfg.Model.Path, _ = f.GetString("model")
	}
	if changed(f, "layer") {
		cfg.Attribution.Layer, _ = f.GetString("layer")
	}
	if changed(f, "mode") {
		cfg.Attribution.Mode, _ = f.GetString("mode")
	}
	if changed(f, "alpha") {
		cfg.Overlay.Alpha, _ = f.GetFloat64("alpha")
	}
	if changed(f, "palette") {
		cfg.Overlay.Palette, _ = f.GetString("palette")
	}
	if changed(f, "top-k") {
		cfg.Output.TopK, _ = f.GetInt("top-k")
	}
	if changed(f, "lang") {
		cfg.Output.Language, _ = f.GetString("lang")
	}
	if changed(f, "gpu") {
		cfg.GPU.Enabled, _ = f.GetBool("gpu")
	}
	if changed(f, "format") {
		cfg.Output.Format, _ = f.GetString("format")
	}
	if changed(f, "output") {
		cfg.Output.File, _ = f.GetString("output")
	}
	if changed(f, "overlay-dir") {
		cfg.Output.OverlayDir, _ = f.GetString("overlay-dir")
	}
	return cfg.Validate()
}
