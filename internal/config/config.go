package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/toraxia/internal/attribution"
	"github.com/MeKo-Tech/toraxia/internal/heatmap"
	"github.com/MeKo-Tech/toraxia/internal/i18n"
	"github.com/MeKo-Tech/toraxia/internal/onnx"
	"github.com/MeKo-Tech/toraxia/internal/overlay"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/preprocess"
)

// Config represents the complete configuration for toraxia. It covers every
// command (analyze, serve, batch) and is loaded from configuration files,
// environment variables and command-line flags.
type Config struct {
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Model       ModelConfig       `mapstructure:"model" yaml:"model" json:"model"`
	Preprocess  PreprocessConfig  `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	Attribution AttributionConfig `mapstructure:"attribution" yaml:"attribution" json:"attribution"`
	Overlay     OverlayConfig     `mapstructure:"overlay" yaml:"overlay" json:"overlay"`
	Output      OutputConfig      `mapstructure:"output" yaml:"output" json:"output"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
	Batch       BatchConfig       `mapstructure:"batch" yaml:"batch" json:"batch"`
	GPU         GPUConfig         `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// ModelConfig locates the classifier and its companion files. Empty paths
// resolve inside models_dir.
type ModelConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Path           string `mapstructure:"path" yaml:"path" json:"path"`
	GradientPath   string `mapstructure:"gradient_path" yaml:"gradient_path" json:"gradient_path"`
	ConfigPath     string `mapstructure:"config_path" yaml:"config_path" json:"config_path"`
	ThresholdsPath string `mapstructure:"thresholds_path" yaml:"thresholds_path" json:"thresholds_path"`
	NumThreads     int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// PreprocessConfig sets the inference resolution. Zero follows the model.
type PreprocessConfig struct {
	Width  int    `mapstructure:"width" yaml:"width" json:"width"`
	Height int    `mapstructure:"height" yaml:"height" json:"height"`
	Filter string `mapstructure:"filter" yaml:"filter" json:"filter"`
}

// AttributionConfig controls the explanation engine.
type AttributionConfig struct {
	Layer      string  `mapstructure:"layer" yaml:"layer" json:"layer"`
	Mode       string  `mapstructure:"mode" yaml:"mode" json:"mode"`
	Epsilon    float64 `mapstructure:"epsilon" yaml:"epsilon" json:"epsilon"`
	BlurKernel int     `mapstructure:"blur_kernel" yaml:"blur_kernel" json:"blur_kernel"`
	BlurSigma  float64 `mapstructure:"blur_sigma" yaml:"blur_sigma" json:"blur_sigma"`
}

// OverlayConfig controls heatmap compositing.
type OverlayConfig struct {
	Alpha        float64 `mapstructure:"alpha" yaml:"alpha" json:"alpha"`
	Palette      string  `mapstructure:"palette" yaml:"palette" json:"palette"`
	ResizeMethod string  `mapstructure:"resize_method" yaml:"resize_method" json:"resize_method"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	OverlayDir string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
	Language   string `mapstructure:"language" yaml:"language" json:"language"`
	TopK       int    `mapstructure:"top_k" yaml:"top_k" json:"top_k"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	SessionTTLSec   int    `mapstructure:"session_ttl_sec" yaml:"session_ttl_sec" json:"session_ttl_sec"`
	MaxSessions     int    `mapstructure:"max_sessions" yaml:"max_sessions" json:"max_sessions"`
	RateLimit       int    `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"` // requests per minute per client, 0 = off
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive       bool `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	att := attribution.DefaultConfig()
	return Config{
		LogLevel: "info",
		Model: ModelConfig{
			Backend: pipeline.BackendONNX,
		},
		Preprocess: PreprocessConfig{Filter: preprocess.DefaultFilter},
		Attribution: AttributionConfig{
			Mode:       string(att.Mode),
			Epsilon:    att.Epsilon,
			BlurKernel: att.BlurKernel,
		},
		Overlay: OverlayConfig{
			Alpha:        overlay.DefaultAlpha,
			Palette:      overlay.DefaultPalette,
			ResizeMethod: string(heatmap.Bilinear),
		},
		Output: OutputConfig{
			Format:   "text",
			Language: "en",
			TopK:     pipeline.DefaultTopK,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			SessionTTLSec:   1800,
			MaxSessions:     256,
		},
		Batch: BatchConfig{
			Workers:         4,
			ContinueOnError: true,
		},
		GPU: GPUConfig{
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	validBackends := []string{pipeline.BackendONNX, pipeline.BackendReference}
	if !slices.Contains(validBackends, c.Model.Backend) {
		return fmt.Errorf("invalid model backend: %s (must be one of: %s)", c.Model.Backend, strings.Join(validBackends, ", "))
	}
	if c.Output.Language != "" && !slices.Contains(i18n.Supported(), c.Output.Language) {
		return fmt.Errorf("invalid output language: %s (must be one of: %s)",
			c.Output.Language, strings.Join(i18n.Supported(), ", "))
	}

	if c.Preprocess.Width < 0 || c.Preprocess.Height < 0 {
		return fmt.Errorf("invalid preprocess size: %dx%d (must not be negative)", c.Preprocess.Width, c.Preprocess.Height)
	}
	if _, err := preprocess.ParseFilter(c.Preprocess.Filter); err != nil {
		return err
	}
	if _, err := attribution.ParseMode(c.Attribution.Mode); err != nil {
		return err
	}
	if !(c.Attribution.Epsilon > 0) {
		return fmt.Errorf("invalid attribution.epsilon: %g (must be positive)", c.Attribution.Epsilon)
	}
	if c.Attribution.BlurKernel < 1 || c.Attribution.BlurKernel%2 == 0 {
		return fmt.Errorf("invalid attribution.blur_kernel: %d (must be a positive odd number)", c.Attribution.BlurKernel)
	}
	if err := validateUnit(c.Overlay.Alpha, "overlay.alpha"); err != nil {
		return err
	}
	if _, err := overlay.LookupPalette(c.Overlay.Palette); err != nil {
		return err
	}
	if _, err := heatmap.ParseMethod(c.Overlay.ResizeMethod); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.SessionTTLSec <= 0 || c.Server.MaxSessions <= 0 {
		return fmt.Errorf("invalid session limits: ttl %ds, max %d (must be positive)", c.Server.SessionTTLSec, c.Server.MaxSessions)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %d (must not be negative)", c.Server.RateLimit)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// ToPipelineConfig converts the config to the analyzer configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = c.ModelsDir
	cfg.Model = pipeline.ModelConfig{
		Backend:        c.Model.Backend,
		Path:           c.Model.Path,
		GradientPath:   c.Model.GradientPath,
		ConfigPath:     c.Model.ConfigPath,
		ThresholdsPath: c.Model.ThresholdsPath,
		NumThreads:     c.Model.NumThreads,
		GPU:            c.toGPUConfig(),
	}
	cfg.Preprocess = preprocess.Config{
		Width:  c.Preprocess.Width,
		Height: c.Preprocess.Height,
		Filter: c.Preprocess.Filter,
	}
	cfg.Attribution = attribution.Config{
		Layer:      c.Attribution.Layer,
		Mode:       attribution.Mode(c.Attribution.Mode),
		Epsilon:    c.Attribution.Epsilon,
		BlurKernel: c.Attribution.BlurKernel,
		BlurSigma:  c.Attribution.BlurSigma,
	}
	cfg.Alpha = c.Overlay.Alpha
	cfg.Palette = c.Overlay.Palette
	cfg.Resize = c.Overlay.ResizeMethod
	cfg.TopK = c.Output.TopK
	return cfg
}

func (c *Config) toGPUConfig() onnx.GPUConfig {
	g := onnx.DefaultGPUConfig()
	g.UseGPU = c.GPU.Enabled
	g.DeviceID = c.GPU.Device
	if n, err := ParseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		g.GPUMemLimit = n
	}
	return g
}

// SessionTTL returns the analysis retention time.
func (s ServerConfig) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLSec) * time.Second
}

// Timeout returns the request timeout.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// validateUnit validates that a value is between 0.0 and 1.0.
func validateUnit(value float64, name string) error {
	if !(value >= 0 && value <= 1) {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// ParseMemoryLimit converts a limit such as "512MB" or "2GB" to bytes.
// "auto" and "" mean unlimited and return 0.
func ParseMemoryLimit(limit string) (uint64, error) {
	s := strings.ToUpper(strings.TrimSpace(limit))
	if s == "" || s == "AUTO" {
		return 0, nil
	}
	units := []struct {
		suffix string
		mult   float64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.mult), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB (got %s)", limit)
}
