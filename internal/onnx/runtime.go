// Package onnx runs the chest X-ray classifier through ONNX Runtime.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryEnvVar overrides the ONNX Runtime shared library location.
const LibraryEnvVar = "TORAXIA_ONNXRUNTIME_LIB"

// GPUConfig selects the CUDA execution provider.
type GPUConfig struct {
	UseGPU                bool
	DeviceID              int
	GPUMemLimit           uint64 // bytes, 0 = unlimited
	ArenaExtendStrategy   string // kNextPowerOfTwo | kSameAsRequested
	CUDNNConvAlgoSearch   string // EXHAUSTIVE | HEURISTIC | DEFAULT
	DoCopyInDefaultStream bool
}

// DefaultGPUConfig returns a CPU-only configuration with sensible CUDA
// defaults for when GPU use is switched on.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

// Validate checks the CUDA options. CPU-only configs are always valid.
func (g GPUConfig) Validate() error {
	if !g.UseGPU {
		return nil
	}
	if g.DeviceID < 0 {
		return fmt.Errorf("gpu device must be non-negative, got %d", g.DeviceID)
	}
	switch g.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy %q", g.ArenaExtendStrategy)
	}
	switch g.CUDNNConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
	default:
		return fmt.Errorf("invalid cuDNN conv algo search %q", g.CUDNNConvAlgoSearch)
	}
	return nil
}

// cudaSettings renders the provider options map.
func (g GPUConfig) cudaSettings() map[string]string {
	s := map[string]string{"device_id": strconv.Itoa(g.DeviceID)}
	if g.GPUMemLimit > 0 {
		s["gpu_mem_limit"] = strconv.FormatUint(g.GPUMemLimit, 10)
	}
	if g.ArenaExtendStrategy != "" {
		s["arena_extend_strategy"] = g.ArenaExtendStrategy
	}
	if g.CUDNNConvAlgoSearch != "" {
		s["cudnn_conv_algo_search"] = g.CUDNNConvAlgoSearch
	}
	if g.DoCopyInDefaultStream {
		s["do_copy_in_default_stream"] = "1"
	} else {
		s["do_copy_in_default_stream"] = "0"
	}
	return s
}

func configureGPU(opts *ort.SessionOptions, g GPUConfig) error {
	if !g.UseGPU {
		return nil
	}
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("create CUDA provider options: %w", err)
	}
	defer func() {
		if err := cuda.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()
	if err := cuda.Update(g.cudaSettings()); err != nil {
		return fmt.Errorf("update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return fmt.Errorf("append CUDA execution provider: %w", err)
	}
	return nil
}

func libraryName(goos string) (string, error) {
	switch goos {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// libraryCandidates lists where the shared library is looked for, in order:
// the environment override, system locations, then onnxruntime/ below the
// nearest directory holding go.mod.
func libraryCandidates(useGPU bool, projectRoot string) []string {
	var out []string
	if p := os.Getenv(LibraryEnvVar); p != "" {
		out = append(out, p)
	}
	name, err := libraryName(runtime.GOOS)
	if err != nil {
		return out
	}
	if useGPU {
		out = append(out, filepath.Join("/opt/onnxruntime/gpu/lib", name))
	}
	out = append(out,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
	)
	if projectRoot != "" {
		if useGPU {
			out = append(out, filepath.Join(projectRoot, "onnxruntime", "gpu", "lib", name))
		}
		out = append(out, filepath.Join(projectRoot, "onnxruntime", "lib", name))
	}
	return out
}

func findProjectRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

var envMu sync.Mutex

// InitRuntime locates the shared library and initializes the ONNX Runtime
// environment once per process.
func InitRuntime(useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	cwd, _ := os.Getwd()
	found := ""
	for _, p := range libraryCandidates(useGPU, findProjectRoot(cwd)) {
		if _, err := os.Stat(p); err == nil {
			found = p
			break
		}
	}
	if found == "" {
		return errors.New("ONNX Runtime shared library not found; set " + LibraryEnvVar)
	}
	ort.SetSharedLibraryPath(found)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", found)
	return nil
}
