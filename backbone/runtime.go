package backbone

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// RuntimeConfig configures the ONNX Runtime used to execute backbones.
type RuntimeConfig struct {
	// SharedLibPath is the onnxruntime shared library. Empty selects the
	// platform default from DefaultSharedLibPath.
	SharedLibPath string `koanf:"sharedlibpath" json:"shared_lib_path" yaml:"shared_lib_path"`
	// IntraOpThreads bounds parallelism inside a node (0 lets the runtime decide).
	IntraOpThreads int `koanf:"intraopthreads" json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads bounds parallelism across independent nodes (0 lets the runtime decide).
	InterOpThreads int `koanf:"interopthreads" json:"inter_op_threads" yaml:"inter_op_threads"`
}

var runtimeMu sync.Mutex

// DefaultSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func DefaultSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// InitRuntime loads the onnxruntime shared library and initializes the
// environment. It is safe to call repeatedly; only the first successful call
// has an effect.
//
// Arguments:
//   - cfg: The runtime configuration.
//
// Returns:
//   - error: An error if the library is missing or fails to initialize.
func InitRuntime(cfg RuntimeConfig) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath := cfg.SharedLibPath
	if libPath == "" {
		libPath = DefaultSharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// sessionOptions builds session options from cfg. The caller owns the result.
func sessionOptions(cfg RuntimeConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}
	return options, nil
}
