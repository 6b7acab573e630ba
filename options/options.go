package options

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/knights-analytics/depthrt/profiling"
	"github.com/knights-analytics/depthrt/util/fileutil"
)

// LibraryPathEnv overrides the default location of the onnxruntime shared library.
const LibraryPathEnv = "DEPTHRT_ORT_LIBRARY_PATH"

var (
	// ErrORTOnly is returned by an option the GO backend cannot honour.
	ErrORTOnly = errors.New("only supported for ORT backend")
	// ErrInvalidOption wraps every rejected option value.
	ErrInvalidOption = errors.New("invalid option")
)

// DefaultNumThreads matches the thread count used for on-device inference.
const DefaultNumThreads = 4

type Options struct {
	ORTOptions *OrtOptions
	Delegate   *DelegateOptions
	// Frame, when set, receives timing scopes for construction and every run.
	Frame   *profiling.Frame
	Destroy func() error
	Backend string
}

func Defaults() *Options {
	_, libraryDirDefault, libraryPathDefault := getDefaultLibraryPaths()
	if fromEnv := os.Getenv(LibraryPathEnv); fromEnv != "" {
		libraryPathDefault = fromEnv
		libraryDirDefault = filepath.Dir(fromEnv)
	}
	intraOpThreads := DefaultNumThreads
	return &Options{
		ORTOptions: &OrtOptions{
			LibraryDir:        &libraryDirDefault,
			LibraryPath:       &libraryPathDefault,
			IntraOpNumThreads: &intraOpThreads,
		},
		Delegate: &DelegateOptions{
			AllowPrecisionLoss: true,
			Preference:         PreferenceFastSingleAnswer,
		},
		Destroy: func() error {
			return nil
		},
	}
}

func getDefaultLibraryPaths() (string, string, string) {
	switch runtime.GOOS {
	case "windows":
		return `onnxruntime.dll`, `.\`, `.\onnxruntime.dll`
	case "darwin":
		return "libonnxruntime.dylib", "/usr/local/lib", "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "libonnxruntime.so", "/usr/lib", "/usr/lib/libonnxruntime.so"
	}
}

type OrtOptions struct {
	LibraryPath       *string
	LibraryDir        *string
	Telemetry         *bool
	IntraOpNumThreads *int
	InterOpNumThreads *int
	CPUMemArena       *bool
	MemPattern        *bool
	CudaOptions       map[string]string
	// TensorRTOptions are merged over the options derived from DelegateOptions.
	TensorRTOptions map[string]string
}

// InferencePreference tells the hardware delegate what to optimise for.
type InferencePreference int

const (
	// PreferenceFastSingleAnswer minimises the latency of one invocation.
	PreferenceFastSingleAnswer InferencePreference = iota
	// PreferenceSustainedSpeed maximises throughput over repeated invocations.
	PreferenceSustainedSpeed
)

func (p InferencePreference) String() string {
	switch p {
	case PreferenceFastSingleAnswer:
		return "fast-single-answer"
	case PreferenceSustainedSpeed:
		return "sustained-speed"
	default:
		return "unknown"
	}
}

// DelegateOptions configure the hardware delegate attached at construction.
//
// CacheDir must be stable and writable across launches. ModelToken must be
// unique per model and device capability: two models sharing a token will
// reuse each other's compiled artifacts.
type DelegateOptions struct {
	CacheDir           string
	ModelToken         string
	AllowPrecisionLoss bool
	Preference         InferencePreference
	Disabled           bool
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithOnnxLibraryPath (ORT only) Use this function to set the path to the directory containing
// "libonnxruntime.so", "libonnxruntime.dylib" or "onnxruntime.dll".
func WithOnnxLibraryPath(ortLibraryPath string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithOnnxLibraryPath is %w", ErrORTOnly)
		}
		object, err := fileutil.FileStats(ortLibraryPath)
		if err != nil {
			return fmt.Errorf("%w: failed to access ONNX Runtime library path %q: %w", ErrInvalidOption, ortLibraryPath, err)
		}
		if !object.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrInvalidOption, ortLibraryPath)
		}

		libraryName, _, _ := getDefaultLibraryPaths()
		ortLibraryFullPath := fileutil.PathJoinSafe(ortLibraryPath, libraryName)
		exists, err := fileutil.FileExists(ortLibraryFullPath)
		if err != nil {
			return fmt.Errorf("%w: error checking for existence of ONNX Runtime library file: %w", ErrInvalidOption, err)
		}
		if !exists {
			return fmt.Errorf("%w: ONNX Runtime library %s does not exist at %q", ErrInvalidOption, libraryName, ortLibraryPath)
		}
		o.ORTOptions.LibraryPath = &ortLibraryFullPath
		o.ORTOptions.LibraryDir = &ortLibraryPath
		return nil
	}
}

// WithTelemetry (ORT only) Enables telemetry events for the onnxruntime environment. Default is off.
func WithTelemetry() WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithTelemetry is %w", ErrORTOnly)
		}
		enabled := true
		o.ORTOptions.Telemetry = &enabled
		return nil
	}
}

// WithIntraOpNumThreads (ORT only) Sets the number of threads used to parallelize execution within
// graph nodes. Defaults to DefaultNumThreads.
func WithIntraOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithIntraOpNumThreads is %w", ErrORTOnly)
		}
		if numThreads < 1 {
			return fmt.Errorf("%w: number of threads must be positive, got %d", ErrInvalidOption, numThreads)
		}
		o.ORTOptions.IntraOpNumThreads = &numThreads
		return nil
	}
}

// WithInterOpNumThreads (ORT only) Sets the number of threads used to parallelize execution across
// separate graph nodes.
func WithInterOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithInterOpNumThreads is %w", ErrORTOnly)
		}
		if numThreads < 1 {
			return fmt.Errorf("%w: number of threads must be positive, got %d", ErrInvalidOption, numThreads)
		}
		o.ORTOptions.InterOpNumThreads = &numThreads
		return nil
	}
}

// WithCPUMemArena (ORT only) Enable/Disable the usage of the memory arena on CPU.
func WithCPUMemArena(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithCPUMemArena is %w", ErrORTOnly)
		}
		o.ORTOptions.CPUMemArena = &enable
		return nil
	}
}

// WithMemPattern (ORT only) Enable/Disable the memory pattern optimization.
func WithMemPattern(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithMemPattern is %w", ErrORTOnly)
		}
		o.ORTOptions.MemPattern = &enable
		return nil
	}
}

// WithCuda (ORT only) Appends the CUDA execution provider with the given options.
func WithCuda(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithCuda is %w", ErrORTOnly)
		}
		o.ORTOptions.CudaOptions = options
		return nil
	}
}

// WithTensorRT (ORT only) Adds raw TensorRT provider options on top of the delegate configuration.
func WithTensorRT(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithTensorRT is %w", ErrORTOnly)
		}
		o.ORTOptions.TensorRTOptions = options
		return nil
	}
}

// WithDelegateCache sets the directory and token used to persist compiled delegate artifacts.
func WithDelegateCache(cacheDir string, modelToken string) WithOption {
	return func(o *Options) error {
		if cacheDir == "" || modelToken == "" {
			return fmt.Errorf("%w: delegate cache needs both a directory and a model token", ErrInvalidOption)
		}
		o.Delegate.CacheDir = cacheDir
		o.Delegate.ModelToken = modelToken
		return nil
	}
}

// WithPrecisionLoss allows the delegate to trade numeric precision for speed. Default is true.
func WithPrecisionLoss(allow bool) WithOption {
	return func(o *Options) error {
		o.Delegate.AllowPrecisionLoss = allow
		return nil
	}
}

func WithInferencePreference(preference InferencePreference) WithOption {
	return func(o *Options) error {
		switch preference {
		case PreferenceFastSingleAnswer, PreferenceSustainedSpeed:
			o.Delegate.Preference = preference
			return nil
		default:
			return fmt.Errorf("%w: unknown inference preference %d", ErrInvalidOption, preference)
		}
	}
}

// WithoutDelegate runs on the CPU only.
func WithoutDelegate() WithOption {
	return func(o *Options) error {
		o.Delegate.Disabled = true
		return nil
	}
}

// WithProfilingFrame records construction and run scopes into frame.
func WithProfilingFrame(frame *profiling.Frame) WithOption {
	return func(o *Options) error {
		o.Frame = frame
		return nil
	}
}
