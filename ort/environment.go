package ort

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/ebitengine/purego"
)

const environmentLogID = "ort-forward"

var (
	// mu guards the environment state and every resolved function pointer below.
	mu sync.Mutex
	// ortCallMu is held for reading by every call into the library and for
	// writing while the environment or a value is torn down.
	// Lock order is ortCallMu -> mu.
	ortCallMu sync.RWMutex

	refCount   int
	ortLib     uintptr
	ortAPI     *OrtApi
	ortEnv     uintptr
	libPath    string
	logLevel   = LoggingLevelWarning
	apiVersion uint32
	ortVersion *semver.Version
)

var minimumRuntimeVersion = semver.MustParse(fmt.Sprintf("1.%d.0", MinimumAPIVersion))

// InitializeEnvironment loads the ONNX Runtime library and creates the process-wide
// environment. Calls are reference counted: every successful call must be paired
// with DestroyEnvironment.
func InitializeEnvironment() error {
	mu.Lock()
	defer mu.Unlock()

	if refCount > 0 {
		refCount++
		return nil
	}

	if libPath == "" {
		return fmt.Errorf("library path not set, call SetSharedLibraryPath first")
	}

	lib, err := loadLibrary(libPath)
	if err != nil {
		return fmt.Errorf("failed to load ONNX Runtime library from %q: %w", libPath, err)
	}
	if lib == 0 {
		return fmt.Errorf("failed to load ONNX Runtime library from %q: empty handle", libPath)
	}

	if err := initializeLocked(lib); err != nil {
		clearAPIFunctions()
		ortAPI = nil
		apiVersion = 0
		ortVersion = nil
		_ = closeLibrary(lib)
		return err
	}

	ortLib = lib
	refCount = 1
	return nil
}

func initializeLocked(lib uintptr) error {
	sym, err := getSymbol(lib, "OrtGetApiBase")
	if err != nil || sym == 0 {
		return fmt.Errorf("failed to resolve OrtGetApiBase in %q: %v", libPath, err)
	}

	var getAPIBase func() *OrtApiBase
	purego.RegisterFunc(&getAPIBase, sym)
	base := getAPIBase()
	if base == nil || base.GetApi == 0 || base.GetVersionString == 0 {
		return fmt.Errorf("OrtGetApiBase returned an incomplete API base")
	}

	purego.RegisterFunc(&getVersionStringFunc, base.GetVersionString)
	version, err := semver.NewVersion(CstringToGo(getVersionStringFunc()))
	if err != nil {
		return fmt.Errorf("failed to parse ONNX Runtime version: %w", err)
	}
	if version.LessThan(minimumRuntimeVersion) {
		return fmt.Errorf("ONNX Runtime %s is not supported, need >= %s", version, minimumRuntimeVersion)
	}

	var getAPI func(uint32) *OrtApi
	purego.RegisterFunc(&getAPI, base.GetApi)

	var api *OrtApi
	var resolved uint32
	for v := uint32(ORT_API_VERSION); v >= MinimumAPIVersion; v-- {
		if api = getAPI(v); api != nil {
			resolved = v
			break
		}
	}
	if api == nil {
		return fmt.Errorf("ONNX Runtime %s does not provide API versions %d..%d", version, MinimumAPIVersion, ORT_API_VERSION)
	}

	if err := bindAPIFunctions(api); err != nil {
		return err
	}

	logIDBytes, logIDPtr := GoToCstring(environmentLogID)
	var env uintptr
	// #nosec G115 -- logging levels are small enum values
	status := createEnvFunc(int32(logLevel), logIDPtr, &env)
	runtime.KeepAlive(logIDBytes)
	if status != 0 {
		// statusError locks mu, so decode the status with the raw pointers here.
		msg := CstringToGo(getErrorMessageFunc(status))
		releaseStatusFunc(status)
		return fmt.Errorf("failed to create ONNX Runtime environment: %s", msg)
	}

	ortAPI = api
	ortEnv = env
	apiVersion = resolved
	ortVersion = version
	return nil
}

// DestroyEnvironment releases one reference to the environment. The last
// reference releases the OrtEnv and unloads the library.
func DestroyEnvironment() error {
	ortCallMu.Lock()
	defer ortCallMu.Unlock()

	mu.Lock()
	defer mu.Unlock()

	if refCount == 0 {
		return nil
	}

	refCount--
	if refCount > 0 {
		return nil
	}

	if ortEnv != 0 && releaseEnvFunc != nil {
		releaseEnvFunc(ortEnv)
	}
	ortEnv = 0
	ortAPI = nil
	apiVersion = 0
	ortVersion = nil
	clearAPIFunctions()

	lib := ortLib
	ortLib = 0
	if err := closeLibrary(lib); err != nil {
		return fmt.Errorf("failed to unload ONNX Runtime library: %w", err)
	}
	return nil
}

// IsInitialized returns true if the environment is initialized
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return refCount > 0
}

// SetSharedLibraryPath sets the path to the ONNX Runtime shared library.
// It cannot be changed while the environment is initialized.
func SetSharedLibraryPath(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if refCount > 0 {
		return fmt.Errorf("cannot change library path after environment is initialized")
	}
	libPath = path
	return nil
}

// SetLogLevel sets the ONNX Runtime environment logging severity.
// It cannot be changed while the environment is initialized.
func SetLogLevel(level LoggingLevel) error {
	mu.Lock()
	defer mu.Unlock()

	if refCount > 0 {
		return fmt.Errorf("cannot change log level after environment is initialized")
	}
	logLevel = level
	return nil
}

// GetVersionString returns the ONNX Runtime version string
func GetVersionString() string {
	mu.Lock()
	fn := getVersionStringFunc
	mu.Unlock()

	if fn == nil {
		return "0.0.0-dev"
	}
	return CstringToGo(fn())
}

// RuntimeVersion returns the parsed version of the loaded library.
func RuntimeVersion() (*semver.Version, error) {
	mu.Lock()
	defer mu.Unlock()

	if ortVersion == nil {
		return nil, ErrNotInitialized
	}
	return ortVersion, nil
}

// APIVersion returns the C API version negotiated with the loaded library, or 0.
func APIVersion() uint32 {
	mu.Lock()
	defer mu.Unlock()
	return apiVersion
}

// environmentHandle returns the live OrtEnv handle or ErrNotInitialized.
func environmentHandle() (uintptr, error) {
	mu.Lock()
	defer mu.Unlock()

	if ortAPI == nil || ortEnv == 0 {
		return 0, ErrNotInitialized
	}
	return ortEnv, nil
}
