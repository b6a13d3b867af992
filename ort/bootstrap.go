package ort

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

const (
	// DefaultOnnxRuntimeVersion is the release downloaded when no version is configured.
	DefaultOnnxRuntimeVersion = "1.23.1"

	defaultBootstrapBaseURL = "https://github.com/microsoft/onnxruntime/releases/download"
	defaultMaxDownloadSize  = int64(1 << 30)
)

// Flavor selects which release build of ONNX Runtime bootstrap installs.
type Flavor string

const (
	// FlavorCPU is the default CPU-only build.
	FlavorCPU Flavor = "cpu"
	// FlavorGPU is the CUDA-enabled build. It ships the CUDA execution provider
	// but still needs a CUDA toolkit on the host.
	FlavorGPU Flavor = "gpu"
)

// ParseFlavor parses "cpu" or "gpu" (case-insensitive). Empty means FlavorCPU.
func ParseFlavor(s string) (Flavor, error) {
	switch Flavor(strings.ToLower(strings.TrimSpace(s))) {
	case "", FlavorCPU:
		return FlavorCPU, nil
	case FlavorGPU:
		return FlavorGPU, nil
	default:
		return "", fmt.Errorf("unknown ONNX Runtime flavor %q (expected cpu or gpu)", s)
	}
}

var errSharedLibraryNotFound = errors.New("ONNX Runtime shared library not found")
var bootstrapCacheFallbackWarnOnce sync.Once

// BootstrapOption configures EnsureOnnxRuntimeSharedLibrary.
type BootstrapOption func(*bootstrapConfig) error

type bootstrapConfig struct {
	libraryPath     string
	cacheDir        string
	version         string
	flavor          Flavor
	disableDownload bool
	expectedSHA256  string
	baseURL         string
	httpClient      *http.Client
	maxDownloadSize int64
	goos            string
	goarch          string
}

type runtimeArtifact struct {
	platform         string
	archiveExtension string
	primaryLibrary   string
	libraryGlob      string
}

// WithBootstrapLibraryPath skips resolution and uses an existing library file.
func WithBootstrapLibraryPath(path string) BootstrapOption {
	return func(cfg *bootstrapConfig) (err error) {
		cfg.libraryPath, err = nonEmpty("bootstrap library path", path)
		return err
	}
}

// WithBootstrapCacheDir sets where archives are downloaded and unpacked.
func WithBootstrapCacheDir(dir string) BootstrapOption {
	return func(cfg *bootstrapConfig) (err error) {
		cfg.cacheDir, err = nonEmpty("bootstrap cache directory", dir)
		return err
	}
}

// WithBootstrapVersion sets the release to download, for example "1.23.1".
func WithBootstrapVersion(version string) BootstrapOption {
	return func(cfg *bootstrapConfig) (err error) {
		cfg.version, err = nonEmpty("bootstrap version", version)
		return err
	}
}

// WithBootstrapFlavor selects the CPU or GPU release build.
func WithBootstrapFlavor(flavor Flavor) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		parsed, err := ParseFlavor(string(flavor))
		if err != nil {
			return err
		}
		cfg.flavor = parsed
		return nil
	}
}

// WithBootstrapDisableDownload restricts bootstrap to the local cache.
func WithBootstrapDisableDownload(disable bool) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.disableDownload = disable
		return nil
	}
}

// WithBootstrapExpectedSHA256 rejects downloaded archives with a different checksum.
func WithBootstrapExpectedSHA256(checksum string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		checksum = strings.TrimSpace(strings.ToLower(checksum))
		if len(checksum) != 64 {
			return fmt.Errorf("expected SHA256 checksum must be 64 hex characters")
		}
		for _, r := range checksum {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				return fmt.Errorf("expected SHA256 checksum must be hex, got %q", checksum)
			}
		}
		cfg.expectedSHA256 = checksum
		return nil
	}
}

// WithBootstrapMaxDownloadSize caps the archive size in bytes.
func WithBootstrapMaxDownloadSize(limit int64) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if limit <= 0 {
			return fmt.Errorf("bootstrap download size limit must be positive, got %d", limit)
		}
		cfg.maxDownloadSize = limit
		return nil
	}
}

func withBootstrapBaseURL(baseURL string) BootstrapOption {
	return func(cfg *bootstrapConfig) (err error) {
		cfg.baseURL, err = nonEmpty("bootstrap base URL", baseURL)
		return err
	}
}

func nonEmpty(what, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s cannot be empty", what)
	}
	return value, nil
}

func withBootstrapHTTPClient(client *http.Client) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if client == nil {
			return fmt.Errorf("bootstrap HTTP client cannot be nil")
		}
		cfg.httpClient = client
		return nil
	}
}

func withBootstrapPlatform(goos, goarch string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.goos = goos
		cfg.goarch = goarch
		return nil
	}
}

// EnsureOnnxRuntimeSharedLibrary returns the absolute path of a usable ONNX
// Runtime shared library, downloading the configured release into the cache
// when it is not already there. Concurrent callers, including other
// processes, share one download through a file lock in the cache directory.
func EnsureOnnxRuntimeSharedLibrary(opts ...BootstrapOption) (string, error) {
	cfg, err := resolveBootstrapConfig(opts...)
	if err != nil {
		return "", err
	}

	if cfg.libraryPath != "" {
		return validateLibraryFile(cfg.libraryPath)
	}

	artifact, err := resolveRuntimeArtifact(cfg.goos, cfg.goarch, cfg.flavor)
	if err != nil {
		return "", err
	}

	log := logger().With(zap.String("version", cfg.version), zap.String("platform", artifact.platform))

	installDir := filepath.Join(cfg.cacheDir, artifact.archiveName(cfg.version))
	if path, resolveErr := resolveExtractedLibraryPath(installDir, artifact); resolveErr == nil {
		log.Debug("using cached ONNX Runtime", zap.String("path", path))
		return path, nil
	} else if !errors.Is(resolveErr, errSharedLibraryNotFound) {
		return "", resolveErr
	}

	if cfg.disableDownload {
		return "", fmt.Errorf("ONNX Runtime library not found in cache and download is disabled: %s", installDir)
	}

	if err := os.MkdirAll(cfg.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create bootstrap cache directory %q: %w", cfg.cacheDir, err)
	}

	lockPath := filepath.Join(cfg.cacheDir, ".locks", artifact.archiveName(cfg.version)+".lock")
	var resolvedPath string
	err = withProcessFileLock(lockPath, func() error {
		// Another process may have finished the install while we waited.
		if path, resolveErr := resolveExtractedLibraryPath(installDir, artifact); resolveErr == nil {
			resolvedPath = path
			return nil
		} else if !errors.Is(resolveErr, errSharedLibraryNotFound) {
			return resolveErr
		}

		log.Info("downloading ONNX Runtime", zap.String("cache_dir", cfg.cacheDir))
		if err := downloadAndInstallRuntime(cfg, artifact, installDir); err != nil {
			return err
		}

		path, resolveErr := resolveExtractedLibraryPath(installDir, artifact)
		if resolveErr != nil {
			return fmt.Errorf("bootstrap completed but shared library could not be resolved: %w", resolveErr)
		}
		resolvedPath = path
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Info("ONNX Runtime installed", zap.String("path", resolvedPath))
	return resolvedPath, nil
}

// InitializeEnvironmentWithBootstrap resolves the library with
// EnsureOnnxRuntimeSharedLibrary and initializes the environment with it.
func InitializeEnvironmentWithBootstrap(opts ...BootstrapOption) error {
	path, err := EnsureOnnxRuntimeSharedLibrary(opts...)
	if err != nil {
		return err
	}

	mu.Lock()
	alreadyInitialized := refCount > 0
	currentPath := libPath
	mu.Unlock()

	if alreadyInitialized && currentPath != path {
		return fmt.Errorf("cannot change library path after environment is initialized")
	}

	if !alreadyInitialized {
		if err := SetSharedLibraryPath(path); err != nil {
			// Lost a race with another initializer; fine if it used the same library.
			mu.Lock()
			alreadyInitialized = refCount > 0
			currentPath = libPath
			mu.Unlock()
			if !alreadyInitialized || currentPath != path {
				return err
			}
		}
	}

	return InitializeEnvironment()
}

func resolveBootstrapConfig(opts ...BootstrapOption) (bootstrapConfig, error) {
	disableDownload, err := parseBootstrapBoolEnv("ONNXRUNTIME_DISABLE_DOWNLOAD")
	if err != nil {
		return bootstrapConfig{}, err
	}
	flavor, err := ParseFlavor(os.Getenv("ONNXRUNTIME_FLAVOR"))
	if err != nil {
		return bootstrapConfig{}, fmt.Errorf("invalid ONNXRUNTIME_FLAVOR: %w", err)
	}

	cfg := bootstrapConfig{
		libraryPath:     strings.TrimSpace(os.Getenv("ONNXRUNTIME_LIB_PATH")),
		cacheDir:        strings.TrimSpace(os.Getenv("ONNXRUNTIME_CACHE_DIR")),
		version:         strings.TrimSpace(os.Getenv("ONNXRUNTIME_VERSION")),
		flavor:          flavor,
		disableDownload: disableDownload,
		baseURL:         defaultBootstrapBaseURL,
		httpClient:      &http.Client{Timeout: 5 * time.Minute},
		maxDownloadSize: defaultMaxDownloadSize,
		goos:            runtime.GOOS,
		goarch:          runtime.GOARCH,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return bootstrapConfig{}, err
		}
	}

	if cfg.version == "" {
		cfg.version = DefaultOnnxRuntimeVersion
	}
	version, err := normalizeRuntimeVersion(cfg.version)
	if err != nil {
		return bootstrapConfig{}, err
	}
	cfg.version = version

	if cfg.cacheDir == "" {
		cfg.cacheDir = defaultBootstrapCacheDir()
	}
	cfg.cacheDir = filepath.Clean(cfg.cacheDir)
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return bootstrapConfig{}, fmt.Errorf("bootstrap base URL is empty")
	}
	if cfg.httpClient == nil {
		return bootstrapConfig{}, fmt.Errorf("bootstrap HTTP client cannot be nil")
	}

	return cfg, nil
}

func unixArtifact(platform, lib, glob string) runtimeArtifact {
	return runtimeArtifact{platform: platform, archiveExtension: "tgz", primaryLibrary: lib, libraryGlob: glob}
}

func windowsArtifact(platform string) runtimeArtifact {
	return runtimeArtifact{platform: platform, archiveExtension: "zip", primaryLibrary: "onnxruntime.dll", libraryGlob: "onnxruntime*.dll"}
}

// runtimeArtifacts maps GOOS/GOARCH to the published release archive.
var runtimeArtifacts = map[string]runtimeArtifact{
	"darwin/arm64":  unixArtifact("osx-arm64", "libonnxruntime.dylib", "libonnxruntime*.dylib"),
	"darwin/amd64":  unixArtifact("osx-x86_64", "libonnxruntime.dylib", "libonnxruntime*.dylib"),
	"linux/arm64":   unixArtifact("linux-aarch64", "libonnxruntime.so", "libonnxruntime.so*"),
	"linux/amd64":   unixArtifact("linux-x64", "libonnxruntime.so", "libonnxruntime.so*"),
	"windows/amd64": windowsArtifact("win-x64"),
	"windows/arm64": windowsArtifact("win-arm64"),
}

// gpuPlatforms lists the platforms with a published CUDA build.
var gpuPlatforms = map[string]bool{"linux-x64": true, "win-x64": true}

func resolveRuntimeArtifact(goos, goarch string, flavor Flavor) (runtimeArtifact, error) {
	a, ok := runtimeArtifacts[goos+"/"+goarch]
	if !ok {
		return runtimeArtifact{}, fmt.Errorf("unsupported platform for ONNX Runtime bootstrap: GOOS=%s GOARCH=%s", goos, goarch)
	}

	switch flavor {
	case "", FlavorCPU:
		return a, nil
	case FlavorGPU:
		if !gpuPlatforms[a.platform] {
			return runtimeArtifact{}, fmt.Errorf("ONNX Runtime GPU flavor is not published for GOOS=%s GOARCH=%s", goos, goarch)
		}
		a.platform += "-gpu"
		return a, nil
	default:
		return runtimeArtifact{}, fmt.Errorf("unknown ONNX Runtime flavor %q", flavor)
	}
}

func (a runtimeArtifact) archiveName(version string) string {
	return fmt.Sprintf("onnxruntime-%s-%s", a.platform, version)
}

func (a runtimeArtifact) archiveFilename(version string) string {
	return a.archiveName(version) + "." + a.archiveExtension
}

func (a runtimeArtifact) downloadURL(baseURL, version string) string {
	return fmt.Sprintf("%s/v%s/%s", strings.TrimRight(baseURL, "/"), version, a.archiveFilename(version))
}

func resolveExtractedLibraryPath(installDir string, artifact runtimeArtifact) (string, error) {
	libDir := filepath.Join(installDir, "lib")

	var invalid []error
	track := func(path string, err error) {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			invalid = append(invalid, fmt.Errorf("%s: %w", path, err))
		}
	}

	primary := filepath.Join(libDir, artifact.primaryLibrary)
	path, err := validateLibraryFile(primary)
	if err == nil {
		return path, nil
	}
	track(primary, err)

	matches, err := filepath.Glob(filepath.Join(libDir, artifact.libraryGlob))
	if err != nil {
		return "", fmt.Errorf("failed to resolve ONNX Runtime library path: %w", err)
	}
	sort.Strings(matches)
	for _, match := range matches {
		path, err := validateLibraryFile(match)
		if err == nil {
			return path, nil
		}
		track(match, err)
	}

	if len(invalid) > 0 {
		return "", fmt.Errorf("found ONNX Runtime shared library candidates in %q but none are valid: %w", libDir, errors.Join(invalid...))
	}
	return "", errSharedLibraryNotFound
}

func validateLibraryFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("library path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat library file %q: %w", absPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("library path points to a directory: %q", absPath)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("library file is empty: %q", absPath)
	}
	return absPath, nil
}

func defaultBootstrapCacheDir() string {
	cacheDir, err := os.UserCacheDir()
	if err == nil && cacheDir != "" {
		return filepath.Join(cacheDir, "ort-forward", "onnxruntime")
	}

	fallback := filepath.Join(os.TempDir(), "ort-forward", "onnxruntime")
	bootstrapCacheFallbackWarnOnce.Do(func() {
		logger().Warn("user cache directory unavailable, using a temporary ONNX Runtime cache; set ONNXRUNTIME_CACHE_DIR for a persistent one",
			zap.String("cache_dir", fallback),
			zap.Error(err),
		)
	})
	return fallback
}

// normalizeRuntimeVersion accepts "x.y.z" with an optional leading "v" and
// rejects releases older than the oldest supported runtime.
func normalizeRuntimeVersion(version string) (string, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if version == "" {
		return "", fmt.Errorf("ONNX Runtime version is empty")
	}

	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return "", fmt.Errorf("ONNX Runtime version must have format x.y.z, got %q: %w", version, err)
	}
	if v.LessThan(minimumRuntimeVersion) {
		return "", fmt.Errorf("ONNX Runtime %s is older than the minimum supported %s", v, minimumRuntimeVersion)
	}
	return v.String(), nil
}

func parseBootstrapBoolEnv(name string) (bool, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return false, nil
	}

	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed, nil
	}

	switch strings.ToLower(value) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value for %s: %q (expected true/false, 1/0, yes/no, on/off)", name, value)
	}
}
