package inference

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// CustomOpsLibraryEnv names the environment variable that points at a
// custom operator library.
const CustomOpsLibraryEnv = "ORT_CUSTOM_OPS_LIB"

const customOpsLibraryBase = "ort_forward_ops"

// CustomOpsLibraryName returns the file name the custom operator library is
// expected to have on goos.
func CustomOpsLibraryName(goos string) string {
	switch goos {
	case "windows":
		return customOpsLibraryBase + ".dll"
	case "darwin":
		return "lib" + customOpsLibraryBase + ".dylib"
	default:
		return "lib" + customOpsLibraryBase + ".so"
	}
}

// ResolveCustomOpsLibraryPath returns the custom operator library to probe.
// explicit wins, then ORT_CUSTOM_OPS_LIB, then lib/<name> and <name> next to
// the running executable. The path is returned even when no file exists at
// it; the caller decides whether a missing library matters.
func ResolveCustomOpsLibraryPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(CustomOpsLibraryEnv)); p != "" {
		return p
	}

	name := CustomOpsLibraryName(runtime.GOOS)
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	dir := filepath.Dir(exe)
	candidates := []string{
		filepath.Join(dir, "lib", name),
		filepath.Join(dir, name),
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
	}
	return candidates[0]
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
