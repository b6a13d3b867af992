package ort

import (
	"slices"
	"unsafe"
)

// GetAvailableProviders lists the execution providers compiled into the loaded
// library, in ONNX Runtime's priority order.
func GetAvailableProviders() ([]string, error) {
	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	get := getAvailableProvidersFunc
	release := releaseAvailableProvidersFunc
	mu.Unlock()
	if get == nil || release == nil {
		return nil, ErrNotInitialized
	}

	var list uintptr
	var count int32
	if err := statusError("get available providers", get(&list, &count)); err != nil {
		return nil, err
	}
	if list == 0 || count <= 0 {
		return nil, nil
	}

	// #nosec G103 -- list points to count char* entries owned by ORT until ReleaseAvailableProviders.
	ptrs := unsafe.Slice((*uintptr)(unsafe.Pointer(list)), int(count)) //nolint:govet
	providers := make([]string, 0, count)
	for _, p := range ptrs {
		providers = append(providers, CstringToGo(p))
	}

	if err := statusError("release available providers", release(list, count)); err != nil {
		return nil, err
	}
	return providers, nil
}

// IsProviderAvailable reports whether name is among GetAvailableProviders.
func IsProviderAvailable(name string) (bool, error) {
	providers, err := GetAvailableProviders()
	if err != nil {
		return false, err
	}
	return slices.Contains(providers, name), nil
}
