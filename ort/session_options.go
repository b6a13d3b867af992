package ort

import (
	"fmt"
	"os"
	"runtime"
	"sort"
)

// SessionOptions configures how a Session is created. Options are consumed by
// NewSession and may be destroyed right after it returns.
type SessionOptions struct {
	handle uintptr
	// customOpsLibraries keeps ORTCHAR_T path buffers alive for the options lifetime.
	customOpsLibraries []any
	providers          []string
}

// NewSessionOptions allocates an empty OrtSessionOptions.
func NewSessionOptions() (*SessionOptions, error) {
	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	create := createSessionOptionsFunc
	mu.Unlock()
	if create == nil {
		return nil, ErrNotInitialized
	}

	var handle uintptr
	if err := statusError("create session options", create(&handle)); err != nil {
		return nil, err
	}

	opts := &SessionOptions{handle: handle}
	runtime.SetFinalizer(opts, func(o *SessionOptions) {
		_ = o.Destroy()
	})
	return opts, nil
}

func (o *SessionOptions) liveHandle() (uintptr, error) {
	if o == nil {
		return 0, fmt.Errorf("session options are nil")
	}
	mu.Lock()
	defer mu.Unlock()
	if o.handle == 0 {
		return 0, fmt.Errorf("session options are not initialized")
	}
	return o.handle, nil
}

// SetIntraOpNumThreads sets the number of threads used to parallelize a single
// operator. Zero lets ONNX Runtime pick.
func (o *SessionOptions) SetIntraOpNumThreads(n int) error {
	if n < 0 {
		return fmt.Errorf("intra-op thread count cannot be negative: %d", n)
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	handle, err := o.liveHandle()
	if err != nil {
		return err
	}
	mu.Lock()
	set := setIntraOpNumThreadsFunc
	mu.Unlock()
	if set == nil {
		return ErrNotInitialized
	}
	// #nosec G115 -- thread counts fit in int32
	return statusError("set intra-op thread count", set(handle, int32(n)))
}

// SetGraphOptimizationLevel selects the graph optimizations applied at load.
func (o *SessionOptions) SetGraphOptimizationLevel(level GraphOptimizationLevel) error {
	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	handle, err := o.liveHandle()
	if err != nil {
		return err
	}
	mu.Lock()
	set := setGraphOptimizationLevelFunc
	mu.Unlock()
	if set == nil {
		return ErrNotInitialized
	}
	// #nosec G115 -- optimization levels are small enum values
	return statusError("set graph optimization level", set(handle, int32(level)))
}

// RegisterCustomOpsLibrary loads a shared library of custom operators into
// the options. The file must exist.
func (o *SessionOptions) RegisterCustomOpsLibrary(path string) error {
	if path == "" {
		return fmt.Errorf("custom ops library path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("custom ops library %q: %w", path, err)
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	handle, err := o.liveHandle()
	if err != nil {
		return err
	}
	mu.Lock()
	register := registerCustomOpsLibraryFunc
	mu.Unlock()
	if register == nil {
		return ErrNotInitialized
	}

	pathPtr, backing, err := goStringToORTChar(path)
	if err != nil {
		return fmt.Errorf("invalid custom ops library path %q: %w", path, err)
	}
	status := register(handle, pathPtr)
	runtime.KeepAlive(backing)
	if err := statusError("register custom ops library", status); err != nil {
		return err
	}

	mu.Lock()
	o.customOpsLibraries = append(o.customOpsLibraries, backing)
	mu.Unlock()
	return nil
}

// AppendExecutionProviderCUDA adds the CUDA execution provider. settings are
// CUDA provider options such as "device_id"; keys are applied in sorted order.
func (o *SessionOptions) AppendExecutionProviderCUDA(settings map[string]string) error {
	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	handle, err := o.liveHandle()
	if err != nil {
		return err
	}
	mu.Lock()
	createOpts := createCUDAProviderOptionsFunc
	updateOpts := updateCUDAProviderOptionsFunc
	appendEP := appendExecutionProviderCUDAFunc
	releaseOpts := releaseCUDAProviderOptionsFunc
	mu.Unlock()
	if createOpts == nil || updateOpts == nil || appendEP == nil || releaseOpts == nil {
		return ErrNotInitialized
	}

	var cudaOpts uintptr
	if err := statusError("create CUDA provider options", createOpts(&cudaOpts)); err != nil {
		return err
	}
	defer releaseOpts(cudaOpts)

	if len(settings) > 0 {
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = settings[k]
		}

		keyBackings, keyPtrs := makeCStringPointerArray(keys)
		valueBackings, valuePtrs := makeCStringPointerArray(values)
		status := updateOpts(cudaOpts, &keyPtrs[0], &valuePtrs[0], uintptr(len(keys)))
		runtime.KeepAlive(keyBackings)
		runtime.KeepAlive(valueBackings)
		runtime.KeepAlive(keyPtrs)
		runtime.KeepAlive(valuePtrs)
		if err := statusError("update CUDA provider options", status); err != nil {
			return err
		}
	}

	if err := statusError("append CUDA execution provider", appendEP(handle, cudaOpts)); err != nil {
		return err
	}

	mu.Lock()
	o.providers = append(o.providers, CUDAExecutionProvider)
	mu.Unlock()
	return nil
}

// Providers lists the execution providers explicitly appended to the options.
// The CPU provider is always implied.
func (o *SessionOptions) Providers() []string {
	if o == nil {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), o.providers...)
}

// Destroy releases the options. Sessions created from them are unaffected.
func (o *SessionOptions) Destroy() error {
	if o == nil {
		return nil
	}

	ortCallMu.Lock()
	defer ortCallMu.Unlock()

	mu.Lock()
	handle := o.handle
	release := releaseSessionOptionsFunc
	o.handle = 0
	o.customOpsLibraries = nil
	runtime.SetFinalizer(o, nil)
	mu.Unlock()

	if handle != 0 && release != nil {
		release(handle)
	}
	return nil
}
