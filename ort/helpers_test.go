package ort

import (
	"os"
	"testing"
)

// setupTestEnvironment initializes the real runtime or skips the test when
// ONNXRUNTIME_LIB_PATH is unset.
func setupTestEnvironment(tb testing.TB) func() {
	tb.Helper()

	path := os.Getenv("ONNXRUNTIME_LIB_PATH")
	if path == "" {
		tb.Skip("ONNXRUNTIME_LIB_PATH not set, skipping test")
	}

	resetEnvironmentState()
	if err := SetSharedLibraryPath(path); err != nil {
		tb.Fatalf("failed to set library path: %v", err)
	}
	if err := InitializeEnvironment(); err != nil {
		tb.Fatalf("failed to initialize environment: %v", err)
	}

	return func() {
		if err := DestroyEnvironment(); err != nil {
			tb.Errorf("failed to destroy environment: %v", err)
		}
	}
}

func requireDestroy(tb testing.TB, name string, destroy func() error) {
	tb.Helper()
	if err := destroy(); err != nil {
		tb.Fatalf("failed to destroy %s: %v", name, err)
	}
}

// fakeHandles hands out distinct non-zero handles for fake ORT objects.
type fakeHandles struct {
	next     uintptr
	released map[uintptr]int
}

func newFakeHandles() *fakeHandles {
	return &fakeHandles{next: 1000, released: map[uintptr]int{}}
}

func (f *fakeHandles) alloc() uintptr {
	f.next++
	return f.next
}

func (f *fakeHandles) release(h uintptr) {
	f.released[h]++
}

// installFakeMemoryFuncs wires CreateMemoryInfo/ReleaseMemoryInfo and the
// tensor constructors to in-process fakes.
func installFakeMemoryFuncs(f *fakeHandles) {
	mu.Lock()
	defer mu.Unlock()
	ortAPI = &OrtApi{}
	createMemoryInfoFunc = func(name uintptr, _ AllocatorType, _ int32, _ MemType, out *uintptr) uintptr {
		if CstringToGo(name) == "" {
			return 1
		}
		*out = f.alloc()
		return 0
	}
	releaseMemoryInfoFunc = f.release
	createTensorWithDataAsOrtValueFunc = func(_ uintptr, _ uintptr, _ uintptr, _ *int64, _ uintptr, _ TensorElementDataType, out *uintptr) uintptr {
		*out = f.alloc()
		return 0
	}
	releaseValueFunc = f.release
}
