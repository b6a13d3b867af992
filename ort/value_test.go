package ort

import (
	"errors"
	"runtime"
	"strings"
	"testing"
	"unsafe"
)

// installFakeTensorInfo makes every OrtValue report elementType and shape.
func installFakeTensorInfo(elementType TensorElementDataType, shape Shape) {
	mu.Lock()
	defer mu.Unlock()
	getTensorTypeAndShapeFunc = func(_ uintptr, out *uintptr) uintptr {
		*out = 77
		return 0
	}
	releaseTensorTypeAndShapeInfoFunc = func(uintptr) {}
	getTensorElementTypeFunc = func(_ uintptr, out *int32) uintptr {
		*out = int32(elementType)
		return 0
	}
	getDimensionsCountFunc = func(_ uintptr, out *uintptr) uintptr {
		*out = uintptr(len(shape))
		return 0
	}
	getDimensionsFunc = func(_ uintptr, dims *int64, n uintptr) uintptr {
		copy(unsafe.Slice(dims, n), shape)
		return 0
	}
}

func TestCreateMemoryInfoWithoutORT(t *testing.T) {
	resetEnvironmentState()

	if _, err := CreateCpuMemoryInfo(AllocatorTypeArena, MemTypeCPU); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := CreateCUDAMemoryInfo(0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestCreateCUDAMemoryInfoFields(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	handles := newFakeHandles()
	installFakeMemoryFuncs(handles)

	info, err := CreateCUDAMemoryInfo(1)
	if err != nil {
		t.Fatalf("CreateCUDAMemoryInfo failed: %v", err)
	}
	if !info.IsValid() {
		t.Fatal("expected memory info to be valid")
	}
	want := MemoryLocation{Name: MemoryInfoNameCUDA, Allocator: AllocatorTypeDevice, DeviceID: 1, MemType: MemTypeDefault}
	if got := info.Location(); got != want {
		t.Fatalf("unexpected memory location: got %+v, want %+v", got, want)
	}

	handle := info.handle
	requireDestroy(t, "memory info", info.Destroy)
	requireDestroy(t, "memory info", info.Destroy)
	if info.IsValid() {
		t.Fatal("expected memory info to be invalid after destroy")
	}
	if handles.released[handle] != 1 {
		t.Fatalf("expected single release, got %d", handles.released[handle])
	}
}

func TestMemoryInfoNilIsInvalid(t *testing.T) {
	var info *MemoryInfo
	if info.IsValid() {
		t.Fatal("nil memory info must not be valid")
	}
	if err := info.Destroy(); err != nil {
		t.Fatalf("destroy on nil memory info should be a no-op: %v", err)
	}
}

func TestNewExternalTensorValidation(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	handles := newFakeHandles()
	installFakeMemoryFuncs(handles)
	info, err := CreateCUDAMemoryInfo(0)
	if err != nil {
		t.Fatalf("CreateCUDAMemoryInfo failed: %v", err)
	}
	defer func() { _ = info.Destroy() }()

	if _, err := NewExternalTensor(0, 16, Shape{4}, TensorElementDataTypeFloat, info); err == nil || !strings.Contains(err.Error(), "pointer is nil") {
		t.Fatalf("expected nil pointer error, got %v", err)
	}
	if _, err := NewExternalTensor(0x1000, 16, Shape{4}, TensorElementDataTypeFloat, nil); err == nil || !strings.Contains(err.Error(), "memory info is not valid") {
		t.Fatalf("expected invalid memory info error, got %v", err)
	}
	if _, err := NewExternalTensor(0x1000, 16, Shape{-1}, TensorElementDataTypeFloat, info); err == nil || !strings.Contains(err.Error(), "must be >= 0") {
		t.Fatalf("expected shape error, got %v", err)
	}

	tensor, err := NewExternalTensor(0x1000, 16, Shape{4}, TensorElementDataTypeFloat, info)
	if err != nil {
		t.Fatalf("NewExternalTensor failed: %v", err)
	}
	if !tensor.Shape().Equal(Shape{4}) || tensor.ElementType() != TensorElementDataTypeFloat {
		t.Fatalf("unexpected tensor metadata: %v %s", tensor.Shape(), tensor.ElementType())
	}
	handle := tensor.handle
	requireDestroy(t, "external tensor", tensor.Destroy)
	requireDestroy(t, "external tensor", tensor.Destroy)
	if handles.released[handle] != 1 {
		t.Fatalf("expected single release of external tensor, got %d", handles.released[handle])
	}
}

func TestOutputTensorFloat32Data(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	backing := []float32{1, 2, 3, 4, 5, 6}
	installFakeTensorInfo(TensorElementDataTypeFloat, Shape{2, 3})
	released := 0
	mu.Lock()
	ortAPI = &OrtApi{}
	getTensorMutableDataFunc = func(_ uintptr, out *uintptr) uintptr {
		*out = uintptr(unsafe.Pointer(&backing[0]))
		return 0
	}
	releaseValueFunc = func(uintptr) { released++ }
	mu.Unlock()

	out := newOutputTensor(55)
	shape, err := out.Shape()
	if err != nil || !shape.Equal(Shape{2, 3}) {
		t.Fatalf("unexpected shape %v, err %v", shape, err)
	}
	data, err := out.Float32Data()
	runtime.KeepAlive(backing)
	if err != nil {
		t.Fatalf("Float32Data failed: %v", err)
	}
	backing[0] = 100
	if data[0] != 1 || len(data) != 6 {
		t.Fatalf("expected an independent copy of the tensor data, got %v", data)
	}

	requireDestroy(t, "output tensor", out.Destroy)
	requireDestroy(t, "output tensor", out.Destroy)
	if released != 1 {
		t.Fatalf("expected single release, got %d", released)
	}
	if _, err := out.Float32Data(); err == nil || !strings.Contains(err.Error(), "destroyed") {
		t.Fatalf("expected destroyed error, got %v", err)
	}
}

func TestOutputTensorRejectsNonFloat(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	installFakeTensorInfo(TensorElementDataTypeDouble, Shape{2})
	out := &OutputTensor{handle: 9}

	elementType, err := out.ElementType()
	if err != nil || elementType != TensorElementDataTypeDouble {
		t.Fatalf("unexpected element type %s, err %v", elementType, err)
	}
	_, err = out.Float32Data()
	if err == nil || !strings.Contains(err.Error(), "expected float32") {
		t.Fatalf("expected element type error, got %v", err)
	}
}

func TestOutputTensorWithoutORT(t *testing.T) {
	resetEnvironmentState()

	out := &OutputTensor{handle: 9}
	if _, err := out.Shape(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	var nilTensor *OutputTensor
	if _, err := nilTensor.Shape(); err == nil {
		t.Fatal("expected error for nil tensor")
	}
}
