package ort

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Element is the set of Go types a Tensor can hold.
type Element interface {
	float32 | float64 | int32 | int64
}

// Tensor is an OrtValue backed by a Go slice. The slice stays pinned until
// Destroy, so writes through Data are visible to the runtime.
type Tensor[T Element] struct {
	shape  Shape
	data   []T
	handle uintptr
	pinner *runtime.Pinner
}

// NewTensor wraps data as a tensor of the given shape. len(data) must equal
// the shape's element count.
func NewTensor[T Element](shape Shape, data []T) (*Tensor[T], error) {
	dims := cloneShape(shape)
	n, err := shapeElementCount(dims)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("data length mismatch: got %d elements, expected %d for shape %v", len(data), n, dims)
	}
	return wrapSlice(dims, data)
}

// NewEmptyTensor allocates a zeroed tensor of the given shape.
func NewEmptyTensor[T Element](shape Shape) (*Tensor[T], error) {
	dims := cloneShape(shape)
	n, err := shapeElementCount(dims)
	if err != nil {
		return nil, err
	}
	return wrapSlice(dims, make([]T, n))
}

func wrapSlice[T Element](dims Shape, data []T) (*Tensor[T], error) {
	elementType, elementSize := tensorElementType[T]()
	byteSize, err := tensorDataByteSize(len(data), elementSize)
	if err != nil {
		return nil, err
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	createInfo, releaseInfo, create := createMemoryInfoFunc, releaseMemoryInfoFunc, createTensorWithDataAsOrtValueFunc
	mu.Unlock()
	if createInfo == nil || releaseInfo == nil || create == nil {
		return nil, ErrNotInitialized
	}

	name, namePtr := GoToCstring(MemoryInfoNameCPU)
	var info uintptr
	status := createInfo(namePtr, AllocatorTypeArena, 0, MemTypeCPU, &info)
	runtime.KeepAlive(name)
	if err := statusError("create CPU memory info", status); err != nil {
		return nil, err
	}
	defer releaseInfo(info)

	t := &Tensor[T]{shape: dims, data: data}
	var dataPtr uintptr
	if len(data) > 0 {
		t.pinner = new(runtime.Pinner)
		t.pinner.Pin(&data[0])
		// #nosec G103 -- the backing array is pinned until Destroy.
		dataPtr = uintptr(unsafe.Pointer(&data[0]))
	}

	status = create(info, dataPtr, byteSize, shapePtr(dims), uintptr(len(dims)), elementType, &t.handle)
	runtime.KeepAlive(dims)
	if err := statusError("create tensor", status); err != nil {
		if t.pinner != nil {
			t.pinner.Unpin()
		}
		return nil, err
	}

	runtime.SetFinalizer(t, func(t *Tensor[T]) {
		_ = t.Destroy()
	})
	return t, nil
}

func (t *Tensor[T]) ortValueHandle() uintptr {
	if t == nil {
		return 0
	}
	return t.handle
}

// Data returns the backing slice, or nil once the tensor is destroyed.
func (t *Tensor[T]) Data() []T {
	if t == nil {
		return nil
	}
	return t.data
}

// Shape returns the tensor dimensions.
func (t *Tensor[T]) Shape() Shape {
	if t == nil {
		return nil
	}
	return t.shape
}

// Type returns ValueTypeTensor.
func (t *Tensor[T]) Type() ValueType { return ValueTypeTensor }

// Destroy releases the OrtValue and unpins the backing slice. It is safe to
// call more than once.
func (t *Tensor[T]) Destroy() error {
	if t == nil {
		return nil
	}

	var pinner *runtime.Pinner
	err := releaseValueHandle(&t.handle, func() {
		pinner = t.pinner
		t.pinner = nil
		t.data = nil
		t.shape = nil
		runtime.SetFinalizer(t, nil)
	})
	if pinner != nil {
		pinner.Unpin()
	}
	return err
}

func tensorDataByteSize(elementCount int, elementSize uintptr) (uintptr, error) {
	switch {
	case elementCount < 0:
		return 0, fmt.Errorf("element count cannot be negative: %d", elementCount)
	case elementCount == 0:
		return 0, nil
	case elementSize == 0:
		return 0, fmt.Errorf("element size cannot be zero")
	case uintptr(elementCount) > ^uintptr(0)/elementSize:
		return 0, fmt.Errorf("tensor data size overflow: %d elements with element size %d", elementCount, elementSize)
	}
	return uintptr(elementCount) * elementSize, nil
}

func tensorElementType[T Element]() (TensorElementDataType, uintptr) {
	var zero T
	size := unsafe.Sizeof(zero)
	switch any(zero).(type) {
	case float64:
		return TensorElementDataTypeDouble, size
	case int32:
		return TensorElementDataTypeInt32, size
	case int64:
		return TensorElementDataTypeInt64, size
	default:
		return TensorElementDataTypeFloat, size
	}
}
