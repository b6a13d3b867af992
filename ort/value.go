package ort

import (
	"fmt"
	"runtime"
	"unsafe"
)

// ExternalTensor wraps memory that ONNX Runtime does not own, typically a
// device buffer allocated by another library. Destroy releases only the
// OrtValue wrapper; the caller keeps ownership of the buffer.
type ExternalTensor struct {
	handle      uintptr
	shape       Shape
	elementType TensorElementDataType
	memInfo     *MemoryInfo
}

// NewExternalTensor creates an OrtValue over byteSize bytes at ptr described by memInfo.
func NewExternalTensor(ptr uintptr, byteSize uintptr, shape Shape, elementType TensorElementDataType, memInfo *MemoryInfo) (*ExternalTensor, error) {
	if ptr == 0 {
		return nil, fmt.Errorf("external tensor data pointer is nil")
	}
	if !memInfo.IsValid() {
		return nil, fmt.Errorf("external tensor memory info is not valid")
	}

	shapeCopy := cloneShape(shape)
	if _, err := shapeElementCount(shapeCopy); err != nil {
		return nil, err
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	create := createTensorWithDataAsOrtValueFunc
	memHandle := memInfo.handle
	mu.Unlock()
	if create == nil {
		return nil, ErrNotInitialized
	}

	var handle uintptr
	status := create(memHandle, ptr, byteSize, shapePtr(shapeCopy), uintptr(len(shapeCopy)), elementType, &handle)
	runtime.KeepAlive(shapeCopy)
	if err := statusError("create external tensor", status); err != nil {
		return nil, err
	}

	t := &ExternalTensor{
		handle:      handle,
		shape:       shapeCopy,
		elementType: elementType,
		memInfo:     memInfo,
	}
	runtime.SetFinalizer(t, func(t *ExternalTensor) {
		_ = t.Destroy()
	})
	return t, nil
}

func (t *ExternalTensor) ortValueHandle() uintptr {
	if t == nil {
		return 0
	}
	return t.handle
}

// Shape returns the tensor shape.
func (t *ExternalTensor) Shape() Shape { return t.shape }

// ElementType returns the element type the tensor was created with.
func (t *ExternalTensor) ElementType() TensorElementDataType { return t.elementType }

// Type returns ValueTypeTensor.
func (t *ExternalTensor) Type() ValueType { return ValueTypeTensor }

// Destroy releases the OrtValue wrapper.
func (t *ExternalTensor) Destroy() error {
	if t == nil {
		return nil
	}
	return releaseValueHandle(&t.handle, func() {
		runtime.SetFinalizer(t, nil)
		t.memInfo = nil
	})
}

// OutputTensor is a tensor value allocated by ONNX Runtime, for example an
// output produced by RunWithBinding. The caller owns it and must Destroy it.
type OutputTensor struct {
	handle uintptr
}

func newOutputTensor(handle uintptr) *OutputTensor {
	t := &OutputTensor{handle: handle}
	runtime.SetFinalizer(t, func(t *OutputTensor) {
		_ = t.Destroy()
	})
	return t
}

func (t *OutputTensor) ortValueHandle() uintptr {
	if t == nil {
		return 0
	}
	return t.handle
}

// Type returns ValueTypeTensor.
func (t *OutputTensor) Type() ValueType { return ValueTypeTensor }

// ElementType reports the element type of the tensor.
func (t *OutputTensor) ElementType() (TensorElementDataType, error) {
	elementType, _, err := t.typeAndShape()
	return elementType, err
}

// Shape reports the tensor dimensions.
func (t *OutputTensor) Shape() (Shape, error) {
	_, shape, err := t.typeAndShape()
	return shape, err
}

// Float32Data copies the tensor contents into a new slice. The tensor must
// hold float32 elements in host-accessible memory.
func (t *OutputTensor) Float32Data() ([]float32, error) {
	elementType, shape, err := t.typeAndShape()
	if err != nil {
		return nil, err
	}
	if elementType != TensorElementDataTypeFloat {
		return nil, fmt.Errorf("tensor element type is %s, expected %s", elementType, TensorElementDataTypeFloat)
	}
	count, err := shapeElementCount(shape)
	if err != nil {
		return nil, err
	}
	out := make([]float32, count)
	if count == 0 {
		return out, nil
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	handle := t.handle
	getData := getTensorMutableDataFunc
	mu.Unlock()
	if handle == 0 {
		return nil, fmt.Errorf("tensor has been destroyed")
	}
	if getData == nil {
		return nil, ErrNotInitialized
	}

	var dataPtr uintptr
	if err := statusError("get tensor data", getData(handle, &dataPtr)); err != nil {
		return nil, err
	}
	if dataPtr == 0 {
		return nil, fmt.Errorf("tensor data pointer is nil")
	}
	// #nosec G103 -- ORT owns the buffer; it stays valid until the value is released under ortCallMu.Lock.
	src := unsafe.Slice((*float32)(unsafe.Pointer(dataPtr)), count) //nolint:govet
	copy(out, src)
	return out, nil
}

// Destroy releases the OrtValue.
func (t *OutputTensor) Destroy() error {
	if t == nil {
		return nil
	}
	return releaseValueHandle(&t.handle, func() {
		runtime.SetFinalizer(t, nil)
	})
}

func (t *OutputTensor) typeAndShape() (TensorElementDataType, Shape, error) {
	if t == nil {
		return TensorElementDataTypeUndefined, nil, fmt.Errorf("tensor is nil")
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	handle := t.handle
	mu.Unlock()
	if handle == 0 {
		return TensorElementDataTypeUndefined, nil, fmt.Errorf("tensor has been destroyed")
	}
	return valueTypeAndShape(handle)
}

// valueTypeAndShape reads element type and dimensions of an OrtValue.
// Caller must hold ortCallMu for reading.
func valueTypeAndShape(handle uintptr) (TensorElementDataType, Shape, error) {
	mu.Lock()
	getInfo := getTensorTypeAndShapeFunc
	release := releaseTensorTypeAndShapeInfoFunc
	mu.Unlock()
	if getInfo == nil || release == nil {
		return TensorElementDataTypeUndefined, nil, ErrNotInitialized
	}

	var info uintptr
	if err := statusError("get tensor type and shape", getInfo(handle, &info)); err != nil {
		return TensorElementDataTypeUndefined, nil, err
	}
	defer release(info)

	return tensorInfoTypeAndShape(info)
}

// tensorInfoTypeAndShape decodes an OrtTensorTypeAndShapeInfo without releasing it.
func tensorInfoTypeAndShape(info uintptr) (TensorElementDataType, Shape, error) {
	mu.Lock()
	getElementType := getTensorElementTypeFunc
	getCount := getDimensionsCountFunc
	getDims := getDimensionsFunc
	mu.Unlock()
	if getElementType == nil || getCount == nil || getDims == nil {
		return TensorElementDataTypeUndefined, nil, ErrNotInitialized
	}

	var elementType int32
	if err := statusError("get tensor element type", getElementType(info, &elementType)); err != nil {
		return TensorElementDataTypeUndefined, nil, err
	}

	var rank uintptr
	if err := statusError("get tensor rank", getCount(info, &rank)); err != nil {
		return TensorElementDataTypeUndefined, nil, err
	}

	shape := make(Shape, rank)
	if rank > 0 {
		if err := statusError("get tensor dimensions", getDims(info, &shape[0], rank)); err != nil {
			return TensorElementDataTypeUndefined, nil, err
		}
	}
	return TensorElementDataType(elementType), shape, nil
}

// releaseValueHandle releases *handle with ReleaseValue and zeroes it. cleanup
// runs under mu before the release call.
func releaseValueHandle(handle *uintptr, cleanup func()) error {
	ortCallMu.Lock()
	defer ortCallMu.Unlock()

	mu.Lock()
	h := *handle
	release := releaseValueFunc
	*handle = 0
	if cleanup != nil {
		cleanup()
	}
	mu.Unlock()

	if h != 0 && release != nil {
		release(h)
	}
	return nil
}
