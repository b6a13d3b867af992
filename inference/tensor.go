package inference

import (
	"fmt"
	"unsafe"

	"github.com/amikos-tech/ort-forward/ort"
)

// Tensor is a float32 input for Forward. Implementations are HostTensor and
// DeviceTensor.
type Tensor interface {
	Shape() ort.Shape
	Device() Device
	// ToHost returns the tensor in host memory, copying only when it is not
	// already there.
	ToHost() (*HostTensor, error)
}

// HostTensor is a float32 tensor backed by a Go slice.
type HostTensor struct {
	shape ort.Shape
	data  []float32
}

// NewHostTensor wraps data without copying. len(data) must match shape.
func NewHostTensor(shape ort.Shape, data []float32) (*HostTensor, error) {
	n, err := ort.ShapeElementCount(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("data length mismatch: got %d elements, expected %d for shape %v", len(data), n, shape)
	}
	return &HostTensor{shape: shape.Clone(), data: data}, nil
}

// Filled returns a new host tensor of the given shape with every element set to v.
func Filled(shape ort.Shape, v float32) (*HostTensor, error) {
	n, err := ort.ShapeElementCount(shape)
	if err != nil {
		return nil, err
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = v
	}
	return &HostTensor{shape: shape.Clone(), data: data}, nil
}

// Shape returns a copy of the tensor shape.
func (t *HostTensor) Shape() ort.Shape { return t.shape.Clone() }

// Device returns the host device.
func (t *HostTensor) Device() Device { return HostDevice() }

// Data returns the backing slice. It is not copied.
func (t *HostTensor) Data() []float32 { return t.data }

// ToHost returns t.
func (t *HostTensor) ToHost() (*HostTensor, error) { return t, nil }

// HostCopier copies a device buffer into dst, which has one element per
// tensor element.
type HostCopier func(dst []float32) error

// DeviceTensor describes a float32 buffer that already lives in accelerator
// memory. The caller owns the buffer and must keep it valid while the
// tensor is in use.
type DeviceTensor struct {
	ptr    uintptr
	shape  ort.Shape
	index  int
	toHost HostCopier
}

// NewDeviceTensor wraps the device buffer at ptr on accelerator index.
// copier is used by ToHost and may be nil when the tensor is only ever
// passed to an accelerator adapter.
func NewDeviceTensor(ptr uintptr, shape ort.Shape, index int, copier HostCopier) (*DeviceTensor, error) {
	if ptr == 0 {
		return nil, fmt.Errorf("device tensor pointer is nil")
	}
	if index < 0 {
		return nil, fmt.Errorf("device index cannot be negative: %d", index)
	}
	if _, err := ort.ShapeElementCount(shape); err != nil {
		return nil, err
	}
	return &DeviceTensor{ptr: ptr, shape: shape.Clone(), index: index, toHost: copier}, nil
}

// Shape returns a copy of the tensor shape.
func (t *DeviceTensor) Shape() ort.Shape { return t.shape.Clone() }

// Device returns the accelerator holding the buffer.
func (t *DeviceTensor) Device() Device { return AcceleratorDevice(t.index) }

// Ptr returns the device address of the buffer.
func (t *DeviceTensor) Ptr() uintptr { return t.ptr }

// ByteSize returns the buffer length in bytes.
func (t *DeviceTensor) ByteSize() uintptr {
	n, _ := ort.ShapeElementCount(t.shape)
	return uintptr(n) * unsafe.Sizeof(float32(0))
}

// ToHost copies the buffer into a new host tensor.
func (t *DeviceTensor) ToHost() (*HostTensor, error) {
	if t.toHost == nil {
		return nil, fmt.Errorf("device tensor on %s has no host copier", t.Device())
	}
	n, err := ort.ShapeElementCount(t.shape)
	if err != nil {
		return nil, err
	}
	data := make([]float32, n)
	if err := t.toHost(data); err != nil {
		return nil, fmt.Errorf("copy %s tensor to host: %w", t.Device(), err)
	}
	return &HostTensor{shape: t.shape.Clone(), data: data}, nil
}
