package ort

import (
	"fmt"
	"runtime"
	"unsafe"
)

// IoBinding pins session inputs and output locations ahead of a run so the
// same binding can be reused across calls.
//
// An IoBinding is not safe for concurrent use; callers serialize access.
type IoBinding struct {
	handle  uintptr
	session *Session
	// inputs keeps bound Go-backed values reachable until they are cleared.
	inputs []Value
}

// NewIoBinding creates a binding attached to s.
func (s *Session) NewIoBinding() (*IoBinding, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	handle := s.handle
	create := createIoBindingFunc
	mu.Unlock()
	if handle == 0 {
		return nil, fmt.Errorf("session has been destroyed")
	}
	if create == nil {
		return nil, ErrNotInitialized
	}

	var binding uintptr
	if err := statusError("create io binding", create(handle, &binding)); err != nil {
		return nil, err
	}

	b := &IoBinding{handle: binding, session: s}
	runtime.SetFinalizer(b, func(b *IoBinding) {
		_ = b.Destroy()
	})
	return b, nil
}

func (b *IoBinding) liveHandle() (uintptr, error) {
	if b == nil {
		return 0, fmt.Errorf("io binding is nil")
	}
	mu.Lock()
	defer mu.Unlock()
	if b.handle == 0 {
		return 0, fmt.Errorf("io binding has been destroyed")
	}
	return b.handle, nil
}

// BindInput binds value to the model input called name. value must stay
// alive until the next ClearBoundInputs or Destroy.
func (b *IoBinding) BindInput(name string, value Value) error {
	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	handle, err := b.liveHandle()
	if err != nil {
		return err
	}
	valueH, err := valueHandle(value)
	if err != nil {
		return fmt.Errorf("input %q: %w", name, err)
	}

	mu.Lock()
	bind := bindInputFunc
	mu.Unlock()
	if bind == nil {
		return ErrNotInitialized
	}

	nameBytes, namePtr := GoToCstring(name)
	status := bind(handle, namePtr, valueH)
	runtime.KeepAlive(nameBytes)
	if err := statusError(fmt.Sprintf("bind input %q", name), status); err != nil {
		return err
	}

	mu.Lock()
	b.inputs = append(b.inputs, value)
	mu.Unlock()
	return nil
}

// BindOutputToDevice asks ONNX Runtime to allocate output name on the device
// described by memInfo during the next run.
func (b *IoBinding) BindOutputToDevice(name string, memInfo *MemoryInfo) error {
	if !memInfo.IsValid() {
		return fmt.Errorf("output %q: memory info is not valid", name)
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	handle, err := b.liveHandle()
	if err != nil {
		return err
	}

	mu.Lock()
	bind := bindOutputToDeviceFunc
	memHandle := memInfo.handle
	mu.Unlock()
	if bind == nil {
		return ErrNotInitialized
	}

	nameBytes, namePtr := GoToCstring(name)
	status := bind(handle, namePtr, memHandle)
	runtime.KeepAlive(nameBytes)
	runtime.KeepAlive(memInfo)
	return statusError(fmt.Sprintf("bind output %q", name), status)
}

// BoundOutputValues returns the outputs produced by the last RunWithBinding,
// in the order they were bound. The caller owns the returned tensors.
func (b *IoBinding) BoundOutputValues() ([]*OutputTensor, error) {
	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	handle, err := b.liveHandle()
	if err != nil {
		return nil, err
	}

	mu.Lock()
	getOutputs := getBoundOutputValuesFunc
	getAllocator := getAllocatorWithDefaultOptsFunc
	mu.Unlock()
	if getOutputs == nil || getAllocator == nil {
		return nil, ErrNotInitialized
	}

	var allocator uintptr
	if err := statusError("get default allocator", getAllocator(&allocator)); err != nil {
		return nil, err
	}

	var list uintptr
	var count uintptr
	if err := statusError("get bound output values", getOutputs(handle, allocator, &list, &count)); err != nil {
		return nil, err
	}
	if list == 0 || count == 0 {
		return nil, nil
	}

	// #nosec G103 -- list is an allocator-owned array of count OrtValue* entries, freed below.
	handles := unsafe.Slice((*uintptr)(unsafe.Pointer(list)), int(count)) //nolint:govet
	outputs := make([]*OutputTensor, count)
	for i, h := range handles {
		outputs[i] = newOutputTensor(h)
	}
	if err := allocatorFree(allocator, list); err != nil {
		return outputs, err
	}
	return outputs, nil
}

// ClearBoundInputs drops every input binding.
func (b *IoBinding) ClearBoundInputs() {
	b.clear(func() func(uintptr) { return clearBoundInputsFunc })
	mu.Lock()
	if b != nil {
		b.inputs = nil
	}
	mu.Unlock()
}

// ClearBoundOutputs drops every output binding.
func (b *IoBinding) ClearBoundOutputs() {
	b.clear(func() func(uintptr) { return clearBoundOutputsFunc })
}

func (b *IoBinding) clear(fn func() func(uintptr)) {
	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	handle, err := b.liveHandle()
	if err != nil {
		return
	}
	mu.Lock()
	clearFn := fn()
	mu.Unlock()
	if clearFn != nil {
		clearFn(handle)
	}
}

// Destroy releases the binding. It is safe to call more than once.
func (b *IoBinding) Destroy() error {
	if b == nil {
		return nil
	}

	ortCallMu.Lock()
	defer ortCallMu.Unlock()

	mu.Lock()
	handle := b.handle
	release := releaseIoBindingFunc
	b.handle = 0
	b.inputs = nil
	b.session = nil
	runtime.SetFinalizer(b, nil)
	mu.Unlock()

	if handle != 0 && release != nil {
		release(handle)
	}
	return nil
}
