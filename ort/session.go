package ort

import (
	"fmt"
	"runtime"
	"sync"
)

// Session is a loaded ONNX model ready for inference.
//
// Runs on one Session are serialized. Destroy waits for an in-flight run to
// finish and makes later runs fail.
type Session struct {
	runMu     sync.Mutex
	handle    uintptr
	inputs    []TensorInfo
	outputs   []TensorInfo
	providers []string
}

// NewSession loads the model at modelPath. When options is nil a default
// CPU-only configuration is used.
func NewSession(modelPath string, options *SessionOptions) (*Session, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}

	env, err := environmentHandle()
	if err != nil {
		return nil, err
	}

	if options == nil {
		defaults, err := NewSessionOptions()
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = defaults.Destroy()
		}()
		options = defaults
	}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	optsHandle, err := options.liveHandle()
	if err != nil {
		return nil, err
	}

	mu.Lock()
	create := createSessionFunc
	mu.Unlock()
	if create == nil {
		return nil, ErrNotInitialized
	}

	pathPtr, backing, err := goStringToORTChar(modelPath)
	if err != nil {
		return nil, fmt.Errorf("invalid model path %q: %w", modelPath, err)
	}

	var handle uintptr
	status := create(env, pathPtr, optsHandle, &handle)
	runtime.KeepAlive(backing)
	if err := statusError("create session", status); err != nil {
		return nil, err
	}

	s := &Session{
		handle:    handle,
		providers: append(options.Providers(), CPUExecutionProvider),
	}
	if err := s.loadIOInfo(); err != nil {
		mu.Lock()
		release := releaseSessionFunc
		mu.Unlock()
		if release != nil {
			release(handle)
		}
		return nil, err
	}

	runtime.SetFinalizer(s, func(s *Session) {
		_ = s.Destroy()
	})
	return s, nil
}

// loadIOInfo reads the declared inputs and outputs. Caller holds ortCallMu.RLock.
func (s *Session) loadIOInfo() error {
	mu.Lock()
	inputCount := sessionGetInputCountFunc
	outputCount := sessionGetOutputCountFunc
	inputName := sessionGetInputNameFunc
	outputName := sessionGetOutputNameFunc
	inputType := sessionGetInputTypeInfoFunc
	outputType := sessionGetOutputTypeInfoFunc
	getAllocator := getAllocatorWithDefaultOptsFunc
	mu.Unlock()
	if inputCount == nil || outputCount == nil || inputName == nil || outputName == nil ||
		inputType == nil || outputType == nil || getAllocator == nil {
		return ErrNotInitialized
	}

	var allocator uintptr
	if err := statusError("get default allocator", getAllocator(&allocator)); err != nil {
		return err
	}

	inputs, err := sessionTensorInfos(s.handle, allocator, "input", inputCount, inputName, inputType)
	if err != nil {
		return err
	}
	outputs, err := sessionTensorInfos(s.handle, allocator, "output", outputCount, outputName, outputType)
	if err != nil {
		return err
	}
	s.inputs = inputs
	s.outputs = outputs
	return nil
}

func sessionTensorInfos(
	session, allocator uintptr,
	kind string,
	count func(uintptr, *uintptr) uintptr,
	name func(uintptr, uintptr, uintptr, *uintptr) uintptr,
	typeInfo func(uintptr, uintptr, *uintptr) uintptr,
) ([]TensorInfo, error) {
	var n uintptr
	if err := statusError("get session "+kind+" count", count(session, &n)); err != nil {
		return nil, err
	}

	infos := make([]TensorInfo, 0, n)
	for i := uintptr(0); i < n; i++ {
		var namePtr uintptr
		if err := statusError(fmt.Sprintf("get session %s name %d", kind, i), name(session, i, allocator, &namePtr)); err != nil {
			return nil, err
		}
		info := TensorInfo{Name: CstringToGo(namePtr)}
		if err := allocatorFree(allocator, namePtr); err != nil {
			return nil, err
		}

		var ti uintptr
		if err := statusError(fmt.Sprintf("get session %s type info %q", kind, info.Name), typeInfo(session, i, &ti)); err != nil {
			return nil, err
		}
		elementType, shape, err := typeInfoTensor(ti)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", kind, info.Name, err)
		}
		info.ElementType = elementType
		info.Shape = shape
		infos = append(infos, info)
	}
	return infos, nil
}

// typeInfoTensor decodes and releases an OrtTypeInfo. Non-tensor types report
// TensorElementDataTypeUndefined and a nil shape.
func typeInfoTensor(ti uintptr) (TensorElementDataType, Shape, error) {
	mu.Lock()
	getONNXType := getOnnxTypeFromTypeInfoFunc
	cast := castTypeInfoToTensorInfoFunc
	release := releaseTypeInfoFunc
	mu.Unlock()
	if getONNXType == nil || cast == nil || release == nil {
		return TensorElementDataTypeUndefined, nil, ErrNotInitialized
	}
	defer release(ti)

	var onnxType int32
	if err := statusError("get ONNX type", getONNXType(ti, &onnxType)); err != nil {
		return TensorElementDataTypeUndefined, nil, err
	}
	if ONNXType(onnxType) != ONNXTypeTensor {
		return TensorElementDataTypeUndefined, nil, nil
	}

	// The tensor info is owned by ti and released with it.
	var tensorInfo uintptr
	if err := statusError("cast type info to tensor info", cast(ti, &tensorInfo)); err != nil {
		return TensorElementDataTypeUndefined, nil, err
	}
	return tensorInfoTypeAndShape(tensorInfo)
}

func allocatorFree(allocator, ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	mu.Lock()
	free := allocatorFreeFunc
	mu.Unlock()
	if free == nil {
		return ErrNotInitialized
	}
	return statusError("free allocator buffer", free(allocator, ptr))
}

// InputInfo returns the declared inputs in model order.
func (s *Session) InputInfo() []TensorInfo { return cloneTensorInfos(s.inputs) }

// OutputInfo returns the declared outputs in model order.
func (s *Session) OutputInfo() []TensorInfo { return cloneTensorInfos(s.outputs) }

// InputNames returns the declared input names in model order.
func (s *Session) InputNames() []string { return tensorInfoNames(s.inputs) }

// OutputNames returns the declared output names in model order.
func (s *Session) OutputNames() []string { return tensorInfoNames(s.outputs) }

// Providers returns the execution providers the session was configured with,
// most preferred first.
func (s *Session) Providers() []string { return append([]string(nil), s.providers...) }

func tensorInfoNames(infos []TensorInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

func cloneTensorInfos(infos []TensorInfo) []TensorInfo {
	out := make([]TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = TensorInfo{Name: info.Name, ElementType: info.ElementType, Shape: info.Shape.Clone()}
	}
	return out
}

// Run feeds inputs under inputNames and returns newly allocated values for
// outputNames. The caller owns the returned tensors.
func (s *Session) Run(inputNames []string, inputs []Value, outputNames []string) ([]*OutputTensor, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}
	if len(inputNames) == 0 {
		return nil, fmt.Errorf("at least one input name is required")
	}
	if len(outputNames) == 0 {
		return nil, fmt.Errorf("at least one output name is required")
	}
	if len(inputNames) != len(inputs) {
		return nil, fmt.Errorf("input names/values count mismatch: %d names, %d values", len(inputNames), len(inputs))
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	handle := s.handle
	run := runSessionFunc
	mu.Unlock()
	if handle == 0 {
		return nil, fmt.Errorf("session has been destroyed")
	}
	if run == nil {
		return nil, ErrNotInitialized
	}

	inputHandles, err := valueHandles(inputs)
	if err != nil {
		return nil, err
	}

	inBackings, inPtrs := makeCStringPointerArray(inputNames)
	outBackings, outPtrs := makeCStringPointerArray(outputNames)
	outHandles := make([]uintptr, len(outputNames))

	status := run(handle, 0,
		&inPtrs[0], &inputHandles[0], uintptr(len(inputHandles)),
		&outPtrs[0], uintptr(len(outPtrs)), &outHandles[0])
	runtime.KeepAlive(inBackings)
	runtime.KeepAlive(outBackings)
	runtime.KeepAlive(inputs)
	if err := statusError("run session", status); err != nil {
		return nil, err
	}

	outputs := make([]*OutputTensor, len(outHandles))
	for i, h := range outHandles {
		outputs[i] = newOutputTensor(h)
	}
	return outputs, nil
}

// RunWithBinding executes the session against the values bound in b.
func (s *Session) RunWithBinding(b *IoBinding) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	if b == nil {
		return fmt.Errorf("io binding is nil")
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	handle := s.handle
	bindingHandle := b.handle
	run := runWithBindingFunc
	mu.Unlock()
	if handle == 0 {
		return fmt.Errorf("session has been destroyed")
	}
	if bindingHandle == 0 {
		return fmt.Errorf("io binding has been destroyed")
	}
	if run == nil {
		return ErrNotInitialized
	}

	return statusError("run session with binding", run(handle, 0, bindingHandle))
}

// Destroy releases the session. It is safe to call more than once.
func (s *Session) Destroy() error {
	if s == nil {
		return nil
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	ortCallMu.Lock()
	defer ortCallMu.Unlock()

	mu.Lock()
	handle := s.handle
	release := releaseSessionFunc
	s.handle = 0
	s.inputs = nil
	s.outputs = nil
	runtime.SetFinalizer(s, nil)
	mu.Unlock()

	if handle != 0 && release != nil {
		release(handle)
	}
	return nil
}

// valueHandles resolves the OrtValue handle of every value. Caller holds
// ortCallMu so handles cannot be released concurrently.
func valueHandles(values []Value) ([]uintptr, error) {
	handles := make([]uintptr, len(values))
	for i, v := range values {
		h, err := valueHandle(v)
		if err != nil {
			return nil, fmt.Errorf("input value at index %d: %w", i, err)
		}
		handles[i] = h
	}
	return handles, nil
}

func valueHandle(v Value) (uintptr, error) {
	ov, ok := v.(ortValue)
	if !ok {
		return 0, fmt.Errorf("unsupported value implementation %T", v)
	}
	mu.Lock()
	h := ov.ortValueHandle()
	mu.Unlock()
	if h == 0 {
		return 0, fmt.Errorf("value has been destroyed")
	}
	return h, nil
}
