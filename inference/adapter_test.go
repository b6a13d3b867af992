package inference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/amikos-tech/ort-forward/metrics"
	"github.com/amikos-tech/ort-forward/ort"
)

const fakeModel = "model.onnx"

// missingCustomOps points the library lookup at a file that does not exist
// so tests never pick up a real library from the environment.
func missingCustomOps(t *testing.T) Option {
	t.Helper()
	return WithCustomOpsLibraryPath(filepath.Join(t.TempDir(), "missing_ops.so"))
}

func newFakeAdapter(t *testing.T, engine *fakeEngine, deviceID int, opts ...Option) *Adapter {
	t.Helper()
	opts = append([]Option{WithEngine(engine), missingCustomOps(t)}, opts...)
	a, err := New(fakeModel, deviceID, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func hostTensor(t *testing.T, shape ort.Shape, data ...float32) *HostTensor {
	t.Helper()
	h, err := NewHostTensor(shape, data)
	require.NoError(t, err)
	return h
}

func TestNewUsesDeclaredOutputNames(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"scores", "boxes", "labels"})
	a := newFakeAdapter(t, engine, -1)

	require.Equal(t, []string{"scores", "boxes", "labels"}, a.OutputNames())
	require.Equal(t, []string{"input"}, a.InputNames())
	require.Equal(t, HostDevice(), a.Device())
	require.Equal(t, []ProviderSpec{{Name: ort.CPUExecutionProvider}}, a.Providers())
	require.Equal(t, fakeModel, a.ModelPath())

	cfg := engine.lastConfig()
	require.Equal(t, ort.GraphOptimizationLevelEnableAll, cfg.GraphOptimizationLevel)
	require.Empty(t, cfg.CustomOpsLibrary)

	names := a.OutputNames()
	names[0] = "mutated"
	require.Equal(t, "scores", a.OutputNames()[0])
}

func TestNewSelectsDevice(t *testing.T) {
	cpuOnly := []string{ort.CPUExecutionProvider}
	withCUDA := []string{ort.CUDAExecutionProvider, ort.CPUExecutionProvider}

	tests := []struct {
		name      string
		deviceID  int
		available []string
		device    Device
		providers []ProviderSpec
	}{
		{
			name:      "host requested",
			deviceID:  -1,
			available: withCUDA,
			device:    HostDevice(),
			providers: []ProviderSpec{{Name: ort.CPUExecutionProvider}},
		},
		{
			name:      "accelerator available",
			deviceID:  1,
			available: withCUDA,
			device:    AcceleratorDevice(1),
			providers: []ProviderSpec{
				{Name: ort.CUDAExecutionProvider, Options: map[string]string{"device_id": "1"}},
				{Name: ort.CPUExecutionProvider},
			},
		},
		{
			name:      "accelerator unavailable",
			deviceID:  0,
			available: cpuOnly,
			device:    HostDevice(),
			providers: []ProviderSpec{{Name: ort.CPUExecutionProvider}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine([]string{"input"}, []string{"output"})
			engine.providers = tt.available
			a := newFakeAdapter(t, engine, tt.deviceID)

			require.Equal(t, tt.device, a.Device())
			require.Equal(t, tt.providers, a.Providers())
			require.Equal(t, tt.providers, engine.lastConfig().Providers)
			require.Equal(t, tt.device, engine.lastSession().binding.device)
		})
	}
}

func TestNewLogsProviderSelection(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	newFakeAdapter(t, engine, 0, WithLogger(zap.New(core)))

	require.Equal(t, 1, logs.FilterMessage("CUDA execution provider unavailable, running on host").Len())
	selected := logs.FilterMessage("selected execution providers").All()
	require.Len(t, selected, 1)
	require.Equal(t, "cpu", selected[0].ContextMap()["device"])
	require.Equal(t, fakeModel, selected[0].ContextMap()["model"])
	require.Equal(t, 1, logs.FilterMessage("using declared output names").Len())
}

func TestNewMissingCustomOpsLibraryWarns(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	missing := filepath.Join(t.TempDir(), "libort_forward_ops.so")
	engine := newFakeEngine([]string{"input"}, []string{"output"})

	a, err := New(fakeModel, -1,
		WithEngine(engine),
		WithCustomOpsLibraryPath(missing),
		WithLogger(zap.New(core)),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).FilterField(zap.String("path", missing)).All()
	require.Len(t, warnings, 1)
	require.Empty(t, engine.lastConfig().CustomOpsLibrary)
}

func TestNewRegistersExistingCustomOpsLibrary(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	lib := filepath.Join(t.TempDir(), "libort_forward_ops.so")
	require.NoError(t, os.WriteFile(lib, []byte("not really a library"), 0o600))
	engine := newFakeEngine([]string{"input"}, []string{"output"})

	a, err := New(fakeModel, -1,
		WithEngine(engine),
		WithCustomOpsLibraryPath(lib),
		WithLogger(zap.New(core)),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	require.Equal(t, lib, engine.lastConfig().CustomOpsLibrary)
	require.Equal(t, 1, logs.FilterMessage("registered custom op library").Len())
	require.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestNewLoadErrors(t *testing.T) {
	ortErr := &ort.Error{Op: "create session", Code: ort.ErrorCodeNoSuchFile, Message: "load failed"}

	tests := []struct {
		name      string
		modelPath string
		setup     func(e *fakeEngine)
		opts      []Option
		contains  string
	}{
		{name: "empty path", modelPath: "", contains: "model path cannot be empty"},
		{name: "no output names", modelPath: fakeModel, opts: []Option{WithOutputNames()}, contains: "output names cannot be empty"},
		{name: "duplicate output names", modelPath: fakeModel, opts: []Option{WithOutputNames("output", "output")}, contains: "duplicate output name"},
		{name: "unknown output name", modelPath: fakeModel, opts: []Option{WithOutputNames("logits")}, contains: `no output named "logits"`},
		{name: "negative threads", modelPath: fakeModel, opts: []Option{WithIntraOpThreads(-2)}, contains: "intra-op threads"},
		{name: "bad optimization level", modelPath: fakeModel, opts: []Option{WithGraphOptimizationLevel(7)}, contains: "optimization level"},
		{
			name:      "providers unavailable",
			modelPath: fakeModel,
			setup:     func(e *fakeEngine) { e.providersErr = ort.ErrNotInitialized },
			contains:  "ONNX Runtime not initialized",
		},
		{
			name:      "engine rejects model",
			modelPath: fakeModel,
			setup:     func(e *fakeEngine) { e.openErr = ortErr },
			contains:  "load failed",
		},
		{
			name:      "binding fails",
			modelPath: fakeModel,
			setup:     func(e *fakeEngine) { e.bindingErr = errors.New("no binding") },
			contains:  "create I/O binding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine([]string{"input"}, []string{"output"})
			if tt.setup != nil {
				tt.setup(engine)
			}
			opts := append([]Option{WithEngine(engine), missingCustomOps(t)}, tt.opts...)

			a, err := New(tt.modelPath, -1, opts...)
			require.Nil(t, a)
			var loadErr *EngineLoadError
			require.ErrorAs(t, err, &loadErr)
			require.Equal(t, tt.modelPath, loadErr.ModelPath)
			require.ErrorContains(t, err, tt.contains)

			for _, s := range engine.sessions {
				require.Equal(t, 1, s.destroyed, "session must be released after a failed construction")
			}
		})
	}
}

func TestNewCustomOpsRegistrationFailureIsLoadError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	lib := filepath.Join(t.TempDir(), "libort_forward_ops.so")
	require.NoError(t, os.WriteFile(lib, []byte("not really a library"), 0o600))
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	engine.openErr = &ort.Error{Op: "register custom ops library", Code: ort.ErrorCodeFail, Message: "invalid ELF header"}

	a, err := New(fakeModel, -1,
		WithEngine(engine),
		WithCustomOpsLibraryPath(lib),
		WithLogger(zap.New(core)),
	)
	require.Nil(t, a)
	var loadErr *EngineLoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, fakeModel, loadErr.ModelPath)
	require.True(t, ort.IsErrorCode(err, ort.ErrorCodeFail))
	require.Equal(t, lib, engine.lastConfig().CustomOpsLibrary)
	require.Zero(t, logs.FilterMessage("registered custom op library").Len())
}

func TestNewLoadErrorCarriesEngineCode(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	engine.openErr = &ort.Error{Op: "create session", Code: ort.ErrorCodeInvalidProtobuf, Message: "bad graph"}

	_, err := New(fakeModel, -1, WithEngine(engine), missingCustomOps(t))
	require.True(t, ort.IsErrorCode(err, ort.ErrorCodeInvalidProtobuf))

	var ortErr *ort.Error
	require.ErrorAs(t, err, &ortErr)
	require.Equal(t, "bad graph", ortErr.Message)
}

func TestForwardReturnsOutputsInNameOrder(t *testing.T) {
	engine := newFakeEngine([]string{"a", "b"}, []string{"sum", "difference"})
	engine.run = func(inputs map[string]Tensor, outputs []string) ([]*HostTensor, error) {
		a, _ := inputs["a"].ToHost()
		b, _ := inputs["b"].ToHost()
		out := make([]*HostTensor, len(outputs))
		for i, name := range outputs {
			data := make([]float32, len(a.data))
			for j := range data {
				if name == "sum" {
					data[j] = a.data[j] + b.data[j]
				} else {
					data[j] = a.data[j] - b.data[j]
				}
			}
			out[i] = &HostTensor{shape: a.shape.Clone(), data: data}
		}
		return out, nil
	}

	for _, order := range [][]string{{"sum", "difference"}, {"difference", "sum"}} {
		a := newFakeAdapter(t, engine, -1, WithOutputNames(order...))
		inputs := map[string]Tensor{
			"b": hostTensor(t, ort.Shape{2}, 1, 2),
			"a": hostTensor(t, ort.Shape{2}, 10, 20),
		}

		outputs, err := a.Forward(inputs)
		require.NoError(t, err)
		require.Len(t, outputs, len(order))
		for i, name := range order {
			want := []float32{11, 22}
			if name == "difference" {
				want = []float32{9, 18}
			}
			require.Equal(t, want, outputs[i].Data(), name)
			require.Equal(t, ort.Shape{2}, outputs[i].Shape())
		}

		session := engine.lastSession()
		require.Equal(t, []string{"a", "b"}, session.lastOrder)
		require.Equal(t, order, session.lastOutputs)
	}
}

func TestForwardIsRepeatable(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	a := newFakeAdapter(t, engine, -1)
	input := hostTensor(t, ort.Shape{1, 3}, 0.5, -1.25, 3)

	first, err := a.Forward(map[string]Tensor{"input": input})
	require.NoError(t, err)
	second, err := a.Forward(map[string]Tensor{"input": input})
	require.NoError(t, err)

	require.Equal(t, first[0].Data(), second[0].Data())
	require.Equal(t, []float32{0.5, -1.25, 3}, first[0].Data())
	require.Equal(t, 2, engine.lastSession().runs)
}

func TestForwardUnknownInputThenRecovers(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	a := newFakeAdapter(t, engine, -1)

	_, err := a.Forward(map[string]Tensor{
		"input":   hostTensor(t, ort.Shape{1}, 1),
		"unknown": hostTensor(t, ort.Shape{1}, 2),
	})
	var bindErr *EngineBindError
	require.ErrorAs(t, err, &bindErr)
	require.Equal(t, "unknown", bindErr.Name)
	require.Zero(t, engine.lastSession().runs)

	outputs, err := a.Forward(map[string]Tensor{"input": hostTensor(t, ort.Shape{1}, 4)})
	require.NoError(t, err)
	require.Equal(t, []float32{4}, outputs[0].Data())
	require.Equal(t, []string{"input"}, engine.lastSession().lastOrder)
}

func TestForwardEngineBindFailure(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	engine.bindErrs = map[string]error{
		"input": &ort.Error{Op: `bind input "input"`, Code: ort.ErrorCodeInvalidArgument, Message: "shape mismatch"},
	}
	a := newFakeAdapter(t, engine, -1)

	_, err := a.Forward(map[string]Tensor{"input": hostTensor(t, ort.Shape{1}, 1)})
	var bindErr *EngineBindError
	require.ErrorAs(t, err, &bindErr)
	require.Equal(t, "input", bindErr.Name)
	require.True(t, ort.IsErrorCode(err, ort.ErrorCodeInvalidArgument))
}

func TestForwardNilTensor(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	a := newFakeAdapter(t, engine, -1)

	_, err := a.Forward(map[string]Tensor{"input": nil})
	var bindErr *EngineBindError
	require.ErrorAs(t, err, &bindErr)
	require.ErrorContains(t, err, "tensor is nil")
}

func TestForwardExecutionErrorIsTimedAndRecoverable(t *testing.T) {
	t.Cleanup(func() { metrics.RemoveLabelValues("forward_failure") })
	timer, err := metrics.NewTimer("forward_failure", metrics.WithWarmup(0))
	require.NoError(t, err)

	engine := newFakeEngine([]string{"input"}, []string{"output"})
	runErr := &ort.Error{Op: "run with binding", Code: ort.ErrorCodeRuntimeException, Message: "kernel failed"}
	failing := true
	engine.run = func(inputs map[string]Tensor, outputs []string) ([]*HostTensor, error) {
		if failing {
			return nil, runErr
		}
		return echoFirstInput(inputs, outputs)
	}
	a := newFakeAdapter(t, engine, -1, WithTimer(timer))
	inputs := map[string]Tensor{"input": hostTensor(t, ort.Shape{1}, 1)}

	_, err = a.Forward(inputs)
	var execErr *EngineExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorIs(t, err, runErr)

	failing = false
	_, err = a.Forward(inputs)
	require.NoError(t, err)
	require.Equal(t, 2, timer.Stats().Count)
}

func TestForwardOutputCountMismatch(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	engine.run = func(map[string]Tensor, []string) ([]*HostTensor, error) { return nil, nil }
	a := newFakeAdapter(t, engine, -1)

	_, err := a.Forward(map[string]Tensor{"input": hostTensor(t, ort.Shape{1}, 1)})
	var execErr *EngineExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorContains(t, err, "returned 0 outputs, expected 1")
}

func TestHostAdapterCopiesDeviceTensorToHost(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	a := newFakeAdapter(t, engine, -1)

	copies := 0
	dev, err := NewDeviceTensor(0xdead, ort.Shape{1, 2}, 0, func(dst []float32) error {
		copies++
		copy(dst, []float32{7, 8})
		return nil
	})
	require.NoError(t, err)

	outputs, err := a.Forward(map[string]Tensor{"input": dev})
	require.NoError(t, err)
	require.Equal(t, 1, copies)
	require.Equal(t, []float32{7, 8}, outputs[0].Data())

	bound := engine.lastSession().lastInputs["input"]
	require.IsType(t, &HostTensor{}, bound)
	require.True(t, bound.Device().IsHost())
}

func TestHostAdapterDeviceTensorCopyFailure(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	a := newFakeAdapter(t, engine, -1)

	dev, err := NewDeviceTensor(0xdead, ort.Shape{1}, 0, nil)
	require.NoError(t, err)

	_, err = a.Forward(map[string]Tensor{"input": dev})
	var bindErr *EngineBindError
	require.ErrorAs(t, err, &bindErr)
	require.ErrorContains(t, err, "no host copier")
}

func TestAcceleratorAdapterBindsTensorsAsPlaced(t *testing.T) {
	engine := newFakeEngine([]string{"x", "y"}, []string{"output"})
	engine.providers = []string{ort.CUDAExecutionProvider, ort.CPUExecutionProvider}
	engine.run = func(_ map[string]Tensor, outputs []string) ([]*HostTensor, error) {
		return []*HostTensor{{shape: ort.Shape{1}, data: []float32{1}}}, nil
	}
	a := newFakeAdapter(t, engine, 2)
	require.Equal(t, AcceleratorDevice(2), a.Device())

	onDevice, err := NewDeviceTensor(0x1000, ort.Shape{1}, 2, nil)
	require.NoError(t, err)
	onHost := hostTensor(t, ort.Shape{1}, 3)

	_, err = a.Forward(map[string]Tensor{"x": onDevice, "y": onHost})
	require.NoError(t, err)
	bound := engine.lastSession().lastInputs
	require.Same(t, onDevice, bound["x"])
	require.Same(t, onHost, bound["y"])

	elsewhere, err := NewDeviceTensor(0x2000, ort.Shape{1}, 0, nil)
	require.NoError(t, err)
	_, err = a.Forward(map[string]Tensor{"x": elsewhere, "y": onHost})
	var bindErr *EngineBindError
	require.ErrorAs(t, err, &bindErr)
	require.Equal(t, "x", bindErr.Name)
	require.ErrorContains(t, err, "cuda:0")
}

func TestCloseIsIdempotent(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	a, err := New(fakeModel, -1, WithEngine(engine), missingCustomOps(t))
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	session := engine.lastSession()
	require.Equal(t, 1, session.destroyed)
	require.Equal(t, 1, session.binding.destroyed)

	_, err = a.Forward(map[string]Tensor{"input": hostTensor(t, ort.Shape{1}, 1)})
	require.ErrorIs(t, err, ErrClosed)

	var nilAdapter *Adapter
	require.NoError(t, nilAdapter.Close())
}
