// Package inference runs forward passes of ONNX models through ONNX Runtime.
//
// An Adapter owns one session and one reusable I/O binding. It decides once,
// at construction, whether the model runs on a CUDA device or on the host,
// and from then on binds float32 inputs by name, executes the graph and
// copies the outputs back to host memory in a fixed order.
package inference

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/amikos-tech/ort-forward/internal/ortutil"
	"github.com/amikos-tech/ort-forward/metrics"
)

// Adapter is a loaded model ready for Forward.
//
// Forward must not be called concurrently on one Adapter; use a Pool for
// concurrent callers.
type Adapter struct {
	modelPath   string
	device      Device
	providers   []ProviderSpec
	inputNames  []string
	inputSet    map[string]struct{}
	outputNames []string

	session EngineSession
	binding EngineBinding
	timer   *metrics.Timer
	logger  *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New loads the model at modelPath. A non-negative deviceID selects that
// CUDA device when the runtime offers the CUDA provider; otherwise the model
// runs on the host. Every failure is an *EngineLoadError.
func New(modelPath string, deviceID int, opts ...Option) (*Adapter, error) {
	cfg := defaultConfig()
	loadErr := func(device Device, err error) error {
		return &EngineLoadError{ModelPath: modelPath, Device: device, Err: err}
	}

	if modelPath == "" {
		return nil, loadErr(HostDevice(), errors.New("model path cannot be empty"))
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, loadErr(HostDevice(), err)
		}
	}
	log := cfg.logger.With(zap.String("model", modelPath))

	customOps := ResolveCustomOpsLibraryPath(cfg.customOpsLibrary)
	if !fileExists(customOps) {
		log.Warn("custom op library not found, continuing without custom ops", zap.String("path", customOps))
		customOps = ""
	}

	available, err := cfg.engine.AvailableProviders()
	if err != nil {
		return nil, loadErr(HostDevice(), fmt.Errorf("query execution providers: %w", err))
	}
	device, providers := selectDevice(deviceID, available)
	if deviceID >= 0 && device.IsHost() {
		log.Warn("CUDA execution provider unavailable, running on host", zap.Int("device_id", deviceID))
	}
	log.Info("selected execution providers",
		zap.Stringer("device", device),
		zap.Strings("providers", providerNames(providers)),
	)

	session, err := cfg.engine.Open(modelPath, SessionConfig{
		Providers:              cloneProviders(providers),
		CustomOpsLibrary:       customOps,
		IntraOpThreads:         cfg.intraOpThreads,
		GraphOptimizationLevel: cfg.optimizationLevel,
	})
	if err != nil {
		return nil, loadErr(device, err)
	}
	if customOps != "" {
		log.Info("registered custom op library", zap.String("path", customOps))
	}

	a := &Adapter{
		modelPath:  modelPath,
		device:     device,
		providers:  providers,
		inputNames: session.InputNames(),
		session:    session,
		logger:     log,
	}
	a.inputSet = make(map[string]struct{}, len(a.inputNames))
	for _, name := range a.inputNames {
		a.inputSet[name] = struct{}{}
	}

	declared := session.OutputNames()
	if cfg.outputNames == nil {
		a.outputNames = declared
		log.Debug("using declared output names", zap.Strings("outputs", declared))
	} else {
		for _, name := range cfg.outputNames {
			if !contains(declared, name) {
				return nil, loadErr(device, errors.Join(fmt.Errorf("model has no output named %q", name), session.Destroy()))
			}
		}
		a.outputNames = cfg.outputNames
	}

	a.binding, err = session.NewBinding(device)
	if err != nil {
		return nil, loadErr(device, errors.Join(fmt.Errorf("create I/O binding: %w", err), session.Destroy()))
	}

	a.timer = cfg.timer
	if a.timer == nil {
		a.timer, err = metrics.NewTimer(ExecuteTimerName, metrics.WithTimerLogger(log))
		if err != nil {
			return nil, loadErr(device, errors.Join(err, ortutil.DestroyAll(a.binding, session)))
		}
	}
	return a, nil
}

// Forward runs the model once. inputs maps input names to float32 tensors;
// the result holds one host tensor per output name, in OutputNames order.
//
// Bind failures are *EngineBindError and run failures *EngineExecutionError.
// The adapter stays usable after either.
func (a *Adapter) Forward(inputs map[string]Tensor) ([]*HostTensor, error) {
	if a == nil || a.closed.Load() {
		return nil, ErrClosed
	}

	a.binding.Clear()
	defer a.binding.Clear()

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t, err := a.place(name, inputs[name])
		if err != nil {
			return nil, &EngineBindError{Name: name, Err: err}
		}
		if err := a.binding.BindInput(name, t); err != nil {
			return nil, &EngineBindError{Name: name, Err: err}
		}
	}
	for _, name := range a.outputNames {
		if err := a.binding.BindOutput(name); err != nil {
			return nil, &EngineBindError{Name: name, Err: err}
		}
	}

	if err := a.timer.Time(func() error { return a.session.Run(a.binding) }); err != nil {
		return nil, &EngineExecutionError{Err: err}
	}

	outputs, err := a.binding.Outputs()
	if err != nil {
		return nil, &EngineExecutionError{Err: err}
	}
	if len(outputs) != len(a.outputNames) {
		return nil, &EngineExecutionError{Err: fmt.Errorf("engine returned %d outputs, expected %d", len(outputs), len(a.outputNames))}
	}
	return outputs, nil
}

// place checks that t can be bound to input name and moves it to the host
// when the adapter runs there. Names the model does not declare are rejected
// here on purpose, before the engine sees them, so every unknown input is an
// EngineBindError carrying its name regardless of how the engine reports it.
func (a *Adapter) place(name string, t Tensor) (Tensor, error) {
	if _, ok := a.inputSet[name]; !ok {
		return nil, fmt.Errorf("model has no input named %q", name)
	}
	if t == nil {
		return nil, errors.New("tensor is nil")
	}

	d := t.Device()
	switch {
	case d.IsHost():
		return t, nil
	case a.device.IsHost():
		return t.ToHost()
	case d != a.device:
		return nil, fmt.Errorf("tensor is on %s but the adapter runs on %s", d, a.device)
	default:
		return t, nil
	}
}

// Close releases the binding and the session. It is safe to call more than once.
func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.closeErr = ortutil.DestroyAll(a.binding, a.session)
		a.logger.Debug("adapter closed")
	})
	return a.closeErr
}

// OutputNames returns the names Forward's results correspond to.
func (a *Adapter) OutputNames() []string { return append([]string(nil), a.outputNames...) }

// InputNames returns the model's declared inputs.
func (a *Adapter) InputNames() []string { return append([]string(nil), a.inputNames...) }

// Device returns where the model runs.
func (a *Adapter) Device() Device { return a.device }

// Providers returns the execution providers the session was created with,
// in priority order.
func (a *Adapter) Providers() []ProviderSpec { return cloneProviders(a.providers) }

// ModelPath returns the path the model was loaded from.
func (a *Adapter) ModelPath() string { return a.modelPath }
