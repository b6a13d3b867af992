package inference

import (
	"errors"
	"fmt"

	"github.com/amikos-tech/ort-forward/internal/ortutil"
	"github.com/amikos-tech/ort-forward/ort"
)

type ortEngine struct{}

// DefaultEngine returns the ONNX Runtime engine. The ort environment must be
// initialized before sessions are opened.
func DefaultEngine() Engine { return ortEngine{} }

func (ortEngine) AvailableProviders() ([]string, error) {
	return ort.GetAvailableProviders()
}

func (ortEngine) Open(modelPath string, cfg SessionConfig) (EngineSession, error) {
	if !ort.IsInitialized() {
		return nil, ort.ErrNotInitialized
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	fail := func(err error) (EngineSession, error) {
		return nil, errors.Join(err, opts.Destroy())
	}

	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return fail(err)
		}
	}
	if err := opts.SetGraphOptimizationLevel(cfg.GraphOptimizationLevel); err != nil {
		return fail(err)
	}
	if cfg.CustomOpsLibrary != "" {
		if err := opts.RegisterCustomOpsLibrary(cfg.CustomOpsLibrary); err != nil {
			return fail(err)
		}
	}
	for _, p := range cfg.Providers {
		switch p.Name {
		case ort.CPUExecutionProvider:
		case ort.CUDAExecutionProvider:
			if err := opts.AppendExecutionProviderCUDA(p.Options); err != nil {
				return fail(err)
			}
		default:
			return fail(fmt.Errorf("unsupported execution provider %q", p.Name))
		}
	}

	session, err := ort.NewSession(modelPath, opts)
	if err != nil {
		return fail(err)
	}
	return &ortSession{session: session, options: opts}, nil
}

type ortSession struct {
	session *ort.Session
	options *ort.SessionOptions
}

func (s *ortSession) InputNames() []string  { return s.session.InputNames() }
func (s *ortSession) OutputNames() []string { return s.session.OutputNames() }

func (s *ortSession) NewBinding(device Device) (EngineBinding, error) {
	binding, err := s.session.NewIoBinding()
	if err != nil {
		return nil, err
	}
	cpu, err := ort.CreateCpuMemoryInfo(ort.AllocatorTypeDevice, ort.MemTypeCPU)
	if err != nil {
		return nil, errors.Join(err, binding.Destroy())
	}
	b := &ortBinding{binding: binding, cpu: cpu}
	if !device.IsHost() {
		b.cuda, err = ort.CreateCUDAMemoryInfo(device.Index)
		if err != nil {
			return nil, errors.Join(err, b.Destroy())
		}
	}
	return b, nil
}

func (s *ortSession) Run(b EngineBinding) error {
	ob, ok := b.(*ortBinding)
	if !ok {
		return fmt.Errorf("binding %T was not created by this engine", b)
	}
	return s.session.RunWithBinding(ob.binding)
}

// Destroy releases the session before the options that carry the custom
// op registration.
func (s *ortSession) Destroy() error {
	return ortutil.DestroyAll(s.session, s.options)
}

type ortBinding struct {
	binding *ort.IoBinding
	cpu     *ort.MemoryInfo
	cuda    *ort.MemoryInfo
	// values created for bound inputs, released on Clear.
	values []ort.Value
}

func (b *ortBinding) BindInput(name string, t Tensor) error {
	value, err := b.newValue(t)
	if err != nil {
		return err
	}
	if err := b.binding.BindInput(name, value); err != nil {
		_ = value.Destroy()
		return err
	}
	b.values = append(b.values, value)
	return nil
}

func (b *ortBinding) newValue(t Tensor) (ort.Value, error) {
	switch v := t.(type) {
	case *HostTensor:
		return newHostValue(v)
	case *DeviceTensor:
		if b.cuda == nil {
			return nil, fmt.Errorf("device tensor on %s cannot be bound to a host session", v.Device())
		}
		value, err := ort.NewExternalTensor(v.ptr, v.ByteSize(), v.shape, ort.TensorElementDataTypeFloat, b.cuda)
		if err != nil {
			return nil, err
		}
		return value, nil
	default:
		host, err := t.ToHost()
		if err != nil {
			return nil, err
		}
		return newHostValue(host)
	}
}

func newHostValue(t *HostTensor) (ort.Value, error) {
	value, err := ort.NewTensor(t.shape, t.data)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *ortBinding) BindOutput(name string) error {
	return b.binding.BindOutputToDevice(name, b.cpu)
}

func (b *ortBinding) Outputs() ([]*HostTensor, error) {
	values, err := b.binding.BoundOutputValues()
	defer func() { _ = ortutil.DestroySlice(values) }()
	if err != nil {
		return nil, err
	}

	outputs := make([]*HostTensor, len(values))
	for i, v := range values {
		data, err := v.Float32Data()
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		shape, err := v.Shape()
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		outputs[i] = &HostTensor{shape: shape, data: data}
	}
	return outputs, nil
}

func (b *ortBinding) Clear() {
	b.binding.ClearBoundInputs()
	b.binding.ClearBoundOutputs()
	_ = ortutil.DestroySlice(b.values)
	b.values = nil
}

func (b *ortBinding) Destroy() error {
	b.Clear()
	return ortutil.DestroyAll(b.binding, b.cuda, b.cpu)
}
