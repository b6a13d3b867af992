package inference

import (
	"errors"
	"fmt"
	"sync"
)

// runFunc computes one host tensor per requested output from the bound inputs.
type runFunc func(inputs map[string]Tensor, outputs []string) ([]*HostTensor, error)

type fakeEngine struct {
	mu sync.Mutex

	providers    []string
	providersErr error
	openErr      error
	bindingErr   error
	inputs       []string
	outputs      []string
	run          runFunc
	bindErrs     map[string]error

	configs  []SessionConfig
	sessions []*fakeSession
}

func newFakeEngine(inputs, outputs []string) *fakeEngine {
	return &fakeEngine{
		providers: []string{"CPUExecutionProvider"},
		inputs:    inputs,
		outputs:   outputs,
		run:       echoFirstInput,
	}
}

// echoFirstInput returns, for output i, the first bound input scaled by i+1.
func echoFirstInput(inputs map[string]Tensor, outputs []string) ([]*HostTensor, error) {
	var src *HostTensor
	for _, t := range inputs {
		h, err := t.ToHost()
		if err != nil {
			return nil, err
		}
		src = h
		break
	}
	if src == nil {
		return nil, errors.New("no inputs bound")
	}
	out := make([]*HostTensor, len(outputs))
	for i := range outputs {
		data := make([]float32, len(src.data))
		for j, v := range src.data {
			data[j] = v * float32(i+1)
		}
		out[i] = &HostTensor{shape: src.shape.Clone(), data: data}
	}
	return out, nil
}

func (e *fakeEngine) AvailableProviders() ([]string, error) {
	if e.providersErr != nil {
		return nil, e.providersErr
	}
	return append([]string(nil), e.providers...), nil
}

func (e *fakeEngine) Open(modelPath string, cfg SessionConfig) (EngineSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.openErr != nil {
		return nil, e.openErr
	}
	s := &fakeSession{engine: e, path: modelPath}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) lastConfig() SessionConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configs[len(e.configs)-1]
}

func (e *fakeEngine) lastSession() *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[len(e.sessions)-1]
}

type fakeSession struct {
	engine    *fakeEngine
	path      string
	binding   *fakeBinding
	runs      int
	inFlight  int
	maxFlight int
	destroyed int
	mu        sync.Mutex

	lastOrder   []string
	lastInputs  map[string]Tensor
	lastOutputs []string
}

func (s *fakeSession) InputNames() []string  { return append([]string(nil), s.engine.inputs...) }
func (s *fakeSession) OutputNames() []string { return append([]string(nil), s.engine.outputs...) }

func (s *fakeSession) NewBinding(device Device) (EngineBinding, error) {
	if s.engine.bindingErr != nil {
		return nil, s.engine.bindingErr
	}
	s.binding = &fakeBinding{session: s, device: device, inputs: map[string]Tensor{}}
	return s.binding, nil
}

func (s *fakeSession) Run(b EngineBinding) error {
	fb, ok := b.(*fakeBinding)
	if !ok {
		return fmt.Errorf("unexpected binding %T", b)
	}
	s.mu.Lock()
	s.runs++
	s.inFlight++
	if s.inFlight > s.maxFlight {
		s.maxFlight = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	s.mu.Lock()
	s.lastOrder = append([]string(nil), fb.bindOrder...)
	s.lastInputs = make(map[string]Tensor, len(fb.inputs))
	for k, v := range fb.inputs {
		s.lastInputs[k] = v
	}
	s.lastOutputs = append([]string(nil), fb.outputs...)
	s.mu.Unlock()

	out, err := s.engine.run(fb.inputs, fb.outputs)
	if err != nil {
		return err
	}
	fb.results = out
	return nil
}

func (s *fakeSession) Destroy() error {
	s.destroyed++
	return nil
}

type fakeBinding struct {
	session   *fakeSession
	device    Device
	inputs    map[string]Tensor
	bindOrder []string
	outputs   []string
	results   []*HostTensor
	clears    int
	destroyed int
}

func (b *fakeBinding) BindInput(name string, t Tensor) error {
	if err := b.session.engine.bindErrs[name]; err != nil {
		return err
	}
	b.inputs[name] = t
	b.bindOrder = append(b.bindOrder, name)
	return nil
}

func (b *fakeBinding) BindOutput(name string) error {
	b.outputs = append(b.outputs, name)
	return nil
}

func (b *fakeBinding) Outputs() ([]*HostTensor, error) {
	return b.results, nil
}

func (b *fakeBinding) Clear() {
	b.clears++
	b.inputs = map[string]Tensor{}
	b.bindOrder = nil
	b.outputs = nil
	b.results = nil
}

func (b *fakeBinding) Destroy() error {
	b.destroyed++
	return nil
}
