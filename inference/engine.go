package inference

import "github.com/amikos-tech/ort-forward/ort"

// Engine creates sessions on an inference runtime. The default engine is
// ONNX Runtime through the ort package; tests substitute their own with
// WithEngine.
type Engine interface {
	AvailableProviders() ([]string, error)
	Open(modelPath string, cfg SessionConfig) (EngineSession, error)
}

// SessionConfig is everything an Engine needs to build a session.
type SessionConfig struct {
	Providers              []ProviderSpec
	CustomOpsLibrary       string
	IntraOpThreads         int
	GraphOptimizationLevel ort.GraphOptimizationLevel
}

// EngineSession is a loaded model.
type EngineSession interface {
	InputNames() []string
	OutputNames() []string
	NewBinding(device Device) (EngineBinding, error)
	Run(EngineBinding) error
	Destroy() error
}

// EngineBinding holds the inputs and outputs of one run. It is reused across
// runs and cleared in between.
type EngineBinding interface {
	BindInput(name string, t Tensor) error
	// BindOutput asks the engine to allocate name in host memory.
	BindOutput(name string) error
	// Outputs returns the bound outputs in the order they were bound.
	Outputs() ([]*HostTensor, error)
	Clear()
	Destroy() error
}
