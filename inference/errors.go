package inference

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by calls on an adapter or pool after Close.
var ErrClosed = errors.New("inference: adapter is closed")

// EngineLoadError reports a failure to build a session: an unreadable or
// invalid model, an unknown provider, or a custom op library that would not load.
type EngineLoadError struct {
	ModelPath string
	Device    Device
	Err       error
}

func (e *EngineLoadError) Error() string {
	return fmt.Sprintf("load model %q on %s: %v", e.ModelPath, e.Device, e.Err)
}

func (e *EngineLoadError) Unwrap() error { return e.Err }

// EngineBindError reports an input or output the engine refused to bind.
type EngineBindError struct {
	Name string
	Err  error
}

func (e *EngineBindError) Error() string {
	return fmt.Sprintf("bind %q: %v", e.Name, e.Err)
}

func (e *EngineBindError) Unwrap() error { return e.Err }

// EngineExecutionError reports a failed run or an output that could not be
// copied back to the host.
type EngineExecutionError struct {
	Err error
}

func (e *EngineExecutionError) Error() string {
	return fmt.Sprintf("execute: %v", e.Err)
}

func (e *EngineExecutionError) Unwrap() error { return e.Err }
