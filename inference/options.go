package inference

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/amikos-tech/ort-forward/metrics"
	"github.com/amikos-tech/ort-forward/ort"
)

// ExecuteTimerName labels the timer wrapped around every engine run.
const ExecuteTimerName = "ort_execute"

// Option configures New.
type Option func(*config) error

type config struct {
	outputNames       []string
	customOpsLibrary  string
	logger            *zap.Logger
	timer             *metrics.Timer
	intraOpThreads    int
	optimizationLevel ort.GraphOptimizationLevel
	engine            Engine
}

func defaultConfig() *config {
	return &config{
		logger:            zap.NewNop(),
		optimizationLevel: ort.GraphOptimizationLevelEnableAll,
		engine:            DefaultEngine(),
	}
}

// WithOutputNames fixes which outputs Forward returns and in what order.
// Without it the model's declared outputs are used.
func WithOutputNames(names ...string) Option {
	return func(c *config) error {
		if len(names) == 0 {
			return fmt.Errorf("output names cannot be empty")
		}
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("output name cannot be blank")
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("duplicate output name %q", name)
			}
			seen[name] = struct{}{}
		}
		c.outputNames = append([]string(nil), names...)
		return nil
	}
}

// WithCustomOpsLibraryPath overrides where the custom operator library is
// looked for.
func WithCustomOpsLibraryPath(path string) Option {
	return func(c *config) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return fmt.Errorf("custom ops library path cannot be empty")
		}
		c.customOpsLibrary = path
		return nil
	}
}

// WithLogger sets the adapter's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTimer replaces the execution timer. By default each adapter gets a
// timer named ExecuteTimerName that logs through the adapter's logger.
func WithTimer(timer *metrics.Timer) Option {
	return func(c *config) error {
		if timer == nil {
			return fmt.Errorf("timer cannot be nil")
		}
		c.timer = timer
		return nil
	}
}

// WithIntraOpThreads sets the number of threads used inside an operator.
// Zero keeps the runtime default.
func WithIntraOpThreads(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("intra-op threads cannot be negative: %d", n)
		}
		c.intraOpThreads = n
		return nil
	}
}

// WithGraphOptimizationLevel sets how aggressively the graph is optimized
// when the session is created.
func WithGraphOptimizationLevel(level ort.GraphOptimizationLevel) Option {
	return func(c *config) error {
		switch level {
		case ort.GraphOptimizationLevelDisableAll,
			ort.GraphOptimizationLevelEnableBasic,
			ort.GraphOptimizationLevelEnableExtended,
			ort.GraphOptimizationLevelEnableAll:
		default:
			return fmt.Errorf("unknown graph optimization level %d", level)
		}
		c.optimizationLevel = level
		return nil
	}
}

// WithEngine replaces the ONNX Runtime engine.
func WithEngine(engine Engine) Option {
	return func(c *config) error {
		if engine == nil {
			return fmt.Errorf("engine cannot be nil")
		}
		c.engine = engine
		return nil
	}
}
