package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultWarmup      = 1
	defaultLogInterval = 100
)

// Stats summarizes the calls a Timer counted after warmup.
type Stats struct {
	Count   int
	Total   time.Duration
	Average time.Duration
}

// FPS is the number of calls per second implied by Average.
func (s Stats) FPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// Timer measures a repeated operation. Every call is observed in the
// execution histogram; calls after the warmup also feed Stats and the
// periodic log line.
//
// A nil *Timer runs the function untimed.
type Timer struct {
	name        string
	warmup      int
	logInterval int
	logger      *zap.Logger
	now         func() time.Time

	duration prometheus.Observer
	errors   prometheus.Counter

	mu    sync.Mutex
	calls int
	count int
	total time.Duration
}

// TimerOption configures a Timer.
type TimerOption func(*Timer) error

// WithWarmup excludes the first n calls from Stats and logging.
func WithWarmup(n int) TimerOption {
	return func(t *Timer) error {
		if n < 0 {
			return fmt.Errorf("warmup cannot be negative: %d", n)
		}
		t.warmup = n
		return nil
	}
}

// WithLogInterval logs the running average every n counted calls. Zero
// disables logging.
func WithLogInterval(n int) TimerOption {
	return func(t *Timer) error {
		if n < 0 {
			return fmt.Errorf("log interval cannot be negative: %d", n)
		}
		t.logInterval = n
		return nil
	}
}

// WithTimerLogger sets the logger for the periodic summary.
func WithTimerLogger(logger *zap.Logger) TimerOption {
	return func(t *Timer) error {
		if logger == nil {
			return fmt.Errorf("timer logger cannot be nil")
		}
		t.logger = logger
		return nil
	}
}

func withClock(now func() time.Time) TimerOption {
	return func(t *Timer) error {
		t.now = now
		return nil
	}
}

// NewTimer creates a timer whose metrics carry the label name="<name>".
func NewTimer(name string, opts ...TimerOption) (*Timer, error) {
	if name == "" {
		return nil, fmt.Errorf("timer name cannot be empty")
	}
	t := &Timer{
		name:        name,
		warmup:      defaultWarmup,
		logInterval: defaultLogInterval,
		logger:      zap.NewNop(),
		now:         time.Now,
		duration:    executeDuration.WithLabelValues(name),
		errors:      executeErrors.WithLabelValues(name),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Name returns the timer's label.
func (t *Timer) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Time runs fn, records its wall-clock duration and returns fn's error unchanged.
func (t *Timer) Time(fn func() error) error {
	if t == nil {
		return fn()
	}

	start := t.now()
	err := fn()
	elapsed := t.now().Sub(start)

	t.duration.Observe(elapsed.Seconds())
	if err != nil {
		t.errors.Inc()
	}
	t.record(elapsed)
	return err
}

func (t *Timer) record(elapsed time.Duration) {
	t.mu.Lock()
	t.calls++
	if t.calls <= t.warmup {
		t.mu.Unlock()
		return
	}
	t.count++
	t.total += elapsed
	stats := t.statsLocked()
	shouldLog := t.logInterval > 0 && t.count%t.logInterval == 0
	t.mu.Unlock()

	if shouldLog {
		t.logger.Info("execution time",
			zap.String("name", t.name),
			zap.Int("count", stats.Count),
			zap.Float64("avg_ms", float64(stats.Average)/float64(time.Millisecond)),
			zap.Float64("fps", stats.FPS()),
		)
	}
}

// Stats returns the totals counted so far.
func (t *Timer) Stats() Stats {
	if t == nil {
		return Stats{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *Timer) statsLocked() Stats {
	s := Stats{Count: t.count, Total: t.total}
	if t.count > 0 {
		s.Average = t.total / time.Duration(t.count)
	}
	return s
}

// Reset clears the counted calls, including the warmup progress.
func (t *Timer) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.calls, t.count, t.total = 0, 0, 0
	t.mu.Unlock()
}
