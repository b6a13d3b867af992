package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amikos-tech/ort-forward/ort"
)

func fakeFactory(t *testing.T, engine *fakeEngine) func() (*Adapter, error) {
	t.Helper()
	opt := missingCustomOps(t)
	return func() (*Adapter, error) {
		return New(fakeModel, -1, WithEngine(engine), opt)
	}
}

func TestPoolForwardConcurrent(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	pool, err := NewPool(context.Background(), 3, fakeFactory(t, engine))
	require.NoError(t, err)
	require.Equal(t, 3, pool.Size())

	var wg sync.WaitGroup
	errs := make(chan error, 24)
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := float32(i)
			in, err := NewHostTensor(ort.Shape{1}, []float32{v})
			if err != nil {
				errs <- err
				return
			}
			out, err := pool.Forward(context.Background(), map[string]Tensor{"input": in})
			if err != nil {
				errs <- err
				return
			}
			if got := out[0].Data()[0]; got != v {
				errs <- errors.New("output does not match input")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, pool.Close())
	total := 0
	for _, s := range engine.sessions {
		require.Equal(t, 1, s.destroyed)
		require.LessOrEqual(t, s.maxFlight, 1, "an adapter must never run two calls at once")
		total += s.runs
	}
	require.Equal(t, 24, total)
}

func TestPoolConstructionFailureClosesBuiltAdapters(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	var calls atomic.Int32
	build := fakeFactory(t, engine)
	factoryErr := errors.New("out of device memory")

	_, err := NewPool(context.Background(), 4, func() (*Adapter, error) {
		if calls.Add(1) == 2 {
			return nil, factoryErr
		}
		return build()
	})
	require.ErrorIs(t, err, factoryErr)

	for _, s := range engine.sessions {
		require.Equal(t, 1, s.destroyed)
	}
}

func TestPoolForwardHonoursContextWhileWaiting(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	release := make(chan struct{})
	started := make(chan struct{})
	engine.run = func(inputs map[string]Tensor, outputs []string) ([]*HostTensor, error) {
		close(started)
		<-release
		return echoFirstInput(inputs, outputs)
	}
	pool, err := NewPool(context.Background(), 1, fakeFactory(t, engine))
	require.NoError(t, err)

	in, err := NewHostTensor(ort.Shape{1}, []float32{1})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := pool.Forward(context.Background(), map[string]Tensor{"input": in})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Forward(ctx, map[string]Tensor{"input": in})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, pool.Close())
}

func TestPoolClose(t *testing.T) {
	engine := newFakeEngine([]string{"input"}, []string{"output"})
	pool, err := NewPool(context.Background(), 2, fakeFactory(t, engine))
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	_, err = pool.Forward(context.Background(), nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestNewPoolValidation(t *testing.T) {
	_, err := NewPool(context.Background(), 0, func() (*Adapter, error) { return nil, nil })
	require.ErrorContains(t, err, "pool size")
	_, err = NewPool(context.Background(), 1, nil)
	require.ErrorContains(t, err, "factory")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewPool(ctx, 2, func() (*Adapter, error) {
		return nil, errors.New("must not be called")
	})
	require.ErrorIs(t, err, context.Canceled)
}
