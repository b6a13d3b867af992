package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool shares a fixed set of adapters between concurrent callers. Each
// Forward checks out one idle adapter for the duration of the call.
type Pool struct {
	adapters []*Adapter
	idle     chan *Adapter
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewPool builds size adapters in parallel with factory. If any fails, the
// ones already built are closed and the first error is returned.
func NewPool(ctx context.Context, size int, factory func() (*Adapter, error)) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive: %d", size)
	}
	if factory == nil {
		return nil, errors.New("pool factory cannot be nil")
	}

	adapters := make([]*Adapter, size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range adapters {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := factory()
			if err != nil {
				return fmt.Errorf("create adapter %d: %w", i, err)
			}
			adapters[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Join(err, closeAdapters(adapters))
	}

	p := &Pool{
		adapters: adapters,
		idle:     make(chan *Adapter, size),
		done:     make(chan struct{}),
	}
	for _, a := range adapters {
		p.idle <- a
	}
	return p, nil
}

// Size returns the number of adapters in the pool.
func (p *Pool) Size() int { return len(p.adapters) }

// Forward runs inputs on the next idle adapter. ctx bounds only the wait for
// an adapter; a run that has started is not interrupted.
func (p *Pool) Forward(ctx context.Context, inputs map[string]Tensor) ([]*HostTensor, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	var a *Adapter
	select {
	case a = <-p.idle:
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.idle <- a }()

	return a.Forward(inputs)
}

// Close waits for in-flight calls to return their adapters and closes every
// adapter once.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		for range p.adapters {
			<-p.idle
		}
		p.closeErr = closeAdapters(p.adapters)
	})
	return p.closeErr
}

func closeAdapters(adapters []*Adapter) error {
	var errs []error
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
