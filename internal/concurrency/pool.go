package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/semaphore"
)

// ErrPanic marks work that panicked inside a pooled goroutine.
var ErrPanic = errors.New("worker panicked")

// SafeGo runs a function in a goroutine with panic recovery.
func SafeGo(fn func(), onPanic func(interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				slog.Error("Panic recovered", "panic", r, "stack", string(stack))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// Pool bounds the number of goroutines running submitted work.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int {
	return p.size
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes fn on a pooled goroutine and waits for its result or for ctx
// to end. When ctx ends first the result is discarded; the goroutine keeps
// its slot until fn returns and then exits without blocking.
func Run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan outcome[T], 1)
	SafeGo(func() {
		defer p.sem.Release(1)
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}, func(r interface{}) {
		done <- outcome[T]{err: fmt.Errorf("%w: %v", ErrPanic, r)}
	})

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
