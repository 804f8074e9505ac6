// Package pending provides a single-resolution result handle for requests
// whose answer arrives asynchronously.
package pending

import (
	"context"
	"sync"
)

// Result is resolved exactly once with a value or an error. Later
// resolutions are ignored.
type Result[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an unresolved Result.
func New[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

// Failed returns a Result that already holds err.
func Failed[T any](err error) *Result[T] {
	r := New[T]()
	r.Fail(err)
	return r
}

// Resolve sets the value. It reports whether this call resolved the result.
func (r *Result[T]) Resolve(v T) bool {
	return r.complete(v, nil)
}

// Fail sets the error. It reports whether this call resolved the result.
func (r *Result[T]) Fail(err error) bool {
	var zero T
	return r.complete(zero, err)
}

func (r *Result[T]) complete(v T, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.value = v
		r.err = err
		resolved = true
		close(r.done)
	})
	return resolved
}

// Done is closed once the result is resolved.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Get blocks until the result is resolved or ctx is done.
func (r *Result[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
