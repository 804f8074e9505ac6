package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/lukasbauer/voxquery/internal/pending"
)

// errCancelled resolves requests aborted by Cancel.
var errCancelled = fmt.Errorf("request cancelled: %w", context.Canceled)

// inflight tracks outstanding requests so Cancel can abort all of them.
type inflight struct {
	mu   sync.Mutex
	next uint64
	reqs map[uint64]inflightReq
}

type inflightReq struct {
	cancel context.CancelFunc
	fail   func(error) bool
}

func newInflight() *inflight {
	return &inflight{reqs: make(map[uint64]inflightReq)}
}

func (f *inflight) add(r inflightReq) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.reqs[f.next] = r
	return f.next
}

func (f *inflight) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reqs, id)
}

// cancelAll fails every tracked request and cancels its context.
func (f *inflight) cancelAll() int {
	f.mu.Lock()
	reqs := f.reqs
	f.reqs = make(map[uint64]inflightReq)
	f.mu.Unlock()

	for _, r := range reqs {
		r.fail(errCancelled)
		r.cancel()
	}
	return len(reqs)
}

// launch runs fn on its own goroutine under a cancellable context and tracks
// it until it finishes.
func launch[T any](f *inflight, ctx context.Context, fn func(context.Context) (T, error)) *pending.Result[T] {
	res := pending.New[T]()
	reqCtx, cancel := context.WithCancel(ctx)
	id := f.add(inflightReq{cancel: cancel, fail: res.Fail})

	go func() {
		defer cancel()
		defer f.remove(id)
		v, err := fn(reqCtx)
		if err != nil {
			res.Fail(err)
			return
		}
		res.Resolve(v)
	}()
	return res
}
