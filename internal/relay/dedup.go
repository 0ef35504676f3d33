package relay

import (
	"context"
	"sync"
)

type call struct {
	done    chan struct{}
	outcome Outcome
}

// Registry coalesces concurrent upstream calls by submission fingerprint.
// At most one call per fingerprint is in flight at any instant; everyone
// else attaches to it and observes the same outcome.
type Registry struct {
	mu       sync.Mutex
	inflight map[string]*call
}

func NewRegistry() *Registry {
	return &Registry{
		inflight: make(map[string]*call),
	}
}

// Do runs fn for the first caller holding fingerprint fp. Concurrent callers
// with the same fingerprint block until that call settles and receive its
// outcome with coalesced=true. The entry is removed on every exit path, so a
// later submission with the same fingerprint starts a fresh call.
func (r *Registry) Do(ctx context.Context, fp string, fn func() Outcome) (outcome Outcome, coalesced bool, err error) {
	r.mu.Lock()
	if c, ok := r.inflight[fp]; ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.outcome, true, nil
		case <-ctx.Done():
			return Outcome{}, true, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	r.inflight[fp] = c
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, fp)
		r.mu.Unlock()
		close(c.done)
	}()

	c.outcome = fn()
	return c.outcome, false, nil
}

// Inflight reports the number of outstanding upstream calls.
func (r *Registry) Inflight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
