package tasks

import (
	"context"
	"sync"
)

// coalesceKey scopes deduplication to one entity within one bank.
type coalesceKey struct {
	bankID   string
	entityID string
}

type coalesceState struct {
	running bool
	pending bool
}

// Coalescer gives each (bank, entity) key at-most-one-in-flight execution
// with at-least-one-refresh-after-latest-write: a request arriving while the
// key runs marks it pending and triggers exactly one more run afterwards.
type Coalescer struct {
	pool *Pool

	mu    sync.Mutex
	state map[coalesceKey]*coalesceState
}

// NewCoalescer creates a coalescer backed by the given pool.
func NewCoalescer(pool *Pool) *Coalescer {
	return &Coalescer{pool: pool, state: make(map[coalesceKey]*coalesceState)}
}

// Submit schedules fn for the key. Duplicate submissions while a run is
// queued or in flight coalesce into a single follow-up run.
func (c *Coalescer) Submit(bankID, entityID string, fn func(ctx context.Context)) error {
	key := coalesceKey{bankID: bankID, entityID: entityID}

	c.mu.Lock()
	st, ok := c.state[key]
	if !ok {
		st = &coalesceState{}
		c.state[key] = st
	}
	if st.running {
		st.pending = true
		c.mu.Unlock()
		return nil
	}
	st.running = true
	c.mu.Unlock()

	err := c.pool.Submit(func(ctx context.Context) {
		for {
			fn(ctx)

			c.mu.Lock()
			if st.pending {
				st.pending = false
				c.mu.Unlock()
				continue
			}
			st.running = false
			delete(c.state, key)
			c.mu.Unlock()
			return
		}
	})
	if err != nil {
		c.mu.Lock()
		st.running = false
		delete(c.state, key)
		c.mu.Unlock()
	}
	return err
}
