package conversation

import (
	"context"
	"sync"
)

type lockState struct {
	held    bool
	waiters []chan struct{}
}

// Locks serializes turns per conversation key. Waiters for the same key are
// granted the lock strictly in Acquire order; distinct keys never block each
// other. Entries are removed once a key has no holder and no waiters, so the
// table stays bounded by concurrent activity rather than user population.
type Locks struct {
	mu     sync.Mutex
	states map[string]*lockState
}

func NewLocks() *Locks {
	return &Locks{states: make(map[string]*lockState)}
}

// Acquire blocks until the key's lock is granted or ctx is done. On a
// context error the waiter is withdrawn without disturbing the grant order
// of those still queued.
func (l *Locks) Acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	st, ok := l.states[key]
	if !ok {
		st = &lockState{}
		l.states[key] = st
	}
	if !st.held {
		st.held = true
		l.mu.Unlock()
		return nil
	}

	grant := make(chan struct{})
	st.waiters = append(st.waiters, grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		withdrawn := false
		for i, w := range st.waiters {
			if w == grant {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				withdrawn = true
				break
			}
		}
		l.mu.Unlock()
		if !withdrawn {
			// The grant raced our cancellation; pass the lock on.
			<-grant
			l.Release(key)
		}
		return ctx.Err()
	}
}

// Release hands the lock to the oldest waiter, or frees the key when none
// remain. Releasing an unheld key is a no-op.
func (l *Locks) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[key]
	if !ok || !st.held {
		return
	}
	if len(st.waiters) > 0 {
		grant := st.waiters[0]
		st.waiters = st.waiters[1:]
		close(grant)
		return
	}
	st.held = false
	delete(l.states, key)
}
