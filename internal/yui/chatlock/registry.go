// Package chatlock provides per-chat mutual exclusion with bounded-wait
// acquisition. A caller that cannot take the lock in time abandons its
// action instead of queueing, so one slow turn never builds a backlog for
// its chat.
package chatlock

import (
	"sync"
	"time"
)

// Registry maps chat ids to lock handles. Handles are created on first use
// and retained for the process lifetime; only creation is guarded, so
// acquisition contention stays per chat.
type Registry struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[int64]chan struct{})}
}

func (r *Registry) handle(chatID int64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.locks[chatID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[chatID] = ch
	}
	return ch
}

// Acquire takes the chat's lock, waiting at most timeout. It reports whether
// the lock was taken; on false the caller must not touch chat-scoped state.
func (r *Registry) Acquire(chatID int64, timeout time.Duration) bool {
	ch := r.handle(chatID)
	select {
	case ch <- struct{}{}:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

// Release frees the chat's lock. Releasing a lock that is not held panics,
// which surfaces a missing-Acquire bug immediately.
func (r *Registry) Release(chatID int64) {
	ch := r.handle(chatID)
	select {
	case <-ch:
	default:
		panic("chatlock: release of unheld lock")
	}
}
