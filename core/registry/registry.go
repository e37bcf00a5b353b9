// Package registry tracks the set of snapshot transactions currently owned by
// an in-flight operation. Locking is keyed purely by transaction id: two
// different ids never coordinate with each other, and there is no global cap
// on how many ids may be locked at once.
package registry

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrBusy is returned by TryLock when the transaction is already owned by
// another in-flight operation.
var ErrBusy = errors.New("the transaction is currently in use by another operation")

// State is the lifecycle state of a locked transaction. A finished
// transaction has no state: its entry is removed from the registry.
type State int

const (
	// StateQueued is set when the lock is acquired, before a worker runs.
	StateQueued State = iota
	// StateRunning is set once a worker has started executing.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Registry is the in-memory lock table. All methods are safe for concurrent
// use; the daemon additionally routes every worker-driven mutation through
// its single event loop so that lock lifetimes are decided in one place.
type Registry struct {
	mu      sync.Mutex
	entries map[string]State
	log     *zap.Logger
}

// New returns an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]State),
		log:     log,
	}
}

// TryLock claims exclusive ownership of id. It returns ErrBusy, mutating
// nothing, when some other operation already holds the lock. On success the
// entry starts out in StateQueued.
func (r *Registry) TryLock(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return ErrBusy
	}
	r.log.Info("Locking further invocations for snapshot", zap.String("transaction", id))
	r.entries[id] = StateQueued
	return nil
}

// Unlock releases the lock on id. Unlocking an id that is not locked is a
// harmless no-op, so it is always safe to call on every exit path.
func (r *Registry) Unlock(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		r.log.Debug("Unlock of transaction that is not locked", zap.String("transaction", id))
		return
	}
	r.log.Info("Unlocking snapshot", zap.String("transaction", id))
	delete(r.entries, id)
}

// SetRunning transitions id from StateQueued to StateRunning. It is a no-op
// if the entry has already been removed.
func (r *Registry) SetRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return
	}
	r.entries[id] = StateRunning
}

// StateOf reports the current state of id and whether it is locked at all.
func (r *Registry) StateOf(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[id]
	return s, ok
}

// IsEmpty reports whether no transaction is currently locked. The shutdown
// coordinator polls this while draining.
func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}

// Len returns the number of locked transactions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
