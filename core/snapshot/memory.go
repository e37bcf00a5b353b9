package snapshot

import (
	"context"
	"fmt"
	"sync"
)

// ExecFunc emulates command execution for the in-memory backend. It receives
// the parsed argv and whether the command would run chrooted, and returns the
// return code and combined output.
type ExecFunc func(argv []string, chrooted bool) (int, string, error)

// MemoryBackend is a snapshot backend without any filesystem behind it.
// Snapshot ids are derived from the base id ("base.1", "base.2", ...).
// It backs the daemon's memory mode and the test suites.
type MemoryBackend struct {
	mu        sync.Mutex
	seq       map[string]int
	snapshots map[string]*memSnapshot
	exec      ExecFunc
}

type memSnapshot struct {
	base      string
	committed bool
}

// NewMemoryBackend returns an empty in-memory backend. exec may be nil, in
// which case every command succeeds with return code 0 and no output.
func NewMemoryBackend(exec ExecFunc) *MemoryBackend {
	if exec == nil {
		exec = func([]string, bool) (int, string, error) { return 0, "", nil }
	}
	return &MemoryBackend{
		seq:       make(map[string]int),
		snapshots: make(map[string]*memSnapshot),
		exec:      exec,
	}
}

// Begin returns an unbound transaction handle.
func (b *MemoryBackend) Begin() (Transaction, error) {
	return &memTx{backend: b}, nil
}

// Contains reports whether the backend currently holds the given snapshot.
func (b *MemoryBackend) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.snapshots[id]
	return ok
}

// memTx is one transaction handle. The kept flag is per handle: resuming an
// existing snapshot and discarding the handle without Keep drops the
// snapshot, which is exactly how an abort works.
type memTx struct {
	backend *MemoryBackend
	id      string
	kept    bool
}

func (t *memTx) Init(base string) error {
	if base == "" {
		return fmt.Errorf("base snapshot identifier must not be empty")
	}
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[base]++
	t.id = fmt.Sprintf("%s.%d", base, b.seq[base])
	b.snapshots[t.id] = &memSnapshot{base: base}
	return nil
}

func (t *memTx) Resume(id string) error {
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.snapshots[id]; !ok {
		return fmt.Errorf("cannot resume transaction: snapshot %q does not exist", id)
	}
	t.id = id
	return nil
}

func (t *memTx) SnapshotID() (string, error) {
	if t.id == "" {
		return "", fmt.Errorf("transaction is not bound to a snapshot")
	}
	return t.id, nil
}

func (t *memTx) Keep() error {
	if t.id == "" {
		return fmt.Errorf("transaction is not bound to a snapshot")
	}
	t.kept = true
	return nil
}

func (t *memTx) Execute(ctx context.Context, argv []string) (int, string, error) {
	return t.run(ctx, argv, true)
}

func (t *memTx) ExecuteExternal(ctx context.Context, argv []string) (int, string, error) {
	return t.run(ctx, argv, false)
}

func (t *memTx) run(ctx context.Context, argv []string, chrooted bool) (int, string, error) {
	if t.id == "" {
		return -1, "", fmt.Errorf("transaction is not bound to a snapshot")
	}
	if err := ctx.Err(); err != nil {
		return -1, "", err
	}
	return t.backend.exec(argv, chrooted)
}

func (t *memTx) Finalize() error {
	if t.id == "" {
		return fmt.Errorf("transaction is not bound to a snapshot")
	}
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.snapshots[t.id]
	if !ok {
		return fmt.Errorf("cannot finalize transaction: snapshot %q does not exist", t.id)
	}
	snap.committed = true
	t.kept = true
	return nil
}

func (t *memTx) Discard() {
	if t.id == "" || t.kept {
		return
	}
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if snap, ok := b.snapshots[t.id]; ok && !snap.committed {
		delete(b.snapshots, t.id)
	}
}
