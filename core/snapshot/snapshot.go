// Package snapshot defines the transaction-primitives collaborator used by
// the daemon: opening, resuming, executing inside, finalizing and discarding
// snapshot-backed transactions. The daemon treats these as opaque; the actual
// snapshot mechanics live in the backends.
package snapshot

import "context"

// Transaction is a single snapshot transaction handle. A handle is obtained
// from a Backend, bound to a snapshot with either Init or Resume, and must
// always be released with Discard. A transaction that was neither kept nor
// finalized is dropped on Discard.
type Transaction interface {
	// Init creates a new snapshot branched from the given base snapshot and
	// binds the transaction to it.
	Init(base string) error
	// Resume re-binds the transaction to an existing snapshot.
	Resume(id string) error
	// SnapshotID returns the identifier assigned to the bound snapshot.
	SnapshotID() (string, error)
	// Keep marks the snapshot persistent so Discard will not drop it.
	Keep() error
	// Execute runs argv inside the snapshot's isolated root and returns the
	// command's return code and combined output.
	Execute(ctx context.Context, argv []string) (int, string, error)
	// ExecuteExternal runs argv with the snapshot as context but without
	// changing the root directory.
	ExecuteExternal(ctx context.Context, argv []string) (int, string, error)
	// Finalize commits the transaction permanently.
	Finalize() error
	// Discard releases the handle, dropping the snapshot unless it was kept
	// or finalized. Safe to call exactly once, on every exit path.
	Discard()
}

// Backend hands out transaction handles.
type Backend interface {
	Begin() (Transaction, error)
}
