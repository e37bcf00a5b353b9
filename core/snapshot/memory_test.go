package snapshot

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_OpenAssignsSequentialIDs(t *testing.T) {
	b := NewMemoryBackend(nil)

	tx, err := b.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Init("base1"))
	id, err := tx.SnapshotID()
	require.NoError(t, err)
	require.Equal(t, "base1.1", id)
	require.NoError(t, tx.Keep())
	tx.Discard()
	require.True(t, b.Contains("base1.1"))

	tx2, err := b.Begin()
	require.NoError(t, err)
	require.NoError(t, tx2.Init("base1"))
	id2, err := tx2.SnapshotID()
	require.NoError(t, err)
	require.Equal(t, "base1.2", id2)
}

func TestMemoryBackend_DiscardWithoutKeepDropsSnapshot(t *testing.T) {
	b := NewMemoryBackend(nil)

	tx, _ := b.Begin()
	require.NoError(t, tx.Init("base1"))
	id, _ := tx.SnapshotID()
	tx.Discard()
	require.False(t, b.Contains(id))
}

// An abort is a resume followed by a discard without keep: the snapshot must
// be gone afterwards even though it was kept when it was opened.
func TestMemoryBackend_ResumeDiscardAborts(t *testing.T) {
	b := NewMemoryBackend(nil)

	open, _ := b.Begin()
	require.NoError(t, open.Init("base1"))
	id, _ := open.SnapshotID()
	require.NoError(t, open.Keep())
	open.Discard()
	require.True(t, b.Contains(id))

	abort, _ := b.Begin()
	require.NoError(t, abort.Resume(id))
	abort.Discard()
	require.False(t, b.Contains(id))
}

func TestMemoryBackend_FinalizeCommits(t *testing.T) {
	b := NewMemoryBackend(nil)

	open, _ := b.Begin()
	require.NoError(t, open.Init("base1"))
	id, _ := open.SnapshotID()
	require.NoError(t, open.Keep())
	open.Discard()

	cl, _ := b.Begin()
	require.NoError(t, cl.Resume(id))
	require.NoError(t, cl.Finalize())
	cl.Discard()
	require.True(t, b.Contains(id), "committed snapshots survive discard")
}

func TestMemoryBackend_ResumeUnknownSnapshot(t *testing.T) {
	b := NewMemoryBackend(nil)

	tx, _ := b.Begin()
	err := tx.Resume("nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestMemoryBackend_ExecHook(t *testing.T) {
	var gotArgv []string
	var gotChroot bool
	b := NewMemoryBackend(func(argv []string, chrooted bool) (int, string, error) {
		gotArgv = argv
		gotChroot = chrooted
		return 3, "out\n", nil
	})

	tx, _ := b.Begin()
	require.NoError(t, tx.Init("base1"))

	rc, out, err := tx.Execute(context.Background(), []string{"zypper", "up"})
	require.NoError(t, err)
	require.Equal(t, 3, rc)
	require.Equal(t, "out\n", out)
	require.Equal(t, []string{"zypper", "up"}, gotArgv)
	require.True(t, gotChroot)

	_, _, err = tx.ExecuteExternal(context.Background(), []string{"true"})
	require.NoError(t, err)
	require.False(t, gotChroot)
}

func TestParseSnapshotID(t *testing.T) {
	require.Equal(t, "5", parseSnapshotID("ID: 5\n"))
	require.Equal(t, "12", parseSnapshotID("12\n"))
	require.Equal(t, "", parseSnapshotID("something went wrong here\n"))
	require.Equal(t, "", parseSnapshotID(strings.Repeat("\n", 3)))
}
