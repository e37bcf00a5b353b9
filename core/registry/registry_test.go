package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return New(logger)
}

func TestTryLock_Exclusive(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.TryLock("42"))
	err := r.TryLock("42")
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, 1, r.Len(), "a failed TryLock must not add an entry")
}

func TestTryLock_DistinctIDsAreIndependent(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.TryLock("1"))
	require.NoError(t, r.TryLock("2"))
	require.Equal(t, 2, r.Len())

	r.Unlock("1")
	_, ok := r.StateOf("2")
	require.True(t, ok, "unlocking one id must not affect another")
}

// TestTryLock_Concurrent races many goroutines on the same id: exactly one
// may win the lock, and exactly one entry may exist afterwards.
func TestTryLock_Concurrent(t *testing.T) {
	r := newTestRegistry(t)

	const goroutines = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryLock("contested") == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, 1, r.Len())
}

func TestUnlock_Idempotent(t *testing.T) {
	r := newTestRegistry(t)

	// Unlocking an id that was never locked must not panic or error.
	r.Unlock("ghost")

	require.NoError(t, r.TryLock("7"))
	r.Unlock("7")
	r.Unlock("7")
	require.True(t, r.IsEmpty())
}

func TestLockUnlock_RoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	require.True(t, r.IsEmpty())
	require.NoError(t, r.TryLock("9"))
	r.Unlock("9")
	require.True(t, r.IsEmpty())

	// The id must be lockable again after the round trip.
	require.NoError(t, r.TryLock("9"))
}

func TestSetRunning(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.TryLock("5"))
	s, ok := r.StateOf("5")
	require.True(t, ok)
	require.Equal(t, StateQueued, s)

	r.SetRunning("5")
	s, _ = r.StateOf("5")
	require.Equal(t, StateRunning, s)

	// Transitioning an absent entry is a no-op.
	r.SetRunning("absent")
	_, ok = r.StateOf("absent")
	require.False(t, ok)
}

func TestLen(t *testing.T) {
	r := newTestRegistry(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, r.TryLock(fmt.Sprintf("snap-%d", i)))
	}
	require.Equal(t, 10, r.Len())
	require.False(t, r.IsEmpty())
}
