package daemon

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/snapupd/core/registry"
	"github.com/sushant-115/snapupd/core/snapshot"
)

// startDaemon runs the event loop and exposes its return value, so the
// shutdown behavior itself can be asserted.
func startDaemon(t *testing.T, exec snapshot.ExecFunc) (*Daemon, *fakeEmitter, chan error) {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	emitter := newFakeEmitter()
	d := New(Options{
		Logger:        logger,
		Registry:      registry.New(logger),
		Backend:       snapshot.NewMemoryBackend(exec),
		Emitter:       emitter,
		DrainInterval: 10 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	return d, emitter, done
}

func TestShutdown_ImmediateWhenIdle(t *testing.T) {
	d, _, done := startDaemon(t, nil)

	d.term <- syscall.SIGTERM
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not terminate although the registry was empty")
	}
}

func TestShutdown_DrainsInFlightWork(t *testing.T) {
	release := make(chan struct{})
	d, emitter, done := startDaemon(t, func(argv []string, chrooted bool) (int, string, error) {
		<-release
		return 0, "", nil
	})

	id := openSnapshot(t, d, emitter, "base1")
	require.NoError(t, d.Call(id, "true"))

	// The termination request is deferred while the command is in flight.
	d.term <- syscall.SIGTERM
	select {
	case <-done:
		t.Fatal("daemon terminated with a transaction still locked")
	case <-time.After(50 * time.Millisecond):
	}

	// Once the worker finishes, a drain reconsideration exits cleanly.
	close(release)
	emitter.await(t, "CommandExecuted")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not terminate after the registry drained")
	}
}

func TestShutdown_RepeatedSignalsWhileDraining(t *testing.T) {
	release := make(chan struct{})
	d, emitter, done := startDaemon(t, func(argv []string, chrooted bool) (int, string, error) {
		<-release
		return 0, "", nil
	})

	id := openSnapshot(t, d, emitter, "base1")
	require.NoError(t, d.Call(id, "true"))

	d.term <- syscall.SIGTERM
	d.term <- syscall.SIGINT

	select {
	case <-done:
		t.Fatal("daemon terminated with a transaction still locked")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	emitter.await(t, "CommandExecuted")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not terminate after the registry drained")
	}
}
