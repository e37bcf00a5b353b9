// Package daemon implements the transaction coordinator of snapupd: the
// request handlers exported on the bus, the worker dispatch for long-running
// commands, the completion notifier and the graceful-shutdown state machine.
//
// Request handlers run on bus-dispatch goroutines and may lock or unlock the
// registry directly; every mutation driven by a worker (started, completed,
// failed) is routed as an event through the single Run loop instead, so lock
// lifetimes are decided in exactly one place.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/snapupd/core/registry"
	"github.com/sushant-115/snapupd/core/snapshot"
	"github.com/sushant-115/snapupd/pkg/bus"
)

const defaultDrainInterval = time.Second

var errEmptyTransaction = errors.New("transaction identifier must not be empty")

// Options configures a Daemon.
type Options struct {
	Logger   *zap.Logger
	Registry *registry.Registry
	Backend  snapshot.Backend
	Emitter  bus.Emitter
	Metrics  *Metrics
	Tracer   trace.Tracer
	// DrainInterval is how often a pending termination request is
	// reconsidered while transactions are still in flight.
	DrainInterval time.Duration
}

// Daemon coordinates concurrent snapshot transactions. It implements
// bus.TransactionHandler.
type Daemon struct {
	log     *zap.Logger
	reg     *registry.Registry
	backend snapshot.Backend
	emitter bus.Emitter
	metrics *Metrics
	tracer  trace.Tracer

	drainInterval time.Duration
	events        chan event
	term          chan os.Signal
}

// New builds a Daemon from opts. Logger, Registry, Backend and Emitter are
// required; Metrics and Tracer default to no-ops.
func New(opts Options) *Daemon {
	if opts.Metrics == nil {
		opts.Metrics, _ = NewMetrics(noop.NewMeterProvider().Meter(""))
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = defaultDrainInterval
	}
	return &Daemon{
		log:           opts.Logger,
		reg:           opts.Registry,
		backend:       opts.Backend,
		emitter:       opts.Emitter,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		drainInterval: opts.DrainInterval,
		events:        make(chan event),
		term:          make(chan os.Signal, 1),
	}
}

// Open creates a new transaction branched from the given base snapshot and
// announces it with a TransactionOpened signal. Open does not lock the new
// snapshot: it only becomes subject to exclusive operation once another
// request references it.
func (d *Daemon) Open(base string) (string, error) {
	ctx, span := d.tracer.Start(context.Background(), "snapupd.Open")
	defer span.End()

	if base == "" {
		return "", errors.New("base snapshot identifier must not be empty")
	}

	tx, err := d.backend.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Discard()

	if err := tx.Init(base); err != nil {
		return "", err
	}
	id, err := tx.SnapshotID()
	if err != nil {
		return "", err
	}
	if err := tx.Keep(); err != nil {
		return "", err
	}

	if err := d.emitter.TransactionOpened(id); err != nil {
		return "", fmt.Errorf("sending signal %q failed", bus.SignalTransactionOpened)
	}
	d.metrics.TransactionsOpened.Add(ctx, 1)
	d.log.Info("Snapshot created", zap.String("snapshot", id))
	return id, nil
}

// Call executes command inside the transaction's isolated root. The reply is
// sent as soon as the worker has started; completion is reported
// asynchronously with a CommandExecuted or Error signal.
func (d *Daemon) Call(transaction, command string) error {
	return d.dispatch(transaction, command, true)
}

// CallExt is Call without changing the root directory.
func (d *Daemon) CallExt(transaction, command string) error {
	return d.dispatch(transaction, command, false)
}

// Close finalizes the transaction, committing it permanently.
func (d *Daemon) Close(transaction string) (int, error) {
	return d.finish(transaction, true)
}

// Abort discards the transaction.
func (d *Daemon) Abort(transaction string) (int, error) {
	return d.finish(transaction, false)
}

func (d *Daemon) finish(transaction string, finalize bool) (int, error) {
	op := "snapupd.Abort"
	if finalize {
		op = "snapupd.Close"
	}
	ctx, span := d.tracer.Start(context.Background(), op)
	defer span.End()

	if transaction == "" {
		return -1, errEmptyTransaction
	}
	if err := d.reg.TryLock(transaction); err != nil {
		return -1, err
	}
	d.metrics.TransactionsActive.Add(ctx, 1)
	// Having acquired the lock obliges releasing it on every exit path.
	defer func() {
		d.reg.Unlock(transaction)
		d.metrics.TransactionsActive.Add(ctx, -1)
	}()

	tx, err := d.backend.Begin()
	if err != nil {
		return -1, err
	}
	defer tx.Discard()

	if err := tx.Resume(transaction); err != nil {
		return -1, err
	}
	if finalize {
		if err := tx.Finalize(); err != nil {
			return -1, err
		}
		d.log.Info("Snapshot closed", zap.String("transaction", transaction))
	} else {
		d.log.Info("Snapshot aborted", zap.String("transaction", transaction))
	}
	return 0, nil
}

// Run is the daemon's event loop and shutdown coordinator. It consumes worker
// events and termination signals until the process is asked to stop and all
// in-flight transactions have drained. In-flight workers are never cancelled;
// a termination request is reconsidered on every drain interval until the
// registry is empty.
func (d *Daemon) Run(ctx context.Context) error {
	signal.Notify(d.term, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(d.term)

	drain := time.NewTimer(d.drainInterval)
	drain.Stop()
	defer drain.Stop()
	draining := false

	for {
		select {
		case ev := <-d.events:
			d.handleEvent(ctx, ev)

		case sig := <-d.term:
			if d.reg.IsEmpty() {
				d.log.Info("Terminating.", zap.String("signal", sig.String()))
				return nil
			}
			d.log.Info("Waiting for remaining transactions to finish...",
				zap.String("signal", sig.String()), zap.Int("active", d.reg.Len()))
			if !draining {
				draining = true
				drain.Reset(d.drainInterval)
			}

		case <-drain.C:
			if d.reg.IsEmpty() {
				d.log.Info("Terminating.")
				return nil
			}
			d.log.Info("Waiting for remaining transactions to finish...",
				zap.Int("active", d.reg.Len()))
			drain.Reset(d.drainInterval)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleEvent is the completion notifier: it applies worker progress to the
// registry, emits the protocol-level result signals and closes each lock's
// lifetime exactly once the asynchronous result has been reported.
func (d *Daemon) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case eventStarted:
		d.reg.SetRunning(ev.transaction)
		close(ev.ready)

	case eventExecuted:
		d.metrics.CommandsExecuted.Add(ctx, 1)
		d.metrics.CommandDuration.Record(ctx, ev.duration.Milliseconds())
		if err := d.emitter.CommandExecuted(ev.transaction, ev.returnCode, ev.output); err != nil {
			d.log.Error("Cannot send signal 'CommandExecuted'",
				zap.String("transaction", ev.transaction), zap.Error(err))
		}
		d.unlock(ctx, ev.transaction)

	case eventFailed:
		d.metrics.CommandsFailed.Add(ctx, 1)
		if err := d.emitter.Error(ev.transaction, ev.message, ev.code); err != nil {
			d.log.Error("Cannot send signal 'Error'",
				zap.String("transaction", ev.transaction), zap.Error(err))
		}
		d.unlock(ctx, ev.transaction)
	}
}

func (d *Daemon) unlock(ctx context.Context, transaction string) {
	d.reg.Unlock(transaction)
	d.metrics.TransactionsActive.Add(ctx, -1)
}
