package daemon

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

// Error codes carried by the asynchronous Error signal.
const (
	codePrimitiveFailure = -1
	codeCommandMalformed = 1
)

type eventKind int

const (
	eventStarted eventKind = iota
	eventExecuted
	eventFailed
)

// event is a worker's progress report, consumed by the Run loop.
type event struct {
	kind        eventKind
	transaction string
	ready       chan struct{} // eventStarted: closed once the entry is marked running
	returnCode  int
	output      string
	duration    time.Duration
	message     string
	code        int
}

// job is the execution context handed to a worker. It owns independent
// copies of the request strings: nothing in here may reference memory whose
// lifetime is tied to the originating bus request.
type job struct {
	id          string
	transaction string
	command     string
	chrooted    bool
}

// dispatch locks the transaction and spawns a worker for the command. It
// returns once the Run loop has marked the entry running, so the lock is
// guaranteed to be visible before the method call is acknowledged; the
// command itself completes asynchronously.
func (d *Daemon) dispatch(transaction, command string, chrooted bool) error {
	ctx, span := d.tracer.Start(context.Background(), "snapupd.Call")
	defer span.End()

	if transaction == "" {
		return errEmptyTransaction
	}
	if err := d.reg.TryLock(transaction); err != nil {
		return err
	}
	d.metrics.TransactionsActive.Add(ctx, 1)

	j := job{
		id:          uuid.NewString(),
		transaction: strings.Clone(transaction),
		command:     strings.Clone(command),
		chrooted:    chrooted,
	}
	ready := make(chan struct{})
	go d.runJob(j, ready)
	<-ready
	return nil
}

// runJob executes one command in its own goroutine. All registry-affecting
// outcomes travel through the event channel; the worker itself never unlocks.
func (d *Daemon) runJob(j job, ready chan struct{}) {
	d.events <- event{kind: eventStarted, transaction: j.transaction, ready: ready}

	log := d.log.With(zap.String("job", j.id), zap.String("transaction", j.transaction))
	log.Info("Executing command in snapshot",
		zap.String("command", j.command), zap.Bool("chrooted", j.chrooted))

	start := time.Now()
	argv, err := shellwords.Parse(j.command)
	if err != nil || len(argv) == 0 {
		log.Warn("Command could not be processed", zap.Error(err))
		d.fail(j, "Command could not be processed.", codeCommandMalformed)
		return
	}

	tx, err := d.backend.Begin()
	if err != nil {
		d.fail(j, err.Error(), codePrimitiveFailure)
		return
	}
	defer tx.Discard()

	if err := tx.Resume(j.transaction); err != nil {
		d.fail(j, err.Error(), codePrimitiveFailure)
		return
	}

	// Running commands are never cancelled; shutdown waits for them.
	ctx := context.Background()
	var rc int
	var output string
	if j.chrooted {
		rc, output, err = tx.Execute(ctx, argv)
	} else {
		rc, output, err = tx.ExecuteExternal(ctx, argv)
	}
	if err != nil {
		d.fail(j, err.Error(), codePrimitiveFailure)
		return
	}
	if err := tx.Keep(); err != nil {
		d.fail(j, err.Error(), codePrimitiveFailure)
		return
	}

	log.Info("Command finished", zap.Int("returncode", rc))
	d.events <- event{
		kind:        eventExecuted,
		transaction: j.transaction,
		returnCode:  rc,
		output:      output,
		duration:    time.Since(start),
	}
}

func (d *Daemon) fail(j job, message string, code int) {
	d.events <- event{kind: eventFailed, transaction: j.transaction, message: message, code: code}
}
