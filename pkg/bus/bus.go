// Package bus connects snapupd to D-Bus: it exports the transaction service
// object, emits the daemon's signals and maps Go errors onto bus errors. The
// core daemon only ever sees the small interfaces defined here, never the
// underlying connection.
package bus

import "github.com/godbus/dbus/v5"

// Well-known names of the snapupd service on the bus.
const (
	ServiceName   = "org.opensuse.snapupd"
	ObjectPath    = dbus.ObjectPath("/org/opensuse/snapupd/Transaction")
	InterfaceName = "org.opensuse.snapupd.Transaction"
	// ErrorName is the single error name carried by all method error
	// replies; the diagnostic message distinguishes the causes.
	ErrorName = "org.opensuse.snapupd.Error"
)

// Signal member names emitted by the daemon.
const (
	SignalTransactionOpened = "TransactionOpened"
	SignalCommandExecuted   = "CommandExecuted"
	SignalError             = "Error"
)

// Emitter is the signal surface the daemon needs. Emission is fire-and-forget
// from the daemon's point of view; callers log failures but cannot recover
// from them.
type Emitter interface {
	// TransactionOpened announces a freshly created snapshot.
	TransactionOpened(snapshot string) error
	// CommandExecuted reports the asynchronous completion of a command.
	CommandExecuted(snapshot string, returnCode int, output string) error
	// Error reports an asynchronous failure for a transaction.
	Error(transaction string, message string, code int) error
}

// TransactionHandler is the method surface exported on the bus. The daemon
// implements it with plain Go errors; the bus adapter converts them into
// error replies.
type TransactionHandler interface {
	Open(base string) (string, error)
	Call(transaction, command string) error
	CallExt(transaction, command string) error
	Close(transaction string) (int, error)
	Abort(transaction string) (int, error)
}

// Config selects which bus to attach to.
type Config struct {
	// UseSessionBus attaches to the session bus instead of the system bus,
	// which allows running the daemon unprivileged during development.
	UseSessionBus bool `yaml:"use_session_bus"`
}

// asDBusError converts a handler error into the bus-level error reply.
func asDBusError(err error) *dbus.Error {
	return dbus.NewError(ErrorName, []interface{}{err.Error()})
}
