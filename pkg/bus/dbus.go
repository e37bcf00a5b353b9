package bus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"
)

// Bus is an open connection owning the snapupd service name.
type Bus struct {
	conn *dbus.Conn
	log  *zap.Logger
}

// Connect opens the configured bus and claims the snapupd service name.
func Connect(cfg Config, log *zap.Logger) (*Bus, error) {
	var conn *dbus.Conn
	var err error
	if cfg.UseSessionBus {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request service name %s: %w", ServiceName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("service name %s is already taken", ServiceName)
	}

	return &Bus{conn: conn, log: log}, nil
}

// Close releases the connection.
func (b *Bus) Close() error {
	return b.conn.Close()
}

// ExportTransaction publishes the transaction service object together with
// its introspection data.
func (b *Bus) ExportTransaction(h TransactionHandler) error {
	obj := &transactionObject{handler: h}
	if err := b.conn.Export(obj, ObjectPath, InterfaceName); err != nil {
		return fmt.Errorf("failed to export transaction object: %w", err)
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			transactionIntrospection(),
		},
	}
	if err := b.conn.Export(introspect.NewIntrospectable(node), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection data: %w", err)
	}
	return nil
}

// TransactionOpened implements Emitter.
func (b *Bus) TransactionOpened(snapshot string) error {
	return b.emit(SignalTransactionOpened, snapshot)
}

// CommandExecuted implements Emitter.
func (b *Bus) CommandExecuted(snapshot string, returnCode int, output string) error {
	return b.emit(SignalCommandExecuted, snapshot, int32(returnCode), output)
}

// Error implements Emitter.
func (b *Bus) Error(transaction string, message string, code int) error {
	return b.emit(SignalError, transaction, message, int32(code))
}

func (b *Bus) emit(member string, values ...interface{}) error {
	if err := b.conn.Emit(ObjectPath, InterfaceName+"."+member, values...); err != nil {
		// Something is seriously broken when even a signal can't be sent
		// any more; there is nobody left to tell but the log.
		b.log.Error("Cannot reach D-Bus any more", zap.String("signal", member), zap.Error(err))
		return err
	}
	return nil
}

// transactionObject adapts TransactionHandler to the method signatures godbus
// expects from an exported object.
type transactionObject struct {
	handler TransactionHandler
}

func (o *transactionObject) Open(base string) (string, *dbus.Error) {
	id, err := o.handler.Open(base)
	if err != nil {
		return "", asDBusError(err)
	}
	return id, nil
}

func (o *transactionObject) Call(transaction, command string) *dbus.Error {
	if err := o.handler.Call(transaction, command); err != nil {
		return asDBusError(err)
	}
	return nil
}

func (o *transactionObject) CallExt(transaction, command string) *dbus.Error {
	if err := o.handler.CallExt(transaction, command); err != nil {
		return asDBusError(err)
	}
	return nil
}

func (o *transactionObject) Close(transaction string) (int32, *dbus.Error) {
	rc, err := o.handler.Close(transaction)
	if err != nil {
		return int32(rc), asDBusError(err)
	}
	return int32(rc), nil
}

func (o *transactionObject) Abort(transaction string) (int32, *dbus.Error) {
	rc, err := o.handler.Abort(transaction)
	if err != nil {
		return int32(rc), asDBusError(err)
	}
	return int32(rc), nil
}

// transactionIntrospection describes the exported interface, mirroring the
// method table the daemon registers.
func transactionIntrospection() introspect.Interface {
	return introspect.Interface{
		Name: InterfaceName,
		Methods: []introspect.Method{
			{Name: "Open", Args: []introspect.Arg{
				{Name: "base", Type: "s", Direction: "in"},
				{Name: "snapshot", Type: "s", Direction: "out"},
			}},
			{Name: "Call", Args: []introspect.Arg{
				{Name: "transaction", Type: "s", Direction: "in"},
				{Name: "command", Type: "s", Direction: "in"},
			}},
			{Name: "CallExt", Args: []introspect.Arg{
				{Name: "transaction", Type: "s", Direction: "in"},
				{Name: "command", Type: "s", Direction: "in"},
			}},
			{Name: "Close", Args: []introspect.Arg{
				{Name: "transaction", Type: "s", Direction: "in"},
				{Name: "ret", Type: "i", Direction: "out"},
			}},
			{Name: "Abort", Args: []introspect.Arg{
				{Name: "transaction", Type: "s", Direction: "in"},
				{Name: "ret", Type: "i", Direction: "out"},
			}},
		},
		Signals: []introspect.Signal{
			{Name: SignalTransactionOpened, Args: []introspect.Arg{
				{Name: "snapshot", Type: "s"},
			}},
			{Name: SignalCommandExecuted, Args: []introspect.Arg{
				{Name: "snapshot", Type: "s"},
				{Name: "returncode", Type: "i"},
				{Name: "output", Type: "s"},
			}},
			{Name: SignalError, Args: []introspect.Arg{
				{Name: "transaction", Type: "s"},
				{Name: "message", Type: "s"},
				{Name: "code", Type: "i"},
			}},
		},
	}
}
