// Command snapupd-cli is a small client for the snapupd daemon. It speaks
// the org.opensuse.snapupd.Transaction interface, either as one-shot
// subcommands or from an interactive prompt that also prints the daemon's
// signals as they arrive.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/godbus/dbus/v5"

	"github.com/sushant-115/snapupd/pkg/bus"
)

var sessionBus = flag.Bool("session-bus", false, "Attach to the session bus instead of the system bus")

func main() {
	flag.Parse()
	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "snapupd-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	conn, err := connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	if len(args) == 0 {
		return interact(conn)
	}
	return dispatch(conn, args)
}

func connect() (*dbus.Conn, error) {
	if *sessionBus {
		return dbus.ConnectSessionBus()
	}
	return dbus.ConnectSystemBus()
}

func transactionObject(conn *dbus.Conn) dbus.BusObject {
	return conn.Object(bus.ServiceName, bus.ObjectPath)
}

func dispatch(conn *dbus.Conn, args []string) error {
	obj := transactionObject(conn)
	switch args[0] {
	case "open":
		if len(args) != 2 {
			return fmt.Errorf("usage: open <base>")
		}
		var snapshot string
		if err := obj.Call(bus.InterfaceName+".Open", 0, args[1]).Store(&snapshot); err != nil {
			return err
		}
		fmt.Println(snapshot)
		return nil
	case "call", "callext":
		if len(args) < 3 {
			return fmt.Errorf("usage: %s <transaction> <command...>", args[0])
		}
		method := ".Call"
		if args[0] == "callext" {
			method = ".CallExt"
		}
		command := strings.Join(args[2:], " ")
		return obj.Call(bus.InterfaceName+method, 0, args[1], command).Err
	case "close", "abort":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <transaction>", args[0])
		}
		method := ".Close"
		if args[0] == "abort" {
			method = ".Abort"
		}
		var rc int32
		if err := obj.Call(bus.InterfaceName+method, 0, args[1]).Store(&rc); err != nil {
			return err
		}
		fmt.Println(rc)
		return nil
	case "watch":
		return watch(conn)
	case "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// watch subscribes to the daemon's signals and prints them until EOF.
func watch(conn *dbus.Conn) error {
	ch, err := subscribe(conn)
	if err != nil {
		return err
	}
	for sig := range ch {
		printSignal(os.Stdout, sig)
	}
	return nil
}

func subscribe(conn *dbus.Conn) (chan *dbus.Signal, error) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(bus.ObjectPath),
		dbus.WithMatchInterface(bus.InterfaceName),
	); err != nil {
		return nil, fmt.Errorf("failed to subscribe to signals: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	return ch, nil
}

func printSignal(w io.Writer, sig *dbus.Signal) {
	member := sig.Name[strings.LastIndex(sig.Name, ".")+1:]
	parts := make([]string, len(sig.Body))
	for i, v := range sig.Body {
		parts[i] = fmt.Sprint(v)
	}
	fmt.Fprintf(w, "%s(%s)\n", member, strings.Join(parts, ", "))
}

// interact runs the readline prompt. Incoming signals are printed between
// prompts so asynchronous command results are visible.
func interact(conn *dbus.Conn) error {
	rl, err := readline.New("snapupd> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	ch, err := subscribe(conn)
	if err != nil {
		return err
	}
	go func() {
		for sig := range ch {
			printSignal(rl.Stdout(), sig)
		}
	}()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}
		if fields[0] == "watch" {
			fmt.Fprintln(rl.Stdout(), "signals are already printed in interactive mode")
			continue
		}
		if err := dispatch(conn, fields); err != nil {
			fmt.Fprintf(rl.Stdout(), "error: %v\n", err)
		}
	}
}

func usage() {
	fmt.Println(`Commands:
  open <base>                    Open a new transaction from a base snapshot
  call <transaction> <cmd...>    Run a command inside the transaction (chrooted)
  callext <transaction> <cmd...> Run a command with the transaction as context
  close <transaction>            Commit the transaction
  abort <transaction>            Discard the transaction
  watch                          Print daemon signals until interrupted
  help                           Show this help`)
}
