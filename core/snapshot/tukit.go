package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// TukitBackend drives snapshot transactions through the tukit administration
// tool. Every primitive maps to one tukit invocation; the command's exit code
// and combined output are passed through unchanged.
type TukitBackend struct {
	binary string
	log    *zap.Logger
}

// NewTukitBackend returns a backend shelling out to the given tukit binary.
// An empty binary falls back to "tukit" resolved via PATH.
func NewTukitBackend(binary string, log *zap.Logger) *TukitBackend {
	if binary == "" {
		binary = "tukit"
	}
	return &TukitBackend{binary: binary, log: log}
}

// Begin returns an unbound transaction handle.
func (b *TukitBackend) Begin() (Transaction, error) {
	return &tukitTx{backend: b}, nil
}

type tukitTx struct {
	backend *TukitBackend
	id      string
	kept    bool
}

func (t *tukitTx) Init(base string) error {
	args := []string{"--quiet", "open"}
	if base != "" {
		args = append(args, "--base", base)
	}
	out, err := t.backend.run(context.Background(), args...)
	if err != nil {
		return fmt.Errorf("tukit open failed: %w", err)
	}
	id := parseSnapshotID(out)
	if id == "" {
		return fmt.Errorf("tukit open did not report a snapshot id (output: %q)", out)
	}
	t.id = id
	return nil
}

func (t *tukitTx) Resume(id string) error {
	if id == "" {
		return fmt.Errorf("transaction identifier must not be empty")
	}
	t.id = id
	return nil
}

func (t *tukitTx) SnapshotID() (string, error) {
	if t.id == "" {
		return "", fmt.Errorf("transaction is not bound to a snapshot")
	}
	return t.id, nil
}

// Keep is a no-op for the tukit backend: snapshots opened through the CLI
// stay around until they are explicitly closed or aborted.
func (t *tukitTx) Keep() error {
	if t.id == "" {
		return fmt.Errorf("transaction is not bound to a snapshot")
	}
	t.kept = true
	return nil
}

func (t *tukitTx) Execute(ctx context.Context, argv []string) (int, string, error) {
	return t.call(ctx, "call", argv)
}

func (t *tukitTx) ExecuteExternal(ctx context.Context, argv []string) (int, string, error) {
	return t.call(ctx, "callext", argv)
}

func (t *tukitTx) call(ctx context.Context, mode string, argv []string) (int, string, error) {
	if t.id == "" {
		return -1, "", fmt.Errorf("transaction is not bound to a snapshot")
	}
	args := append([]string{"--quiet", mode, t.id}, argv...)
	cmd := exec.CommandContext(ctx, t.backend.binary, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err == nil {
		return 0, buf.String(), nil
	}
	// A non-zero exit of the wrapped command is a result, not a failure of
	// the primitive itself.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), buf.String(), nil
	}
	return -1, "", fmt.Errorf("tukit %s failed: %w", mode, err)
}

func (t *tukitTx) Finalize() error {
	if t.id == "" {
		return fmt.Errorf("transaction is not bound to a snapshot")
	}
	if _, err := t.backend.run(context.Background(), "--quiet", "close", t.id); err != nil {
		return fmt.Errorf("tukit close failed: %w", err)
	}
	t.kept = true
	return nil
}

func (t *tukitTx) Discard() {
	if t.id == "" || t.kept {
		return
	}
	if _, err := t.backend.run(context.Background(), "--quiet", "abort", t.id); err != nil {
		t.backend.log.Warn("Failed to abort snapshot transaction",
			zap.String("transaction", t.id), zap.Error(err))
	}
}

func (b *TukitBackend) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.binary, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(buf.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %w", msg, err)
		}
		return "", err
	}
	return buf.String(), nil
}

// parseSnapshotID extracts the snapshot number from tukit open output, which
// reports a line of the form "ID: <number>". With --quiet only the id itself
// may be printed, so a bare token is accepted too.
func parseSnapshotID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "ID:"); ok {
			return strings.TrimSpace(rest)
		}
		if len(strings.Fields(line)) == 1 {
			return line
		}
	}
	return ""
}
