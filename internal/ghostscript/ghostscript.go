// Package ghostscript runs the gs binary to concatenate and re-encode PDFs.
package ghostscript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when gs does not finish within the tool timeout.
	ErrTimeout = errors.New("ghostscript timed out")
	// ErrNotInstalled is returned when the gs binary cannot be found.
	ErrNotInstalled = errors.New("ghostscript not installed")
)

const maxStderr = 4 << 10

var baseArgs = []string{"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER", "-sDEVICE=pdfwrite"}

// Tool invokes gs with an argument list. The zero Timeout disables the limit.
type Tool struct {
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
}

func New(path string, timeout time.Duration) *Tool {
	if path == "" {
		path = "gs"
	}
	return &Tool{Path: path, Timeout: timeout, Logger: slog.Default()}
}

// Merge concatenates inputs, in order, into out.
func (t *Tool) Merge(ctx context.Context, out string, inputs []string) error {
	if len(inputs) == 0 {
		return errors.New("ghostscript: no inputs to merge")
	}
	args := append(append([]string{}, baseArgs...), "-sOutputFile="+out)
	for _, in := range inputs {
		args = append(args, inputArg(in))
	}
	_, err := t.run(ctx, args)
	return err
}

// Repair rewrites in to out using the prepress profile, which makes gs
// rebuild broken xref tables and streams.
func (t *Tool) Repair(ctx context.Context, out, in string) error {
	args := append(append([]string{}, baseArgs...), "-dPDFSETTINGS=/prepress", "-sOutputFile="+out, inputArg(in))
	_, err := t.run(ctx, args)
	return err
}

// inputArg makes a file argument absolute so gs never reads it as a switch.
func inputArg(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return "." + string(filepath.Separator) + path
}

// Version returns the output of gs --version.
func (t *Tool) Version(ctx context.Context) (string, error) {
	out, err := t.run(ctx, []string{"--version"})
	return strings.TrimSpace(out), err
}

func (t *Tool) run(ctx context.Context, args []string) (string, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.Path, args...)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	t.logger().Debug("ghostscript finished", "args", len(args), "duration", time.Since(start), "error", err)

	if err == nil {
		return stdout.String(), nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrTimeout, t.Timeout)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}

	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(stdout.String())
	}
	if len(msg) > maxStderr {
		msg = msg[:maxStderr]
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", fmt.Errorf("ghostscript exited with code %d: %s", exitErr.ExitCode(), msg)
	}
	return "", fmt.Errorf("running ghostscript: %w", err)
}

func (t *Tool) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
