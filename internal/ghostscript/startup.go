package ghostscript

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// EnsureReady checks that the gs binary is installed and answers --version.
// The server refuses to start otherwise.
func EnsureReady(ctx context.Context, t *Tool, w io.Writer) error {
	path, err := exec.LookPath(t.Path)
	if err != nil {
		return fmt.Errorf("%w: %q is not on PATH; install ghostscript or set merge.ghostscript_path", ErrNotInstalled, t.Path)
	}

	v, err := t.Version(ctx)
	if err != nil {
		return fmt.Errorf("checking ghostscript version: %w", err)
	}
	fmt.Fprintf(w, "ghostscript %s (%s): ready\n", v, path)
	return nil
}
