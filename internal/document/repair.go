package document

import (
	"context"
	"log/slog"
	"os"
)

// RepairTool rewrites a damaged PDF into a fresh file.
type RepairTool interface {
	Repair(ctx context.Context, out, in string) error
}

// Repairer turns any input into something the merge tool can consume.
type Repairer struct {
	Tool    RepairTool // nil disables repair
	TempDir string
	Logger  *slog.Logger

	validate func(string) error
}

func NewRepairer(tool RepairTool, tempDir string, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{Tool: tool, TempDir: tempDir, Logger: logger, validate: Validate}
}

// Repair returns path itself when the document is valid, a repaired copy
// when the repair tool fixes it, and a one-page placeholder otherwise. It
// never fails: a bad attachment must not block the rest of the merge. Any
// returned path other than the input lives in the temp directory.
func (r *Repairer) Repair(ctx context.Context, path string) string {
	validate := r.validate
	if validate == nil {
		validate = Validate
	}

	err := validate(path)
	if err == nil {
		repairsTotal.WithLabelValues("valid").Inc()
		return path
	}
	log := r.Logger.With("path", path)
	log.Warn("invalid PDF", "error", err)

	if r.Tool != nil {
		if fixed, ok := r.tryRepair(ctx, path, validate); ok {
			repairsTotal.WithLabelValues("repaired").Inc()
			log.Info("PDF repaired", "repaired_path", fixed)
			return fixed
		}
	}

	ph, err := Placeholder(r.TempDir, path)
	if err != nil {
		// Nothing better to offer; let the merge tool report the input.
		log.Error("writing placeholder failed", "error", err)
		repairsTotal.WithLabelValues("failed").Inc()
		return path
	}
	repairsTotal.WithLabelValues("placeholder").Inc()
	return ph
}

func (r *Repairer) tryRepair(ctx context.Context, path string, validate func(string) error) (string, bool) {
	out, err := createTemp(r.TempDir, "repaired-*.pdf")
	if err != nil {
		r.Logger.Error("reserving repair output", "error", err)
		return "", false
	}
	if err := r.Tool.Repair(ctx, out, path); err != nil {
		r.Logger.Warn("repair tool failed", "path", path, "error", err)
		os.Remove(out)
		return "", false
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		os.Remove(out)
		return "", false
	}
	if err := validate(out); err != nil {
		r.Logger.Warn("repaired PDF still invalid", "path", path, "error", err)
		os.Remove(out)
		return "", false
	}
	return out, true
}

// Placeholder writes a one-page document naming the file that could not be
// retrieved.
func Placeholder(dir, original string) (string, error) {
	return textPage(dir, "placeholder-*.pdf", PlaceholderText(original))
}

func PlaceholderText(original string) string {
	return "An error occurred while retrieving the following PDF: " + original +
		". Please download or view it manually."
}
