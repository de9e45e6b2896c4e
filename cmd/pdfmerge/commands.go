package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/pdfmerge/internal/api"
	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/config"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/pipeline"
	"github.com/kalambet/pdfmerge/internal/storage"
)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseIDList parses a comma-separated list of ids, keeping order.
func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// --- merge ---

var mergeCmd = &cobra.Command{
	Use:   "merge <record-id>",
	Short: "Merge the attachments of an entry into one PDF",
	Long: `Merge the attachments of an entry into one PDF.

The merged document is kept in the merge cache; -o copies it elsewhere.

Examples:
  pdfmerge merge 42
  pdfmerge merge 42 --cover -o application-42.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		cover, _ := cmd.Flags().GetBool("cover")
		name, _ := cmd.Flags().GetString("name")
		genCtx, _ := cmd.Flags().GetString("context")

		gc, err := pipeline.ParseContext(genCtx)
		if err != nil {
			return err
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.pipeline.Merge(cmdContext(cmd), pipeline.Request{
			RecordID:   id,
			Context:    gc,
			Mode:       mergecache.ModeSavedPath,
			Cover:      cover,
			OutputName: name,
		})
		if err != nil {
			return err
		}

		if output == "" {
			fmt.Println(res.Path)
			if u := a.resolver.URL(res.Path); u != res.Path {
				printStatus("URL", "%s", u)
			}
			return nil
		}
		if err := copyFile(res.Path, output); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		printSuccess("Merged entry %d into %s", id, output)
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringP("output", "o", "", "copy the merged PDF to this path")
	mergeCmd.Flags().Bool("cover", false, "prepend a summary page (forms with a merge field only)")
	mergeCmd.Flags().String("name", "", "cache file name for the merged PDF")
	mergeCmd.Flags().String("context", "browser", "generation context: browser or notification")
}

// --- collect ---

var collectCmd = &cobra.Command{
	Use:   "collect <record-id>",
	Short: "List the PDF attachments of an entry and its nested entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.collector.Collect(cmdContext(cmd), id, collector.Options{})
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		printCollectResult(os.Stdout, res)
		return nil
	},
}

func init() {
	collectCmd.Flags().Bool("json", false, "print the result as JSON")
}

func printCollectResult(w io.Writer, res collector.Result) {
	fmt.Fprintf(w, "%s entry %d (form %d)\n", colorize(colorBold, "Attachments of"), res.RecordID, res.FormID)
	if len(res.Files) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for i, f := range res.Files {
		fmt.Fprintf(w, "  %d. %s  [entry %d, field %d]\n", i+1, f.LocalPath, f.RecordID, f.FieldID)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintln(w, colorize(colorYellow, "Missing or unreadable:"))
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Merge many entries of a form into a ZIP archive",
	Long: `Merge many entries of a form into a ZIP archive.

By default the archive is built in this process. With --remote the export
is queued on the running server; poll it with "pdfmerge job <id>".

Examples:
  pdfmerge export --form 4 --ids 12,13,20 -o grants.zip
  pdfmerge export --form 4 --all
  pdfmerge export --form 4 --ids 12,13 --remote`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formID, _ := cmd.Flags().GetInt64("form")
		idsStr, _ := cmd.Flags().GetString("ids")
		all, _ := cmd.Flags().GetBool("all")
		output, _ := cmd.Flags().GetString("output")
		remote, _ := cmd.Flags().GetBool("remote")

		if formID <= 0 {
			return fmt.Errorf("--form is required")
		}
		ids, err := parseIDList(idsStr)
		if err != nil {
			return err
		}
		if len(ids) == 0 && !all {
			return fmt.Errorf("one of --ids or --all is required")
		}

		if remote {
			if all {
				return fmt.Errorf("--all cannot be combined with --remote")
			}
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			return queueExport(cmdContext(cmd), client, formID, ids)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if all {
			if ids, err = a.store.ListEntryIDs(formID, 0); err != nil {
				return fmt.Errorf("listing entries: %w", err)
			}
		}

		arch, err := a.exporter.Export(cmdContext(cmd), formID, ids)
		if err != nil {
			return err
		}
		printSkipped(arch.Skipped)

		path := arch.Path
		if output != "" {
			if err := os.Rename(arch.Path, output); err != nil {
				if err := copyFile(arch.Path, output); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
				os.Remove(arch.Path)
			}
			path = output
		}
		printSuccess("Exported %d entries to %s", len(arch.Entries), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().Int64("form", 0, "form id")
	exportCmd.Flags().String("ids", "", "comma-separated entry ids, in archive order")
	exportCmd.Flags().Bool("all", false, "export every entry of the form")
	exportCmd.Flags().StringP("output", "o", "", "move the archive to this path")
	exportCmd.Flags().Bool("remote", false, "queue the export on the running server")
}

func queueExport(ctx context.Context, client *apiClient, formID int64, ids []int64) error {
	resp, err := client.post(ctx, fmt.Sprintf("/forms/%d/exports", formID), api.ExportRequest{RecordIDs: ids})
	if err != nil {
		return err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("Queued export job %s", result["job_id"])
	printStatus("Download", "%s%s (once the job completes)", client.baseURL, result["download_url"])
	return nil
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the status of a queued export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showJob(cmdContext(cmd), client, args[0])
	},
}

func showJob(ctx context.Context, client *apiClient, id string) error {
	resp, err := client.get(ctx, "/jobs/"+id)
	if err != nil {
		return err
	}
	var job struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Attempts    int    `json:"attempts"`
		LastError   string `json:"last_error"`
		DownloadURL string `json:"download_url"`
	}
	if err := decodeJSON(resp, &job); err != nil {
		return err
	}

	printStatus("Job", "%s", job.ID)
	printStatus("Status", "%s", job.Status)
	printStatus("Attempts", "%d", job.Attempts)
	if job.LastError != "" {
		printStatus("Last error", "%s", job.LastError)
	}
	if job.DownloadURL != "" {
		printStatus("Download", "%s%s", client.baseURL, job.DownloadURL)
	}
	return nil
}

// --- link ---

var linkCmd = &cobra.Command{
	Use:   "link <record-id>",
	Short: "Print the merge URL of an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		mode, _ := cmd.Flags().GetString("mode")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Println(mergeLink(cfg, id, mode))
		return nil
	},
}

func init() {
	linkCmd.Flags().String("mode", "", "display, download or embed")
}

func mergeLink(cfg config.Config, id int64, mode string) string {
	base := cfg.Link.PublicURL
	if base == "" {
		base = serverURL(cfg)
	}
	signer := api.LinkSigner{Multiplier: int64(cfg.Link.Multiplier), Secret: cfg.Link.Secret}
	u := signer.URL(base, id)
	if mode != "" {
		u += "&mode=" + mode
	}
	return u
}

// --- touch ---

var touchCmd = &cobra.Command{
	Use:   "touch <record-id>...",
	Short: "Mark entries as updated so their merged PDFs are rebuilt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		now := time.Now()
		for _, id := range ids {
			if err := a.store.TouchEntry(id, now); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("entry %d not found", id)
				}
				return fmt.Errorf("touching entry %d: %w", id, err)
			}
		}
		printSuccess("Marked %d entries as updated", len(ids))
		return nil
	},
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Load forms and entries into the record store",
	Long: `Load forms and entries into the record store.

The file holds {"forms": [...], "entries": [...], "children": [...]}.
Existing forms and entries with the same ids are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()

		ds, err := storage.DecodeDataset(f)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		stats, err := store.Import(ds)
		if err != nil {
			return err
		}
		printSuccess("Imported %d forms, %d entries, %d child links", stats.Forms, stats.Entries, stats.Children)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// copyFile copies src to dst through a temp file in dst's directory.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
