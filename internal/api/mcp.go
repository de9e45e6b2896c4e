package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pdfmerge/internal/batch"
	"github.com/kalambet/pdfmerge/internal/collector"
	"github.com/kalambet/pdfmerge/internal/mergecache"
	"github.com/kalambet/pdfmerge/internal/pipeline"
)

// MCPExporter builds form archives synchronously.
type MCPExporter interface {
	Export(ctx context.Context, formID int64, recordIDs []int64) (batch.Archive, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Merger    Merger
	Collector Collector
	Exporter  MCPExporter
}

// NewMCPServer creates an MCP server with the pdfmerge tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pdfmerge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("pdfmerge: merge the PDF attachments of form entries into one document, and export many entries as a ZIP archive."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("collect_attachments",
			mcp.WithDescription("List the PDF attachments of an entry and its nested entries, with the errors for missing files."),
			mcp.WithNumber("record_id", mcp.Description("Entry id"), mcp.Required()),
		),
		mcpCollect(deps),
	)

	s.AddTool(
		mcp.NewTool("merge_record",
			mcp.WithDescription("Merge the attachments of an entry into one PDF and return its path."),
			mcp.WithNumber("record_id", mcp.Description("Entry id"), mcp.Required()),
			mcp.WithBoolean("cover", mcp.Description("Prepend a summary page of the entry")),
			mcp.WithString("output_name", mcp.Description("File name for the merged document")),
		),
		mcpMergeRecord(deps),
	)

	s.AddTool(
		mcp.NewTool("export_form",
			mcp.WithDescription("Merge several entries of a form and package them into a ZIP archive."),
			mcp.WithNumber("form_id", mcp.Description("Form id"), mcp.Required()),
			mcp.WithArray("record_ids", mcp.Description("Entry ids to export, in archive order"), mcp.Required()),
		),
		mcpExportForm(deps),
	)

	return s
}

func mcpCollect(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("record_id")
		if err != nil {
			return mcpError("record_id is required"), nil
		}

		res, err := deps.Collector.Collect(ctx, int64(id), collector.Options{})
		if err != nil {
			return mcpError(fmt.Sprintf("collect failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMergeRecord(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("record_id")
		if err != nil {
			return mcpError("record_id is required"), nil
		}

		res, err := deps.Merger.Merge(ctx, pipeline.Request{
			RecordID:   int64(id),
			Context:    pipeline.ContextBrowser,
			Mode:       mergecache.ModeSavedPath,
			Cover:      req.GetBool("cover", false),
			OutputName: req.GetString("output_name", ""),
		})
		switch {
		case errors.Is(err, pipeline.ErrNothingToMerge):
			return mcpError(fmt.Sprintf("entry %d has no documents to merge", id)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("merge failed: %v", err)), nil
		}

		return mcpText(res.Path), nil
	}
}

func mcpExportForm(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		formID, err := req.RequireInt("form_id")
		if err != nil {
			return mcpError("form_id is required"), nil
		}
		ids, err := int64Slice(req.GetArguments()["record_ids"])
		if err != nil || len(ids) == 0 {
			return mcpError("record_ids must be a non-empty array of entry ids"), nil
		}

		arch, err := deps.Exporter.Export(ctx, int64(formID), ids)
		if err != nil {
			return mcpError(fmt.Sprintf("export failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"path":    arch.Path,
			"entries": arch.Entries,
			"skipped": arch.Skipped,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// int64Slice accepts the shapes an id array takes after JSON decoding or
// when built in Go.
func int64Slice(v any) ([]int64, error) {
	switch vs := v.(type) {
	case []int64:
		return vs, nil
	case []int:
		out := make([]int64, len(vs))
		for i, n := range vs {
			out[i] = int64(n)
		}
		return out, nil
	case []any:
		out := make([]int64, 0, len(vs))
		for _, x := range vs {
			switch n := x.(type) {
			case float64:
				out = append(out, int64(n))
			case int:
				out = append(out, int64(n))
			case int64:
				out = append(out, n)
			case string:
				id, err := strconv.ParseInt(n, 10, 64)
				if err != nil {
					return nil, err
				}
				out = append(out, id)
			default:
				return nil, fmt.Errorf("unexpected id %T", x)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected ids %T", v)
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
