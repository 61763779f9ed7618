package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// runIngestionTool returns the tool definition for run_ingestion
func runIngestionTool() mcp.Tool {
	return mcp.Tool{
		Name:        "run_ingestion",
		Description: "Run one ingestion pass over the configured input directory and report per-file outcomes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"dry_run": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, report which files would be processed without loading or recording anything",
					"default":     false,
				},
			},
		},
	}
}

// fileHistoryTool returns the tool definition for file_history
func fileHistoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "file_history",
		Description: "List registry records for one file name, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file_name": map[string]interface{}{
					"type":        "string",
					"description": "File base name as recorded in the registry, e.g. report.xlsx",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of records to return (1-500)",
					"default":     DefaultHistoryLimit,
					"minimum":     1,
					"maximum":     MaxHistoryLimit,
				},
			},
			Required: []string{"file_name"},
		},
	}
}

// registryStatusTool returns the tool definition for registry_status
func registryStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_status",
		Description: "Summarize the processing registry and report whether a run is in progress",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
