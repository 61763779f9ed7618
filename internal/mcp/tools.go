package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/sheetload/internal/pipeline"
	"github.com/dshills/sheetload/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeRunInProgress = -32002 // Another run is already going
)

// handleRunIngestion handles the run_ingestion tool invocation
func (s *Server) handleRunIngestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	dryRun := getBoolDefault(args, "dry_run", false)

	if s.runner.Running() {
		return nil, newMCPError(ErrorCodeRunInProgress, "a run is already in progress", nil)
	}

	var result *pipeline.Result
	if dryRun {
		result = s.runner.RunDryRun(ctx)
	} else {
		result = s.runner.Run(ctx)
	}
	if errors.Is(result.Err, pipeline.ErrRunInProgress) {
		return nil, newMCPError(ErrorCodeRunInProgress, "a run is already in progress", nil)
	}

	response := map[string]interface{}{
		"run_id":      result.RunID,
		"dry_run":     result.DryRun,
		"exit_code":   result.ExitCode,
		"discovered":  result.Discovered,
		"processed":   result.Processed,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"duration_ms": result.Duration().Milliseconds(),
		"files":       result.Files,
	}
	if result.Error != "" {
		response["error"] = result.Error
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleFileHistory handles the file_history tool invocation
func (s *Server) handleFileHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	fileName, ok := args["file_name"].(string)
	if !ok || fileName == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "file_name parameter is required", map[string]interface{}{
			"param":  "file_name",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", DefaultHistoryLimit)
	if limit < 1 || limit > MaxHistoryLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", MaxHistoryLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	records, err := s.registry.History(ctx, fileName, limit)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read registry history", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		out = append(out, formatRecord(r))
	}

	response := map[string]interface{}{
		"file_name": fileName,
		"count":     len(out),
		"records":   out,
	}
	if len(records) > 0 && records[0].Status == storage.StatusSuccess {
		response["current_checksum"] = records[0].Checksum
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRegistryStatus handles the registry_status tool invocation
func (s *Server) handleRegistryStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get registry status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"run_in_progress": s.runner.Running(),
		"statistics": map[string]interface{}{
			"total_records":   stats.TotalRecords,
			"success_records": stats.SuccessRecords,
			"failed_records":  stats.FailedRecords,
			"distinct_files":  stats.DistinctFiles,
		},
	}
	if !stats.LastProcessedAt.IsZero() {
		response["last_processed_at"] = stats.LastProcessedAt.UTC().Format(time.RFC3339Nano)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func formatRecord(r *storage.FileRecord) map[string]interface{} {
	out := map[string]interface{}{
		"id":           r.ID,
		"checksum":     r.Checksum,
		"processed_at": r.ProcessedAt.UTC().Format(time.RFC3339Nano),
		"status":       string(r.Status),
	}
	if r.ErrorMessage != nil {
		out["error_message"] = *r.ErrorMessage
	}
	if r.RowCount != nil {
		out["row_count"] = *r.RowCount
	}
	return out
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}
