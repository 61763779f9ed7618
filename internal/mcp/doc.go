// Package mcp implements the Model Context Protocol (MCP) server for sheetload.
//
// The MCP server exposes three tools to agents and operators:
//   - run_ingestion: Run one ingestion pass, optionally as a dry run
//   - file_history: List registry records for a file, newest first
//   - registry_status: Summarize the registry and report a run in progress
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started via the serve command:
//
//	sheetload serve --config sheetload.yaml
//
// # Tool: run_ingestion
//
//	Request:
//	{
//	  "name": "run_ingestion",
//	  "arguments": {"dry_run": true}
//	}
//
//	Response:
//	{
//	  "run_id": "6f1c...",
//	  "dry_run": true,
//	  "exit_code": 0,
//	  "discovered": 3,
//	  "processed": 1,
//	  "skipped": 2,
//	  "failed": 0,
//	  "files": [{"path": "/data/in/report.xlsx", "state": "PROCESSED", "dry_run": true}]
//	}
//
// Runs share the process-wide run lock with the scheduler; a call made while
// a run is going fails with code -32002.
//
// # Tool: file_history
//
//	Request:
//	{
//	  "name": "file_history",
//	  "arguments": {"file_name": "report.xlsx", "limit": 5}
//	}
//
//	Response:
//	{
//	  "file_name": "report.xlsx",
//	  "count": 2,
//	  "current_checksum": "9f86d0...",
//	  "records": [
//	    {"id": 7, "status": "SUCCESS", "checksum": "9f86d0...", "row_count": 120, "processed_at": "..."},
//	    {"id": 4, "status": "FAILED", "checksum": "41ab9c...", "error_message": "...", "processed_at": "..."}
//	  ]
//	}
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (registry unreachable)
//   - -32002: Run in progress
//
// # Logging
//
// Stdout is reserved for the protocol; the slog logger writes to stderr.
package mcp
