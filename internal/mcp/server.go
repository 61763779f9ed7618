package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/sheetload/internal/pipeline"
	"github.com/dshills/sheetload/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "sheetload"
	// DefaultHistoryLimit is used when file_history omits limit
	DefaultHistoryLimit = 20
	// MaxHistoryLimit bounds file_history responses
	MaxHistoryLimit = 500
)

// Runner triggers ingestion runs
type Runner interface {
	Run(ctx context.Context) *pipeline.Result
	RunDryRun(ctx context.Context) *pipeline.Result
	Running() bool
}

// RegistryReader exposes registry queries
type RegistryReader interface {
	History(ctx context.Context, fileName string, limit int) ([]*storage.FileRecord, error)
	Stats(ctx context.Context) (*storage.RegistryStats, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	runner   Runner
	registry RegistryReader
}

// NewServer creates a new MCP server instance
func NewServer(runner Runner, registry RegistryReader, version string) (*Server, error) {
	if runner == nil || registry == nil {
		return nil, errors.New("mcp: runner and registry are required")
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version),
		runner:   runner,
		registry: registry,
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until the client disconnects
func (s *Server) Serve(_ context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(runIngestionTool(), s.handleRunIngestion)
	s.mcp.AddTool(fileHistoryTool(), s.handleFileHistory)
	s.mcp.AddTool(registryStatusTool(), s.handleRegistryStatus)
}
