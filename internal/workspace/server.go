// Package workspace exposes the sandboxed workspace runtime over MCP:
// recording mutating intents to the write-ahead log, verifying the log,
// compacting it into a snapshot, and a process-wide safe-mode kill switch
// that halts every mutating tool.
package workspace

import (
	"context"
	"fmt"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/arbiterhq/arbiter/internal/wal"
)

// Config holds workspace server configuration.
type Config struct {
	WALPath      string
	SnapshotPath string
}

// Server wraps the MCP SDK server around one workspace WAL.
type Server struct {
	mcpServer *mcpsdk.Server
	log       *wal.Log
	cfg       Config

	mu       sync.Mutex
	safeMode bool
}

// New opens the workspace log and registers the tools.
func New(cfg Config) (*Server, error) {
	if cfg.WALPath == "" {
		return nil, fmt.Errorf("workspace: WAL path is required")
	}
	l, err := wal.Open(cfg.WALPath)
	if err != nil {
		return nil, err
	}

	s := &Server{log: l, cfg: cfg}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "arbiter-workspace",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the underlying log.
func (s *Server) Close() error {
	return s.log.Close()
}

// SafeMode reports whether the kill switch is engaged.
func (s *Server) SafeMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.safeMode
}

// SetSafeMode flips the kill switch.
func (s *Server) SetSafeMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safeMode = on
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "workspace_record",
		Description: "Record a mutating workspace intent to the hash-chained write-ahead log.",
	}, s.handleRecord)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "workspace_status",
		Description: "Report the workspace log size, chain tail, and safe-mode state.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "wal_verify",
		Description: "Verify the write-ahead log's hash chain end to end and report the first break.",
	}, s.handleVerify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "workspace_materialize",
		Description: "Fold pending log entries into the snapshot and advance its context lock.",
	}, s.handleMaterialize)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "safe_mode",
		Description: "Engage or release the workspace kill switch. While engaged, every mutating tool halts without effect.",
	}, s.handleSafeMode)
}
