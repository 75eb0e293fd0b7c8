package workspace

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/arbiterhq/arbiter/internal/wal"
)

// RecordInput defines parameters for the workspace_record tool.
type RecordInput struct {
	EventType string         `json:"event_type" jsonschema:"kind of workspace mutation (file_write/file_delete/config_change/note)"`
	Payload   map[string]any `json:"payload,omitempty" jsonschema:"structured details of the mutation"`
}

// RecordOutput confirms the appended entry or reports the halt.
type RecordOutput struct {
	EntryID string `json:"entry_id,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Halted  bool   `json:"halted,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// StatusInput is empty.
type StatusInput struct{}

// StatusOutput reports the log state.
type StatusOutput struct {
	Entries  int    `json:"entries"`
	LastHash string `json:"last_hash,omitempty"`
	SafeMode bool   `json:"safe_mode"`
	WALPath  string `json:"wal_path"`
}

// VerifyInput is empty.
type VerifyInput struct{}

// VerifyOutput reports the chain walk.
type VerifyOutput struct {
	Valid       bool   `json:"valid"`
	Total       int    `json:"total_entries"`
	BrokenIndex int    `json:"broken_index"`
	Details     string `json:"details,omitempty"`
}

// MaterializeInput is empty.
type MaterializeInput struct{}

// MaterializeOutput reports the compaction run or the halt.
type MaterializeOutput struct {
	Folded   int    `json:"folded"`
	Replayed bool   `json:"replayed,omitempty"`
	NewLock  string `json:"new_lock,omitempty"`
	Halted   bool   `json:"halted,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// SafeModeInput toggles the kill switch.
type SafeModeInput struct {
	Enabled bool `json:"enabled" jsonschema:"true engages the kill switch, false releases it"`
}

// SafeModeOutput confirms the new state.
type SafeModeOutput struct {
	SafeMode bool `json:"safe_mode"`
}

const haltedReason = "workspace is in safe mode; mutating operations are halted"

// halted is checked at the start of every mutating handler.
func (s *Server) halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.safeMode
}

func (s *Server) handleRecord(ctx context.Context, req *mcpsdk.CallToolRequest, input RecordInput) (*mcpsdk.CallToolResult, RecordOutput, error) {
	if s.halted() {
		return &mcpsdk.CallToolResult{IsError: true},
			RecordOutput{Halted: true, Reason: haltedReason}, nil
	}
	if input.EventType == "" {
		return &mcpsdk.CallToolResult{IsError: true},
			RecordOutput{Reason: "event_type is required"}, nil
	}
	e, err := s.log.Append(input.EventType, input.Payload)
	if err != nil {
		return nil, RecordOutput{}, err
	}
	return nil, RecordOutput{EntryID: e.ID, Hash: e.Hash}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	return nil, StatusOutput{
		Entries:  s.log.Count(),
		LastHash: s.log.LastHash(),
		SafeMode: s.SafeMode(),
		WALPath:  s.cfg.WALPath,
	}, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyInput) (*mcpsdk.CallToolResult, VerifyOutput, error) {
	res, err := wal.Verify(s.cfg.WALPath)
	if err != nil {
		return nil, VerifyOutput{}, err
	}
	out := VerifyOutput{
		Valid:       res.Valid,
		Total:       res.Total,
		BrokenIndex: res.BrokenIndex,
		Details:     res.Details,
	}
	if !res.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleMaterialize(ctx context.Context, req *mcpsdk.CallToolRequest, input MaterializeInput) (*mcpsdk.CallToolResult, MaterializeOutput, error) {
	if s.halted() {
		return &mcpsdk.CallToolResult{IsError: true},
			MaterializeOutput{Halted: true, Reason: haltedReason}, nil
	}
	if s.cfg.SnapshotPath == "" {
		return &mcpsdk.CallToolResult{IsError: true},
			MaterializeOutput{Reason: "no snapshot path configured"}, nil
	}
	res, err := wal.Materialize(s.cfg.WALPath, s.cfg.SnapshotPath)
	if err != nil {
		return nil, MaterializeOutput{}, err
	}
	return nil, MaterializeOutput{
		Folded:   res.Folded,
		Replayed: res.Replayed,
		NewLock:  res.NewLock,
	}, nil
}

func (s *Server) handleSafeMode(ctx context.Context, req *mcpsdk.CallToolRequest, input SafeModeInput) (*mcpsdk.CallToolResult, SafeModeOutput, error) {
	s.SetSafeMode(input.Enabled)
	return nil, SafeModeOutput{SafeMode: input.Enabled}, nil
}
