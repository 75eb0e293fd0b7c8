package workspace

import (
	"context"
	"path/filepath"
	"testing"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{
		WALPath:      filepath.Join(dir, "workspace.wal"),
		SnapshotPath: filepath.Join(dir, "snapshot.md"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAppendsChainedEntry(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	res, out, err := s.handleRecord(ctx, nil, RecordInput{
		EventType: "file_write",
		Payload:   map[string]any{"path": "notes.md"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res != nil {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if out.EntryID == "" || out.Hash == "" {
		t.Fatalf("entry not recorded: %+v", out)
	}

	_, status, err := s.handleStatus(ctx, nil, StatusInput{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Entries != 1 || status.LastHash != out.Hash {
		t.Fatalf("status = %+v, want 1 entry with tail %s", status, out.Hash)
	}
}

func TestRecordRequiresEventType(t *testing.T) {
	s := newServer(t)

	res, out, err := s.handleRecord(context.Background(), nil, RecordInput{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res == nil || !res.IsError {
		t.Fatal("missing event_type should be an error result")
	}
	if out.EntryID != "" {
		t.Fatal("nothing should have been appended")
	}
}

func TestSafeModeHaltsMutatingTools(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	if _, _, err := s.handleRecord(ctx, nil, RecordInput{EventType: "note"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, smOut, err := s.handleSafeMode(ctx, nil, SafeModeInput{Enabled: true})
	if err != nil {
		t.Fatalf("safe mode: %v", err)
	}
	if !smOut.SafeMode {
		t.Fatal("safe mode should report engaged")
	}

	res, out, err := s.handleRecord(ctx, nil, RecordInput{EventType: "note"})
	if err != nil {
		t.Fatalf("record while halted: %v", err)
	}
	if res == nil || !res.IsError || !out.Halted {
		t.Fatalf("record should halt in safe mode, got res=%+v out=%+v", res, out)
	}

	res, mout, err := s.handleMaterialize(ctx, nil, MaterializeInput{})
	if err != nil {
		t.Fatalf("materialize while halted: %v", err)
	}
	if res == nil || !res.IsError || !mout.Halted {
		t.Fatalf("materialize should halt in safe mode, got res=%+v out=%+v", res, mout)
	}

	// Read-only tools keep working while halted.
	_, status, err := s.handleStatus(ctx, nil, StatusInput{})
	if err != nil {
		t.Fatalf("status while halted: %v", err)
	}
	if status.Entries != 1 || !status.SafeMode {
		t.Fatalf("status = %+v, want 1 entry with safe mode on", status)
	}

	if _, _, err := s.handleSafeMode(ctx, nil, SafeModeInput{Enabled: false}); err != nil {
		t.Fatalf("release safe mode: %v", err)
	}
	res, out, err = s.handleRecord(ctx, nil, RecordInput{EventType: "note"})
	if err != nil {
		t.Fatalf("record after release: %v", err)
	}
	if res != nil || out.Halted {
		t.Fatal("record should succeed after safe mode is released")
	}
}

func TestVerifyToolReportsIntactChain(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	for _, et := range []string{"file_write", "config_change"} {
		if _, _, err := s.handleRecord(ctx, nil, RecordInput{EventType: et}); err != nil {
			t.Fatalf("record %s: %v", et, err)
		}
	}

	res, out, err := s.handleVerify(ctx, nil, VerifyInput{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res != nil {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if !out.Valid || out.Total != 2 || out.BrokenIndex != -1 {
		t.Fatalf("verify = %+v, want valid chain of 2", out)
	}
}

func TestMaterializeToolFoldsLog(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	if _, _, err := s.handleRecord(ctx, nil, RecordInput{
		EventType: "file_write",
		Payload:   map[string]any{"path": "a.md"},
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	res, out, err := s.handleMaterialize(ctx, nil, MaterializeInput{})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if res != nil {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if out.Folded != 1 || out.NewLock == "" {
		t.Fatalf("materialize = %+v, want 1 folded with a new lock", out)
	}
}
