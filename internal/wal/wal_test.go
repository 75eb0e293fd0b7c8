package wal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workspace.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestAppendChainsEntries(t *testing.T) {
	l, path := testLog(t)

	e1, err := l.Append("file_write", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if e1.PreviousHash != "" {
		t.Fatalf("genesis previousHash = %q, want empty", e1.PreviousHash)
	}

	e2, err := l.Append("file_write", map[string]any{"path": "b.txt"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if e2.PreviousHash != e1.Hash {
		t.Fatalf("previousHash = %q, want %q", e2.PreviousHash, e1.Hash)
	}

	res, err := Verify(path)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.Total != 2 {
		t.Fatalf("verify: %+v", res)
	}
}

func TestOpenRecoversChainTail(t *testing.T) {
	l, path := testLog(t)
	l.Append("note", map[string]any{"note": "one"})
	last, _ := l.Append("note", map[string]any{"note": "two"})
	l.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.LastHash() != last.Hash {
		t.Fatalf("tail not recovered: %q vs %q", reopened.LastHash(), last.Hash)
	}

	next, err := reopened.Append("note", map[string]any{"note": "three"})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if next.PreviousHash != last.Hash {
		t.Fatal("appended entry does not continue the chain")
	}
	if res, _ := Verify(path); !res.Valid || res.Total != 3 {
		t.Fatalf("chain broken across restart: %+v", res)
	}
}

func TestVerifyDetectsEditedPayload(t *testing.T) {
	l, path := testLog(t)
	l.Append("file_write", map[string]any{"path": "a.txt"})
	l.Append("file_write", map[string]any{"path": "b.txt"})
	l.Append("file_write", map[string]any{"path": "c.txt"})
	l.Close()

	raw, _ := os.ReadFile(path)
	tampered := strings.Replace(string(raw), "b.txt", "evil.txt", 1)
	os.WriteFile(path, []byte(tampered), 0600)

	res, err := Verify(path)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatal("edited payload accepted")
	}
	if res.BrokenIndex != 1 {
		t.Fatalf("broken index = %d, want 1", res.BrokenIndex)
	}
}

func TestVerifyDetectsBrokenLinkage(t *testing.T) {
	l, path := testLog(t)
	l.Append("note", map[string]any{"note": "one"})
	l.Append("note", map[string]any{"note": "two"})
	l.Close()

	// Delete the first line: the second entry's previousHash now points
	// at a missing predecessor.
	raw, _ := os.ReadFile(path)
	lines := strings.SplitN(string(raw), "\n", 2)
	os.WriteFile(path, []byte(lines[1]), 0600)

	res, _ := Verify(path)
	if res.Valid || res.BrokenIndex != 0 {
		t.Fatalf("broken linkage not reported at 0: %+v", res)
	}
}

func TestVerifyEmptyOrMissingLog(t *testing.T) {
	res, err := Verify(filepath.Join(t.TempDir(), "missing.wal"))
	if err != nil {
		t.Fatalf("missing log: %v", err)
	}
	if !res.Valid || res.Total != 0 {
		t.Fatalf("missing log: %+v", res)
	}
}

func TestEntriesAreCanonicalJSONLines(t *testing.T) {
	l, path := testLog(t)
	l.Append("note", map[string]any{"z": 1, "a": 2})
	l.Close()

	raw, _ := os.ReadFile(path)
	line := strings.TrimSpace(string(raw))
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		t.Fatalf("line not JSON: %v", err)
	}
	if strings.Index(line, `"a"`) > strings.Index(line, `"z"`) {
		t.Fatalf("keys not canonical: %s", line)
	}
}

func FuzzVerify(f *testing.F) {
	dir := f.TempDir()
	valid := filepath.Join(dir, "valid.wal")
	l, err := Open(valid)
	if err != nil {
		f.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		l.Append("note", map[string]any{"i": i})
	}
	l.Close()
	validData, _ := os.ReadFile(valid)
	f.Add(validData)
	f.Add([]byte{})
	f.Add([]byte(`{"not":"an entry"}` + "\n"))
	f.Add([]byte(`garbage`))

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "fuzz.wal")
		os.WriteFile(path, data, 0600)
		// Must never panic; malformed input is an error or an invalid
		// result, never a crash.
		Verify(path)
	})
}
