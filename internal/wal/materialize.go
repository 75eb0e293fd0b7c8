package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Snapshot is the compacted view of a WAL. The front matter carries
// context_lock, the hash of the last entry already folded in; entries
// strictly after that hash are pending.
type Snapshot struct {
	ContextLock string
	UpdatedAt   string
	Body        string
}

const frontMatterDelim = "---"

// ParseSnapshot decodes a snapshot document. A missing file yields an
// empty snapshot (everything pending).
func ParseSnapshot(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("wal: read snapshot %s: %w", path, err)
	}
	s := &Snapshot{Body: string(raw)}
	lines := strings.Split(string(raw), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelim {
		return s, nil
	}
	for i := 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == frontMatterDelim {
			s.Body = strings.Join(lines[i+1:], "\n")
			break
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "context_lock":
			s.ContextLock = strings.TrimSpace(val)
		case "updated":
			s.UpdatedAt = strings.TrimSpace(val)
		}
	}
	return s, nil
}

// Render writes the snapshot back out as front matter plus body.
func (s *Snapshot) Render() string {
	var b strings.Builder
	b.WriteString(frontMatterDelim + "\n")
	fmt.Fprintf(&b, "context_lock: %s\n", s.ContextLock)
	fmt.Fprintf(&b, "updated: %s\n", s.UpdatedAt)
	b.WriteString(frontMatterDelim + "\n")
	b.WriteString(s.Body)
	return b.String()
}

// MaterializeResult reports what a compaction run folded.
type MaterializeResult struct {
	Folded     int    `json:"folded"`
	Replayed   bool   `json:"replayed"`
	NewLock    string `json:"new_lock,omitempty"`
	TotalInLog int    `json:"total_in_log"`
}

// Materialize folds pending WAL entries into the snapshot and advances
// context_lock to the newest folded entry's hash. If the lock is not
// present in the current log (rotation, truncation), the entire log is
// replayed rather than erroring.
func Materialize(logPath, snapshotPath string) (*MaterializeResult, error) {
	entries, err := ReadAll(logPath)
	if err != nil {
		return nil, err
	}
	snap, err := ParseSnapshot(snapshotPath)
	if err != nil {
		return nil, err
	}

	start := 0
	replayed := false
	if snap.ContextLock != "" {
		idx := -1
		for i, e := range entries {
			if e.Hash == snap.ContextLock {
				idx = i
				break
			}
		}
		if idx >= 0 {
			start = idx + 1
		} else {
			replayed = true
			snap.Body = ""
		}
	}

	pending := entries[start:]
	res := &MaterializeResult{
		Folded:     len(pending),
		Replayed:   replayed,
		TotalInLog: len(entries),
	}
	if len(pending) == 0 && !replayed {
		res.NewLock = snap.ContextLock
		return res, nil
	}

	var b strings.Builder
	b.WriteString(snap.Body)
	if snap.Body != "" && !strings.HasSuffix(snap.Body, "\n") {
		b.WriteString("\n")
	}
	for _, e := range pending {
		b.WriteString(summarize(e))
		b.WriteString("\n")
	}
	snap.Body = b.String()
	if len(entries) > 0 {
		snap.ContextLock = entries[len(entries)-1].Hash
	} else {
		// Replaying an empty log: the old lock resolves nowhere, so keeping
		// it would force a replay on every future run. Drop it.
		snap.ContextLock = ""
	}
	snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	res.NewLock = snap.ContextLock

	if err := writeAtomic(snapshotPath, []byte(snap.Render())); err != nil {
		return nil, err
	}
	return res, nil
}

// summarize renders one entry as a human-readable snapshot line.
func summarize(e Entry) string {
	var parts []string
	for _, k := range []string{"path", "action", "note", "status"} {
		if v, ok := e.Payload[k].(string); ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	detail := ""
	if len(parts) > 0 {
		detail = " (" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprintf("- %s %s%s [%s]", e.Timestamp, e.EventType, detail, shortHash(e.Hash))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func writeAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("wal: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("wal: replace snapshot: %w", err)
	}
	return nil
}
