// Package wal is the workspace write-ahead log: an append-only file of
// newline-delimited canonical JSON entries, hash-chained with unkeyed
// SHA-256. It shares the chain construction with the audit trail but
// stores a different resource (workspace state mutations) and shares no
// runtime state with the governance pipeline.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/canonical"
	"github.com/arbiterhq/arbiter/internal/chain"
)

// Entry is one WAL line. Hash covers the canonical JSON of the entry with
// the hash field itself removed, so PreviousHash is part of the digest.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    string         `json:"timestamp"`
	EventType    string         `json:"eventType"`
	Payload      map[string]any `json:"payload"`
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previousHash"`
}

// hashBody is the digested portion of an entry.
type hashBody struct {
	ID           string         `json:"id"`
	Timestamp    string         `json:"timestamp"`
	EventType    string         `json:"eventType"`
	Payload      map[string]any `json:"payload"`
	PreviousHash string         `json:"previousHash"`
}

// ComputeHash returns the entry's chain hash from its other fields.
func ComputeHash(e Entry) (string, error) {
	body, err := canonical.Marshal(hashBody{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		EventType:    e.EventType,
		Payload:      e.Payload,
		PreviousHash: e.PreviousHash,
	})
	if err != nil {
		return "", err
	}
	return chain.SHAHasher{}.Digest("", body), nil
}

// Log is an append-only WAL backed by one file. Safe for concurrent use
// within a process; cross-process appends are not coordinated.
type Log struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	lastHash string
	count    int
}

// Open opens or creates the log and recovers the chain tail by scanning
// existing entries, so appends continue the chain across restarts.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	l := &Log{path: path, file: f}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: corrupt entry at line %d: %w", l.count+1, err)
		}
		l.lastHash = e.Hash
		l.count++
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: scan %s: %w", path, err)
	}
	return l, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// LastHash returns the chain tail, or "" for an empty log.
func (l *Log) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Count returns the number of entries.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Append writes one entry chained to the current tail and fsyncs it.
func (l *Log) Append(eventType string, payload map[string]any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		EventType:    eventType,
		Payload:      payload,
		PreviousHash: l.lastHash,
	}
	h, err := ComputeHash(e)
	if err != nil {
		return nil, fmt.Errorf("wal: hash entry: %w", err)
	}
	e.Hash = h

	line, err := canonical.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("wal: encode entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("wal: append: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return nil, fmt.Errorf("wal: sync: %w", err)
	}
	l.lastHash = e.Hash
	l.count++
	return &e, nil
}

// ReadAll returns every entry in file order.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("wal: corrupt entry at index %d: %w", len(out), err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify walks the log, checking both that each entry's previousHash
// matches the prior entry's stored hash and that each entry's own hash
// recomputes correctly, and reports the first mismatch.
func Verify(path string) (chain.VerifyResult, error) {
	entries, err := ReadAll(path)
	if err != nil {
		return chain.VerifyResult{}, err
	}
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev {
			return chain.VerifyResult{
				Total:       len(entries),
				BrokenIndex: i,
				Details: fmt.Sprintf("entry %s: previousHash %q does not match prior hash %q",
					e.ID, e.PreviousHash, prev),
			}, nil
		}
		want, err := ComputeHash(e)
		if err != nil {
			return chain.VerifyResult{}, err
		}
		if e.Hash != want {
			return chain.VerifyResult{
				Total:       len(entries),
				BrokenIndex: i,
				Details:     fmt.Sprintf("entry %s: stored hash %q, recomputed %q", e.ID, e.Hash, want),
			}, nil
		}
		prev = e.Hash
	}
	return chain.VerifyResult{Valid: true, Total: len(entries), BrokenIndex: -1}, nil
}
