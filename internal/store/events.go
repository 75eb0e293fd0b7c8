package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arbiterhq/arbiter/internal/model"
)

// EventStore persists accepted event envelopes with their own hash chain.
type EventStore struct {
	q Querier
}

// NewEventStore creates an EventStore over a Querier.
func NewEventStore(q Querier) *EventStore {
	return &EventStore{q: q}
}

// Insert stores an accepted envelope. payloadHash and previousHash are the
// event chain columns computed by the caller; the payload itself is
// immutable after this point.
func (es *EventStore) Insert(ctx context.Context, e *model.EventEnvelope, payloadJSON, payloadHash, previousHash string) error {
	return es.q.Run(ctx, `
		INSERT INTO events_store
			(event_id, tenant_id, event_type, payload, source, timestamp,
			 status, hash, previous_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.TenantID, e.EventType, payloadJSON, e.Source,
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
		string(model.EventPending), payloadHash, previousHash)
}

// LastHash returns the event chain tail, or "" for an empty store.
func (es *EventStore) LastHash(ctx context.Context) (string, error) {
	rows, err := es.q.All(ctx,
		`SELECT hash FROM events_store ORDER BY rowid DESC LIMIT 1`)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rowString(rows[0], "hash"), nil
}

// SetStatus advances the coarse lifecycle column. The payload never changes.
func (es *EventStore) SetStatus(ctx context.Context, eventID string, status model.EventStatus) error {
	return es.q.Run(ctx,
		`UPDATE events_store SET status = ? WHERE event_id = ?`,
		string(status), eventID)
}

// Chain returns payloads and stored hashes in chain order for
// verification. Insert order (rowid) is authoritative, matching the order
// hashes were computed in.
func (es *EventStore) Chain(ctx context.Context) (payloads [][]byte, hashes []string, err error) {
	rows, err := es.q.All(ctx,
		`SELECT payload, hash FROM events_store ORDER BY rowid ASC`)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range rows {
		payloads = append(payloads, []byte(rowString(r, "payload")))
		hashes = append(hashes, rowString(r, "hash"))
	}
	return payloads, hashes, nil
}

// Get returns one stored envelope.
func (es *EventStore) Get(ctx context.Context, eventID string) (*model.EventEnvelope, model.EventStatus, error) {
	rows, err := es.q.All(ctx, `SELECT * FROM events_store WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, "", err
	}
	if len(rows) == 0 {
		return nil, "", ErrNotFound
	}
	r := rows[0]
	// The payload column holds the canonical envelope JSON (the chained
	// bytes); unwrap the inner payload for callers.
	var env map[string]any
	_ = json.Unmarshal([]byte(rowString(r, "payload")), &env)
	payload, _ := env["payload"].(map[string]any)
	return &model.EventEnvelope{
		EventID:    rowString(r, "event_id"),
		TenantID:   rowString(r, "tenant_id"),
		EventType:  rowString(r, "event_type"),
		Source:     rowString(r, "source"),
		OccurredAt: rowTime(r, "timestamp"),
		Payload:    payload,
	}, model.EventStatus(rowString(r, "status")), nil
}
