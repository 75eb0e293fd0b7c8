package store

import (
	"context"
	"time"

	"github.com/arbiterhq/arbiter/internal/model"
)

// DecisionStore persists the append-only decision log.
type DecisionStore struct {
	q Querier
}

// NewDecisionStore creates a DecisionStore over a Querier.
func NewDecisionStore(q Querier) *DecisionStore {
	return &DecisionStore{q: q}
}

// Insert appends a signed decision record. A uniqueness violation on
// event_id comes back as ErrDuplicate and means a concurrent processor won
// the race for this event.
func (ds *DecisionStore) Insert(ctx context.Context, rec *model.DecisionRecord) error {
	return ds.q.Run(ctx, `
		INSERT INTO decision_logs
			(decision_id, tenant_id, event_id, policy_name, provider, decision,
			 risk_score, execution_status, execution_response, full_log_json,
			 timestamp, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DecisionID, rec.TenantID, rec.EventID, rec.PolicyName, rec.Provider,
		string(rec.Decision), rec.RiskScore, string(rec.ExecutionStatus),
		rec.ExecutionResponse, rec.FullLogJSON,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Signature)
}

// GetByEventID looks up the decision for one event. Used by the
// idempotency check and by race-condition recovery.
func (ds *DecisionStore) GetByEventID(ctx context.Context, eventID string) (*model.DecisionRecord, error) {
	return ds.one(ctx, `SELECT * FROM decision_logs WHERE event_id = ?`, eventID)
}

// Get looks up one decision by its primary key.
func (ds *DecisionStore) Get(ctx context.Context, decisionID string) (*model.DecisionRecord, error) {
	return ds.one(ctx, `SELECT * FROM decision_logs WHERE decision_id = ?`, decisionID)
}

// LastSignature returns the chain tail: the signature of the most recently
// inserted record, or "" for an empty log. Insert order, not caller
// wall-clock time, is authoritative.
func (ds *DecisionStore) LastSignature(ctx context.Context) (string, error) {
	rows, err := ds.q.All(ctx,
		`SELECT signature FROM decision_logs ORDER BY rowid DESC LIMIT 1`)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rowString(rows[0], "signature"), nil
}

// AllOrdered returns every decision record in chain order. Insert order
// (rowid) is authoritative: signatures chain in the order records were
// appended, which concurrent callers' wall clocks need not follow.
func (ds *DecisionStore) AllOrdered(ctx context.Context) ([]model.DecisionRecord, error) {
	rows, err := ds.q.All(ctx,
		`SELECT * FROM decision_logs ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	out := make([]model.DecisionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, decisionFromRow(r))
	}
	return out, nil
}

// UpdateExecution transitions execution_status/execution_response after
// human review. These columns are outside the signed payload, so the
// signature chain is untouched.
func (ds *DecisionStore) UpdateExecution(ctx context.Context, decisionID string, status model.ExecutionStatus, response string) error {
	return ds.q.Run(ctx, `
		UPDATE decision_logs SET execution_status = ?, execution_response = ?
		WHERE decision_id = ?`,
		string(status), response, decisionID)
}

// Suspended lists decisions awaiting interactive resolution.
func (ds *DecisionStore) Suspended(ctx context.Context) ([]model.DecisionRecord, error) {
	rows, err := ds.q.All(ctx, `
		SELECT * FROM decision_logs WHERE execution_status = ?
		ORDER BY timestamp ASC`, string(model.ExecSuspended))
	if err != nil {
		return nil, err
	}
	out := make([]model.DecisionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, decisionFromRow(r))
	}
	return out, nil
}

func (ds *DecisionStore) one(ctx context.Context, query string, args ...any) (*model.DecisionRecord, error) {
	rows, err := ds.q.All(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	rec := decisionFromRow(rows[0])
	return &rec, nil
}

func decisionFromRow(r Row) model.DecisionRecord {
	return model.DecisionRecord{
		DecisionID:        rowString(r, "decision_id"),
		TenantID:          rowString(r, "tenant_id"),
		EventID:           rowString(r, "event_id"),
		PolicyName:        rowString(r, "policy_name"),
		Provider:          rowString(r, "provider"),
		Decision:          model.Decision(rowString(r, "decision")),
		RiskScore:         rowInt(r, "risk_score"),
		ExecutionStatus:   model.ExecutionStatus(rowString(r, "execution_status")),
		ExecutionResponse: rowString(r, "execution_response"),
		FullLogJSON:       rowString(r, "full_log_json"),
		Timestamp:         rowTime(r, "timestamp"),
		Signature:         rowString(r, "signature"),
	}
}

func rowString(r Row, col string) string {
	if s, ok := r[col].(string); ok {
		return s
	}
	return ""
}

func rowInt(r Row, col string) int {
	switch n := r[col].(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func rowTime(r Row, col string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, rowString(r, col))
	if err != nil {
		return time.Time{}
	}
	return t
}

func rowTimePtr(r Row, col string) *time.Time {
	s := rowString(r, col)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
