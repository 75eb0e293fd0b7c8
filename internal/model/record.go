package model

import "time"

// ExecutionStatus tracks what happened to a decision after it was signed.
// It is not part of the signed payload, so post-hoc transitions (human
// review, scanner override) never break the hash chain.
type ExecutionStatus string

const (
	ExecProcessed ExecutionStatus = "processed"
	ExecSuspended ExecutionStatus = "suspended"
	ExecPending   ExecutionStatus = "pending_review"
	ExecApproved  ExecutionStatus = "approved"
	ExecRejected  ExecutionStatus = "rejected"
	ExecMonitor   ExecutionStatus = "MONITOR"
)

// DecisionRecord is one persisted, append-only decision_logs row.
// The signed payload (FullLogJSON) is immutable forever; only
// ExecutionStatus and ExecutionResponse may transition afterwards.
type DecisionRecord struct {
	DecisionID        string          `json:"decision_id"`
	TenantID          string          `json:"tenant_id"`
	EventID           string          `json:"event_id"`
	PolicyName        string          `json:"policy_name"`
	Provider          string          `json:"provider"`
	Decision          Decision        `json:"decision"`
	RiskScore         int             `json:"risk_score"`
	ExecutionStatus   ExecutionStatus `json:"execution_status"`
	ExecutionResponse string          `json:"execution_response,omitempty"`
	FullLogJSON       string          `json:"full_log_json"`
	Timestamp         time.Time       `json:"timestamp"`
	Signature         string          `json:"signature"`
}

// ReviewStatus is the lifecycle of a pending human review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// PendingReview is created exactly once per ESCALATE decision and is
// terminal once approved or rejected.
type PendingReview struct {
	ReviewID         string       `json:"review_id"`
	EventID          string       `json:"event_id"`
	TenantID         string       `json:"tenant_id"`
	DecisionID       string       `json:"decision_id"`
	Status           ReviewStatus `json:"status"`
	EscalationReason string       `json:"escalation_reason"`
	ReviewerID       string       `json:"reviewer_id,omitempty"`
	ReviewedAt       *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// OutcomeStatus is the client-visible status of one governance call.
type OutcomeStatus string

const (
	StatusProcessed OutcomeStatus = "processed"
	StatusDuplicate OutcomeStatus = "processed_duplicate"
	StatusPending   OutcomeStatus = "pending_review"
	StatusSuspended OutcomeStatus = "suspended"
	StatusRejected  OutcomeStatus = "rejected"
)

// Outcome is the wire contract for one governance call.
type Outcome struct {
	DecisionID      string           `json:"decision_id"`
	Status          OutcomeStatus    `json:"status"`
	Decision        Decision         `json:"decision"`
	Provider        string           `json:"provider"`
	LatencyMS       int64            `json:"latency_ms"`
	PolicyID        string           `json:"policy_id,omitempty"`
	ReviewID        string           `json:"review_id,omitempty"`
	TraceID         string           `json:"trace_id"`
	Reason          string           `json:"reason,omitempty"`
	ScannerOverride bool             `json:"scanner_override,omitempty"`
	StageLatency    map[string]int64 `json:"stage_latency_ms,omitempty"`
}
