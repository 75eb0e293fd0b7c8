package model

import "time"

// RiskLevel classifies a proposal's self-reported risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskRank maps risk levels to a comparable integer for monotonic comparisons.
var RiskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// EventStatus is the coarse lifecycle column on a stored event.
// An event's payload is immutable once accepted; only this advances.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventReviewed  EventStatus = "reviewed"
	EventRejected  EventStatus = "rejected"
)

// EventEnvelope is the canonical immutable input record.
// EventID is the idempotency key: the pipeline produces at most one
// effective decision per EventID regardless of redelivery.
type EventEnvelope struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Source        string         `json:"source"`
	TenantID      string         `json:"tenant_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Explanation carries the provider's reasoning for a proposal.
type Explanation struct {
	Summary      string   `json:"summary"`
	Rationale    string   `json:"rationale,omitempty"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

// Proposal is a candidate action plus confidence/risk metadata, produced
// by the proposal provider before governance review.
type Proposal struct {
	ProposalID        string         `json:"proposal_id"`
	ProcessID         string         `json:"process_id,omitempty"`
	CurrentState      string         `json:"current_state,omitempty"`
	RecommendedAction string         `json:"recommended_action"`
	ActionParams      map[string]any `json:"action_params,omitempty"`
	Explanation       Explanation    `json:"explanation"`
	Confidence        float64        `json:"confidence"`
	RiskLevel         RiskLevel      `json:"risk_level"`
}

// Defaults applied to partial provider output so downstream code never
// sees missing fields.
const (
	DefaultAction     = "log_info"
	DefaultConfidence = 0.5
)

// CoerceDefaults fills missing fields with safe defaults and clamps
// confidence into [0,1].
func (p *Proposal) CoerceDefaults() {
	if p.RecommendedAction == "" {
		p.RecommendedAction = DefaultAction
	}
	if p.Confidence == 0 {
		p.Confidence = DefaultConfidence
	}
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
	if _, known := RiskRank[p.RiskLevel]; !known {
		p.RiskLevel = RiskMedium
	}
	if p.ActionParams == nil {
		p.ActionParams = map[string]any{}
	}
	if p.Explanation.Summary == "" {
		p.Explanation.Summary = "no explanation provided"
	}
}

// ProposalFromMap creates a Proposal from a raw map with defensive coercion.
// Mistyped fields fall back to defaults rather than erroring.
func ProposalFromMap(m map[string]any) *Proposal {
	p := &Proposal{}
	if m == nil {
		p.CoerceDefaults()
		return p
	}
	if s, ok := m["proposal_id"].(string); ok {
		p.ProposalID = s
	}
	if s, ok := m["process_id"].(string); ok {
		p.ProcessID = s
	}
	if s, ok := m["current_state"].(string); ok {
		p.CurrentState = s
	}
	if s, ok := m["recommended_action"].(string); ok {
		p.RecommendedAction = s
	}
	if ap, ok := m["action_params"].(map[string]any); ok {
		p.ActionParams = ap
	}
	if c, ok := toFloat(m["confidence"]); ok {
		p.Confidence = c
	}
	if s, ok := m["risk_level"].(string); ok {
		p.RiskLevel = RiskLevel(s)
	}
	if ex, ok := m["explanation"].(map[string]any); ok {
		if s, ok := ex["summary"].(string); ok {
			p.Explanation.Summary = s
		}
		if s, ok := ex["rationale"].(string); ok {
			p.Explanation.Rationale = s
		}
		if refs, ok := ex["evidence_refs"].([]any); ok {
			for _, r := range refs {
				if s, ok := r.(string); ok {
					p.Explanation.EvidenceRefs = append(p.Explanation.EvidenceRefs, s)
				}
			}
		}
	}
	p.CoerceDefaults()
	return p
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
