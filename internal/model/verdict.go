package model

// Decision is the governance outcome for one event.
type Decision string

const (
	Allow    Decision = "ALLOW"
	Deny     Decision = "DENY"
	Escalate Decision = "ESCALATE"
	Monitor  Decision = "MONITOR"
)

// Canonical scores implied by a bare verdict when a policy returns no
// explicit score. Used by risk aggregation.
const (
	DenyScore     = 100
	EscalateScore = 50
)

// Verdict is the normalized result of one policy evaluation. Policies may
// return either a bare decision (legacy) or a scored result; Normalize
// collapses both shapes so the pipeline consumes exactly one.
type Verdict struct {
	Decision Decision `json:"decision"`
	Score    int      `json:"score"`
	Reason   string   `json:"reason,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	// scored records whether the policy supplied an explicit score.
	scored bool
}

// Simple wraps a bare decision string into a Verdict. DENY and ESCALATE
// imply their canonical scores.
func Simple(d Decision) Verdict {
	return Verdict{Decision: d, Score: impliedScore(d)}
}

// Scored builds a Verdict with an explicit score and reason.
func Scored(d Decision, score int, reason string) Verdict {
	return Verdict{Decision: d, Score: score, Reason: reason, scored: true}
}

// Normalize clamps the score into [0,100] and backfills the canonical
// score when the policy supplied none.
func (v Verdict) Normalize() Verdict {
	if !v.scored && v.Score == 0 {
		v.Score = impliedScore(v.Decision)
	}
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 100 {
		v.Score = 100
	}
	if v.Decision == "" {
		v.Decision = Allow
	}
	return v
}

func impliedScore(d Decision) int {
	switch d {
	case Deny:
		return DenyScore
	case Escalate:
		return EscalateScore
	default:
		return 0
	}
}

// Restrictiveness orders decisions from least to most restrictive.
// Used to guarantee the global override never downgrades a policy verdict.
func Restrictiveness(d Decision) int {
	switch d {
	case Allow, Monitor:
		return 0
	case Escalate:
		return 1
	case Deny:
		return 2
	default:
		return 0
	}
}

// ParseDecision maps a string to a Decision. Fail-closed: unknown values
// become Deny.
func ParseDecision(s string) Decision {
	switch Decision(s) {
	case Allow, Deny, Escalate, Monitor:
		return Decision(s)
	default:
		return Deny
	}
}
