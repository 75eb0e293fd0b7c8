package policy

import (
	"strings"

	"github.com/arbiterhq/arbiter/internal/model"
)

// Global risk thresholds. Independent of any single policy author's
// correctness: the pipeline applies them to every verdict.
const (
	DenyThreshold     = 80
	EscalateThreshold = 30
	MaxScore          = 100
)

// Aggregate folds multiple risk contributions into one verdict: scores sum
// capped at MaxScore, any explicit DENY forces DENY, and the summed score
// maps through the global thresholds.
func Aggregate(contribs []model.Verdict) model.Verdict {
	if len(contribs) == 0 {
		return model.Simple(model.Allow)
	}

	total := 0
	forceDeny := false
	var reasons []string
	for _, c := range contribs {
		c = c.Normalize()
		total += c.Score
		if c.Decision == model.Deny {
			forceDeny = true
		}
		if c.Reason != "" {
			reasons = append(reasons, c.Reason)
		}
	}
	if total > MaxScore {
		total = MaxScore
	}

	decision := model.Allow
	switch {
	case forceDeny || total >= DenyThreshold:
		decision = model.Deny
	case total >= EscalateThreshold:
		decision = model.Escalate
	}

	return model.Scored(decision, total, strings.Join(reasons, "; "))
}

// Override applies the global risk-threshold safety net to a single policy
// verdict. The effective decision is never LESS restrictive than the
// policy's own: a score can escalate or deny an ALLOW, but a
// policy-originated DENY or ESCALATE is never downgraded.
func Override(v model.Verdict) model.Verdict {
	v = v.Normalize()
	forced := v.Decision
	switch {
	case v.Score >= DenyThreshold:
		forced = model.Deny
	case v.Score >= EscalateThreshold && v.Decision == model.Allow:
		forced = model.Escalate
	}
	if model.Restrictiveness(forced) > model.Restrictiveness(v.Decision) {
		v.Decision = forced
	}
	return v
}
