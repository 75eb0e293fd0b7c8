package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/ratelimit"
)

// DefaultWhitelist are actions the fallback policy considers routine.
var DefaultWhitelist = []string{
	"log_info",
	"send_message",
	"update_record",
	"schedule_followup",
}

// ConfidenceFloor below which the fallback policy escalates regardless of
// the action.
const ConfidenceFloor = 0.6

// Default is the fallback "confidence + whitelist" policy used when no
// registered prefix matches an event type.
func Default(whitelist []string) Policy {
	if len(whitelist) == 0 {
		whitelist = DefaultWhitelist
	}
	allowed := make(map[string]bool, len(whitelist))
	for _, a := range whitelist {
		allowed[a] = true
	}
	return Func{
		Name: "default.confidence_whitelist",
		Fn: func(_ context.Context, p *model.Proposal, _ *model.EventEnvelope) (model.Verdict, error) {
			if p.RiskLevel == model.RiskCritical {
				return model.Scored(model.Deny, model.DenyScore,
					"proposal self-reports critical risk"), nil
			}
			if !allowed[p.RecommendedAction] {
				return model.Scored(model.Escalate, model.EscalateScore,
					fmt.Sprintf("action %q is not whitelisted", p.RecommendedAction)), nil
			}
			if p.Confidence < ConfidenceFloor {
				return model.Scored(model.Escalate, model.EscalateScore,
					fmt.Sprintf("confidence %.2f below floor %.2f", p.Confidence, ConfidenceFloor)), nil
			}
			return model.Simple(model.Allow), nil
		},
	}
}

// BusinessHours escalates actions proposed outside the allowed UTC window.
// Hours are half-open: [open, close).
type BusinessHours struct {
	OpenHour  int
	CloseHour int
	Now       func() time.Time // injectable clock
}

func (b BusinessHours) ID() string { return "static.business_hours" }

func (b BusinessHours) Evaluate(_ context.Context, p *model.Proposal, _ *model.EventEnvelope) (model.Verdict, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	h := now().UTC().Hour()
	if h >= b.OpenHour && h < b.CloseHour {
		return model.Simple(model.Allow), nil
	}
	return model.Scored(model.Escalate, model.EscalateScore,
		fmt.Sprintf("action %q proposed outside business hours (%02d:00-%02d:00 UTC)",
			p.RecommendedAction, b.OpenHour, b.CloseHour)), nil
}

// Cooldown escalates when the same action repeats too often for one
// conversation key within the limit's TTL window.
type Cooldown struct {
	Tracker *ratelimit.Tracker
	Limit   ratelimit.Limit
	Now     func() time.Time
}

func (c Cooldown) ID() string { return "static.cooldown" }

func (c Cooldown) Evaluate(_ context.Context, p *model.Proposal, e *model.EventEnvelope) (model.Verdict, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	key := conversationKey(p, e)
	if c.Tracker.Exceeded(key, c.Limit, now()) {
		return model.Scored(model.Escalate, model.EscalateScore,
			fmt.Sprintf("action %q repeated more than %d times for %s",
				p.RecommendedAction, c.Limit.MaxActions, key)), nil
	}
	return model.Simple(model.Allow), nil
}

// conversationKey scopes the cooldown to one conversation: correlation ID
// when present, else tenant plus process.
func conversationKey(p *model.Proposal, e *model.EventEnvelope) string {
	if e.CorrelationID != "" {
		return e.CorrelationID + ":" + p.RecommendedAction
	}
	return e.TenantID + ":" + p.ProcessID + ":" + p.RecommendedAction
}

// promiseMarkers flag wording that commits the business to something.
var promiseMarkers = []string{
	"guarantee",
	"guaranteed",
	"refund",
	"free of charge",
	"no cost",
	"we promise",
	"full compensation",
}

// CommercialPromise escalates proposals whose outbound text commits the
// business to a guarantee, refund, or giveaway.
type CommercialPromise struct{}

func (CommercialPromise) ID() string { return "static.commercial_promise" }

func (CommercialPromise) Evaluate(_ context.Context, p *model.Proposal, _ *model.EventEnvelope) (model.Verdict, error) {
	text := strings.ToLower(p.Explanation.Summary)
	if msg, ok := p.ActionParams["message"].(string); ok {
		text += " " + strings.ToLower(msg)
	}
	for _, marker := range promiseMarkers {
		if strings.Contains(text, marker) {
			return model.Scored(model.Escalate, 60,
				fmt.Sprintf("commercial promise detected: %q", marker)), nil
		}
	}
	return model.Simple(model.Allow), nil
}

// DiscountTier denies discounts above the hard ceiling and escalates those
// above the approval threshold.
type DiscountTier struct {
	EscalateAbove float64 // percent
	DenyAbove     float64 // percent
}

func (DiscountTier) ID() string { return "static.discount_tier" }

func (d DiscountTier) Evaluate(_ context.Context, p *model.Proposal, _ *model.EventEnvelope) (model.Verdict, error) {
	pct, ok := discountPercent(p.ActionParams)
	if !ok {
		return model.Simple(model.Allow), nil
	}
	switch {
	case d.DenyAbove > 0 && pct > d.DenyAbove:
		return model.Scored(model.Deny, model.DenyScore,
			fmt.Sprintf("discount %.1f%% exceeds hard ceiling %.1f%%", pct, d.DenyAbove)), nil
	case d.EscalateAbove > 0 && pct > d.EscalateAbove:
		return model.Scored(model.Escalate, model.EscalateScore,
			fmt.Sprintf("discount %.1f%% exceeds approval threshold %.1f%%", pct, d.EscalateAbove)), nil
	}
	return model.Simple(model.Allow), nil
}

func discountPercent(params map[string]any) (float64, bool) {
	for _, key := range []string{"discount_pct", "discount_percent", "discount"} {
		switch v := params[key].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		}
	}
	return 0, false
}

// Composite evaluates several policies against the same proposal and
// aggregates their contributions into one verdict. An individual member
// failing is skipped (fail-open for that member); the composite itself
// never fails.
type Composite struct {
	Name    string
	Members []Policy
}

func (c Composite) ID() string { return c.Name }

func (c Composite) Evaluate(ctx context.Context, p *model.Proposal, e *model.EventEnvelope) (model.Verdict, error) {
	var contribs []model.Verdict
	for _, m := range c.Members {
		v, err := m.Evaluate(ctx, p, e)
		if err != nil {
			continue
		}
		v = v.Normalize()
		if v.Decision == model.Allow && v.Score == 0 {
			continue
		}
		if v.Reason != "" {
			v.Reason = m.ID() + ": " + v.Reason
		}
		contribs = append(contribs, v)
	}
	return Aggregate(contribs), nil
}
