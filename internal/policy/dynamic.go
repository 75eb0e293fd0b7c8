package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/arbiterhq/arbiter/internal/model"
)

// Rule is one data-driven governance rule. Condition is a CEL expression
// evaluated against {proposal, event}; on match the rule contributes its
// effect to the aggregate verdict.
type Rule struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	EventTypes     []string `yaml:"event_types"` // prefixes; empty matches all
	Priority       int      `yaml:"priority"`
	Condition      string   `yaml:"condition"`
	Effect         string   `yaml:"effect"` // ALLOW | DENY | ESCALATE | MONITOR
	ScoreImpact    int      `yaml:"score_impact,omitempty"`
	ReasonTemplate string   `yaml:"reason,omitempty"`
	Enabled        bool     `yaml:"enabled"`
}

// RulePolicy evaluates a set of dynamic rules with CEL. Compiled programs
// are cached per condition; a rule that fails to compile or evaluate is
// skipped (fail-open for that rule) rather than halting traffic.
type RulePolicy struct {
	Name  string
	rules []Rule

	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewRulePolicy creates a rule policy. Rules are evaluated in descending
// priority order; disabled rules are dropped at construction.
func NewRulePolicy(name string, rules []Rule) (*RulePolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("proposal", cel.DynType),
		cel.Variable("event", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}

	active := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})

	return &RulePolicy{
		Name:  name,
		rules: active,
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

func (rp *RulePolicy) ID() string { return rp.Name }

// Rules returns the active rules in evaluation order.
func (rp *RulePolicy) Rules() []Rule { return rp.rules }

// Evaluate runs every matching rule and aggregates the contributions.
func (rp *RulePolicy) Evaluate(ctx context.Context, p *model.Proposal, e *model.EventEnvelope) (model.Verdict, error) {
	input := map[string]any{
		"proposal": toMap(p),
		"event":    toMap(e),
	}

	var contribs []model.Verdict
	for _, rule := range rp.rules {
		if !rule.matchesType(e.EventType) {
			continue
		}
		matched, err := rp.eval(rule.Condition, input)
		if err != nil {
			// One broken rule must not halt traffic.
			continue
		}
		if !matched {
			continue
		}
		contribs = append(contribs, rule.verdict(p, e))
	}
	return Aggregate(contribs), nil
}

func (r Rule) matchesType(eventType string) bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, prefix := range r.EventTypes {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

// verdict maps the rule's effect to a scored contribution. DENY and
// ESCALATE default to their canonical scores unless score_impact is set.
func (r Rule) verdict(p *model.Proposal, e *model.EventEnvelope) model.Verdict {
	decision := model.ParseDecision(r.Effect)
	score := r.ScoreImpact
	if score == 0 {
		switch decision {
		case model.Deny:
			score = model.DenyScore
		case model.Escalate:
			score = model.EscalateScore
		}
	}
	reason := r.ReasonTemplate
	if reason == "" {
		reason = fmt.Sprintf("rule %s matched", r.ID)
	} else {
		reason = strings.NewReplacer(
			"{rule}", r.ID,
			"{action}", p.RecommendedAction,
			"{event_type}", e.EventType,
		).Replace(reason)
	}
	v := model.Scored(decision, score, reason)
	v.Domain = r.Name
	return v
}

func (rp *RulePolicy) eval(condition string, input map[string]any) (bool, error) {
	rp.mu.RLock()
	prg, hit := rp.cache[condition]
	rp.mu.RUnlock()

	if !hit {
		rp.mu.Lock()
		if prg, hit = rp.cache[condition]; !hit {
			ast, issues := rp.env.Compile(condition)
			if issues != nil && issues.Err() != nil {
				rp.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := rp.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				rp.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			rp.cache[condition] = p
			prg = p
		}
		rp.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", out.Value())
	}
	return b, nil
}

// toMap converts a struct to a generic map for CEL input.
func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
