// Package policy maps event types to policies and evaluates them against
// decision proposals. Policies return a normalized Verdict; risk
// aggregation and the global threshold override live here so every caller
// applies the same arithmetic.
package policy

import (
	"context"

	"github.com/arbiterhq/arbiter/internal/model"
)

// Policy produces a verdict for one proposal in the context of its event.
//
// An evaluation error is NOT a deny: the pipeline decides the fallback
// (currently fail-open ALLOW) so that one buggy policy cannot halt all
// traffic. That decision is centralized in the pipeline, not here.
type Policy interface {
	ID() string
	Evaluate(ctx context.Context, p *model.Proposal, e *model.EventEnvelope) (model.Verdict, error)
}

// Func adapts a function to the Policy interface.
type Func struct {
	Name string
	Fn   func(ctx context.Context, p *model.Proposal, e *model.EventEnvelope) (model.Verdict, error)
}

func (f Func) ID() string { return f.Name }

func (f Func) Evaluate(ctx context.Context, p *model.Proposal, e *model.EventEnvelope) (model.Verdict, error) {
	return f.Fn(ctx, p, e)
}
