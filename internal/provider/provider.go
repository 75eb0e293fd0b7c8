// Package provider acquires decision proposals for sanitized events. The
// provider is an opaque collaborator: it may return partial output or fail
// outright, and the pipeline coerces whatever comes back into a fully
// populated proposal.
package provider

import (
	"context"

	"github.com/arbiterhq/arbiter/internal/model"
)

// Provider proposes a course of action for one event.
type Provider interface {
	Name() string
	Propose(ctx context.Context, e *model.EventEnvelope) (*model.Proposal, error)
}

// Static always returns a copy of a fixed proposal. Used in tests and
// offline deployments.
type Static struct {
	Proposal model.Proposal
	Err      error
}

func (Static) Name() string { return "static" }

func (s Static) Propose(_ context.Context, _ *model.EventEnvelope) (*model.Proposal, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	p := s.Proposal
	p.CoerceDefaults()
	return &p, nil
}
