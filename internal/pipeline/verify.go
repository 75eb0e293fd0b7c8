package pipeline

import (
	"context"
	"fmt"

	"github.com/arbiterhq/arbiter/internal/chain"
	"github.com/arbiterhq/arbiter/internal/integrity"
)

// ChainStatus reports the walk of both audit chains.
type ChainStatus struct {
	Decisions chain.VerifyResult
	Events    chain.VerifyResult
}

// VerifyChains replays the decision and event chains from genesis,
// recomputing every signature. Returns integrity.ErrChainBroken when
// either chain fails; the ChainStatus names the first broken index.
func (pr *Processor) VerifyChains(ctx context.Context) (*ChainStatus, error) {
	records, err := pr.decisions.AllOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load decisions: %w", err)
	}
	payloads, hashes, err := pr.events.Chain(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load events: %w", err)
	}
	st := &ChainStatus{
		Decisions: pr.signer.VerifyFullChain(records),
		Events:    pr.signer.VerifyEventChain(payloads, hashes),
	}
	if !st.Decisions.Valid || !st.Events.Valid {
		return st, integrity.ErrChainBroken
	}
	return st, nil
}
