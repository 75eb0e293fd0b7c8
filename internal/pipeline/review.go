package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/arbiterhq/arbiter/internal/model"
)

// Resolution is the result of a human review decision.
type Resolution struct {
	ReviewID   string             `json:"review_id"`
	DecisionID string             `json:"decision_id"`
	EventID    string             `json:"event_id"`
	Status     model.ReviewStatus `json:"status"`
	Action     string             `json:"recommended_action,omitempty"`
}

// Approve resolves a pending review positively. The decision's execution
// status transitions to approved; the signed payload is untouched.
func (pr *Processor) Approve(ctx context.Context, reviewID, reviewerID, response string) (*Resolution, error) {
	return pr.resolve(ctx, reviewID, reviewerID, response, model.ReviewApproved,
		model.ExecApproved, model.EventProcessed)
}

// Reject resolves a pending review negatively.
func (pr *Processor) Reject(ctx context.Context, reviewID, reviewerID, response string) (*Resolution, error) {
	return pr.resolve(ctx, reviewID, reviewerID, response, model.ReviewRejected,
		model.ExecRejected, model.EventRejected)
}

func (pr *Processor) resolve(ctx context.Context, reviewID, reviewerID, response string, rvStatus model.ReviewStatus, execStatus model.ExecutionStatus, evStatus model.EventStatus) (*Resolution, error) {
	rv, err := pr.reviews.Get(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load review: %w", err)
	}
	if err := pr.reviews.Resolve(ctx, reviewID, rvStatus, reviewerID); err != nil {
		return nil, err
	}
	if err := pr.decisions.UpdateExecution(ctx, rv.DecisionID, execStatus, response); err != nil {
		return nil, fmt.Errorf("pipeline: update execution status: %w", err)
	}
	if err := pr.events.SetStatus(ctx, rv.EventID, evStatus); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: event status update failed: %v\n", err)
	}

	res := &Resolution{
		ReviewID:   reviewID,
		DecisionID: rv.DecisionID,
		EventID:    rv.EventID,
		Status:     rvStatus,
	}
	if rec, err := pr.decisions.Get(ctx, rv.DecisionID); err == nil {
		if p, err := decodePayload(rec); err == nil && p.Proposal != nil {
			res.Action = p.Proposal.RecommendedAction
		}
	}
	return res, nil
}
