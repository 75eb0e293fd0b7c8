package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arbiterhq/arbiter/internal/model"
)

// ReviewStore persists pending human reviews. A review is created exactly
// once per ESCALATE decision and is terminal once approved or rejected.
type ReviewStore struct {
	q Querier
}

// NewReviewStore creates a ReviewStore over a Querier.
func NewReviewStore(q Querier) *ReviewStore {
	return &ReviewStore{q: q}
}

// Insert creates a pending review.
func (rs *ReviewStore) Insert(ctx context.Context, rv *model.PendingReview) error {
	return rs.q.Run(ctx, `
		INSERT INTO pending_reviews
			(review_id, event_id, tenant_id, decision_id, status,
			 escalation_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rv.ReviewID, rv.EventID, rv.TenantID, rv.DecisionID, string(rv.Status),
		rv.EscalationReason, rv.CreatedAt.UTC().Format(time.RFC3339Nano))
}

// Get returns one review.
func (rs *ReviewStore) Get(ctx context.Context, reviewID string) (*model.PendingReview, error) {
	rows, err := rs.q.All(ctx, `SELECT * FROM pending_reviews WHERE review_id = ?`, reviewID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	rv := reviewFromRow(rows[0])
	return &rv, nil
}

// Pending lists unresolved reviews, oldest first.
func (rs *ReviewStore) Pending(ctx context.Context) ([]model.PendingReview, error) {
	rows, err := rs.q.All(ctx, `
		SELECT * FROM pending_reviews WHERE status = ?
		ORDER BY created_at ASC`, string(model.ReviewPending))
	if err != nil {
		return nil, err
	}
	out := make([]model.PendingReview, 0, len(rows))
	for _, r := range rows {
		out = append(out, reviewFromRow(r))
	}
	return out, nil
}

// Resolve transitions a pending review to approved or rejected. Resolving
// a non-pending review is an error: reviews are terminal once resolved.
func (rs *ReviewStore) Resolve(ctx context.Context, reviewID string, status model.ReviewStatus, reviewerID string) error {
	rv, err := rs.Get(ctx, reviewID)
	if err != nil {
		return err
	}
	if rv.Status != model.ReviewPending {
		return fmt.Errorf("review %s already %s", reviewID, rv.Status)
	}
	return rs.q.Run(ctx, `
		UPDATE pending_reviews SET status = ?, reviewer_id = ?, reviewed_at = ?
		WHERE review_id = ?`,
		string(status), reviewerID,
		time.Now().UTC().Format(time.RFC3339Nano), reviewID)
}

func reviewFromRow(r Row) model.PendingReview {
	return model.PendingReview{
		ReviewID:         rowString(r, "review_id"),
		EventID:          rowString(r, "event_id"),
		TenantID:         rowString(r, "tenant_id"),
		DecisionID:       rowString(r, "decision_id"),
		Status:           model.ReviewStatus(rowString(r, "status")),
		EscalationReason: rowString(r, "escalation_reason"),
		ReviewerID:       rowString(r, "reviewer_id"),
		ReviewedAt:       rowTimePtr(r, "reviewed_at"),
		CreatedAt:        rowTime(r, "created_at"),
	}
}
