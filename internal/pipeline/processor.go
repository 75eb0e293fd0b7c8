// Package pipeline orchestrates one governance call: validation,
// idempotency, injection screening, proposal acquisition, policy
// evaluation, the global risk override, and signed persistence. All
// mutable registries live on the Processor instance so multiple pipelines
// can coexist in one process.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/alert"
	"github.com/arbiterhq/arbiter/internal/canonical"
	"github.com/arbiterhq/arbiter/internal/injection"
	"github.com/arbiterhq/arbiter/internal/integrity"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/policy"
	"github.com/arbiterhq/arbiter/internal/provider"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/arbiterhq/arbiter/internal/validate"
)

// Mode selects the deployment behavior for DENY verdicts.
type Mode string

const (
	// ModeEnforce blocks what policy denies.
	ModeEnforce Mode = "enforce"
	// ModeScanner records the true verdict but never blocks: the stored
	// decision stays DENY while the client-visible status is MONITOR.
	ModeScanner Mode = "scanner"
)

// Providers recorded on synthetic decisions.
const (
	providerValidation = "validation-failed"
	providerInjection  = "injection-screen"
	providerRaceWinner = "race_condition_winner"
)

// Config holds pipeline deployment options.
type Config struct {
	Mode        Mode
	Interactive bool
	Secret      []byte
	PolicyHash  string
}

// Processor is one governance pipeline instance.
type Processor struct {
	cfg       Config
	validator *validate.Validator
	signer    *integrity.Signer
	events    *store.EventStore
	decisions *store.DecisionStore
	reviews   *store.ReviewStore
	prov      provider.Provider
	alerts    *alert.Dispatcher

	mu         sync.RWMutex
	registry   *policy.Registry
	policyHash string

	// Each chain's tail-read and insert must happen as one unit or two
	// concurrent appends chain to the same predecessor and fork the log.
	decisionTail sync.Mutex
	eventTail    sync.Mutex
}

// New assembles a Processor. The registry and policy hash can be swapped
// later via SwapRegistry (hot reload).
func New(cfg Config, q store.Querier, reg *policy.Registry, prov provider.Provider, alerts *alert.Dispatcher) (*Processor, error) {
	v, err := validate.New()
	if err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeEnforce
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("pipeline: signing secret is required")
	}
	return &Processor{
		cfg:        cfg,
		validator:  v,
		signer:     integrity.NewSigner(cfg.Secret),
		events:     store.NewEventStore(q),
		decisions:  store.NewDecisionStore(q),
		reviews:    store.NewReviewStore(q),
		prov:       prov,
		alerts:     alerts,
		registry:   reg,
		policyHash: cfg.PolicyHash,
	}, nil
}

// SwapRegistry replaces the dispatch registry, e.g. after a rules-file
// hot reload.
func (pr *Processor) SwapRegistry(reg *policy.Registry, policyHash string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.registry = reg
	pr.policyHash = policyHash
}

// Signer exposes the chain signer for verification commands.
func (pr *Processor) Signer() *integrity.Signer { return pr.signer }

// Decisions exposes the decision store for verification and review tooling.
func (pr *Processor) Decisions() *store.DecisionStore { return pr.decisions }

// Reviews exposes the review store.
func (pr *Processor) Reviews() *store.ReviewStore { return pr.reviews }

// Events exposes the event store.
func (pr *Processor) Events() *store.EventStore { return pr.events }

// ProcessRaw validates and processes a raw envelope.
func (pr *Processor) ProcessRaw(ctx context.Context, raw []byte) (*model.Outcome, error) {
	traceID := model.NewTraceID()
	e, err := pr.validator.Parse(raw)
	if err != nil {
		return validationFailure(traceID, err), nil
	}
	return pr.process(ctx, e, traceID)
}

// Process runs one already-decoded envelope through the pipeline.
func (pr *Processor) Process(ctx context.Context, e *model.EventEnvelope) (*model.Outcome, error) {
	traceID := model.NewTraceID()
	if err := pr.validator.Check(e); err != nil {
		return validationFailure(traceID, err), nil
	}
	return pr.process(ctx, e, traceID)
}

// validationFailure is a DENY-shaped pseudo-decision. Nothing is persisted.
func validationFailure(traceID string, err error) *model.Outcome {
	return &model.Outcome{
		Status:   model.StatusRejected,
		Decision: model.Deny,
		Provider: providerValidation,
		Reason:   err.Error(),
		TraceID:  traceID,
	}
}

func (pr *Processor) process(ctx context.Context, e *model.EventEnvelope, traceID string) (*model.Outcome, error) {
	start := time.Now()
	stages := map[string]int64{}
	timed := func(name string, since time.Time) {
		stages[name] = time.Since(since).Milliseconds()
	}

	// Stage 2: idempotency. Best-effort: a lookup failure is logged and
	// treated as "not found"; the uniqueness constraint catches the race.
	t := time.Now()
	if rec, err := pr.decisions.GetByEventID(ctx, e.EventID); err == nil {
		timed("idempotency", t)
		return duplicateOutcome(rec, traceID, start, stages), nil
	} else if err != store.ErrNotFound {
		fmt.Fprintf(os.Stderr, "pipeline: idempotency lookup failed (continuing): %v\n", err)
	}
	timed("idempotency", t)

	// Record the accepted envelope in the event chain. Redelivery of an
	// already-stored event is not an error.
	t = time.Now()
	if err := pr.storeEvent(ctx, e); err != nil && !store.IsDuplicate(err) {
		return nil, fmt.Errorf("pipeline: store event: %w", err)
	}
	timed("event_store", t)

	// Stage 3: injection screen. A match is terminal; the proposal
	// provider never sees flagged input.
	t = time.Now()
	if finding := injection.Screen(e.Payload); finding != nil {
		timed("injection", t)
		return pr.finishDecision(ctx, e, decisionInput{
			verdict: model.Scored(model.Deny, injection.CriticalScore,
				fmt.Sprintf("%s: %q", finding.Category, finding.Match)),
			policyName: injection.PolicyName,
			provName:   providerInjection,
			traceID:    traceID,
			start:      start,
			stages:     stages,
		})
	}
	timed("injection", t)

	// Stage 4: proposal acquisition. Partial output is coerced; a hard
	// provider failure degrades to the default proposal rather than
	// halting governance.
	t = time.Now()
	proposal, err := pr.prov.Propose(ctx, e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: provider failed, using defaults: %v\n", err)
		proposal = &model.Proposal{
			Explanation: model.Explanation{Summary: "provider unavailable"},
		}
	}
	if proposal == nil {
		proposal = &model.Proposal{}
	}
	proposal.CoerceDefaults()
	if proposal.ProposalID == "" {
		proposal.ProposalID = uuid.NewString()
	}
	timed("proposal", t)

	// Stage 5: policy evaluation. A policy failure fails OPEN here, by
	// design: one buggy policy must not halt all traffic. This is the
	// single place that decides the fallback.
	t = time.Now()
	pr.mu.RLock()
	reg := pr.registry
	pr.mu.RUnlock()
	pol := reg.Resolve(e.EventType)
	verdict, err := pol.Evaluate(ctx, proposal, e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: policy %s failed, failing open: %v\n", pol.ID(), err)
		verdict = model.Scored(model.Allow, 0, "policy evaluation failed (fail-open)")
	}
	timed("policy", t)

	// Stage 6: global risk-threshold override. Never less restrictive
	// than the policy's own verdict.
	verdict = policy.Override(verdict)

	return pr.finishDecision(ctx, e, decisionInput{
		verdict:    verdict,
		policyName: pol.ID(),
		provName:   pr.prov.Name(),
		proposal:   proposal,
		traceID:    traceID,
		start:      start,
		stages:     stages,
	})
}

type decisionInput struct {
	verdict    model.Verdict
	policyName string
	provName   string
	proposal   *model.Proposal
	traceID    string
	start      time.Time
	stages     map[string]int64
}

// finishDecision applies the scanner-mode override, persists the signed
// record, handles escalation, and shapes the outcome.
func (pr *Processor) finishDecision(ctx context.Context, e *model.EventEnvelope, in decisionInput) (*model.Outcome, error) {
	v := in.verdict.Normalize()

	execStatus := model.ExecProcessed
	visibleDecision := v.Decision
	scannerOverride := false

	// Stage 7: scanner mode observes what would have been blocked. The
	// persisted decision stays the true one.
	if v.Decision == model.Deny && pr.mode() == ModeScanner {
		execStatus = model.ExecMonitor
		visibleDecision = model.Monitor
		scannerOverride = true
	}

	outcomeStatus := model.StatusProcessed
	eventStatus := model.EventProcessed
	if v.Decision == model.Escalate {
		eventStatus = model.EventReviewed
		if pr.cfg.Interactive {
			execStatus = model.ExecSuspended
			outcomeStatus = model.StatusSuspended
		} else {
			execStatus = model.ExecPending
			outcomeStatus = model.StatusPending
		}
	}

	rec, dup, err := pr.persistDecision(ctx, e, v, in, execStatus, scannerOverride)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return duplicateRaceOutcome(dup, in.traceID, in.start, in.stages), nil
	}

	var reviewID string
	if v.Decision == model.Escalate {
		reviewID, err = pr.createReview(ctx, e, rec, v)
		if err != nil {
			return nil, err
		}
	}

	if err := pr.events.SetStatus(ctx, e.EventID, eventStatus); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: event status update failed: %v\n", err)
	}

	pr.dispatchAlert(e, rec, v, in.traceID)

	return &model.Outcome{
		DecisionID:      rec.DecisionID,
		Status:          outcomeStatus,
		Decision:        visibleDecision,
		Provider:        in.provName,
		LatencyMS:       time.Since(in.start).Milliseconds(),
		PolicyID:        in.policyName,
		ReviewID:        reviewID,
		TraceID:         in.traceID,
		Reason:          v.Reason,
		ScannerOverride: scannerOverride,
		StageLatency:    in.stages,
	}, nil
}

// signedPayload is the immutable portion of a decision record. Execution
// status and response are deliberately excluded so post-hoc review
// transitions cannot break the chain.
type signedPayload struct {
	DecisionID string          `json:"decision_id"`
	TenantID   string          `json:"tenant_id"`
	EventID    string          `json:"event_id"`
	PolicyName string          `json:"policy_name"`
	Provider   string          `json:"provider"`
	Decision   model.Decision  `json:"decision"`
	RiskScore  int             `json:"risk_score"`
	Reason     string          `json:"reason,omitempty"`
	Proposal   *model.Proposal `json:"proposal,omitempty"`
	Timestamp  string          `json:"timestamp"`
}

// persistDecision signs and inserts the decision record. A duplicate-key
// failure means a concurrent processor won the race for this event; the
// winner's record is returned instead of an error. Stage 10.
func (pr *Processor) persistDecision(ctx context.Context, e *model.EventEnvelope, v model.Verdict, in decisionInput, execStatus model.ExecutionStatus, scannerOverride bool) (*model.DecisionRecord, *model.DecisionRecord, error) {
	now := time.Now().UTC()
	payload := signedPayload{
		DecisionID: uuid.NewString(),
		TenantID:   e.TenantID,
		EventID:    e.EventID,
		PolicyName: in.policyName,
		Provider:   in.provName,
		Decision:   v.Decision,
		RiskScore:  v.Score,
		Reason:     v.Reason,
		Proposal:   in.proposal,
		Timestamp:  now.Format(time.RFC3339Nano),
	}
	fullLog, err := canonical.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: canonicalize decision: %w", err)
	}

	// Tail read and insert are one critical section: without it two
	// concurrent appends chain to the same predecessor and verification
	// reports a fork with zero tampering.
	pr.decisionTail.Lock()
	prev, err := pr.decisions.LastSignature(ctx)
	if err != nil {
		pr.decisionTail.Unlock()
		return nil, nil, fmt.Errorf("pipeline: read chain tail: %w", err)
	}

	rec := &model.DecisionRecord{
		DecisionID:      payload.DecisionID,
		TenantID:        e.TenantID,
		EventID:         e.EventID,
		PolicyName:      in.policyName,
		Provider:        in.provName,
		Decision:        v.Decision,
		RiskScore:       v.Score,
		ExecutionStatus: execStatus,
		FullLogJSON:     string(fullLog),
		Timestamp:       now,
		Signature:       pr.signer.Sign(prev, fullLog),
	}
	if scannerOverride {
		rec.ExecutionResponse = `{"scanner_override":true}`
	}

	err = pr.decisions.Insert(ctx, rec)
	pr.decisionTail.Unlock()
	if store.IsDuplicate(err) {
		winner, lookupErr := pr.decisions.GetByEventID(ctx, e.EventID)
		if lookupErr != nil {
			return nil, nil, fmt.Errorf("pipeline: race recovery lookup: %w", lookupErr)
		}
		return nil, winner, nil
	}
	if err != nil {
		// Any other persistence failure is fatal: an unrecorded decision
		// must not be acted on.
		return nil, nil, fmt.Errorf("pipeline: persist decision: %w", err)
	}
	return rec, nil, nil
}

// createReview records the human-in-the-loop request for an ESCALATE.
func (pr *Processor) createReview(ctx context.Context, e *model.EventEnvelope, rec *model.DecisionRecord, v model.Verdict) (string, error) {
	rv := &model.PendingReview{
		ReviewID:         uuid.NewString(),
		EventID:          e.EventID,
		TenantID:         e.TenantID,
		DecisionID:       rec.DecisionID,
		Status:           model.ReviewPending,
		EscalationReason: v.Reason,
		CreatedAt:        time.Now().UTC(),
	}
	if err := pr.reviews.Insert(ctx, rv); err != nil {
		return "", fmt.Errorf("pipeline: create review: %w", err)
	}
	return rv.ReviewID, nil
}

// storeEvent appends the envelope to the hash-chained event store.
func (pr *Processor) storeEvent(ctx context.Context, e *model.EventEnvelope) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payloadJSON, err := canonical.Marshal(e)
	if err != nil {
		return err
	}

	// Same critical section as the decision chain: tail read and insert
	// together, or concurrent appends fork the chain.
	pr.eventTail.Lock()
	defer pr.eventTail.Unlock()
	prev, err := pr.events.LastHash(ctx)
	if err != nil {
		return err
	}
	if prev == "" {
		prev = pr.signer.Genesis()
	}
	hash := pr.signer.Sign(prev, payloadJSON)
	return pr.events.Insert(ctx, e, string(payloadJSON), hash, prev)
}

func (pr *Processor) mode() Mode {
	return pr.cfg.Mode
}

func (pr *Processor) dispatchAlert(e *model.EventEnvelope, rec *model.DecisionRecord, v model.Verdict, traceID string) {
	if pr.alerts == nil {
		return
	}
	pr.mu.RLock()
	hash := pr.policyHash
	pr.mu.RUnlock()
	pr.alerts.Dispatch(alert.Event{
		Timestamp:  model.UTCNowISO(),
		TraceID:    traceID,
		TenantID:   e.TenantID,
		EventID:    e.EventID,
		EventType:  e.EventType,
		Decision:   string(v.Decision),
		Reason:     v.Reason,
		RiskScore:  v.Score,
		PolicyName: rec.PolicyName,
		PolicyHash: hash,
	})
}

func duplicateOutcome(rec *model.DecisionRecord, traceID string, start time.Time, stages map[string]int64) *model.Outcome {
	return &model.Outcome{
		DecisionID:   rec.DecisionID,
		Status:       model.StatusDuplicate,
		Decision:     rec.Decision,
		Provider:     rec.Provider,
		LatencyMS:    time.Since(start).Milliseconds(),
		PolicyID:     rec.PolicyName,
		TraceID:      traceID,
		StageLatency: stages,
	}
}

func duplicateRaceOutcome(winner *model.DecisionRecord, traceID string, start time.Time, stages map[string]int64) *model.Outcome {
	out := duplicateOutcome(winner, traceID, start, stages)
	out.Provider = providerRaceWinner
	return out
}

// decodePayload extracts the signed payload from a stored record, used by
// review tooling to show what was decided.
func decodePayload(rec *model.DecisionRecord) (*signedPayload, error) {
	var p signedPayload
	if err := json.Unmarshal([]byte(rec.FullLogJSON), &p); err != nil {
		return nil, fmt.Errorf("pipeline: decode signed payload: %w", err)
	}
	return &p, nil
}
