// Package gateway serves the governance pipeline over MCP so agent
// runtimes can submit events and resolve reviews without a separate HTTP
// layer. The policy file is hot-reloaded while serving.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/pipeline"
	"github.com/arbiterhq/arbiter/internal/policy"
)

// Server exposes one pipeline over MCP stdio.
type Server struct {
	mcpServer *mcpsdk.Server
	proc      *pipeline.Processor
}

// New wraps a processor in an MCP tool surface.
func New(proc *pipeline.Processor) *Server {
	s := &Server{proc: proc}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "arbiter",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP on stdio and, when policyPath is non-empty, hot-reloads
// the policy file into the running pipeline. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, policyPath string) error {
	if policyPath != "" {
		reloader, err := policy.NewReloader(policyPath, func(cfg *policy.Config, hash string) error {
			reg, err := policy.BuildRegistry(cfg)
			if err != nil {
				return err
			}
			s.proc.SwapRegistry(reg, hash)
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "gateway: policy watch disabled: %v\n", err)
		} else {
			go func() {
				if err := reloader.Run(ctx); err != nil && ctx.Err() == nil {
					fmt.Fprintf(os.Stderr, "gateway: policy watcher stopped: %v\n", err)
				}
			}()
		}
	}
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "arbiter_submit",
		Description: "Submit one event envelope for governance evaluation. Returns the decision outcome.",
	}, s.handleSubmit)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "arbiter_pending",
		Description: "List decisions awaiting human review.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "arbiter_resolve",
		Description: "Approve or reject a pending review. The signed audit payload is never modified.",
	}, s.handleResolve)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "arbiter_verify",
		Description: "Verify the decision and event hash chains end to end.",
	}, s.handleVerify)
}

// SubmitInput carries the raw envelope.
type SubmitInput struct {
	Envelope map[string]any `json:"envelope" jsonschema:"the event envelope to evaluate"`
}

// PendingInput is empty.
type PendingInput struct{}

// PendingOutput lists unresolved reviews.
type PendingOutput struct {
	Reviews []model.PendingReview `json:"reviews"`
}

// ResolveInput names the review and the verdict.
type ResolveInput struct {
	ReviewID string `json:"review_id" jsonschema:"review to resolve"`
	Approve  bool   `json:"approve" jsonschema:"true to approve, false to reject"`
	Reviewer string `json:"reviewer,omitempty" jsonschema:"reviewer identity"`
	Response string `json:"response,omitempty" jsonschema:"free-form response stored with the decision"`
}

// VerifyInput is empty.
type VerifyInput struct{}

// VerifyOutput reports both chain walks.
type VerifyOutput struct {
	DecisionsValid bool   `json:"decisions_valid"`
	EventsValid    bool   `json:"events_valid"`
	Decisions      int    `json:"decisions"`
	Events         int    `json:"events"`
	Details        string `json:"details,omitempty"`
}

func canonicalEnvelope(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("gateway: envelope is required")
	}
	return json.Marshal(m)
}

func (s *Server) handleSubmit(ctx context.Context, req *mcpsdk.CallToolRequest, input SubmitInput) (*mcpsdk.CallToolResult, *model.Outcome, error) {
	raw, err := canonicalEnvelope(input.Envelope)
	if err != nil {
		return nil, nil, err
	}
	outcome, err := s.proc.ProcessRaw(ctx, raw)
	if err != nil {
		return nil, nil, err
	}
	if outcome.Decision == model.Deny {
		return &mcpsdk.CallToolResult{IsError: true}, outcome, nil
	}
	return nil, outcome, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	reviews, err := s.proc.Reviews().Pending(ctx)
	if err != nil {
		return nil, PendingOutput{}, err
	}
	return nil, PendingOutput{Reviews: reviews}, nil
}

func (s *Server) handleResolve(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, *pipeline.Resolution, error) {
	resolve := s.proc.Reject
	if input.Approve {
		resolve = s.proc.Approve
	}
	res, err := resolve(ctx, input.ReviewID, input.Reviewer, input.Response)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyInput) (*mcpsdk.CallToolResult, VerifyOutput, error) {
	st, err := s.proc.VerifyChains(ctx)
	if err != nil && st == nil {
		return nil, VerifyOutput{}, err
	}

	out := VerifyOutput{
		DecisionsValid: st.Decisions.Valid,
		EventsValid:    st.Events.Valid,
		Decisions:      st.Decisions.Total,
		Events:         st.Events.Total,
	}
	if !st.Decisions.Valid {
		out.Details = st.Decisions.Details
	} else if !st.Events.Valid {
		out.Details = st.Events.Details
	}
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}
