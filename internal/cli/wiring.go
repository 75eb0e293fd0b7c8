package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arbiterhq/arbiter/internal/alert"
	"github.com/arbiterhq/arbiter/internal/pipeline"
	"github.com/arbiterhq/arbiter/internal/policy"
	"github.com/arbiterhq/arbiter/internal/provider"
	"github.com/arbiterhq/arbiter/internal/resilient"
	"github.com/arbiterhq/arbiter/internal/store"
)

// runtime bundles everything a command needs to talk to the pipeline.
type runtime struct {
	proc *pipeline.Processor
	db   *store.SQLite
}

func (r *runtime) Close() {
	r.db.Close()
}

// openRuntime wires storage, policy, provider, and alerts from the
// persistent flags and environment.
func openRuntime(ctx context.Context, interactive bool) (*runtime, error) {
	secret := os.Getenv("ARBITER_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("ARBITER_SECRET is not set; the signing secret is required")
	}

	db, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cfg, policyHash, err := policy.LoadConfigWithHash(policyPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	reg, err := policy.BuildRegistry(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	proc, err := pipeline.New(pipeline.Config{
		Mode:        pipeline.Mode(mode),
		Interactive: interactive,
		Secret:      []byte(secret),
		PolicyHash:  policyHash,
	}, resilient.Wrap(db), reg, pickProvider(), alert.NewDispatcher(cfg.Alerts))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &runtime{proc: proc, db: db}, nil
}

// pickProvider selects the LLM provider when configured, otherwise the
// static default proposer.
func pickProvider() provider.Provider {
	url := os.Getenv("ARBITER_LLM_URL")
	if url == "" {
		return provider.Static{}
	}
	return provider.NewLLM(provider.LLMConfig{
		APIURL:    url,
		APIKey:    os.Getenv("ARBITER_LLM_KEY"),
		Model:     os.Getenv("ARBITER_LLM_MODEL"),
		MaxTokens: 512,
		Timeout:   30 * time.Second,
	})
}
