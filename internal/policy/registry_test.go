package policy

import (
	"context"
	"testing"

	"github.com/arbiterhq/arbiter/internal/model"
)

func named(name string) Policy {
	return Func{Name: name, Fn: func(context.Context, *model.Proposal, *model.EventEnvelope) (model.Verdict, error) {
		return model.Simple(model.Allow), nil
	}}
}

func TestResolveFirstRegisteredPrefixWins(t *testing.T) {
	reg := NewRegistry(named("fallback"))
	reg.Register("bot.", named("broad"))
	reg.Register("bot.payment.", named("specific"))

	// Registration order breaks ties, not specificity: the broader
	// prefix registered first shadows the narrower one.
	if got := reg.Resolve("bot.payment.refund").ID(); got != "broad" {
		t.Fatalf("resolved %q, want broad", got)
	}
}

func TestResolveSpecificFirstIsReachable(t *testing.T) {
	reg := NewRegistry(named("fallback"))
	reg.Register("bot.payment.", named("specific"))
	reg.Register("bot.", named("broad"))

	if got := reg.Resolve("bot.payment.refund").ID(); got != "specific" {
		t.Fatalf("resolved %q, want specific", got)
	}
	if got := reg.Resolve("bot.chat.reply").ID(); got != "broad" {
		t.Fatalf("resolved %q, want broad", got)
	}
}

func TestResolveFallsBackWhenNoPrefixMatches(t *testing.T) {
	reg := NewRegistry(named("fallback"))
	reg.Register("bot.", named("broad"))

	if got := reg.Resolve("workflow.step").ID(); got != "fallback" {
		t.Fatalf("resolved %q, want fallback", got)
	}
}

func TestReRegisterReplacesInPlace(t *testing.T) {
	reg := NewRegistry(named("fallback"))
	reg.Register("a.", named("one"))
	reg.Register("b.", named("two"))
	reg.Register("a.", named("replacement"))

	if got := reg.Resolve("a.x").ID(); got != "replacement" {
		t.Fatalf("resolved %q, want replacement", got)
	}
	prefixes := reg.Prefixes()
	if len(prefixes) != 2 || prefixes[0] != "a." {
		t.Fatalf("re-registration changed dispatch order: %v", prefixes)
	}
}
