package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/internal/alert"
	"github.com/arbiterhq/arbiter/internal/ratelimit"
)

// HoursConfig is the allowed UTC window for the business-hours policy.
type HoursConfig struct {
	OpenHour  int `yaml:"open_hour"`
	CloseHour int `yaml:"close_hour"`
}

// CooldownConfig bounds repeated actions per conversation key.
type CooldownConfig struct {
	MaxRepeats int           `yaml:"max_repeats"`
	Window     time.Duration `yaml:"window"`
}

// UnmarshalYAML accepts Go duration strings ("10m") for the window.
func (c *CooldownConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRepeats int    `yaml:"max_repeats"`
		Window     string `yaml:"window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.MaxRepeats = raw.MaxRepeats
	if raw.Window == "" {
		return nil
	}
	d, err := time.ParseDuration(raw.Window)
	if err != nil {
		return fmt.Errorf("policy: cooldown window: %w", err)
	}
	c.Window = d
	return nil
}

// DiscountConfig bounds discount percentages.
type DiscountConfig struct {
	EscalateAbove float64 `yaml:"escalate_above"`
	DenyAbove     float64 `yaml:"deny_above"`
}

// PrefixBinding maps an event-type prefix to a set of named policies.
// Bindings dispatch in file order, first match wins.
type PrefixBinding struct {
	Prefix   string   `yaml:"prefix"`
	Policies []string `yaml:"policies"`
}

// Config holds all configurable policy parameters.
type Config struct {
	Whitelist     []string        `yaml:"whitelist"`
	BusinessHours HoursConfig     `yaml:"business_hours"`
	Cooldown      CooldownConfig  `yaml:"cooldown"`
	Discount      DiscountConfig  `yaml:"discount"`
	Prefixes      []PrefixBinding `yaml:"prefixes"`
	Rules         []Rule          `yaml:"rules"`
	Alerts        []alert.Config  `yaml:"alerts"`
}

// DefaultConfig returns the built-in policy configuration.
func DefaultConfig() *Config {
	return &Config{
		Whitelist:     DefaultWhitelist,
		BusinessHours: HoursConfig{OpenHour: 8, CloseHour: 20},
		Cooldown:      CooldownConfig{MaxRepeats: 5, Window: 10 * time.Minute},
		Discount:      DiscountConfig{EscalateAbove: 10, DenyAbove: 30},
		Prefixes: []PrefixBinding{
			{Prefix: "bot.", Policies: []string{
				"business_hours", "cooldown", "commercial_promise",
				"discount_tier", "rules",
			}},
			{Prefix: "workflow.", Policies: []string{"rules"}},
		},
		Rules: []Rule{
			{
				ID:         "deny-delete-production",
				Name:       "data_protection",
				EventTypes: []string{"workflow."},
				Priority:   100,
				Condition:  `proposal.recommended_action == "delete_records" && event.payload.environment == "production"`,
				Effect:     "DENY",
				Enabled:    true,
			},
		},
	}
}

// LoadConfig loads policy configuration from a YAML file. A missing file
// returns defaults; invalid YAML is an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256
// content hash, recorded on every audit row so a decision can be traced
// back to the exact rule set that produced it.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		h := sha256.Sum256(nil)
		return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("policy: read config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults; YAML overwrites only specified fields.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("policy: parse config: %w", err)
	}
	return cfg, hash, nil
}

// BuildRegistry assembles a dispatch registry from a config: one composite
// per prefix binding, a shared cooldown tracker, one CEL rule policy, and
// the confidence+whitelist fallback.
func BuildRegistry(cfg *Config) (*Registry, error) {
	tracker := ratelimit.NewTracker()

	rulePolicy, err := NewRulePolicy("rules.dynamic", cfg.Rules)
	if err != nil {
		return nil, err
	}

	named := map[string]Policy{
		"business_hours": BusinessHours{
			OpenHour:  cfg.BusinessHours.OpenHour,
			CloseHour: cfg.BusinessHours.CloseHour,
		},
		"cooldown": Cooldown{
			Tracker: tracker,
			Limit: ratelimit.Limit{
				MaxActions: cfg.Cooldown.MaxRepeats,
				Window:     cfg.Cooldown.Window,
			},
		},
		"commercial_promise": CommercialPromise{},
		"discount_tier": DiscountTier{
			EscalateAbove: cfg.Discount.EscalateAbove,
			DenyAbove:     cfg.Discount.DenyAbove,
		},
		"rules": rulePolicy,
	}

	reg := NewRegistry(Default(cfg.Whitelist))
	for _, binding := range cfg.Prefixes {
		members := make([]Policy, 0, len(binding.Policies))
		for _, name := range binding.Policies {
			p, ok := named[name]
			if !ok {
				return nil, fmt.Errorf("policy: unknown policy %q in prefix %q", name, binding.Prefix)
			}
			members = append(members, p)
		}
		reg.Register(binding.Prefix, Composite{
			Name:    "composite." + binding.Prefix,
			Members: members,
		})
	}
	return reg, nil
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# arbiter policy configuration
# Generated by: arbiter init-policy
#
# Dispatch: an event type is matched against "prefixes" in file order.
# The FIRST prefix the event type starts with wins; remaining bindings are
# not consulted. Events matching no prefix fall back to the built-in
# confidence + whitelist policy.

# Actions the fallback policy allows without escalation.
whitelist:
  - log_info
  - send_message
  - update_record
  - schedule_followup

# Allowed UTC window for the business_hours policy (half-open).
business_hours:
  open_hour: 8
  close_hour: 20

# Repeated-action cooldown per conversation key.
cooldown:
  max_repeats: 5
  window: 10m

# Discount ceilings (percent).
discount:
  escalate_above: 10
  deny_above: 30

# Prefix bindings evaluated in order. First match wins.
prefixes:
  - prefix: "bot."
    policies: [business_hours, cooldown, commercial_promise, discount_tier, rules]
  - prefix: "workflow."
    policies: [rules]

# Dynamic rules. Conditions are CEL expressions over {proposal, event}.
# Effects: ALLOW | DENY | ESCALATE | MONITOR.
# DENY implies score 100 and ESCALATE implies 50 unless score_impact is set.
rules:
  - id: deny-delete-production
    name: data_protection
    event_types: ["workflow."]
    priority: 100
    condition: 'proposal.recommended_action == "delete_records" && event.payload.environment == "production"'
    effect: DENY
    enabled: true

# Webhook alerts fired on deny / escalate / tamper events.
# alerts:
#   - url: https://hooks.example.com/arbiter
#     events: [deny, tamper]
`
}
