// Package injection screens serialized event payloads for known
// prompt-manipulation patterns before the payload ever reaches the
// proposal provider. A match is terminal: CRITICAL score, immediate DENY,
// provider never invoked.
package injection

import (
	"encoding/json"
	"regexp"
	"strings"
)

// PolicyName is the policy recorded on audit rows for blocked payloads.
const PolicyName = "INJECTION_BLOCKED"

// CriticalScore is the risk score assigned to every injection match.
const CriticalScore = 100

// pattern categories, matched case-insensitively against the serialized
// payload.
type pattern struct {
	category string
	re       *regexp.Regexp
}

var patterns = []pattern{
	// Instruction-override phrasing
	{"instruction_override", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`)},
	{"instruction_override", regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions|guidelines|rules)`)},
	{"instruction_override", regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you|above|before)`)},
	// Role-hijack phrasing
	{"role_hijack", regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s`)},
	{"role_hijack", regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+are\s+)?(a|an|the)?\s*(admin|root|system|developer)`)},
	{"role_hijack", regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`)},
	// System-token markers
	{"system_token", regexp.MustCompile(`(?i)<\|?(system|im_start|im_end|endoftext)\|?>`)},
	{"system_token", regexp.MustCompile(`(?i)\[\s*system\s*\]|\bsystem\s*prompt\s*:`)},
	// Jailbreak markers
	{"jailbreak", regexp.MustCompile(`(?i)\b(dan\s+mode|jailbreak|developer\s+mode|do\s+anything\s+now)\b`)},
	{"jailbreak", regexp.MustCompile(`(?i)without\s+(any\s+)?(restrictions|limitations|filters)`)},
	// Output-coercion phrasing
	{"output_coercion", regexp.MustCompile(`(?i)(respond|reply|answer)\s+only\s+with`)},
	{"output_coercion", regexp.MustCompile(`(?i)your\s+(response|output)\s+must\s+(begin|start)\s+with`)},
}

// Finding describes one matched manipulation pattern.
type Finding struct {
	Category string `json:"category"`
	Match    string `json:"match"`
}

// Screen serializes the payload and scans it. Returns the first finding,
// or nil when the payload is clean.
func Screen(payload map[string]any) *Finding {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Unserializable payloads cannot reach the provider anyway.
		return &Finding{Category: "unserializable", Match: err.Error()}
	}
	return ScreenText(string(raw))
}

// ScreenText scans pre-serialized text.
func ScreenText(text string) *Finding {
	for _, p := range patterns {
		if m := p.re.FindString(text); m != "" {
			return &Finding{Category: p.category, Match: strings.TrimSpace(m)}
		}
	}
	return nil
}
