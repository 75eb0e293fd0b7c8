// Package validate checks inbound event envelopes against a JSON Schema
// before anything else touches them. Malformed envelopes fail fast and are
// never persisted.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arbiterhq/arbiter/internal/model"
)

// envelopeSchema is the contract for one inbound Event Envelope.
const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["event_id", "event_type", "source", "tenant_id", "payload"],
	"properties": {
		"event_id":       {"type": "string", "minLength": 1},
		"event_type":     {"type": "string", "minLength": 1},
		"source":         {"type": "string", "minLength": 1},
		"tenant_id":      {"type": "string", "minLength": 1},
		"correlation_id": {"type": "string"},
		"occurred_at":    {"type": "string"},
		"payload":        {"type": "object"},
		"metadata":       {"type": "object"}
	}
}`

const schemaURL = "https://arbiter.schemas.local/event-envelope.schema.json"

// Validator validates raw envelopes. Compile once, use everywhere.
type Validator struct {
	schema *jsonschema.Schema
}

// New compiles the envelope schema.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("validate: load schema: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("validate: compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Parse validates raw JSON and decodes it into an envelope.
func (v *Validator) Parse(raw []byte) (*model.EventEnvelope, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("validate: not valid JSON: %w", err)
	}
	if err := v.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("validate: schema violation: %w", err)
	}
	var e model.EventEnvelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("validate: decode envelope: %w", err)
	}
	return &e, nil
}

// Check validates an already-decoded envelope by round-tripping it through
// its JSON form.
func (v *Validator) Check(e *model.EventEnvelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("validate: marshal envelope: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("validate: decode envelope: %w", err)
	}
	if err := v.schema.Validate(generic); err != nil {
		return fmt.Errorf("validate: schema violation: %w", err)
	}
	return nil
}
