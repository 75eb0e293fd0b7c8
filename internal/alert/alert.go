// Package alert fans governance events out to webhook endpoints.
// Delivery is best-effort and asynchronous: a dead webhook must never
// slow down or fail the pipeline.
package alert

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack"
	Events  []string          `yaml:"events"  json:"events"` // ["deny", "escalate", "tamper"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp  string `json:"timestamp"`
	TraceID    string `json:"trace_id"`
	TenantID   string `json:"tenant_id"`
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	RiskScore  int    `json:"risk_score"`
	PolicyName string `json:"policy_name"`
	PolicyHash string `json:"policy_hash"`
	Type       string `json:"type,omitempty"` // "tamper" for integrity alerts
}

// Dispatcher fans out events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []Config) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Fires goroutines; does not block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, event) {
			go func(c Config) { _ = Send(c, event) }(cfg)
		}
	}
}

func matches(events []string, event Event) bool {
	for _, e := range events {
		if e == event.Decision {
			return true
		}
		if event.Type != "" && e == event.Type {
			return true
		}
	}
	return false
}
