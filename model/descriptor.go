package model

// Descriptor is the static (periodically reloaded) metadata the routing
// engine uses to choose among models (§3 Model Descriptor).
type Descriptor struct {
	ID           string   `json:"id"`
	Provider     string   `json:"provider"`
	Capabilities []string `json:"capabilities"`
	CostPer1K    *float64 `json:"cost_per_1k_tokens,omitempty"`
	Quality      float64  `json:"quality"` // [0,1]
	ContextWindow int     `json:"context_window"`
	LatencyMS    int      `json:"latency_ms"`
	Available    bool     `json:"available"`
	Priority     int      `json:"priority"`
}

// HasCapability reports whether the descriptor advertises capability c.
func (d Descriptor) HasCapability(c string) bool {
	for _, x := range d.Capabilities {
		if x == c {
			return true
		}
	}
	return false
}

// CircuitStatus is the 3-state gate value for a model's circuit breaker
// (§3 Circuit State, §4.C).
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half-open"
)
