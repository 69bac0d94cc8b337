// Package model defines the core domain types shared across the flow engine.
// Flows are expressed per day; values are dollars per day.
package model

import "time"

// Message types carried in the "type" field of server frames.
const (
	TypeCurrentState = "CURRENT_STATE"
	TypeResult       = "RESULT"
)

// ValuePoint is one vertex of a piecewise-linear value curve.
type ValuePoint struct {
	Flow  float64 `json:"flow"`
	Value float64 `json:"value"`
}

// Consumer receives a share of the flow and converts it into value according
// to its curve. Identity is ID; a consumer is immutable for its tick.
type Consumer struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Curve []ValuePoint `json:"curve"`
}

// Problem is the allocation problem issued once per tick. Published snapshots
// are shared between connections and must never be mutated.
type Problem struct {
	Type      string     `json:"type"` // always TypeCurrentState
	Tick      int64      `json:"tick"`
	TotalFlow float64    `json:"totalFlow"`
	Consumers []Consumer `json:"consumers"`
}

// ConsumerIndex returns a lookup from consumer ID to its position in Consumers.
func (p *Problem) ConsumerIndex() map[string]int {
	idx := make(map[string]int, len(p.Consumers))
	for i, c := range p.Consumers {
		idx[c.ID] = i
	}
	return idx
}

// AllocationEntry assigns flow to one consumer.
type AllocationEntry struct {
	ConsumerID string  `json:"consumerId"`
	Flow       float64 `json:"flow"`
}

// Allocation is a client response. Tick is nil when the client sent a bare
// array, in which case the response applies to the outstanding problem.
type Allocation struct {
	Tick    *int64            `json:"tick,omitempty"`
	Entries []AllocationEntry `json:"allocations"`
}

// Result is the authoritative outcome of validating an Allocation.
// Pit fields are present only when the connection has a nonzero capacity.
type Result struct {
	Type             string   `json:"type"` // always TypeResult
	Tick             int64    `json:"tick"`
	TotalValue       float64  `json:"totalValue"`
	IncrementalValue float64  `json:"incrementalValue"`
	TotalFlowIn      float64  `json:"totalFlowIn"`
	TotalFlowOut     float64  `json:"totalFlowOut"`
	PitCurrent       *float64 `json:"pitCurrent,omitempty"`
	PitCapacity      *float64 `json:"pitCapacity,omitempty"`
}

// ResultRecord is a history row for an accepted allocation.
// Once created, records are never modified.
type ResultRecord struct {
	ID         string    `json:"id" db:"id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	Tick       int64     `json:"tick" db:"tick"`
	Result     Result    `json:"result"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}
