// Package tick implements the per-connection allocation protocol.
//
// Every period the server sends the latest problem and waits for exactly one
// allocation. The allocation is validated against the outstanding problem,
// its value is recomputed from the consumers' curves, and the flow imbalance
// is booked into the connection's pit. Every failure is answered with an
// error frame; none of them closes the connection.
package tick

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/atmx/flow-engine/internal/curve"
	"github.com/atmx/flow-engine/internal/model"
	"github.com/atmx/flow-engine/internal/pit"
)

// DefaultPeriod is the time a client has to answer a problem.
const DefaultPeriod = 5 * time.Second

// Session is the protocol state of one connection. It is owned by a single
// goroutine and is not safe for concurrent use.
type Session struct {
	ID     string
	period time.Duration
	pit    *pit.Account

	problem   *model.Problem
	index     map[string]int
	responded bool
}

// NewSession creates a session with an empty, disabled pit.
func NewSession(id string, period time.Duration) *Session {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Session{ID: id, period: period, pit: pit.NewAccount()}
}

// Outstanding returns the problem the session is waiting on.
func (s *Session) Outstanding() *model.Problem {
	return s.problem
}

// Responded reports whether the current period already has a response.
func (s *Session) Responded() bool {
	return s.responded
}

// Pit returns the current pit volume and capacity.
func (s *Session) Pit() (current, capacity float64) {
	return s.pit.Snapshot()
}

// Issue installs p as the outstanding problem and opens a new period.
func (s *Session) Issue(p *model.Problem) {
	s.problem = p
	s.index = p.ConsumerIndex()
	s.responded = false
}

// Rollover closes the current period and issues p. It returns ErrTimeout if
// the closed period received no response; p is issued either way.
func (s *Session) Rollover(p *model.Problem) error {
	var err error
	if s.problem != nil && !s.responded {
		err = fmt.Errorf("%w (tick %d)", ErrTimeout, s.problem.Tick)
	}
	s.Issue(p)
	return err
}

// wireEntry mirrors model.AllocationEntry with pointers so missing fields
// can be told apart from zero values.
type wireEntry struct {
	ConsumerID *string  `json:"consumerId"`
	Flow       *float64 `json:"flow"`
}

type wireEnvelope struct {
	Tick        *int64       `json:"tick"`
	Allocations *[]wireEntry `json:"allocations"`
}

// Handle processes one inbound frame. Control frames return (nil, nil).
// Allocations return the computed result or a protocol error.
func (s *Session) Handle(frame []byte) (*model.Result, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}

	var (
		tick    *int64
		entries []wireEntry
	)
	switch frame[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(frame, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if raw, ok := fields["setPitCapacity"]; ok {
			s.control(raw)
			return nil, nil
		}
		var env wireEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if env.Allocations == nil {
			return nil, fmt.Errorf("%w: expected an allocation list", ErrInvalidInput)
		}
		tick, entries = env.Tick, *env.Allocations
	case '[':
		if err := json.Unmarshal(frame, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	default:
		return nil, fmt.Errorf("%w: message is not JSON", ErrInvalidInput)
	}

	return s.allocate(tick, entries)
}

// control applies a setPitCapacity frame. A value that is not a usable
// number (including null) is ignored without consuming the period's response.
func (s *Session) control(raw json.RawMessage) {
	var v any
	json.Unmarshal(raw, &v)
	c, ok := v.(float64)
	if !ok {
		slog.Warn("ignoring malformed pit capacity", "session", s.ID, "value", string(raw))
		return
	}
	if err := s.pit.SetCapacity(c); err != nil {
		slog.Warn("ignoring pit capacity", "session", s.ID, "err", err)
		return
	}
	slog.Info("pit capacity set", "session", s.ID, "capacity", c)
}

func (s *Session) allocate(tick *int64, entries []wireEntry) (*model.Result, error) {
	p := s.problem
	if p == nil {
		return nil, fmt.Errorf("%w: no problem has been issued", ErrInvalidInput)
	}
	if tick != nil && *tick != p.Tick {
		return nil, fmt.Errorf("%w: got tick %d, outstanding tick is %d", ErrStaleResponse, *tick, p.Tick)
	}
	if s.responded {
		return nil, fmt.Errorf("%w for tick %d", ErrDuplicateResponse, p.Tick)
	}
	// Any well-formed allocation uses up the period, valid or not.
	s.responded = true

	if len(entries) != len(p.Consumers) {
		return nil, fmt.Errorf("%w: got %d entries for %d consumers", ErrInputShape, len(entries), len(p.Consumers))
	}

	seen := make(map[string]bool, len(entries))
	var totalValue, flowOut float64
	for i, e := range entries {
		if e.ConsumerID == nil || e.Flow == nil {
			return nil, fmt.Errorf("%w: entry %d needs consumerId and flow", ErrInputShape, i)
		}
		id := *e.ConsumerID
		ci, ok := s.index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownConsumer, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %q appears more than once", ErrInputShape, id)
		}
		seen[id] = true
		if *e.Flow < 0 {
			return nil, fmt.Errorf("%w: %q has flow %g", ErrNegativeFlow, id, *e.Flow)
		}
		if math.IsInf(*e.Flow, 0) || math.IsNaN(*e.Flow) {
			return nil, fmt.Errorf("%w: %q has flow %g", ErrInvalidInput, id, *e.Flow)
		}

		flowOut += *e.Flow
		totalValue += curve.Evaluate(p.Consumers[ci].Curve, *e.Flow)
	}
	if math.IsInf(flowOut, 0) || math.IsNaN(flowOut) {
		return nil, fmt.Errorf("%w: total flow out is not a finite number", ErrInvalidInput)
	}

	if err := s.pit.ApplyFlows(p.TotalFlow, flowOut, s.period); err != nil {
		return nil, err
	}

	res := &model.Result{
		Type:             model.TypeResult,
		Tick:             p.Tick,
		TotalValue:       totalValue,
		IncrementalValue: totalValue * s.period.Seconds() / (24 * time.Hour).Seconds(),
		TotalFlowIn:      p.TotalFlow,
		TotalFlowOut:     flowOut,
	}
	if s.pit.Enabled() {
		cur, capacity := s.pit.Snapshot()
		res.PitCurrent = &cur
		res.PitCapacity = &capacity
	}
	return res, nil
}
