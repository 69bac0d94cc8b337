// Package pit implements the bounded buffer that reconciles the flow coming
// in with the flow allocated out, one period at a time.
//
// Volumes are accumulated with shopspring/decimal so that thousands of small
// per-period deltas do not drift away from the exact sum.
package pit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Epsilon is the delta magnitude below which a period's imbalance is treated
// as exactly zero.
const Epsilon = 1e-5

var (
	// ErrCapacity matches every *CapacityViolation via errors.Is.
	ErrCapacity = errors.New("pit: capacity violation")

	// ErrNegativeCapacity is returned by SetCapacity for c < 0.
	ErrNegativeCapacity = errors.New("pit: capacity must be non-negative")

	// ErrNotFinite is returned for NaN or infinite deltas and capacities.
	ErrNotFinite = errors.New("pit: value must be finite")

	epsilon = decimal.NewFromFloat(Epsilon)
)

// CapacityViolation reports a delta that would move the pit volume outside
// [0, capacity].
type CapacityViolation struct {
	Attempted float64 // volume the delta would have produced
	Capacity  float64
	FlowIn    float64 // optional context for the message, per day
	FlowOut   float64

	fromFlows bool // FlowIn and FlowOut are set
}

func (e *CapacityViolation) Error() string {
	if e.Capacity == 0 && e.fromFlows {
		return fmt.Sprintf("total flow in (%g bbls/day) must match the flow to operations (%g bbls/day)",
			e.FlowIn, e.FlowOut)
	}
	return fmt.Sprintf("the current volume in the pit (%g bbls) is not possible for the size of the pit (%g bbls)",
		e.Attempted, e.Capacity)
}

// Is lets errors.Is(err, ErrCapacity) match.
func (e *CapacityViolation) Is(target error) bool {
	return target == ErrCapacity
}

// MustBalance reports whether the violation came from a pit with no buffer.
func (e *CapacityViolation) MustBalance() bool {
	return e.Capacity == 0
}

// Account is one connection's pit. It is owned by a single goroutine and is
// not safe for concurrent use.
type Account struct {
	current  decimal.Decimal
	capacity decimal.Decimal
}

// NewAccount creates an empty pit with capacity 0.
func NewAccount() *Account {
	return &Account{}
}

// SetCapacity configures the pit size. It may be called repeatedly; the
// current volume is left untouched.
func (a *Account) SetCapacity(c float64) error {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return fmt.Errorf("%w: capacity %g", ErrNotFinite, c)
	}
	if c < 0 {
		return fmt.Errorf("%w: %g", ErrNegativeCapacity, c)
	}
	a.capacity = decimal.NewFromFloat(c)
	return nil
}

// Apply adds delta to the volume. Deltas with |delta| < Epsilon count as
// zero. If the result would leave [0, capacity] the account is unchanged and
// a *CapacityViolation is returned. With capacity 0 any nonzero delta
// violates, since there is nowhere to put the imbalance.
func (a *Account) Apply(delta float64) error {
	return a.apply(delta, nil)
}

// ApplyFlows applies the volume produced by flowIn and flowOut (per day)
// over one period.
func (a *Account) ApplyFlows(flowIn, flowOut float64, period time.Duration) error {
	return a.apply(DeltaFor(flowIn, flowOut, period), &CapacityViolation{
		FlowIn:    flowIn,
		FlowOut:   flowOut,
		fromFlows: true,
	})
}

// apply adds delta. On violation, cv (if any) is filled in and returned.
func (a *Account) apply(delta float64, cv *CapacityViolation) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("%w: delta %g", ErrNotFinite, delta)
	}
	d := decimal.NewFromFloat(delta)
	if d.Abs().LessThan(epsilon) {
		d = decimal.Zero
	}
	next := a.current.Add(d)
	if next.IsNegative() || next.GreaterThan(a.capacity) {
		if cv == nil {
			cv = &CapacityViolation{}
		}
		cv.Attempted = next.InexactFloat64()
		cv.Capacity = a.capacity.InexactFloat64()
		return cv
	}
	a.current = next
	return nil
}

// Snapshot returns the current volume and capacity.
func (a *Account) Snapshot() (current, capacity float64) {
	return a.current.InexactFloat64(), a.capacity.InexactFloat64()
}

// Enabled reports whether a nonzero capacity has been configured.
func (a *Account) Enabled() bool {
	return a.capacity.IsPositive()
}

// DeltaFor converts a per-day imbalance into the volume it produces over
// one period.
func DeltaFor(flowIn, flowOut float64, period time.Duration) float64 {
	return (flowIn - flowOut) * period.Seconds() / (24 * time.Hour).Seconds()
}
