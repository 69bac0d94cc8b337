// Package curve evaluates piecewise-linear value curves.
//
// A curve is an ordered list of (flow, value) points with strictly increasing
// flow. Between two points the value is linearly interpolated; outside the
// curve's domain the value is clamped to the nearest endpoint, never
// extrapolated.
package curve

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/atmx/flow-engine/internal/model"
)

var (
	// ErrEmpty is returned when a curve has no points.
	ErrEmpty = errors.New("curve: at least one point is required")

	// ErrNotIncreasing is returned when flow values are not strictly increasing.
	// Duplicate flows are rejected here; Evaluate on unvalidated input uses the
	// first occurrence.
	ErrNotIncreasing = errors.New("curve: flow values must be strictly increasing")

	// ErrInvalidPoint is returned for negative or non-finite coordinates.
	ErrInvalidPoint = errors.New("curve: invalid point")
)

// Validate checks that pts is a well-formed curve.
func Validate(pts []model.ValuePoint) error {
	if len(pts) == 0 {
		return ErrEmpty
	}
	for i, p := range pts {
		if math.IsNaN(p.Flow) || math.IsInf(p.Flow, 0) || math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidPoint, i)
		}
		if p.Flow < 0 {
			return fmt.Errorf("%w: point %d has negative flow %g", ErrInvalidPoint, i, p.Flow)
		}
		if i > 0 && p.Flow <= pts[i-1].Flow {
			return fmt.Errorf("%w: point %d (flow %g) follows flow %g", ErrNotIncreasing, i, p.Flow, pts[i-1].Flow)
		}
	}
	return nil
}

// Evaluate returns the curve's value at flow. An empty curve evaluates to 0.
func Evaluate(pts []model.ValuePoint, flow float64) float64 {
	n := len(pts)
	if n == 0 {
		return 0
	}
	if flow <= pts[0].Flow {
		return pts[0].Value
	}
	if flow >= pts[n-1].Flow {
		return pts[n-1].Value
	}

	// First index whose flow is >= the target; i is in [1, n-1] here.
	i := sort.Search(n, func(k int) bool { return pts[k].Flow >= flow })
	hi := pts[i]
	if hi.Flow == flow {
		return hi.Value
	}
	lo := pts[i-1]
	span := hi.Flow - lo.Flow
	if span <= 0 {
		return lo.Value
	}
	t := (flow - lo.Flow) / span
	return lo.Value + t*(hi.Value-lo.Value)
}

// Func binds a curve so it can be evaluated repeatedly.
type Func func(flow float64) float64

// Bind returns an evaluator closed over pts.
func Bind(pts []model.ValuePoint) Func {
	return func(flow float64) float64 {
		return Evaluate(pts, flow)
	}
}
