package optimizer

import (
	"errors"
	"math"

	"github.com/atmx/flow-engine/internal/curve"
	"github.com/atmx/flow-engine/internal/model"
)

const (
	// DefaultRounds is the number of refinement passes.
	DefaultRounds = 3

	// DefaultLevels is the number of sampling steps per consumer in the
	// first pass. Pass r uses DefaultLevels/(r+1).
	DefaultLevels = 100
)

// Optimizer runs the knapsack search over progressively narrower windows
// around the previous pass's answer. The zero value is usable and applies
// the defaults.
type Optimizer struct {
	MaxCacheSize int
	Rounds       int
	Levels       int
}

// New creates an Optimizer with default settings.
func New() *Optimizer {
	return &Optimizer{
		MaxCacheSize: DefaultMaxCacheSize,
		Rounds:       DefaultRounds,
		Levels:       DefaultLevels,
	}
}

func (o *Optimizer) settings() (maxCache, rounds, levels int) {
	maxCache, rounds, levels = o.MaxCacheSize, o.Rounds, o.Levels
	if maxCache <= 0 {
		maxCache = DefaultMaxCacheSize
	}
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	if levels <= 0 {
		levels = DefaultLevels
	}
	return maxCache, rounds, levels
}

// Solve returns one flow per curve with sum(flow) <= totalFlow, approximately
// maximizing the summed curve values. The first pass searches [0, totalFlow]
// for every consumer; each later pass re-centers a window on the previous
// choice and shrinks it. A pass that becomes infeasible keeps the earlier
// answer.
func (o *Optimizer) Solve(totalFlow float64, curves [][]model.ValuePoint) ([]float64, error) {
	n := len(curves)
	if n == 0 {
		return nil, ErrNoCurves
	}
	flows := make([]float64, n)
	if totalFlow <= 0 || math.IsNaN(totalFlow) || math.IsInf(totalFlow, 0) {
		return flows, nil
	}

	maxCache, rounds, levels := o.settings()

	starts := make([]float64, n)
	ends := make([]float64, n)
	for i := range ends {
		ends[i] = totalFlow
	}

	for round := 0; round < rounds; round++ {
		steps := levels / (round + 1)
		if steps < 1 {
			steps = 1
		}
		costs, values := sample(curves, starts, ends, steps)

		idx, err := Knapsack(totalFlow, costs, values, maxCache)
		if err != nil {
			if round > 0 && errors.Is(err, ErrInfeasible) {
				break
			}
			return nil, err
		}

		for i := range flows {
			flows[i] = costs[i][idx[i]]
		}
		for i := range starts {
			extent := ends[i] - starts[i]
			starts[i] = math.Max(0, flows[i]-extent/float64(steps))
			ends[i] = math.Min(totalFlow, math.Max(0, flows[i]+extent/float64(steps)))
		}
	}
	return flows, nil
}

// sample produces, per consumer, steps+1 evenly spaced candidate flows over
// [start, end] and the curve value at each. A collapsed window yields a
// single candidate.
func sample(curves [][]model.ValuePoint, starts, ends []float64, steps int) (costs, values [][]float64) {
	costs = make([][]float64, len(curves))
	values = make([][]float64, len(curves))
	for i, pts := range curves {
		lo, hi := starts[i], ends[i]
		if hi <= lo {
			costs[i] = []float64{lo}
			values[i] = []float64{curve.Evaluate(pts, lo)}
			continue
		}
		cs := make([]float64, 0, steps+1)
		vs := make([]float64, 0, steps+1)
		for k := 0; k <= steps; k++ {
			f := lo + (hi-lo)*float64(k)/float64(steps)
			cs = append(cs, f)
			vs = append(vs, curve.Evaluate(pts, f))
		}
		costs[i] = cs
		values[i] = vs
	}
	return costs, values
}

// Percentages expresses flows as percentages of totalFlow. Rounding and
// under-allocation leave the sum slightly off 100; the single largest entry
// absorbs the residual so the result always sums to 100.
// A non-positive totalFlow yields an even split.
func Percentages(flows []float64, totalFlow float64) []float64 {
	n := len(flows)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if totalFlow <= 0 {
		for i := range out {
			out[i] = 100 / float64(n)
		}
	} else {
		for i, f := range flows {
			out[i] = f / totalFlow * 100
		}
	}

	sum := 0.0
	maxIdx := 0
	for i, p := range out {
		sum += p
		if p > out[maxIdx] {
			maxIdx = i
		}
	}
	out[maxIdx] += 100 - sum
	return out
}

// EvenSplit divides totalFlow equally across n consumers, ignoring value.
func EvenSplit(totalFlow float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	share := totalFlow / float64(n)
	for i := range out {
		out[i] = share
	}
	return out
}

// Allocate solves p and returns one entry per consumer. Flows are rebuilt
// from the normalized percentages, so they add up to the problem's total
// flow.
func (o *Optimizer) Allocate(p *model.Problem) ([]model.AllocationEntry, error) {
	if len(p.Consumers) == 0 {
		return nil, ErrNoCurves
	}
	curves := make([][]model.ValuePoint, len(p.Consumers))
	for i, c := range p.Consumers {
		curves[i] = c.Curve
	}
	flows, err := o.Solve(p.TotalFlow, curves)
	if err != nil {
		return nil, err
	}
	return entries(p, fromPercentages(Percentages(flows, p.TotalFlow), p.TotalFlow)), nil
}

// AllocateEven is the value-unaware fallback for p.
func AllocateEven(p *model.Problem) []model.AllocationEntry {
	return entries(p, EvenSplit(p.TotalFlow, len(p.Consumers)))
}

func fromPercentages(pcts []float64, totalFlow float64) []float64 {
	flows := make([]float64, len(pcts))
	for i, pct := range pcts {
		flows[i] = math.Max(0, pct/100*totalFlow)
	}
	return flows
}

func entries(p *model.Problem, flows []float64) []model.AllocationEntry {
	out := make([]model.AllocationEntry, len(p.Consumers))
	for i, c := range p.Consumers {
		out[i] = model.AllocationEntry{ConsumerID: c.ID, Flow: flows[i]}
	}
	return out
}
