// Package optimizer allocates a flow budget across consumers with
// piecewise-linear value curves.
//
// The problem is treated as a discretized multi-choice knapsack: every
// consumer's domain is sampled at a fixed number of levels, each level being a
// (cost, value) pair, and exactly one level is chosen per consumer so that the
// total value is maximal and the total cost fits the budget.
//
// The exact state space is budget × levels, which is unbounded in the budget.
// Knapsack scales the budget and every cost down so that the decision table
// never exceeds maxCacheSize cells. Costs are rounded up and the budget down,
// so any allocation feasible at the reduced resolution is feasible at full
// resolution. The answer is therefore approximate but never over budget.
//
// The optimizer is pure and deterministic; it holds no state between calls.
package optimizer

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultMaxCacheSize bounds the number of cells in the decision table.
	DefaultMaxCacheSize = 500_000

	// minBudgetCells keeps at least a zero and a nonzero budget column.
	minBudgetCells = 2
)

var (
	// ErrNoCurves is returned when there is nothing to allocate to.
	ErrNoCurves = errors.New("optimizer: at least one curve is required")

	// ErrShape is returned when costs and values do not line up.
	ErrShape = errors.New("optimizer: costs and values must have matching non-empty rows")

	// ErrInvalidCost is returned for negative or non-finite costs.
	ErrInvalidCost = errors.New("optimizer: costs must be finite and non-negative")

	// ErrInfeasible is returned when no combination of levels fits the budget.
	ErrInfeasible = errors.New("optimizer: no level combination fits the budget")
)

// Knapsack chooses one level per row of costs/values, maximizing the sum of
// chosen values subject to the sum of chosen costs not exceeding budget.
// It returns the chosen level index for every row.
//
// Ties between taking a level and skipping to a later one go to taking, so
// among equal-value choices the earliest level wins.
func Knapsack(budget float64, costs, values [][]float64, maxCacheSize int) ([]int, error) {
	n := len(costs)
	if n == 0 {
		return nil, ErrNoCurves
	}
	if len(values) != n {
		return nil, fmt.Errorf("%w: %d cost rows, %d value rows", ErrShape, n, len(values))
	}

	offsets := make([]int, n)
	totalLevels := 0
	for i := range costs {
		if len(costs[i]) == 0 || len(costs[i]) != len(values[i]) {
			return nil, fmt.Errorf("%w: row %d", ErrShape, i)
		}
		for _, c := range costs[i] {
			if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w: row %d has cost %g", ErrInvalidCost, i, c)
			}
		}
		offsets[i] = totalLevels
		totalLevels += len(costs[i])
	}

	if maxCacheSize <= 0 {
		maxCacheSize = DefaultMaxCacheSize
	}
	if budget < 0 || math.IsNaN(budget) {
		budget = 0
	}

	// Scale down so the table fits maxCacheSize cells.
	arraySize := maxCacheSize / totalLevels
	if arraySize < minBudgetCells {
		arraySize = minBudgetCells
	}
	scale := float64(arraySize) / (budget + 1.01)
	limit := int(math.Floor(budget * scale))
	if limit > arraySize-1 {
		limit = arraySize - 1
	}

	scaled := make([][]int, n)
	for i, row := range costs {
		scaled[i] = make([]int, len(row))
		for j, c := range row {
			scaled[i][j] = int(math.Ceil(c * scale))
		}
	}

	width := limit + 1
	take := make([]bool, totalLevels*width)

	// next holds best(i+1, 0, r); cur holds best(i, j+1, r) and is
	// overwritten in place with best(i, j, r).
	next := make([]float64, width)
	cur := make([]float64, width)
	negInf := math.Inf(-1)

	for i := n - 1; i >= 0; i-- {
		for r := range cur {
			cur[r] = negInf
		}
		for j := len(costs[i]) - 1; j >= 0; j-- {
			c := scaled[i][j]
			v := values[i][j]
			base := (offsets[i] + j) * width
			for r := 0; r < width; r++ {
				skip := cur[r]
				if c <= r {
					pick := next[r-c] + v
					if !math.IsInf(pick, -1) && pick >= skip {
						cur[r] = pick
						take[base+r] = true
						continue
					}
				}
				cur[r] = skip
			}
		}
		next, cur = cur, next
	}

	if math.IsInf(next[limit], -1) {
		return nil, ErrInfeasible
	}

	// Walk the decision chain from the root state, recording the level
	// chosen whenever the consumer index advances.
	choice := make([]int, n)
	i, j, r := 0, 0, limit
	for i < n {
		if j >= len(costs[i]) {
			return nil, ErrInfeasible
		}
		if take[(offsets[i]+j)*width+r] {
			choice[i] = j
			r -= scaled[i][j]
			i, j = i+1, 0
			continue
		}
		j++
	}
	return choice, nil
}
