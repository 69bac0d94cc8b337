// Package generator produces the synthetic allocation problems served to
// clients: a time-varying inflow and a set of consumers whose value curves
// are drawn from a few families.
//
// Generation is deterministic per period bucket. The wall clock is truncated
// to the period, and every random draw is seeded from that bucket (or a
// coarser one), so all server instances agree on the problem for a tick.
package generator

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/atmx/flow-engine/internal/model"
)

const (
	// DefaultPeriod is the length of one tick.
	DefaultPeriod = 5 * time.Second

	baseInflow      = 600000.0
	minConsumerFlow = 70000.0
	consumerSpread  = 30000.0
	curveStep       = 10000.0
	curveMaxFlow    = 200000.0
	maxConsumers    = 64

	nameBucket   = 15 * time.Minute
	pointsBucket = time.Minute

	mainPeriod  = 30 * time.Minute
	subPeriod   = 2 * time.Minute
	noisePeriod = 60 * time.Millisecond
)

// Generator builds the problem for a point in time.
type Generator struct {
	Period time.Duration
	Names  []string
}

// New creates a Generator with the built-in name list.
func New(period time.Duration) *Generator {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Generator{Period: period, Names: defaultNames}
}

// TickOf returns the tick number containing t.
func (g *Generator) TickOf(t time.Time) int64 {
	return t.UnixMilli() / g.Period.Milliseconds()
}

// Generate returns the problem for the tick containing t.
func (g *Generator) Generate(t time.Time) *model.Problem {
	tick := g.TickOf(t)
	ts := tick * g.Period.Milliseconds()
	inflow := InflowRate(ts)
	return &model.Problem{
		Type:      model.TypeCurrentState,
		Tick:      tick,
		TotalFlow: inflow,
		Consumers: g.consumers(ts, inflow),
	}
}

// InflowRate is the total flow (per day) arriving at unix millisecond ts.
func InflowRate(ts int64) float64 {
	return baseInflow + waves(ts, 200000, 10000, 5000)
}

// ProfitabilityFactor scales every curve's values at unix millisecond ts.
func ProfitabilityFactor(ts int64) float64 {
	return 1 + waves(ts, 0.5, 0.1, 0.01)
}

func waves(ts int64, mainAmp, subAmp, noiseAmp float64) float64 {
	x := float64(ts) * 2 * math.Pi
	return mainAmp*math.Sin(x/float64(mainPeriod.Milliseconds())) +
		subAmp*math.Sin(x/float64(subPeriod.Milliseconds())) +
		noiseAmp*math.Sin(x/float64(noisePeriod.Milliseconds()))
}

// consumers adds consumers until their combined nominal capacity covers the
// inflow. Names and curve families change every nameBucket; capacities every
// pointsBucket.
func (g *Generator) consumers(ts int64, inflow float64) []model.Consumer {
	nameRand := rand.New(rand.NewSource(ts / nameBucket.Milliseconds()))
	pointsRand := rand.New(rand.NewSource(ts / pointsBucket.Milliseconds()))
	scale := ProfitabilityFactor(ts)

	var (
		out   []model.Consumer
		seen  = make(map[string]int)
		total float64
	)
	for total < inflow && len(out) < maxConsumers {
		name := g.Names[nameRand.Intn(len(g.Names))]
		family := families[nameRand.Intn(len(families))]
		capacity := minConsumerFlow + pointsRand.Float64()*consumerSpread
		total += capacity

		pts := family(capacity, ts)
		for i := range pts {
			pts[i].Value *= scale
		}

		id := slug(name)
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s_%d", id, n)
			name = fmt.Sprintf("%s %d", name, n)
		}
		out = append(out, model.Consumer{ID: id, Name: name, Curve: pts})
	}
	return out
}

func slug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}
