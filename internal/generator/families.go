package generator

import (
	"math"
	"math/rand"

	"github.com/atmx/flow-engine/internal/model"
)

// family builds a value curve for a consumer that can usefully absorb
// capacity flow per day. Every family samples flows 0..curveMaxFlow in
// curveStep increments and draws its jitter from a generator seeded by ts.
type family func(capacity float64, ts int64) []model.ValuePoint

var families = []family{spikeCurve, cycleCurve, linearCurve}

// jitter returns a multiplier in [0.9, 1.1).
func jitter(r *rand.Rand) float64 {
	return 0.9 + r.Float64()*0.2
}

// overflowValue is the loss past capacity for the linear and spike families.
func overflowValue(flow float64, r *rand.Rand) float64 {
	return -0.1 * flow * jitter(r)
}

// linearCurve pays a roughly constant price per unit up to capacity.
func linearCurve(capacity float64, ts int64) []model.ValuePoint {
	r := rand.New(rand.NewSource(ts))
	slope := 0.8 + r.Float64()*0.4
	var pts []model.ValuePoint
	for f := 0.0; f <= curveMaxFlow; f += curveStep {
		v := overflowValue(f, r)
		if f < capacity {
			v = slope * f * jitter(r)
		}
		pts = append(pts, model.ValuePoint{Flow: f, Value: v})
	}
	return pts
}

// cycleCurve oscillates twice over the capacity, so the best flow is one of
// its local maxima rather than the largest amount.
func cycleCurve(capacity float64, ts int64) []model.ValuePoint {
	r := rand.New(rand.NewSource(ts))
	peak := 80000 + r.Float64()*40000
	var pts []model.ValuePoint
	for f := 0.0; f <= curveMaxFlow; f += curveStep {
		v := math.Sin(f*4*math.Pi/capacity) * peak * jitter(r)
		pts = append(pts, model.ValuePoint{Flow: f, Value: v})
	}
	return pts
}

// spikeCurve grows quadratically up to capacity.
func spikeCurve(capacity float64, ts int64) []model.ValuePoint {
	r := rand.New(rand.NewSource(ts))
	var pts []model.ValuePoint
	for f := 0.0; f <= curveMaxFlow; f += curveStep {
		v := overflowValue(f, r)
		if f < capacity {
			v = (f * f / 100000) * jitter(r)
		}
		pts = append(pts, model.ValuePoint{Flow: f, Value: v})
	}
	return pts
}
