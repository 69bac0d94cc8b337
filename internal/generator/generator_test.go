package generator

import (
	"reflect"
	"testing"
	"time"

	"github.com/atmx/flow-engine/internal/curve"
	"github.com/atmx/flow-engine/internal/model"
)

var t0 = time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)

func TestGenerate_DeterministicWithinTick(t *testing.T) {
	g := New(5 * time.Second)

	a := g.Generate(t0)
	b := g.Generate(t0.Add(4999 * time.Millisecond))
	if !reflect.DeepEqual(a, b) {
		t.Error("expected identical problems within one tick")
	}

	c := g.Generate(t0.Add(5 * time.Second))
	if c.Tick != a.Tick+1 {
		t.Errorf("expected next tick %d, got %d", a.Tick+1, c.Tick)
	}
}

func TestGenerate_ProblemShape(t *testing.T) {
	g := New(DefaultPeriod)

	for i := 0; i < 50; i++ {
		p := g.Generate(t0.Add(time.Duration(i) * 37 * time.Second))

		if p.Type != model.TypeCurrentState {
			t.Fatalf("unexpected type %q", p.Type)
		}
		if p.TotalFlow < 380000 || p.TotalFlow > 820000 {
			t.Errorf("inflow %g outside expected band", p.TotalFlow)
		}
		// Each consumer absorbs at most 100000, so enough of them must exist
		// to cover the inflow.
		if min := int(p.TotalFlow / 100000); len(p.Consumers) < min {
			t.Errorf("expected at least %d consumers, got %d", min, len(p.Consumers))
		}

		ids := make(map[string]bool)
		for _, c := range p.Consumers {
			if ids[c.ID] {
				t.Errorf("duplicate consumer id %q", c.ID)
			}
			ids[c.ID] = true
			if err := curve.Validate(c.Curve); err != nil {
				t.Errorf("consumer %s has invalid curve: %v", c.ID, err)
			}
			if len(c.Curve) != 21 {
				t.Errorf("expected 21 curve points, got %d", len(c.Curve))
			}
		}
	}
}

func TestSlug(t *testing.T) {
	if got := slug("Permian  Basin Frac"); got != "permian_basin_frac" {
		t.Errorf("unexpected slug %q", got)
	}
}

func TestInflowRate_Bounds(t *testing.T) {
	for ts := int64(0); ts < int64(time.Hour/time.Millisecond); ts += 7919 {
		r := InflowRate(ts)
		if r < baseInflow-215000 || r > baseInflow+215000 {
			t.Fatalf("inflow %g at %d outside amplitude bounds", r, ts)
		}
	}
}

func TestFeed_PublishesOnTickChange(t *testing.T) {
	g := New(5 * time.Second)
	f := NewFeed(g, time.Second)
	if f.Current() == nil {
		t.Fatal("expected an initial snapshot")
	}

	now := t0
	f.now = func() time.Time { return now }

	if !f.Refresh() {
		t.Fatal("expected publish for a new tick")
	}
	first := f.Current()

	now = now.Add(time.Second)
	if f.Refresh() {
		t.Error("expected no publish within the same tick")
	}
	if f.Current() != first {
		t.Error("snapshot pointer should be unchanged within a tick")
	}

	now = now.Add(5 * time.Second)
	if !f.Refresh() {
		t.Error("expected publish after the tick boundary")
	}
	if f.Current().Tick != first.Tick+1 {
		t.Errorf("expected tick %d, got %d", first.Tick+1, f.Current().Tick)
	}
}
