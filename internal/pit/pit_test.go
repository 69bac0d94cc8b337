package pit

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestApply_FillsToCapacity(t *testing.T) {
	a := NewAccount()
	if err := a.SetCapacity(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 20; i++ {
		if err := a.Apply(50); err != nil {
			t.Fatalf("apply %d: unexpected error: %v", i+1, err)
		}
	}
	if cur, _ := a.Snapshot(); cur != 1000 {
		t.Fatalf("expected current=1000, got %g", cur)
	}

	err := a.Apply(50)
	var cv *CapacityViolation
	if !errors.As(err, &cv) {
		t.Fatalf("expected CapacityViolation, got %v", err)
	}
	if cv.Attempted != 1050 || cv.Capacity != 1000 {
		t.Errorf("unexpected violation details: %+v", cv)
	}
	if cv.MustBalance() {
		t.Error("overflow should not be reported as must-balance")
	}
	if cur, _ := a.Snapshot(); cur != 1000 {
		t.Errorf("current must be unchanged after violation, got %g", cur)
	}
}

func TestApply_Underflow(t *testing.T) {
	a := NewAccount()
	a.SetCapacity(100)

	err := a.Apply(-1)
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if !strings.Contains(err.Error(), "size of the pit") {
		t.Errorf("expected overflow/underflow message, got %q", err.Error())
	}
}

func TestApply_ZeroCapacityMustBalance(t *testing.T) {
	a := NewAccount()

	err := a.ApplyFlows(600000, 590000, 5*time.Second)
	var cv *CapacityViolation
	if !errors.As(err, &cv) {
		t.Fatalf("expected CapacityViolation, got %v", err)
	}
	if !cv.MustBalance() {
		t.Error("expected must-balance violation")
	}
	if !strings.Contains(err.Error(), "must match") {
		t.Errorf("expected balance message, got %q", err.Error())
	}

	if err := a.Apply(-3); !errors.Is(err, ErrCapacity) {
		t.Errorf("expected negative delta to violate too, got %v", err)
	}
}

func TestApply_EpsilonTreatedAsZero(t *testing.T) {
	a := NewAccount()
	if err := a.Apply(5e-6); err != nil {
		t.Errorf("expected tiny positive delta to be ignored, got %v", err)
	}
	if err := a.Apply(-9e-6); err != nil {
		t.Errorf("expected tiny negative delta to be ignored, got %v", err)
	}
	if err := a.Apply(0); err != nil {
		t.Errorf("expected zero delta to pass, got %v", err)
	}
}

func TestApply_NoDrift(t *testing.T) {
	a := NewAccount()
	a.SetCapacity(10)
	for i := 0; i < 1000; i++ {
		if err := a.Apply(0.01); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	if cur, _ := a.Snapshot(); cur != 10 {
		t.Errorf("expected exactly 10 after 1000 × 0.01, got %v", cur)
	}
}

func TestSetCapacity(t *testing.T) {
	a := NewAccount()
	if a.Enabled() {
		t.Error("new account should be disabled")
	}
	if err := a.SetCapacity(-1); !errors.Is(err, ErrNegativeCapacity) {
		t.Errorf("expected ErrNegativeCapacity, got %v", err)
	}
	a.SetCapacity(250)
	if !a.Enabled() {
		t.Error("expected account to be enabled")
	}
	if _, c := a.Snapshot(); c != 250 {
		t.Errorf("expected capacity 250, got %g", c)
	}
}

func TestDeltaFor(t *testing.T) {
	// 86400 bbls/day over one hour is 3600 bbls.
	got := DeltaFor(86400, 0, time.Hour)
	if math.Abs(got-3600) > 1e-9 {
		t.Errorf("expected 3600, got %g", got)
	}
	if got := DeltaFor(100, 100, 5*time.Second); got != 0 {
		t.Errorf("expected balanced flows to give 0, got %g", got)
	}
}

func TestApply_ZeroCapacityWithoutFlows(t *testing.T) {
	a := NewAccount()

	err := a.Apply(3)
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if strings.Contains(err.Error(), "must match") {
		t.Errorf("plain delta must not report flow totals, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "(3 bbls)") {
		t.Errorf("expected attempted volume in message, got %q", err.Error())
	}
}

func TestApply_NonFinite(t *testing.T) {
	a := NewAccount()
	a.SetCapacity(100)

	for _, delta := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if err := a.Apply(delta); !errors.Is(err, ErrNotFinite) {
			t.Errorf("Apply(%g): expected ErrNotFinite, got %v", delta, err)
		}
	}
	if err := a.ApplyFlows(0, math.Inf(1), 5*time.Second); !errors.Is(err, ErrNotFinite) {
		t.Errorf("expected ErrNotFinite for infinite outflow, got %v", err)
	}
	if err := a.SetCapacity(math.Inf(1)); !errors.Is(err, ErrNotFinite) {
		t.Errorf("expected ErrNotFinite for infinite capacity, got %v", err)
	}
	if cur, c := a.Snapshot(); cur != 0 || c != 100 {
		t.Errorf("account must be unchanged, got current=%g capacity=%g", cur, c)
	}
}
