package dynamo

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		valid  bool
	}{
		{"defaults", func(*Settings) {}, true},
		{"zero dt", func(s *Settings) { s.Dt = 0 }, false},
		{"NaN dt", func(s *Settings) { s.Dt = math.NaN() }, false},
		{"inf dt", func(s *Settings) { s.Dt = math.Inf(1) }, false},
		{"no newton", func(s *Settings) { s.MaxNewton = 0 }, false},
		{"no outer", func(s *Settings) { s.MaxOuter = 0 }, false},
		{"zero tolerance", func(s *Settings) { s.Tolerance = 0 }, false},
		{"no pcg", func(s *Settings) { s.PCGMaxIterations = 0 }, false},
		{"zero pcg tolerance", func(s *Settings) { s.PCGTolerance = 0 }, false},
		{"negative halvings", func(s *Settings) { s.MaxHalvings = -1 }, false},
		{"zero halvings", func(s *Settings) { s.MaxHalvings = 0 }, true},
		{"margin below one", func(s *Settings) { s.Margin = 0.9 }, false},
		{"margin one", func(s *Settings) { s.Margin = 1 }, true},
		{"unknown beta mode", func(s *Settings) { s.BetaMode = "linear" }, false},
		{"fixed beta zero step", func(s *Settings) { s.BetaMode, s.BetaStep = BetaFixed, 0 }, false},
		{"fixed beta full step", func(s *Settings) { s.BetaMode, s.BetaStep = BetaFixed, 1 }, true},
		{"adaptive ignores step", func(s *Settings) { s.BetaStep = 0 }, true},
		{"damping one", func(s *Settings) { s.FreezeDamping = 1 }, false},
		{"negative min stiffness", func(s *Settings) { s.MinStiffness = -1 }, false},
		{"negative max stiffness", func(s *Settings) { s.MaxStiffness = -1 }, false},
		{"max below min", func(s *Settings) { s.MinStiffness, s.MaxStiffness = 10, 5 }, false},
		{"max unbounded", func(s *Settings) { s.MinStiffness, s.MaxStiffness = 10, 0 }, true},
		{"stiffness band", func(s *Settings) { s.MinStiffness, s.MaxStiffness = 10, 1e6 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)
			err := s.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidSettings) {
				t.Errorf("Validate() = %v, want ErrInvalidSettings", err)
			}
		})
	}
}

func TestIsFinite(t *testing.T) {
	tests := []struct {
		name string
		v    mgl64.Vec3
		want bool
	}{
		{"zero", mgl64.Vec3{}, true},
		{"normal", mgl64.Vec3{1, -2, 3}, true},
		{"NaN", mgl64.Vec3{0, math.NaN(), 0}, false},
		{"+Inf", mgl64.Vec3{math.Inf(1), 0, 0}, false},
		{"-Inf", mgl64.Vec3{0, 0, math.Inf(-1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFinite(tt.v); got != tt.want {
				t.Errorf("IsFinite(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
	if AllFinite(mgl64.Vec3{1, 1, 1}, mgl64.Vec3{math.NaN(), 0, 0}) {
		t.Error("AllFinite should reject a NaN vector")
	}
	if !AllFinite() {
		t.Error("AllFinite of nothing should be true")
	}
}

func TestParallelFor_CoversRangeOnce(t *testing.T) {
	for _, n := range []int{0, 1, 7, 100, 10000} {
		hits := make([]int32, n)
		ParallelFor(n, 16, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, h)
			}
		}
	}
}

func TestParallelFor_SmallRunsInline(t *testing.T) {
	calls := 0
	ParallelFor(10, 64, func(start, end int) {
		calls++
		if start != 0 || end != 10 {
			t.Errorf("got range [%d, %d), want [0, 10)", start, end)
		}
	})
	if calls != 1 {
		t.Errorf("expected one inline call, got %d", calls)
	}
}

func TestTickError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &TickError{Tick: 3, Time: 0.05, Iteration: 2, Wrapped: ErrInvalidState})

	if !errors.Is(err, ErrInvalidState) {
		t.Error("TickError should unwrap to its cause")
	}
	var te *TickError
	if !errors.As(err, &te) {
		t.Fatal("expected a TickError in the chain")
	}
	if te.Tick != 3 {
		t.Errorf("tick = %d, want 3", te.Tick)
	}
	want := "tick 3 (t=0.0500, newton 2): " + ErrInvalidState.Error()
	if te.Error() != want {
		t.Errorf("Error() = %q, want %q", te.Error(), want)
	}
}
