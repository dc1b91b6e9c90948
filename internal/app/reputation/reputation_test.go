package reputation

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/labelmint/labelmint/internal/domain"
)

func TestGate_ReputationThreshold(t *testing.T) {
	gate := Gate{MinReputation: 60}
	task := domain.Task{ID: "t-1"}

	tests := []struct {
		name       string
		reputation float64
		want       bool
	}{
		{"below", 50, false},
		{"exact", 60, true},
		{"above", 90, true},
		{"zero", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := domain.Worker{ID: "w", Reputation: tt.reputation}
			assert.Equal(t, tt.want, gate.IsEligible(w, task))
		})
	}
}

func TestGate_CheckCarriesDetail(t *testing.T) {
	gate := Gate{MinReputation: 60}
	err := gate.Check(domain.Worker{ID: "w-low", Reputation: 50}, domain.Task{ID: "t-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrReputationTooLow))

	var opErr *domain.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "w-low", opErr.WorkerID)
	assert.Equal(t, "t-1", opErr.TaskID)
	assert.Contains(t, opErr.Detail, "50.0")
	assert.Contains(t, opErr.Detail, "60.0")

	assert.NoError(t, gate.Check(domain.Worker{ID: "w-high", Reputation: 90}, domain.Task{ID: "t-1"}))
}

func TestGate_MinAccuracy(t *testing.T) {
	gate := Gate{MinReputation: 10, MinAccuracy: 0.7}
	task := domain.Task{}

	assert.False(t, gate.IsEligible(domain.Worker{Reputation: 80, Accuracy: 0.6}, task))
	assert.True(t, gate.IsEligible(domain.Worker{Reputation: 80, Accuracy: 0.7}, task))

	disabled := Gate{MinReputation: 10}
	assert.True(t, disabled.IsEligible(domain.Worker{Reputation: 80, Accuracy: 0}, task))
}

func TestUpdateAccuracy_Direction(t *testing.T) {
	up := UpdateAccuracy(0.8, true, 0.05)
	assert.InDelta(t, 0.81, up, 1e-12)

	down := UpdateAccuracy(0.8, false, 0.05)
	assert.InDelta(t, 0.76, down, 1e-12)
}

func TestUpdateAccuracy_NeverReachesOne(t *testing.T) {
	acc := 0.5
	for i := 0; i < 10_000; i++ {
		next := UpdateAccuracy(acc, true, 0.2)
		require.Less(t, next, 1.0, "step %d", i)
		require.GreaterOrEqual(t, next, acc, "step %d", i)
		acc = next
	}
	assert.Greater(t, acc, 0.999999)
}

func TestUpdateAccuracy_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Keep the start away from the clamp bounds so a single step is
		// always representable.
		acc := rapid.Float64Range(0.001, 0.999).Draw(t, "accuracy")
		alpha := rapid.Float64Range(0.001, 0.5).Draw(t, "alpha")

		up := UpdateAccuracy(acc, true, alpha)
		if !(up > acc) {
			t.Fatalf("correct answer did not raise accuracy: %v -> %v", acc, up)
		}
		if up >= 1 {
			t.Fatalf("accuracy reached %v", up)
		}

		down := UpdateAccuracy(acc, false, alpha)
		if !(down < acc) {
			t.Fatalf("wrong answer did not lower accuracy: %v -> %v", acc, down)
		}
		if down < 0 {
			t.Fatalf("accuracy fell to %v", down)
		}
	})
}

func TestUpdateAccuracy_CorrectNeverLowers(t *testing.T) {
	for _, start := range []float64{1, MaxAccuracy, 1.5} {
		got := UpdateAccuracy(start, true, 0.05)
		assert.Equal(t, MaxAccuracy, got, "start %v", start)
	}
	assert.Less(t, UpdateAccuracy(1, false, 0.05), MaxAccuracy)
}

func TestClampAccuracy(t *testing.T) {
	assert.Equal(t, MaxAccuracy, ClampAccuracy(1))
	assert.Equal(t, 0.0, ClampAccuracy(-0.2))
	assert.Equal(t, 0.0, ClampAccuracy(math.NaN()))
	assert.Equal(t, 0.4, ClampAccuracy(0.4))
}

func TestNudge_Clamped(t *testing.T) {
	assert.Equal(t, 100.0, Nudge(99.5, 2))
	assert.Equal(t, 0.0, Nudge(0.5, -2))
	assert.Equal(t, 51.0, Nudge(50, 1))
}
