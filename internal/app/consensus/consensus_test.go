package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/labelmint/labelmint/internal/domain"
)

func subs(values ...string) []domain.Submission {
	out := make([]domain.Submission, len(values))
	for i, v := range values {
		out[i] = domain.Submission{UserID: string(rune('a' + i)), Value: v}
	}
	return out
}

var threeTwo = Params{Threshold: 2, Required: 3, MaxParticipants: 5}

func TestCalculate_Majority(t *testing.T) {
	res := Calculate(subs("cat", "dog", "cat"), threeTwo)

	assert.True(t, res.Reached)
	assert.False(t, res.Conflict)
	assert.Equal(t, "cat", res.AgreedLabel)
	assert.Equal(t, 2, res.AgreementCount)
	assert.Equal(t, 3, res.TotalLabels)
	assert.InDelta(t, 2.0/3.0, res.Confidence, 1e-12)
	assert.Equal(t, map[string]int{"cat": 2, "dog": 1}, res.Distribution)
}

func TestCalculate_SplitVoteIsConflict(t *testing.T) {
	res := Calculate(subs("cat", "dog", "bird"), threeTwo)

	assert.False(t, res.Reached)
	assert.True(t, res.Conflict)
	assert.Equal(t, 1, res.AdditionalReviewersNeeded)
	assert.Equal(t, "bird", res.AgreedLabel, "ties resolve to the smallest label")
}

func TestCalculate_Cases(t *testing.T) {
	tests := []struct {
		name           string
		values         []string
		p              Params
		wantReached    bool
		wantConflict   bool
		wantAdditional int
	}{
		{"empty", nil, threeTwo, false, false, 0},
		{"awaiting more", []string{"cat", "dog"}, threeTwo, false, false, 0},
		{"unanimous early", []string{"cat", "cat"}, threeTwo, true, false, 0},
		{"tie at top", []string{"cat", "cat", "dog", "dog"}, Params{Threshold: 2, Required: 4, MaxParticipants: 5}, false, true, 1},
		{"tie no room", []string{"cat", "cat", "dog", "dog", "x"}, Params{Threshold: 3, Required: 4, MaxParticipants: 5}, false, true, 0},
		{"capped by participants", []string{"a", "b", "c", "d"}, Params{Threshold: 3, Required: 4, MaxParticipants: 5}, false, true, 1},
		{"threshold three", []string{"a", "a", "b"}, Params{Threshold: 3, Required: 3, MaxParticipants: 5}, false, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Calculate(subs(tt.values...), tt.p)
			assert.Equal(t, tt.wantReached, res.Reached, "reached")
			assert.Equal(t, tt.wantConflict, res.Conflict, "conflict")
			assert.Equal(t, tt.wantAdditional, res.AdditionalReviewersNeeded, "additional")
		})
	}
}

func TestAgreeing_SubmissionOrder(t *testing.T) {
	got := Agreeing(subs("cat", "dog", "cat"), "cat")
	assert.Equal(t, []string{"a", "c"}, got)
	assert.Empty(t, Agreeing(subs("dog"), "cat"))
}

func TestParamsFor_DefaultsCap(t *testing.T) {
	task := domain.Task{LabelsRequired: 3, ConsensusThreshold: 2}
	assert.Equal(t, Params{Threshold: 2, Required: 3, MaxParticipants: 5}, ParamsFor(task, 0))
	assert.Equal(t, 7, ParamsFor(task, 7).MaxParticipants)
}

// replay evaluates after every arrival the way the engine does and returns
// the index of the submission that completed the task, or -1.
func replay(values []string, p Params) (int, Result) {
	all := subs(values...)
	for i := range all {
		if i+1 < p.Threshold {
			continue
		}
		res := Calculate(all[:i+1], p)
		if res.Reached {
			return i, res
		}
	}
	return -1, Result{}
}

func TestReplay_CatCatDogAnyOrder(t *testing.T) {
	orders := [][]string{
		{"cat", "cat", "dog"},
		{"cat", "dog", "cat"},
		{"dog", "cat", "cat"},
	}
	for _, order := range orders {
		idx, res := replay(order, threeTwo)
		require.NotEqual(t, -1, idx, "order %v", order)
		assert.Equal(t, "cat", res.AgreedLabel)

		// Completion happens on the second cat.
		secondCat := -1
		seen := 0
		for i, v := range order {
			if v == "cat" {
				seen++
				if seen == 2 {
					secondCat = i
					break
				}
			}
		}
		assert.Equal(t, secondCat, idx, "order %v", order)
		assert.InDelta(t, 2.0/float64(idx+1), res.Confidence, 1e-12)
	}
}

func TestCalculate_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		labels := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c"}), 0, 8).Draw(t, "labels")
		threshold := rapid.IntRange(1, 4).Draw(t, "threshold")
		required := rapid.IntRange(threshold, 5).Draw(t, "required")
		p := Params{Threshold: threshold, Required: required, MaxParticipants: 5}

		res := Calculate(subs(labels...), p)

		sum := 0
		for _, n := range res.Distribution {
			sum += n
		}
		if sum != len(labels) || res.TotalLabels != len(labels) {
			t.Fatalf("distribution %v does not cover %d labels", res.Distribution, len(labels))
		}
		if res.Reached && res.Conflict {
			t.Fatalf("reached and conflict both set: %+v", res)
		}
		if res.Reached && res.AgreementCount < threshold {
			t.Fatalf("reached with %d < %d", res.AgreementCount, threshold)
		}
		if res.Conflict && len(labels) < required {
			t.Fatalf("conflict before %d labels: %+v", required, res)
		}
		if res.AdditionalReviewersNeeded < 0 || len(labels)+res.AdditionalReviewersNeeded > max(5, len(labels)) {
			t.Fatalf("additional reviewers out of range: %+v", res)
		}
		if len(labels) > 0 && (res.Confidence <= 0 || res.Confidence > 1) {
			t.Fatalf("confidence out of range: %v", res.Confidence)
		}
	})
}
