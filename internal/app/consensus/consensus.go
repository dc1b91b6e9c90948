// Package consensus computes majority-vote agreement over label submissions.
//
// Calculate is pure. The engine calls it after every accepted submission and
// acts on the first result that reports Reached, so the confidence stored on
// a completed task is the agreement fraction at that moment.
package consensus

import (
	"sort"

	"github.com/labelmint/labelmint/internal/domain"
)

// DefaultMaxParticipants caps how many workers may label one task.
const DefaultMaxParticipants = 5

// Params holds the task's consensus parameters.
type Params struct {
	Threshold       int // agreeing labels needed
	Required        int // labels attempted before a split becomes a conflict
	MaxParticipants int // total labels allowed, including reviewers
}

// ParamsFor returns the consensus parameters of task.
func ParamsFor(task domain.Task, maxParticipants int) Params {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return Params{
		Threshold:       task.ConsensusThreshold,
		Required:        task.LabelsRequired,
		MaxParticipants: maxParticipants,
	}
}

// Result is the outcome of one consensus evaluation.
type Result struct {
	AgreedLabel               string         `json:"agreed_label"`
	AgreementCount            int            `json:"agreement_count"`
	TotalLabels               int            `json:"total_labels"`
	Confidence                float64        `json:"confidence"`
	Reached                   bool           `json:"reached"`
	Conflict                  bool           `json:"conflict"`
	AdditionalReviewersNeeded int            `json:"additional_reviewers_needed"`
	Distribution              map[string]int `json:"distribution"`
}

// Calculate groups submissions by value and decides whether the leading
// label has reached the threshold.
//
// A tie for the lead never reaches consensus. When several labels share the
// top count, AgreedLabel is the lexicographically smallest of them.
func Calculate(subs []domain.Submission, p Params) Result {
	res := Result{
		TotalLabels:  len(subs),
		Distribution: make(map[string]int, len(subs)),
	}
	if len(subs) == 0 {
		return res
	}

	for _, s := range subs {
		res.Distribution[s.Value]++
	}

	labels := make([]string, 0, len(res.Distribution))
	for label := range res.Distribution {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	tied := false
	for _, label := range labels {
		n := res.Distribution[label]
		switch {
		case n > res.AgreementCount:
			res.AgreedLabel, res.AgreementCount, tied = label, n, false
		case n == res.AgreementCount:
			tied = true
		}
	}

	res.Confidence = float64(res.AgreementCount) / float64(res.TotalLabels)
	res.Reached = res.AgreementCount >= p.Threshold && !tied

	if !res.Reached && res.TotalLabels >= p.Required {
		res.Conflict = true
		needed := p.Threshold - res.AgreementCount
		if tied && needed < 1 {
			needed = 1
		}
		if room := p.MaxParticipants - res.TotalLabels; room < needed {
			needed = room
		}
		if needed < 0 {
			needed = 0
		}
		res.AdditionalReviewersNeeded = needed
	}
	return res
}

// Agreeing returns the ids of workers who submitted label, in submission order.
func Agreeing(subs []domain.Submission, label string) []string {
	var ids []string
	for _, s := range subs {
		if s.Value == label {
			ids = append(ids, s.UserID)
		}
	}
	return ids
}
