package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelmint/labelmint/internal/app/reputation"
	"github.com/labelmint/labelmint/internal/domain"
)

func honeypot(tk *domain.Task) {
	tk.IsHoneypot = true
	tk.ExpectedLabel = "cat"
	tk.LabelsRequired = 5 // forced down to 1
	tk.ConsensusThreshold = 4
}

func TestCreateTask_HoneypotForcedSingleRater(t *testing.T) {
	h := newHarness(t)
	task := h.task(t, honeypot)
	assert.Equal(t, 1, task.LabelsRequired)
	assert.Equal(t, 1, task.ConsensusThreshold)

	_, err := h.eng.CreateTask(context.Background(), domain.Task{
		ProjectID: "p", Type: domain.TypeTextLabeling, IsHoneypot: true, TimeLimit: 60e9,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTaskData, "honeypot without ground truth")
}

func TestSubmitHoneypotLabel_Correct(t *testing.T) {
	h := newHarness(t)
	h.worker(t, "w-1", 90)
	task := h.task(t, honeypot)
	_, err := h.eng.AssignTask(context.Background(), task.ID, "w-1")
	require.NoError(t, err)

	res, err := h.eng.SubmitHoneypotLabel(context.Background(), LabelRequest{
		TaskID: task.ID, WorkerID: "w-1", Value: "cat", Confidence: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.InDelta(t, 0.8, res.AccuracyBefore, 1e-12)
	assert.InDelta(t, 0.81, res.AccuracyAfter, 1e-12)
	assert.Greater(t, res.AccuracyImpact, 0.0)

	stored := h.reload(t, task.ID)
	assert.Equal(t, domain.TaskCompleted, stored.Status)
	assert.Equal(t, "cat", stored.FinalLabel)
	assert.Equal(t, 1.0, stored.Confidence)

	w, _ := h.db.GetWorker(context.Background(), "w-1")
	assert.InDelta(t, 0.81, w.Accuracy, 1e-12)
	assert.InDelta(t, 90.5, w.Reputation, 1e-12)
	assert.Equal(t, 1, w.CompletedTasks)

	assert.Equal(t, []disbursement{{TaskID: task.ID, Recipients: []string{"w-1"}, Amount: 30}}, h.pay.all())
	assert.Equal(t, []domain.EventKind{
		domain.EventAssigned, domain.EventSubmitted, domain.EventHoneypotEvaluated,
	}, h.events.kinds(task.ID))
}

func TestSubmitHoneypotLabel_Incorrect(t *testing.T) {
	h := newHarness(t)
	h.worker(t, "w-1", 90)
	task := h.task(t, honeypot)
	h.eng.AssignTask(context.Background(), task.ID, "w-1")

	res, err := h.eng.SubmitHoneypotLabel(context.Background(), LabelRequest{
		TaskID: task.ID, WorkerID: "w-1", Value: "dog", Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.Less(t, res.AccuracyAfter, res.AccuracyBefore)

	stored := h.reload(t, task.ID)
	assert.Equal(t, domain.TaskCompleted, stored.Status)
	assert.Equal(t, 0.0, stored.Confidence)

	w, _ := h.db.GetWorker(context.Background(), "w-1")
	assert.InDelta(t, 0.76, w.Accuracy, 1e-12)
	assert.InDelta(t, 89.0, w.Reputation, 1e-12)
	assert.Equal(t, 0, w.CompletedTasks)
	assert.Empty(t, h.pay.all(), "wrong answers are not paid")
}

func TestSubmitLabel_RoutesHoneypots(t *testing.T) {
	h := newHarness(t)
	h.worker(t, "w-1", 90)
	task := h.task(t, honeypot)
	h.eng.AssignTask(context.Background(), task.ID, "w-1")

	out, err := h.label(task.ID, "w-1", "cat")
	require.NoError(t, err)
	require.NotNil(t, out.Honeypot)
	assert.Nil(t, out.Consensus)
	assert.True(t, out.Honeypot.IsCorrect)
	assert.Equal(t, domain.TaskCompleted, out.Status)
}

func TestSubmitHoneypotLabel_RejectsRegularTask(t *testing.T) {
	h := newHarness(t)
	task := assignedTask(t, h)

	_, err := h.eng.SubmitHoneypotLabel(context.Background(), LabelRequest{
		TaskID: task.ID, WorkerID: "w-1", Value: "cat", Confidence: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTaskData)
	assert.Equal(t, 0, h.reload(t, task.ID).LabelsReceived)
}

func TestHoneypot_ConcurrentUpdatesAreNotLost(t *testing.T) {
	h := newHarness(t)
	h.worker(t, "w-1", 90)
	const n = 12

	ids := make([]string, n)
	for i := range ids {
		task := h.task(t, honeypot)
		_, err := h.eng.AssignTask(context.Background(), task.ID, "w-1")
		require.NoError(t, err)
		ids[i] = task.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.eng.SubmitHoneypotLabel(context.Background(), LabelRequest{
				TaskID: id, WorkerID: "w-1", Value: "cat", Confidence: 1,
			})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	want := 0.8
	for i := 0; i < n; i++ {
		want = reputation.UpdateAccuracy(want, true, 0.05)
	}
	w, _ := h.db.GetWorker(context.Background(), "w-1")
	assert.InDelta(t, want, w.Accuracy, 1e-12, "every update applied")
	assert.Equal(t, n, w.TotalTasks)
	assert.Equal(t, n, w.CompletedTasks)
	assert.InDelta(t, 90+float64(n)*0.5, w.Reputation, 1e-9)
}

func TestHoneypot_AccuracyAsymptote(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HoneypotAlpha = 0.5 })
	h.worker(t, "w-1", 90)

	prev := 0.8
	for i := 0; i < 8; i++ {
		task := h.task(t, honeypot)
		h.eng.AssignTask(context.Background(), task.ID, "w-1")
		res, err := h.eng.SubmitHoneypotLabel(context.Background(), LabelRequest{
			TaskID: task.ID, WorkerID: "w-1", Value: "cat", Confidence: 1,
		})
		require.NoError(t, err, fmt.Sprint(i))
		assert.Greater(t, res.AccuracyAfter, prev)
		assert.Less(t, res.AccuracyAfter, 1.0)
		prev = res.AccuracyAfter
	}
}

func TestSubmitHoneypotLabel_PerfectAccuracyNeverDrops(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w, err := h.eng.RegisterWorker(ctx, domain.Worker{ID: "w-1", Reputation: 90, Accuracy: 1})
	require.NoError(t, err)
	assert.Equal(t, reputation.MaxAccuracy, w.Accuracy, "stored below 1")

	task := h.task(t, honeypot)
	_, err = h.eng.AssignTask(ctx, task.ID, "w-1")
	require.NoError(t, err)

	res, err := h.eng.SubmitHoneypotLabel(ctx, LabelRequest{
		TaskID: task.ID, WorkerID: "w-1", Value: "cat", Confidence: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.GreaterOrEqual(t, res.AccuracyImpact, 0.0)
	assert.GreaterOrEqual(t, res.AccuracyAfter, res.AccuracyBefore)
	assert.Less(t, res.AccuracyAfter, 1.0)
}
