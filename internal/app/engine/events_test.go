package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/eventbus"
	"github.com/labelmint/labelmint/internal/infra/sqlite"
)

func TestEvents_BusPreservesPerTaskOrder(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := eventbus.New(eventbus.DefaultConfig(), nil)
	var mu sync.Mutex
	seen := map[string][]domain.EventKind{}
	bus.Subscribe(func(ev domain.Event) {
		mu.Lock()
		seen[ev.TaskID] = append(seen[ev.TaskID], ev.Kind)
		mu.Unlock()
	})

	clock := &fakeClock{now: t0}
	eng := New(db, testConfig(), Options{Events: bus, Now: clock.Now})
	h := &harness{eng: eng, db: db, clock: clock, events: &recorder{}, pay: &fakeDisburser{}}

	task := assignedTask(t, h)
	split := h.task(t)
	_, err = eng.AssignTask(context.Background(), split.ID, "w-2")
	require.NoError(t, err)

	h.label(task.ID, "w-1", "cat")
	h.label(split.ID, "w-2", "cat")
	h.label(task.ID, "w-3", "cat")
	h.label(split.ID, "w-3", "dog")
	h.label(split.ID, "w-4", "bird")
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.EventKind{
		domain.EventAssigned, domain.EventSubmitted, domain.EventSubmitted, domain.EventConsensusReached,
	}, seen[task.ID])
	assert.Equal(t, []domain.EventKind{
		domain.EventAssigned, domain.EventSubmitted, domain.EventSubmitted, domain.EventSubmitted, domain.EventConflict,
	}, seen[split.ID])
}
