package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/eventbus"
	"github.com/labelmint/labelmint/internal/infra/metrics"
)

type published struct {
	channel string
	body    []byte
}

type fakeRedis struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.msgs = append(f.msgs, published{channel: channel, body: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

var at = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestEncode(t *testing.T) {
	body, err := Encode(domain.Event{
		ID:        "ev-1",
		Kind:      domain.EventConsensusReached,
		TaskID:    "task-1",
		Payload:   domain.ConsensusReachedPayload{FinalLabel: "cat", Confidence: 1, Recipients: []string{"w-1", "w-2"}, Reward: 30},
		Timestamp: at,
	})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "consensus_reached", doc["type"])
	assert.Equal(t, "task-1", doc["task_id"])
	assert.NotContains(t, doc, "worker_id")
	payload := doc["payload"].(map[string]any)
	assert.Equal(t, "cat", payload["final_label"])
	assert.Equal(t, 30.0, payload["reward"])
}

func TestEncode_MismatchedPayload(t *testing.T) {
	_, err := Encode(domain.Event{Kind: domain.EventExpired, Payload: domain.AssignedPayload{}})
	assert.Error(t, err)
}

func TestForwarder_PublishesPerKindChannel(t *testing.T) {
	fake := &fakeRedis{}
	f := NewForwarder(fake, "", nil)

	before := testutil.ToFloat64(metrics.EventsForwarded.WithLabelValues("ok"))
	f.Forward(domain.Event{Kind: domain.EventExpired, TaskID: "task-9",
		Payload: domain.ExpiredPayload{PreviousAssignee: "w-1", ExpiredAt: at}})

	msgs := fake.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "labelmint:events:expired", msgs[0].channel)
	assert.Contains(t, string(msgs[0].body), `"previous_assignee":"w-1"`)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EventsForwarded.WithLabelValues("ok")))
}

func TestForwarder_FailureIsCounted(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	f := NewForwarder(fake, "lm", nil)

	before := testutil.ToFloat64(metrics.EventsForwarded.WithLabelValues("error"))
	f.Forward(domain.Event{Kind: domain.EventAssigned, TaskID: "t", Payload: domain.AssignedPayload{}})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EventsForwarded.WithLabelValues("error")))
	assert.Equal(t, "lm:assigned", f.Channel(domain.EventAssigned))
}

func TestForwarder_AttachKeepsTaskOrder(t *testing.T) {
	fake := &fakeRedis{}
	bus := eventbus.New(eventbus.Config{Shards: 2, Buffer: 4}, nil)
	NewForwarder(fake, "", nil).Attach(bus)

	kinds := []domain.EventKind{domain.EventAssigned, domain.EventSubmitted, domain.EventConsensusReached}
	payloads := []domain.EventPayload{domain.AssignedPayload{}, domain.SubmittedPayload{}, domain.ConsensusReachedPayload{}}
	for i, k := range kinds {
		require.NoError(t, bus.Publish(domain.Event{Kind: k, TaskID: "task-1", Payload: payloads[i]}))
	}
	bus.Close()

	msgs := fake.all()
	require.Len(t, msgs, 3)
	for i, k := range kinds {
		assert.Equal(t, "labelmint:events:"+string(k), msgs[i].channel)
	}
}
