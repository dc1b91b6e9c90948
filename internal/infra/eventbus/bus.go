// Package eventbus is the in-process publish/subscribe channel for task
// lifecycle events.
//
// Events are routed to one of N delivery shards by hashing the task id. Each
// shard is a single goroutine draining a buffered channel, so events for one
// task reach every subscriber in the order they were published. Events for
// different tasks may interleave arbitrarily.
package eventbus

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/domain"
	"github.com/labelmint/labelmint/internal/infra/metrics"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event bus closed")

// Config configures the bus.
type Config struct {
	Shards int // delivery goroutines (default 8)
	Buffer int // per-shard queue length (default 256)
}

// DefaultConfig returns production bus defaults.
func DefaultConfig() Config {
	return Config{Shards: 8, Buffer: 256}
}

// Handler receives events. It runs on a shard goroutine and must not block
// for long, since it holds up every later event on the same shard.
type Handler func(domain.Event)

type subscriber struct {
	id int
	fn Handler
}

// Bus fans events out to subscribers with per-task FIFO ordering.
type Bus struct {
	shards []chan domain.Event
	wg     sync.WaitGroup
	logger *zap.Logger

	// closeMu guards closed and the shard channels against send-after-close.
	closeMu sync.RWMutex
	closed  bool

	subMu  sync.RWMutex
	subs   []subscriber
	nextID int

	published atomic.Int64
	delivered atomic.Int64
}

// New starts a bus with cfg.Shards delivery goroutines.
func New(cfg Config, logger *zap.Logger) *Bus {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultConfig().Shards
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		shards: make([]chan domain.Event, cfg.Shards),
		logger: logger,
	}
	for i := range b.shards {
		ch := make(chan domain.Event, cfg.Buffer)
		b.shards[i] = ch
		b.wg.Add(1)
		go b.run(ch)
	}
	return b
}

// Subscribe registers h and returns a func that removes it.
func (b *Bus) Subscribe(h Handler) (cancel func()) {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, fn: h})
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues ev on its task's shard. It blocks while that shard's
// buffer is full. Missing ids are filled in.
func (b *Bus) Publish(ev domain.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.shards[b.shardFor(ev.TaskID)] <- ev
	b.published.Add(1)
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

// Close stops accepting events, drains the queues, and waits for delivery.
func (b *Bus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.shards {
		close(ch)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

// Stats holds bus counters.
type Stats struct {
	Shards      int   `json:"shards"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	b.subMu.RLock()
	n := len(b.subs)
	b.subMu.RUnlock()
	return Stats{
		Shards:      len(b.shards),
		Subscribers: n,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
	}
}

// ─── Internal ───────────────────────────────────────────────────────────────

func (b *Bus) shardFor(taskID string) int {
	return int(xxhash.Sum64String(taskID) % uint64(len(b.shards)))
}

func (b *Bus) run(ch <-chan domain.Event) {
	defer b.wg.Done()
	for ev := range ch {
		b.subMu.RLock()
		subs := make([]subscriber, len(b.subs))
		copy(subs, b.subs)
		b.subMu.RUnlock()

		sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
		for _, s := range subs {
			b.deliver(s, ev)
		}
		b.delivered.Add(1)
	}
}

func (b *Bus) deliver(s subscriber, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("kind", string(ev.Kind)),
				zap.String("task_id", ev.TaskID),
				zap.Any("panic", r))
		}
	}()
	s.fn(ev)
}
