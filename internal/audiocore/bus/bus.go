// Package bus implements the subscription event bus: NEW/CHANGE/REMOVE
// notifications for sinks, sources, sink-inputs, source-outputs, modules,
// clients, sample-cache entries, and autoload bindings, delivered
// best-effort with CHANGE coalescing.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiocore/internal/audiocore/registry"
	"github.com/tphakala/audiocore/internal/logging"
)

// Action is the mutation kind carried by an Event.
type Action int

const (
	ActionNew Action = iota
	ActionChange
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return "new"
	case ActionChange:
		return "change"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is one subscription notification: an entity of Kind, identified by
// Index, underwent Action.
type Event struct {
	Kind   registry.Kind
	Action Action
	Index  uint32
	Name   string
}

// Subscriber receives delivered events. A panic in HandleEvent is
// recovered and counted so one bad subscriber cannot bring down delivery
// to the rest.
type Subscriber interface {
	Name() string
	HandleEvent(Event) error
}

// Stats tallies this bus's publish/delivery/drop/coalesce counters.
type Stats struct {
	Published        uint64
	Delivered        uint64
	Dropped          uint64
	Coalesced        uint64
	SubscriberErrors uint64
}

type coalesceKey struct {
	kind  registry.Kind
	index uint32
}

// Bus is a buffered, worker-pool event bus: delivery is best-effort at
// the end of the mutating operation, and multiple CHANGE events for the
// same entity may coalesce into one.
type Bus struct {
	eventChan chan Event

	bufferSize int
	workers    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running atomic.Bool

	mu          sync.Mutex
	subscribers []Subscriber

	pendingMu     sync.Mutex
	pendingChange map[coalesceKey]bool

	stats Stats

	logger *slog.Logger
}

// Config bundles the bus's buffering and worker-pool sizing.
type Config struct {
	BufferSize int
	Workers    int
}

// DefaultConfig returns a reasonably sized buffered bus.
func DefaultConfig() Config {
	return Config{BufferSize: 1024, Workers: 2}
}

// New builds and starts a Bus.
func New(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.ForService("audiocore-bus")
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		eventChan:     make(chan Event, cfg.BufferSize),
		bufferSize:    cfg.BufferSize,
		workers:       cfg.Workers,
		ctx:           ctx,
		cancel:        cancel,
		pendingChange: make(map[coalesceKey]bool),
		logger:        logger,
	}
	b.start()
	return b
}

func (b *Bus) start() {
	if b.running.Swap(true) {
		return
	}
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
}

// Subscribe registers a new subscriber; duplicate names are rejected.
func (b *Bus) Subscribe(sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.subscribers {
		if existing.Name() == sub.Name() {
			return fmt.Errorf("subscriber %q already registered", sub.Name())
		}
	}
	b.subscribers = append(b.subscribers, sub)
	return nil
}

// Unsubscribe removes a previously registered subscriber by name.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.Name() == name {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers ev best-effort: it is dropped (and counted) if the
// channel is full. A CHANGE event already outstanding for the same
// (Kind, Index) is coalesced — the caller is told it was accepted, but no
// second event is enqueued until the first is delivered.
func (b *Bus) Publish(ev Event) bool {
	if !b.running.Load() {
		return false
	}

	if ev.Action == ActionChange {
		key := coalesceKey{ev.Kind, ev.Index}
		b.pendingMu.Lock()
		if b.pendingChange[key] {
			b.pendingMu.Unlock()
			atomic.AddUint64(&b.stats.Coalesced, 1)
			return true
		}
		b.pendingChange[key] = true
		b.pendingMu.Unlock()
	}

	select {
	case b.eventChan <- ev:
		atomic.AddUint64(&b.stats.Published, 1)
		return true
	default:
		if ev.Action == ActionChange {
			b.clearPending(ev)
		}
		atomic.AddUint64(&b.stats.Dropped, 1)
		b.logger.Debug("event dropped, bus buffer full", "kind", ev.Kind, "action", ev.Action, "index", ev.Index)
		return false
	}
}

func (b *Bus) clearPending(ev Event) {
	key := coalesceKey{ev.Kind, ev.Index}
	b.pendingMu.Lock()
	delete(b.pendingChange, key)
	b.pendingMu.Unlock()
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	logger := b.logger.With("worker_id", id)
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-b.eventChan:
			if !ok {
				return
			}
			b.deliver(ev, logger)
		}
	}
}

func (b *Bus) deliver(ev Event, logger *slog.Logger) {
	if ev.Action == ActionChange {
		b.clearPending(ev)
	}

	b.mu.Lock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliverOne(sub, ev, logger)
	}
}

func (b *Bus) deliverOne(sub Subscriber, ev Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&b.stats.SubscriberErrors, 1)
			logger.Error("subscriber panicked", "subscriber", sub.Name(), "panic", r)
		}
	}()
	if err := sub.HandleEvent(ev); err != nil {
		atomic.AddUint64(&b.stats.SubscriberErrors, 1)
		logger.Error("subscriber error", "subscriber", sub.Name(), "error", err)
		return
	}
	atomic.AddUint64(&b.stats.Delivered, 1)
}

// Stats returns a snapshot of the bus's counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:        atomic.LoadUint64(&b.stats.Published),
		Delivered:        atomic.LoadUint64(&b.stats.Delivered),
		Dropped:          atomic.LoadUint64(&b.stats.Dropped),
		Coalesced:        atomic.LoadUint64(&b.stats.Coalesced),
		SubscriberErrors: atomic.LoadUint64(&b.stats.SubscriberErrors),
	}
}

// Shutdown stops accepting new events and waits (up to timeout) for
// workers to drain.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if !b.running.Swap(false) {
		return nil
	}
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("bus shutdown timeout exceeded")
	}
}
