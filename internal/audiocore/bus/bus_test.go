package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiocore/internal/audiocore/registry"
)

type recordingSubscriber struct {
	name string
	mu   sync.Mutex
	got  []Event
}

func (s *recordingSubscriber) Name() string { return s.name }

func (s *recordingSubscriber) HandleEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return nil
}

func (s *recordingSubscriber) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.got...)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(DefaultConfig())
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })

	sub := &recordingSubscriber{name: "test"}
	require.NoError(t, b.Subscribe(sub))

	assert.True(t, b.Publish(Event{Kind: registry.KindSink, Action: ActionNew, Index: 1}))

	assert.Eventually(t, func() bool {
		return len(sub.snapshot()) == 1
	}, time.Second, time.Millisecond)
}

func TestDuplicateSubscriberNameRejected(t *testing.T) {
	b := New(DefaultConfig())
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })

	require.NoError(t, b.Subscribe(&recordingSubscriber{name: "dup"}))
	assert.Error(t, b.Subscribe(&recordingSubscriber{name: "dup"}))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(DefaultConfig())
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })

	sub := &recordingSubscriber{name: "leaving"}
	require.NoError(t, b.Subscribe(sub))
	b.Unsubscribe("leaving")

	b.Publish(Event{Kind: registry.KindSource, Action: ActionRemove, Index: 2})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sub.snapshot())
}

func TestRepeatedChangeCoalescesBeforeDelivery(t *testing.T) {
	b := &Bus{
		eventChan:     make(chan Event, 8),
		pendingChange: make(map[coalesceKey]bool),
		logger:        New(DefaultConfig()).logger,
	}
	b.running.Store(true)

	key := coalesceKey{kind: registry.KindSinkInput, index: 9}
	b.pendingChange[key] = true

	assert.True(t, b.Publish(Event{Kind: registry.KindSinkInput, Action: ActionChange, Index: 9}))
	assert.Equal(t, uint64(1), b.Stats().Coalesced)
	assert.Len(t, b.eventChan, 0)
}

func TestSubscriberPanicIsRecovered(t *testing.T) {
	b := New(DefaultConfig())
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })

	require.NoError(t, b.Subscribe(panicSubscriber{}))
	sub := &recordingSubscriber{name: "after-panic"}
	require.NoError(t, b.Subscribe(sub))

	b.Publish(Event{Kind: registry.KindModule, Action: ActionNew, Index: 1})

	assert.Eventually(t, func() bool {
		return len(sub.snapshot()) == 1
	}, time.Second, time.Millisecond)
}

type panicSubscriber struct{}

func (panicSubscriber) Name() string { return "panics" }

func (panicSubscriber) HandleEvent(Event) error {
	panic("boom")
}
