package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/mixer"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/audiocore/queue"
	"github.com/tphakala/audiocore/internal/errors"
	"github.com/tphakala/audiocore/internal/logging"
)

// DefaultIdleInterval is how often the eviction sweep runs: a periodic
// timer, 2s by default.
const DefaultIdleInterval = 2 * time.Second

// DefaultIdleTimeout is how long a lazy entry may sit unused before its
// payload is dropped.
const DefaultIdleTimeout = 2 * time.Minute

// playPollInterval paces the goroutine that watches a one-shot sink-input
// for the sample-cache's synthetic "play once" behavior, since nothing
// else in the mixer tells a caller when a sink-input's queue has drained.
const playPollInterval = 20 * time.Millisecond

// SampleCache holds short named clips and plays them into a sink as
// one-shot sink-inputs.
type SampleCache struct {
	pool *pool.MemoryPool

	mu      sync.RWMutex
	entries map[string]*entry
	nextID  uint64

	idleTimeout time.Duration
	stop        chan struct{}
	done        chan struct{}

	logger *slog.Logger
}

// New builds a sample cache backed by p (used to wrap loaded/added payloads
// in pool-managed memblocks) and starts its idle-eviction ticker.
func New(p *pool.MemoryPool, idleInterval, idleTimeout time.Duration) *SampleCache {
	if idleInterval <= 0 {
		idleInterval = DefaultIdleInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	logger := logging.ForService("audiocore-cache")
	if logger == nil {
		logger = slog.Default()
	}
	c := &SampleCache{
		pool:        p,
		entries:     make(map[string]*entry),
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger,
	}
	go c.evictLoop(idleInterval)
	return c
}

// Close stops the eviction ticker.
func (c *SampleCache) Close() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
	return nil
}

// AddItem registers an eagerly-loaded clip. data is copied into a
// pool-managed read-only memblock.
func (c *SampleCache) AddItem(name string, spec format.SampleSpec, cmap format.ChannelMap, data []byte, volume format.Volume) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	e := &entry{name: name, spec: spec, cmap: cmap, volume: volume, raw: append([]byte(nil), data...)}
	e.touch()
	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()
	c.logger.Info("sample cache item added", "name", name, "bytes", len(data))
	return nil
}

// AddFileLazy registers a clip that is loaded from path on first play and
// may be evicted (and reloaded) afterward.
func (c *SampleCache) AddFileLazy(name, path string, volume format.Volume) error {
	e := &entry{name: name, path: path, lazy: true, volume: volume}
	e.touch()
	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()
	c.logger.Info("sample cache lazy item added", "name", name, "path", path)
	return nil
}

// RemoveItem drops name from the cache entirely.
func (c *SampleCache) RemoveItem(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		return errors.Newf("sample cache entry %q not found", name).
			Component(audiocoreerr.Component).
			Category(errors.CategoryNotFound).
			Context("operation", "sample_cache_remove").
			Build()
	}
	delete(c.entries, name)
	return nil
}

func (c *SampleCache) lookup(name string) (*entry, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Newf("sample cache entry %q not found", name).
			Component(audiocoreerr.Component).
			Category(errors.CategoryNotFound).
			Context("operation", "sample_cache_play").
			Build()
	}
	return e, nil
}

// PlayItem loads the entry if needed, instantiates a one-shot sink-input
// playing its payload once at volume combined multiplicatively with the
// entry's own volume, attaches it to sink, and returns the sink-input (the
// caller may Kill it early; it otherwise self-unlinks once drained).
func (c *SampleCache) PlayItem(name string, sink *mixer.Sink, vol format.Volume) (*mixer.SinkInput, error) {
	e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}

	chunk, err := e.payload(c.pool)
	if err != nil {
		return nil, errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryAudio).
			Context("operation", "sample_cache_play").
			Context("name", name).
			Build()
	}
	e.touch()

	e.mu.Lock()
	spec, cmap, entryVol := e.spec, e.cmap, e.volume
	e.mu.Unlock()

	combined := vol.Multiply(entryVol)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	qcfg := queue.Config{MaxLength: chunk.Length, FrameSize: spec.FrameSize()}
	input := mixer.NewSinkInput(id, "sample:"+name, spec, cmap, qcfg, pool.MemChunk{})
	input.SetVolume(combined)
	input.Push(chunk)

	if err := sink.AttachInput(input); err != nil {
		return nil, err
	}

	go watchOneShot(input)
	return input, nil
}

// watchOneShot kills a played-once sink-input as soon as its queue has
// drained, since SinkInput itself has no notion of "play once" — its
// queue otherwise pads with silence forever like a live stream.
func watchOneShot(input *mixer.SinkInput) {
	ticker := time.NewTicker(playPollInterval)
	defer ticker.Stop()
	started := false
	for range ticker.C {
		if input.State() == mixer.InputStateDead {
			return
		}
		if input.QueueLength() > 0 {
			started = true
			continue
		}
		if started {
			input.Kill()
			return
		}
	}
}

func (c *SampleCache) evictLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *SampleCache) sweep() {
	now := time.Now()
	c.mu.RLock()
	victims := make([]*entry, 0)
	for _, e := range c.entries {
		if e.lazy && e.resident() && e.idleSince(now) >= c.idleTimeout {
			victims = append(victims, e)
		}
	}
	c.mu.RUnlock()

	for _, e := range victims {
		e.evict()
		c.logger.Debug("sample cache entry evicted", "name", e.name)
	}
}
