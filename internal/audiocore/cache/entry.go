// Package cache implements the sample cache: a name-keyed table of short
// audio clips, loaded eagerly or lazily from a WAV file, each played back
// by instantiating a one-shot sink-input.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
)

// entry is one named cache item. A lazy entry starts with raw == nil and a
// non-empty path; loading fills raw in and eviction clears it again without
// forgetting the entry exists — an evicted entry stays lookup-visible but
// is reloaded on its next play.
type entry struct {
	mu sync.Mutex

	name   string
	spec   format.SampleSpec
	cmap   format.ChannelMap
	volume format.Volume

	lazy bool
	path string
	raw  []byte

	lastUsed atomic.Int64 // unix nanoseconds
}

func (e *entry) touch() {
	e.lastUsed.Store(time.Now().UnixNano())
}

func (e *entry) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastUsed.Load()))
}

// resident reports whether the payload is currently loaded in memory.
func (e *entry) resident() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.raw != nil
}

// payload returns a chunk wrapping the entry's current raw bytes, loading
// it from disk first if this is a lazy entry without one resident. A
// read-only MemBlock is used since the cache payload is shared across every
// playback of the same entry and must never be mutated in place.
func (e *entry) payload(p *pool.MemoryPool) (pool.MemChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.raw == nil {
		if !e.lazy {
			return pool.MemChunk{}, nil
		}
		spec, cmap, raw, err := loadWAV(e.path)
		if err != nil {
			return pool.MemChunk{}, err
		}
		e.spec = spec
		e.cmap = cmap
		e.raw = raw
	}

	block := pool.NewFixed(p, e.raw, true)
	return pool.MemChunk{Block: block, Length: len(e.raw)}, nil
}

// evict drops the resident payload of a lazy entry. Non-lazy entries (added
// via AddItem) are never evicted; their only copy is the cache's own.
func (e *entry) evict() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lazy {
		e.raw = nil
	}
}
