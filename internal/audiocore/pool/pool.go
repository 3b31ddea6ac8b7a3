// Package pool implements a reference-counted memory-block pool: a
// fixed-slot-size allocator over a (simulated) shared-memory segment,
// with cross-process import/export of payloads.
package pool

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/lfq"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/errors"
	"github.com/tphakala/audiocore/internal/logging"
)

// DefaultSlotCount is PA_MEMPOOL_SLOTS_MAX in the original source.
const DefaultSlotCount = 128

// DefaultBlockSize is the page-aligned slot size (16KiB, rounded up to the
// page size), matching PA_MEMPOOL_SLOT_SIZE.
const DefaultBlockSize = 16 * 1024

// Stats mirrors pa_mempool_stat: running counters of allocation activity.
type Stats struct {
	Allocated         int64
	AllocatedBytes    int64
	Accumulated       int64
	AccumulatedBytes  int64
	Imported          int64
	ImportedBytes     int64
	Exported          int64
	ExportedBytes     int64
	PoolFull          int64
	TooLargeForPool   int64
	AllocatedByKind   [kindCount]int64
	AccumulatedByKind [kindCount]int64
}

// MemoryPool owns a fixed-slot segment and the free-list of returned slots.
type MemoryPool struct {
	segment   *segment
	blockSize int
	slotCount int

	nInit    atomic.Int64
	freeList *lfq.MPMC[uint32]

	// release-wait protocol: a counting semaphore implemented with a
	// buffered channel, posted whenever an acquire count transitions to
	// zero while please-signal is set.
	sem chan struct{}

	mu      sync.Mutex
	imports []*MemImport
	exports []*MemExport

	stats   Stats
	statsMu sync.Mutex

	logger *slog.Logger
}

// NewPool creates a pool of slotCount slots of blockSize bytes each. If
// either is zero the spec defaults (128 slots of 16KiB) apply.
func NewPool(slotCount, blockSize int) (*MemoryPool, error) {
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	seg, err := newSegment(uint32(newSegmentID()), slotCount*blockSize)
	if err != nil {
		return nil, errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryResource).
			Context("operation", "mempool_new").
			Build()
	}
	registerSegment(seg)

	logger := logging.ForService("audiocore")
	if logger == nil {
		logger = slog.Default()
	}

	p := &MemoryPool{
		segment:   seg,
		blockSize: blockSize,
		slotCount: slotCount,
		freeList:  lfq.NewMPMC[uint32](slotCount),
		sem:       make(chan struct{}, slotCount),
		logger:    logger.With("component", "mempool"),
	}
	return p, nil
}

// BlockSizeMax is the largest payload size that still fits a pool slot.
func (p *MemoryPool) BlockSizeMax() int {
	return p.blockSize
}

// IsShared reports whether the backing segment is cross-process shared.
func (p *MemoryPool) IsShared() bool {
	return p.segment.shared
}

// ShmID returns the segment id if the pool is shared.
func (p *MemoryPool) ShmID() (uint32, bool) {
	if !p.segment.shared {
		return 0, false
	}
	return p.segment.id, true
}

// Stat returns a snapshot of the pool's statistics.
func (p *MemoryPool) Stat() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *MemoryPool) statAdd(b *MemBlock) {
	if p == nil {
		return
	}
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.Allocated++
	p.stats.AllocatedBytes += int64(b.length)
	p.stats.Accumulated++
	p.stats.AccumulatedBytes += int64(b.length)
	if b.kind == KindImported {
		p.stats.Imported++
		p.stats.ImportedBytes += int64(b.length)
	}
	p.stats.AllocatedByKind[b.kind]++
	p.stats.AccumulatedByKind[b.kind]++
}

// statChangeKind moves one unit of the by-kind counters from oldKind to
// newKind, used when a block is promoted in place (FIXED→POOL_EXTERNAL or
// FIXED→USER) without changing the total allocated count.
func (p *MemoryPool) statChangeKind(oldKind, newKind Kind) {
	if p == nil || oldKind == newKind {
		return
	}
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.AllocatedByKind[oldKind]--
	p.stats.AllocatedByKind[newKind]++
	p.stats.AccumulatedByKind[newKind]++
}

func (p *MemoryPool) statRemove(b *MemBlock) {
	if p == nil {
		return
	}
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.Allocated--
	p.stats.AllocatedBytes -= int64(b.length)
	if b.kind == KindImported {
		p.stats.Imported--
		p.stats.ImportedBytes -= int64(b.length)
	}
	p.stats.AllocatedByKind[b.kind]--
}

// allocateSlot prefers the free-list, else bumps the uninitialized-slot
// counter; it never blocks.
func (p *MemoryPool) allocateSlot() (uint32, bool) {
	if idx, err := p.freeList.Dequeue(); err == nil {
		return idx, true
	}

	idx := p.nInit.Add(1) - 1
	if idx >= int64(p.slotCount) {
		p.nInit.Add(-1)
		p.statsMu.Lock()
		p.stats.PoolFull++
		p.statsMu.Unlock()
		p.logger.Debug("pool full")
		return 0, false
	}
	return uint32(idx), true
}

func (p *MemoryPool) slotData(idx uint32) []byte {
	off := int(idx) * p.blockSize
	return p.segment.data[off : off+p.blockSize]
}

func (p *MemoryPool) freeSlot(idx uint32) {
	for {
		if err := p.freeList.Enqueue(&idx); err == nil {
			return
		}
		// The free-list dimensions are sized to slotCount so this should
		// never actually contend past a few spins; matches the original
		// "try harder" loop around pa_flist_push.
	}
}

// postSemaphore wakes one waiter blocked in waitForRelease.
func (p *MemoryPool) postSemaphore() {
	select {
	case p.sem <- struct{}{}:
	default:
	}
}

func (p *MemoryPool) waitSemaphore() {
	<-p.sem
}

func newSegmentID() uint32 {
	return uint32(segmentIDCounter.Add(1))
}

var segmentIDCounter atomic.Uint32

// Close releases the pool's backing segment. Blocks still outstanding at
// Close time are not forcibly freed (callers must drain first); the
// original pulsecore pool logs a warning in that case and this mirrors it.
func (p *MemoryPool) Close() error {
	p.statsMu.Lock()
	leaked := p.stats.Allocated
	p.statsMu.Unlock()
	if leaked > 0 {
		p.logger.Warn("memory pool destroyed but not all memory blocks freed", "remaining", leaked)
	}
	unregisterSegment(p.segment.id)
	return p.segment.Close()
}
