package pool

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/errors"
)

// Kind identifies where a MemBlock's payload lives.
type Kind int

const (
	KindPool Kind = iota
	KindPoolExternal
	KindAppended
	KindFixed
	KindUser
	KindImported
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindPool:
		return "pool"
	case KindPoolExternal:
		return "pool_external"
	case KindAppended:
		return "appended"
	case KindFixed:
		return "fixed"
	case KindUser:
		return "user"
	case KindImported:
		return "imported"
	default:
		return "unknown"
	}
}

// notionalHeaderSize models the metadata-allocated-separately-vs-inline
// distinction between KindPool and KindPoolExternal in the original
// pa_memblock: a Go MemBlock handle always lives on the Go heap regardless
// of kind, so this constant only decides which notional sub-kind a
// pool-backed block reports (for stat parity), not actual inline storage.
const notionalHeaderSize = 64

// MemBlock is an immutable-by-default reference-counted payload handle.
type MemBlock struct {
	pool *MemoryPool
	kind Kind

	readOnly     bool
	refCount     atomic.Int32
	nAcquired    atomic.Int32
	pleaseSignal atomic.Bool

	mu     sync.RWMutex
	data   []byte
	length int

	slotIdx  uint32
	hasSlot  bool
	freeCB   func([]byte)
	importBk *importedBacking
}

type importedBacking struct {
	segment *memImportSegment
	blockID uint32
}

// NewBlock is the general-purpose constructor (pa_memblock_new): it tries
// the pool first and falls back to an APPENDED heap allocation if the pool
// has no room, so this path never fails.
func NewBlock(p *MemoryPool, length int) *MemBlock {
	if b, err := NewPoolBlock(p, length); err == nil {
		return b
	}
	return newAppended(p, length)
}

// NewPoolBlock draws payload from the pool's slots. It returns an error
// (pool-full or too-large) rather than falling back, so callers that care
// about the distinction (tests, capacity planners) can observe it.
func NewPoolBlock(p *MemoryPool, length int) (*MemBlock, error) {
	if length <= 0 {
		return nil, errors.Newf("memblock length must be positive").
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Build()
	}

	var kind Kind
	switch {
	case p.blockSize-notionalHeaderSize >= length:
		kind = KindPool
	case p.blockSize >= length:
		kind = KindPoolExternal
	default:
		p.statsMu.Lock()
		p.stats.TooLargeForPool++
		p.statsMu.Unlock()
		return nil, errors.Newf("memblock length %d too large for pool slot size %d", length, p.blockSize).
			Component(audiocoreerr.Component).
			Category(audiocoreerr.CategoryTooLarge).
			Context("length", length).
			Context("block_size", p.blockSize).
			Build()
	}

	idx, ok := p.allocateSlot()
	if !ok {
		return nil, errors.Newf("memory pool exhausted").
			Component(audiocoreerr.Component).
			Category(audiocoreerr.CategoryPoolFull).
			Build()
	}

	b := &MemBlock{
		pool:    p,
		kind:    kind,
		data:    p.slotData(idx)[:length],
		length:  length,
		slotIdx: idx,
		hasSlot: true,
	}
	b.refCount.Store(1)
	p.statAdd(b)
	return b, nil
}

func newAppended(p *MemoryPool, length int) *MemBlock {
	b := &MemBlock{
		pool:   p,
		kind:   KindAppended,
		data:   make([]byte, length),
		length: length,
	}
	b.refCount.Store(1)
	p.statAdd(b)
	return b
}

// NewFixed wraps caller-owned memory without copying (pa_memblock_new_fixed).
func NewFixed(p *MemoryPool, data []byte, readOnly bool) *MemBlock {
	b := &MemBlock{
		pool:     p,
		kind:     KindFixed,
		data:     data,
		length:   len(data),
		readOnly: readOnly,
	}
	b.refCount.Store(1)
	p.statAdd(b)
	return b
}

// NewUser wraps caller-owned memory with a deferred free callback invoked
// once the last reference is released (pa_memblock_new_user).
func NewUser(p *MemoryPool, data []byte, freeCB func([]byte), readOnly bool) *MemBlock {
	b := &MemBlock{
		pool:     p,
		kind:     KindUser,
		data:     data,
		length:   len(data),
		readOnly: readOnly,
		freeCB:   freeCB,
	}
	b.refCount.Store(1)
	p.statAdd(b)
	return b
}

func (b *MemBlock) Kind() Kind   { return b.kind }
func (b *MemBlock) Len() int     { return b.length }
func (b *MemBlock) Pool() *MemoryPool { return b.pool }

// IsReadOnlyEffective reports whether the block is read-only and currently
// has more than one reference. A block created without the read-only flag
// always reports false.
func (b *MemBlock) IsReadOnlyEffective() bool {
	return b.readOnly && b.refCount.Load() > 1
}

// Acquire returns the payload and increments the acquire count. The
// returned slice must not be retained past the matching Release.
func (b *MemBlock) Acquire() []byte {
	b.nAcquired.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

// Release decrements the acquire count and wakes a waiter blocked in
// waitForRelease if the count just reached zero.
func (b *MemBlock) Release() {
	n := b.nAcquired.Add(-1)
	if n == 0 && b.pleaseSignal.Load() {
		b.pool.postSemaphore()
	}
}

// Ref increments the reference count.
func (b *MemBlock) Ref() *MemBlock {
	b.refCount.Add(1)
	return b
}

// Unref decrements the reference count, freeing the payload on the last
// reference (pa_memblock_unref / memblock_free).
func (b *MemBlock) Unref() {
	if b.refCount.Add(-1) > 0 {
		return
	}
	b.free()
}

func (b *MemBlock) free() {
	b.pool.statRemove(b)

	switch b.kind {
	case KindUser:
		if b.freeCB != nil {
			b.freeCB(b.data)
		}
	case KindFixed, KindAppended:
		// nothing to return; Go's GC reclaims the backing array.
	case KindImported:
		b.importBk.segment.releaseBlock(b.importBk.blockID)
	case KindPool, KindPoolExternal:
		b.pool.freeSlot(b.slotIdx)
	}
}

// waitForRelease blocks until n_acquired drops to zero, using the
// release-wait protocol. Only the sole remaining-reference holder should
// call this (see UnrefFixed / import revocation).
func (b *MemBlock) waitForRelease() {
	if b.nAcquired.Load() == 0 {
		return
	}
	b.pleaseSignal.Store(true)
	for b.nAcquired.Load() > 0 {
		b.pool.waitSemaphore()
	}
	b.pleaseSignal.Store(false)
}

// UnrefFixed is the explicit entry point for FIXED→POOL transparent
// promotion: when a FIXED block's caller wants to drop its own reference
// but aliases still exist, the payload is deep-copied into a pool-backed
// (or heap, if the pool has no room) block first so the caller's buffer
// can be reused safely.
func (b *MemBlock) UnrefFixed() {
	if b.kind == KindFixed && b.refCount.Load() > 1 {
		b.makeLocal()
	}
	b.Unref()
}

// makeLocal performs the deep copy and kind change described by
// memblock_make_local in the original source. Not safe for concurrent
// callers — by construction the promoter holds the only UnrefFixed-issued
// reference, so it is racing aliases dropping out, not each other.
func (b *MemBlock) makeLocal() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldKind := b.kind
	if idx, ok := b.pool.allocateSlot(); ok {
		newData := b.pool.slotData(idx)[:b.length]
		copy(newData, b.data)
		b.data = newData
		b.slotIdx = idx
		b.hasSlot = true
		b.kind = KindPoolExternal
	} else {
		cp := make([]byte, b.length)
		copy(cp, b.data)
		b.data = cp
		b.kind = KindUser
		b.freeCB = func([]byte) {}
	}
	b.readOnly = false
	b.pool.statChangeKind(oldKind, b.kind)
	b.waitForRelease()
}
