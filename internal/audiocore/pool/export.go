package pool

import (
	"sync"
	"unsafe"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/errors"
)

// MaxExportSlots is PA_MEMEXPORT_SLOTS_MAX in the original source.
const MaxExportSlots = 128

// RevokeFunc notifies the peer that an exported block has been revoked
// (e.g. because the memory it pointed into belonged to an import that
// just died) before the local slot is released.
type RevokeFunc func(blockID uint32)

type exportSlot struct {
	used  bool
	block *MemBlock
}

// MemExport is the reverse of MemImport: a bounded table of local blocks
// that have been handed out to a peer, one slot per export until the peer
// signals release.
type MemExport struct {
	mu       sync.Mutex
	pool     *MemoryPool
	slots    []exportSlot
	freeIdx  []uint32
	revokeCB RevokeFunc
}

// NewMemExport creates an export table. It fails if the pool's backing
// segment is not shared, matching pa_memexport_new's contract.
func NewMemExport(p *MemoryPool, revokeCB RevokeFunc) (*MemExport, error) {
	if !p.segment.shared {
		return nil, errors.Newf("memexport requires a shared memory pool").
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Build()
	}
	e := &MemExport{
		pool:     p,
		slots:    make([]exportSlot, 0, MaxExportSlots),
		revokeCB: revokeCB,
	}
	p.mu.Lock()
	p.exports = append(p.exports, e)
	p.mu.Unlock()
	return e, nil
}

// Handle is the (block_id, shm_id, offset, length) tuple a peer needs to
// issue a matching MemImport.Get.
type Handle struct {
	BlockID uint32
	ShmID   uint32
	Offset  int
	Length  int
}

// Put exports a block: if it isn't already pool/imported-shared it is
// deep-copied into a pool-backed block first (memblock_shared_copy), then
// assigned an export slot (pa_memexport_put).
func (e *MemExport) Put(b *MemBlock) (Handle, error) {
	shared, err := e.sharedCopy(b)
	if err != nil {
		return Handle{}, err
	}

	e.mu.Lock()
	var idx uint32
	if n := len(e.freeIdx); n > 0 {
		idx = e.freeIdx[n-1]
		e.freeIdx = e.freeIdx[:n-1]
		e.slots[idx] = exportSlot{used: true, block: shared}
	} else if len(e.slots) < MaxExportSlots {
		idx = uint32(len(e.slots))
		e.slots = append(e.slots, exportSlot{used: true, block: shared})
	} else {
		e.mu.Unlock()
		shared.Unref()
		return Handle{}, errors.Newf("memexport slot table full").
			Component(audiocoreerr.Component).
			Category(audiocoreerr.CategoryPoolFull).
			Build()
	}
	e.mu.Unlock()

	data := shared.Acquire()
	var shmID uint32
	var offset int
	if shared.kind == KindImported {
		shmID = shared.importBk.segment.shmID
		offset = int(uintptrDiff(data, shared.importBk.segment.seg.data))
	} else {
		shmID, _ = e.pool.ShmID()
		offset = int(uintptrDiff(data, e.pool.segment.data))
	}
	length := shared.length
	shared.Release()

	e.pool.statsMu.Lock()
	e.pool.stats.Exported++
	e.pool.stats.ExportedBytes += int64(length)
	e.pool.statsMu.Unlock()

	return Handle{BlockID: idx, ShmID: shmID, Offset: offset, Length: length}, nil
}

func (e *MemExport) sharedCopy(b *MemBlock) (*MemBlock, error) {
	if b.kind == KindImported || b.kind == KindPool || b.kind == KindPoolExternal {
		return b.Ref(), nil
	}
	nb, err := NewPoolBlock(e.pool, b.length)
	if err != nil {
		return nil, err
	}
	copy(nb.data, b.Acquire())
	b.Release()
	return nb, nil
}

// Release processes a peer's signal that it no longer needs the exported
// block, freeing the slot for reuse (pa_memexport_process_release).
func (e *MemExport) Release(blockID uint32) error {
	e.mu.Lock()
	if int(blockID) >= len(e.slots) || !e.slots[blockID].used {
		e.mu.Unlock()
		return errors.Newf("unknown export slot %d", blockID).
			Component(audiocoreerr.Component).
			Category(errors.CategoryNotFound).
			Build()
	}
	b := e.slots[blockID].block
	e.slots[blockID] = exportSlot{}
	e.freeIdx = append(e.freeIdx, blockID)
	e.mu.Unlock()

	e.pool.statsMu.Lock()
	e.pool.stats.Exported--
	e.pool.stats.ExportedBytes -= int64(b.length)
	e.pool.statsMu.Unlock()

	b.Unref()
	return nil
}

// revokeForImport revokes every export slot whose block is an IMPORTED
// block backed by a segment belonging to the given (now-dead) import,
// invoking revokeCB before releasing the slot (memexport_revoke_blocks).
func (e *MemExport) revokeForImport(i *MemImport) {
	e.mu.Lock()
	var toRevoke []uint32
	for idx := range e.slots {
		s := &e.slots[idx]
		if !s.used || s.block.kind != KindImported {
			continue
		}
		if s.block.importBk.segment.imp == i {
			toRevoke = append(toRevoke, uint32(idx))
		}
	}
	e.mu.Unlock()

	for _, idx := range toRevoke {
		e.revokeCB(idx)
		_ = e.Release(idx)
	}
}

// Close tears down the export table, releasing every outstanding slot.
func (e *MemExport) Close() {
	e.mu.Lock()
	var live []uint32
	for idx := range e.slots {
		if e.slots[idx].used {
			live = append(live, uint32(idx))
		}
	}
	e.mu.Unlock()
	for _, idx := range live {
		_ = e.Release(idx)
	}

	e.pool.mu.Lock()
	for idx, ex := range e.pool.exports {
		if ex == e {
			e.pool.exports = append(e.pool.exports[:idx], e.pool.exports[idx+1:]...)
			break
		}
	}
	e.pool.mu.Unlock()
}

// uintptrDiff returns the byte offset of sub within base, assuming sub
// shares base's backing array (true for every slice this package hands
// out, since MemBlock payloads are always sub-slices of a segment buffer).
func uintptrDiff(sub, base []byte) uintptr {
	if len(base) == 0 || len(sub) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&sub[0])) - uintptr(unsafe.Pointer(&base[0]))
}
