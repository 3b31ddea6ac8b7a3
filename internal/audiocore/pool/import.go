package pool

import (
	"sync"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/errors"
)

// MaxImportSegments and MaxImportBlocks cap a MemImport's footprint.
const (
	MaxImportSegments = 16
	MaxImportBlocks   = 128
)

// ReleaseFunc is called whenever an imported block is no longer needed
// locally, so the peer that exported it can reuse the export slot.
type ReleaseFunc func(blockID uint32)

// memImportSegment is the process-side view of one remote pool segment.
type memImportSegment struct {
	imp      *MemImport
	seg      *segment
	shmID    uint32
	nBlocks  int
}

func (s *memImportSegment) releaseBlock(blockID uint32) {
	imp := s.imp
	imp.mu.Lock()
	delete(imp.blocks, blockID)
	s.nBlocks--
	detach := s.nBlocks <= 0
	if detach {
		delete(imp.segments, s.shmID)
	}
	imp.mu.Unlock()

	imp.releaseCB(blockID)
}

// MemImport is a process-side view of remote pool segments.
type MemImport struct {
	mu        sync.Mutex
	pool      *MemoryPool
	segments  map[uint32]*memImportSegment
	blocks    map[uint32]*MemBlock
	releaseCB ReleaseFunc
}

// NewMemImport creates an import table attached to the local pool that
// will hold IMPORTED blocks' MemBlock handles.
func NewMemImport(p *MemoryPool, releaseCB ReleaseFunc) *MemImport {
	i := &MemImport{
		pool:      p,
		segments:  make(map[uint32]*memImportSegment),
		blocks:    make(map[uint32]*MemBlock),
		releaseCB: releaseCB,
	}
	p.mu.Lock()
	p.imports = append(p.imports, i)
	p.mu.Unlock()
	return i
}

// Get attaches the segment on first reference and constructs an IMPORTED
// block pointing into it (pa_memimport_get).
func (i *MemImport) Get(blockID, shmID uint32, offset, size int) (*MemBlock, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.blocks) >= MaxImportBlocks {
		return nil, errors.Newf("memimport block table full").
			Component(audiocoreerr.Component).
			Category(audiocoreerr.CategoryPoolFull).
			Build()
	}

	seg, ok := i.segments[shmID]
	if !ok {
		if len(i.segments) >= MaxImportSegments {
			return nil, errors.Newf("memimport segment table full").
				Component(audiocoreerr.Component).
				Category(audiocoreerr.CategoryPoolFull).
				Build()
		}
		remote, found := lookupSegment(shmID)
		if !found {
			return nil, errors.Newf("unknown shm segment %d", shmID).
				Component(audiocoreerr.Component).
				Category(errors.CategoryNotFound).
				Context("shm_id", shmID).
				Build()
		}
		seg = &memImportSegment{imp: i, seg: remote, shmID: shmID}
		i.segments[shmID] = seg
	}

	if offset+size > len(seg.seg.data) {
		return nil, errors.Newf("import offset/size out of segment bounds").
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Build()
	}

	b := &MemBlock{
		pool:     i.pool,
		kind:     KindImported,
		readOnly: true,
		data:     seg.seg.data[offset : offset+size],
		length:   size,
		importBk: &importedBacking{segment: seg, blockID: blockID},
	}
	b.refCount.Store(1)
	i.pool.statAdd(b)

	i.blocks[blockID] = b
	seg.nBlocks++

	return b, nil
}

// ProcessRevoke promotes the named imported block to a local copy
// (memblock_replace_import / pa_memimport_process_revoke), used when the
// exporting peer signals the block can no longer be read from its segment.
func (i *MemImport) ProcessRevoke(blockID uint32) error {
	i.mu.Lock()
	b, ok := i.blocks[blockID]
	i.mu.Unlock()
	if !ok {
		return errors.Newf("unknown imported block %d", blockID).
			Component(audiocoreerr.Component).
			Category(errors.CategoryNotFound).
			Build()
	}
	i.promoteLocal(b)
	return nil
}

// promoteLocal deep-copies an imported block's payload into pool/heap
// storage and detaches its segment if this was the last reference to it,
// matching memblock_replace_import.
func (i *MemImport) promoteLocal(b *MemBlock) {
	b.mu.Lock()
	seg := b.importBk.segment
	blockID := b.importBk.blockID

	i.pool.statsMu.Lock()
	i.pool.stats.Imported--
	i.pool.stats.ImportedBytes -= int64(b.length)
	i.pool.statsMu.Unlock()

	i.mu.Lock()
	delete(i.blocks, blockID)
	seg.nBlocks--
	detach := seg.nBlocks <= 0
	if detach {
		delete(i.segments, seg.shmID)
	}
	i.mu.Unlock()

	oldKind := b.kind
	if idx, ok := i.pool.allocateSlot(); ok {
		data := i.pool.slotData(idx)[:b.length]
		copy(data, b.data)
		b.data = data
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
	b.importBk = nil
	i.pool.statChangeKind(oldKind, b.kind)
	b.waitForRelease()
	b.mu.Unlock()
}

// Close tears down the import table, promoting any still-live imported
// blocks to local copies first (pa_memimport_free).
func (i *MemImport) Close() {
	i.mu.Lock()
	var live []*MemBlock
	for _, b := range i.blocks {
		live = append(live, b)
	}
	i.mu.Unlock()

	for _, b := range live {
		i.promoteLocal(b)
	}

	i.pool.mu.Lock()
	for idx, im := range i.pool.imports {
		if im == i {
			i.pool.imports = append(i.pool.imports[:idx], i.pool.imports[idx+1:]...)
			break
		}
	}
	exports := append([]*MemExport(nil), i.pool.exports...)
	i.pool.mu.Unlock()

	// If this import's blocks were re-exported onward, revoke those
	// exports too (pa_memimport_free's "revoke onward re-export" pass).
	for _, e := range exports {
		e.revokeForImport(i)
	}
}
