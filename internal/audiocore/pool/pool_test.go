package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *MemoryPool {
	t.Helper()
	p, err := NewPool(4, 1024)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewPoolBlockRoundTrip(t *testing.T) {
	p := newTestPool(t)
	b, err := NewPoolBlock(p, 128)
	require.NoError(t, err)
	assert.Equal(t, 128, b.Len())
	assert.Equal(t, KindPool, b.Kind())

	data := b.Acquire()
	data[0] = 0xAB
	b.Release()

	b.Unref()

	stat := p.Stat()
	assert.Equal(t, int64(0), stat.Allocated)
	assert.Equal(t, int64(1), stat.Accumulated)
}

func TestNewPoolBlockTooLarge(t *testing.T) {
	p := newTestPool(t)
	_, err := NewPoolBlock(p, 1<<20)
	require.Error(t, err)

	stat := p.Stat()
	assert.Equal(t, int64(1), stat.TooLargeForPool)
}

func TestPoolExhaustionFallsBackToAppended(t *testing.T) {
	p := newTestPool(t)
	var blocks []*MemBlock
	for i := 0; i < 4; i++ {
		b, err := NewPoolBlock(p, 128)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}

	// Pool has 4 slots, all now handed out: next pool allocation fails...
	_, err := NewPoolBlock(p, 128)
	require.Error(t, err)

	// ...but the general constructor falls back to an appended block.
	b := NewBlock(p, 128)
	assert.Equal(t, KindAppended, b.Kind())

	for _, bl := range blocks {
		bl.Unref()
	}
	b.Unref()
}

func TestFreedSlotIsReused(t *testing.T) {
	p := newTestPool(t)
	b1, err := NewPoolBlock(p, 128)
	require.NoError(t, err)
	idx1 := b1.slotIdx
	b1.Unref()

	b2, err := NewPoolBlock(p, 128)
	require.NoError(t, err)
	assert.Equal(t, idx1, b2.slotIdx, "freed slot should be recycled before growing nInit")
	b2.Unref()
}

func TestUnrefFixedPromotesWhenAliased(t *testing.T) {
	p := newTestPool(t)
	backing := make([]byte, 64)
	b := NewFixed(p, backing, false)
	alias := b.Ref()

	b.UnrefFixed()
	assert.Equal(t, KindPoolExternal, alias.Kind())

	alias.Unref()
}

func TestUnrefFixedSkipsPromotionWhenSoleOwner(t *testing.T) {
	p := newTestPool(t)
	backing := make([]byte, 64)
	b := NewFixed(p, backing, false)

	b.UnrefFixed()
}

func TestReadOnlyEffectiveOnlyWhenAliased(t *testing.T) {
	p := newTestPool(t)
	b := NewFixed(p, make([]byte, 16), true)
	assert.False(t, b.IsReadOnlyEffective())

	alias := b.Ref()
	assert.True(t, b.IsReadOnlyEffective())
	alias.Unref()
	b.Unref()
}

func TestMemExportPutAndRelease(t *testing.T) {
	p := newTestPool(t)
	p.segment.shared = true // force the shared flag so the test does not depend on the platform's segment

	released := make(chan uint32, 1)
	exp, err := NewMemExport(p, func(id uint32) { released <- id })
	require.NoError(t, err)

	b, err := NewPoolBlock(p, 64)
	require.NoError(t, err)

	handle, err := exp.Put(b)
	require.NoError(t, err)
	assert.Equal(t, 64, handle.Length)

	require.NoError(t, exp.Release(handle.BlockID))
	b.Unref()
}

func TestMemExportRequiresSharedSegment(t *testing.T) {
	p := newTestPool(t)
	p.segment.shared = false // segment_linux.go marks segments shared; force the non-shared case
	_, err := NewMemExport(p, func(uint32) {})
	require.Error(t, err)
}

func TestMemImportGetUnknownSegment(t *testing.T) {
	p := newTestPool(t)
	imp := NewMemImport(p, func(uint32) {})
	_, err := imp.Get(1, 9999, 0, 16)
	require.Error(t, err)
}

func TestMemImportGetAndPromote(t *testing.T) {
	producer := newTestPool(t)
	producer.segment.shared = true

	consumer := newTestPool(t)
	imp := NewMemImport(consumer, func(uint32) {})

	shmID, ok := producer.ShmID()
	require.True(t, ok)

	b, err := imp.Get(42, shmID, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, KindImported, b.Kind())

	require.NoError(t, imp.ProcessRevoke(42))
	assert.NotEqual(t, KindImported, b.Kind())

	b.Unref()
}
