package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiocore/internal/audiocore/pool"
)

func newTestPool(t *testing.T) *pool.MemoryPool {
	t.Helper()
	p, err := pool.NewPool(8, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func pushBytes(t *testing.T, p *pool.MemoryPool, q *MemBlockQueue, n int) {
	t.Helper()
	b, err := pool.NewPoolBlock(p, n)
	require.NoError(t, err)
	q.Push(pool.MemChunk{Block: b, Index: 0, Length: n})
}

func TestPushPeekDrop(t *testing.T) {
	p := newTestPool(t)
	q := New(Config{MaxLength: 4096, FrameSize: 1}, pool.MemChunk{})

	pushBytes(t, p, q, 100)
	c := q.Peek()
	assert.Equal(t, 100, c.Length)
	assert.False(t, q.Underrun())

	q.Drop(40)
	c = q.Peek()
	assert.Equal(t, 60, c.Length)
	assert.Equal(t, 40, c.Index)

	q.Drop(60)
	assert.Equal(t, 0, q.Length())
}

func TestUnderrunReturnsSilence(t *testing.T) {
	p := newTestPool(t)
	silenceBlock, err := pool.NewPoolBlock(p, 64)
	require.NoError(t, err)
	silence := pool.MemChunk{Block: silenceBlock, Index: 0, Length: 64}

	q := New(Config{MaxLength: 4096, FrameSize: 1}, silence)
	c := q.Peek()
	assert.True(t, q.Underrun())
	assert.Equal(t, 64, c.Length)
}

func TestPrebufGatesPlayback(t *testing.T) {
	p := newTestPool(t)
	q := New(Config{MaxLength: 4096, PreBuf: 200, FrameSize: 1}, pool.MemChunk{})

	pushBytes(t, p, q, 50)
	c := q.Peek()
	assert.True(t, q.Underrun(), "below prebuf threshold should still read as silence")
	_ = c

	pushBytes(t, p, q, 200)
	c = q.Peek()
	assert.False(t, q.Underrun())
	assert.Equal(t, 50, c.Length)
}

func TestOverflowFlushesBeforePush(t *testing.T) {
	p := newTestPool(t)
	q := New(Config{MaxLength: 128, FrameSize: 1}, pool.MemChunk{})

	pushBytes(t, p, q, 100)
	pushBytes(t, p, q, 100) // exceeds maxlength, should flush first

	assert.Equal(t, 100, q.Length())
	assert.Equal(t, q.WriteIndex(), q.ReadIndex()+int64(q.Length()))
}

func TestSeekForwardPastContentReadsSilence(t *testing.T) {
	p := newTestPool(t)
	silenceBlock, err := pool.NewPoolBlock(p, 64)
	require.NoError(t, err)
	silence := pool.MemChunk{Block: silenceBlock, Index: 0, Length: 64}

	q := New(Config{MaxLength: 4096, FrameSize: 1}, silence)
	pushBytes(t, p, q, 50)

	q.Seek(1000, SeekRelativeToWrite)
	assert.Equal(t, 0, q.Length())
	c := q.Peek()
	assert.True(t, q.Underrun())
	assert.Equal(t, 64, c.Length)
}

func TestRewindClampsToReadIndex(t *testing.T) {
	p := newTestPool(t)
	q := New(Config{MaxLength: 4096, FrameSize: 1}, pool.MemChunk{})

	pushBytes(t, p, q, 100)
	q.Drop(50)
	assert.Equal(t, int64(50), q.ReadIndex())

	q.Rewind(1000)
	assert.Equal(t, int64(0), q.ReadIndex())
}

func TestFlushResetsIndices(t *testing.T) {
	p := newTestPool(t)
	q := New(Config{MaxLength: 4096, FrameSize: 1}, pool.MemChunk{})

	pushBytes(t, p, q, 100)
	q.Drop(30)
	q.Flush()

	assert.Equal(t, 0, q.Length())
	assert.Equal(t, q.ReadIndex(), q.WriteIndex())
}
