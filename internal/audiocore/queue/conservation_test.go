package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/tphakala/audiocore/internal/audiocore/pool"
)

// TestPushPeekDropConservesBytes checks that for a sequence of pushes
// totalling L bytes followed by peek/drop pairs totalling at most L bytes,
// the concatenation of peeked-and-dropped bytes equals the pushed bytes.
func TestPushPeekDropConservesBytes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pushSizes := rapid.SliceOfN(rapid.IntRange(1, 64), 1, 8).Draw(t, "pushSizes")

		total := 0
		for _, n := range pushSizes {
			total += n
		}

		content := make([]byte, total)
		for i := range content {
			content[i] = byte(i)
		}

		q := New(Config{MaxLength: total, FrameSize: 1}, pool.MemChunk{})

		offset := 0
		for _, n := range pushSizes {
			chunk := content[offset : offset+n]
			block := pool.NewFixed(nil, append([]byte(nil), chunk...), true)
			q.Push(pool.MemChunk{Block: block, Length: n})
			offset += n
		}

		dropSizes := rapid.SliceOfN(rapid.IntRange(1, 32), 0, 8).
			Filter(func(sizes []int) bool {
				sum := 0
				for _, s := range sizes {
					sum += s
				}
				return sum <= total
			}).Draw(t, "dropSizes")

		var got []byte
		for _, want := range dropSizes {
			remaining := want
			for remaining > 0 {
				c := q.Peek()
				take := remaining
				if c.Length < take {
					take = c.Length
				}
				if take == 0 {
					break
				}
				got = append(got, c.Bytes()[:take]...)
				q.Drop(take)
				remaining -= take
			}
		}

		assert.Equal(t, content[:len(got)], got)
		assert.False(t, q.Underrun())
	})
}

// TestDropPastWrittenLengthYieldsSilence checks that drops past the
// written length yield silence instead of stale or garbage bytes.
func TestDropPastWrittenLengthYieldsSilence(t *testing.T) {
	q := New(Config{MaxLength: 4096, FrameSize: 1}, pool.MemChunk{})
	block := pool.NewFixed(nil, []byte{1, 2, 3, 4}, true)
	q.Push(pool.MemChunk{Block: block, Length: 4})

	q.Drop(4)
	c := q.Peek()
	assert.True(t, q.Underrun())
	assert.True(t, c.IsEmpty() || allZero(c.Bytes()))
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
