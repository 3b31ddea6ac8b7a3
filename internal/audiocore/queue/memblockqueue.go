// Package queue implements the per-stream bounded memblock queue: a
// doubly-linked list of memchunks with silence padding, seek semantics,
// and overflow/underflow policy.
package queue

import (
	"container/list"
	"sync"

	"github.com/tphakala/audiocore/internal/audiocore/pool"
)

// SeekMode selects how Seek interprets its delta argument.
type SeekMode int

const (
	SeekRelativeToWrite SeekMode = iota
	SeekRelativeToRead
	SeekAbsolute
)

// Config bundles the bounded-queue parameters.
type Config struct {
	MaxLength int // hard cap
	TLength   int // target fill
	PreBuf    int // playback starts only once reached
	MinReq    int // minimum request size
	FrameSize int // base frame size
}

type chunkEntry struct {
	chunk pool.MemChunk
}

// MemBlockQueue is a per-stream FIFO of memblock slices representing a
// logical byte stream, with silence substituted for gaps.
type MemBlockQueue struct {
	mu sync.Mutex

	cfg Config

	chunks *list.List // of *chunkEntry

	// readIndex/writeIndex are signed byte offsets into the logical
	// stream; they may drift apart across a Seek.
	readIndex  int64
	writeIndex int64

	length int // sum of queued chunk lengths (write-read overlap content)

	silence pool.MemChunk

	prebufArmed bool // true while waiting to cross PreBuf again
	underrun    bool
}

// New creates an empty queue. silence, if non-empty, is returned (repeated
// as needed) to pad underruns; a zero-value MemChunk means "return the
// minimal silence length with no backing block" (caller must treat a nil
// Block as digital silence of Length bytes).
func New(cfg Config, silence pool.MemChunk) *MemBlockQueue {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 1
	}
	q := &MemBlockQueue{
		cfg:         cfg,
		chunks:      list.New(),
		silence:     silence,
		prebufArmed: cfg.PreBuf > 0,
	}
	return q
}

// Push appends a chunk at the write-index. If this would exceed maxlength,
// the queue flushes then pushes — overflow prefers freshness over
// completeness.
func (q *MemBlockQueue) Push(c pool.MemChunk) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxLength > 0 && q.length+c.Length > q.cfg.MaxLength {
		q.flushLocked()
	}

	q.chunks.PushBack(&chunkEntry{chunk: c})
	q.length += c.Length
	q.writeIndex += int64(c.Length)

	if q.prebufArmed && q.length >= q.cfg.PreBuf {
		q.prebufArmed = false
	}
}

// Peek returns the chunk at the read-index without advancing it, or a
// silence fragment on underrun.
func (q *MemBlockQueue) Peek() pool.MemChunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peekLocked()
}

func (q *MemBlockQueue) peekLocked() pool.MemChunk {
	q.underrun = false
	if q.prebufArmed {
		return q.silenceChunk(q.prebufGapLen())
	}

	gap := q.writeIndex - q.readIndex
	if gap <= 0 {
		// Read index is at or ahead of write index: nothing readable yet.
		return q.silenceChunk(q.silenceLen(-gap))
	}

	entry := q.chunks.Front()
	if entry == nil {
		return q.silenceChunk(q.silenceLen(gap))
	}
	ce := entry.Value.(*chunkEntry)
	if ce.chunk.Length > int(gap) {
		c := ce.chunk
		c.Length = int(gap)
		return c
	}
	return ce.chunk
}

func (q *MemBlockQueue) prebufGapLen() int {
	want := q.cfg.PreBuf - q.length
	if want <= 0 {
		want = q.cfg.FrameSize
	}
	return q.silenceLen(int64(want))
}

// silenceLen bounds a silence fill to the gap or the configured silence
// block length, whichever is shorter.
func (q *MemBlockQueue) silenceLen(gap int64) int {
	n := gap
	if q.silence.Length > 0 && int64(q.silence.Length) < n {
		n = int64(q.silence.Length)
	}
	if n < 0 {
		n = 0
	}
	return int(n)
}

func (q *MemBlockQueue) silenceChunk(length int) pool.MemChunk {
	q.underrun = true
	if length <= 0 {
		return pool.MemChunk{}
	}
	if q.silence.Block == nil {
		return pool.MemChunk{Length: length}
	}
	c := q.silence
	c.Length = length
	return c
}

// Underrun reports whether the most recent Peek returned silence because
// the queue was empty or the read index outran the write index.
func (q *MemBlockQueue) Underrun() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.underrun
}

// Drop advances the read-index by length bytes, discarding the
// corresponding prefix of queued chunks.
func (q *MemBlockQueue) Drop(length int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.underrun = false
	q.readIndex += int64(length)
	remaining := length

	for remaining > 0 {
		front := q.chunks.Front()
		if front == nil {
			break
		}
		ce := front.Value.(*chunkEntry)
		if ce.chunk.Length > remaining {
			ce.chunk.Index += remaining
			ce.chunk.Length -= remaining
			q.length -= remaining
			remaining = 0
			break
		}
		remaining -= ce.chunk.Length
		q.length -= ce.chunk.Length
		q.chunks.Remove(front)
	}

	if q.cfg.PreBuf > 0 && q.length == 0 {
		q.prebufArmed = true
	}
}

// Rewind retracts the read-index by up to length bytes, clamped at zero.
// Dropped bytes are not retained, so a Peek after Rewind still returns the
// queued data that follows the last Drop; only the index arithmetic moves.
func (q *MemBlockQueue) Rewind(length int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if int64(length) > q.readIndex {
		length = int(q.readIndex)
	}
	q.readIndex -= int64(length)
}

// Seek moves the write-index per mode; subsequent pushes land at the new
// write-index and peeks in any resulting gap return silence.
func (q *MemBlockQueue) Seek(delta int64, mode SeekMode) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var target int64
	switch mode {
	case SeekRelativeToWrite:
		target = q.writeIndex + delta
	case SeekRelativeToRead:
		target = q.readIndex + delta
	case SeekAbsolute:
		target = delta
	}

	if target > q.writeIndex {
		// Seeking forward past current content: drop everything we have,
		// the gap will read back as silence until new data is pushed.
		q.flushContentLocked()
	} else if target < q.writeIndex {
		// Seeking backward: truncate content past the new write-index.
		q.truncateToLocked(target)
	}
	q.writeIndex = target

	if target-q.readIndex > int64(q.cfg.MaxLength) && q.cfg.MaxLength > 0 {
		// Seeking past maxlength drops data.
		q.flushLocked()
		q.writeIndex = target
		q.readIndex = target
	}
}

// truncateToLocked drops queued content whose logical position is at or
// past newWriteIndex.
func (q *MemBlockQueue) truncateToLocked(newWriteIndex int64) {
	keep := newWriteIndex - q.readIndex
	if keep < 0 {
		keep = 0
	}
	var kept int64
	for e := q.chunks.Front(); e != nil; {
		next := e.Next()
		ce := e.Value.(*chunkEntry)
		if kept >= keep {
			q.length -= ce.chunk.Length
			q.chunks.Remove(e)
		} else if kept+int64(ce.chunk.Length) > keep {
			trim := keep - kept
			q.length -= ce.chunk.Length - int(trim)
			ce.chunk.Length = int(trim)
			kept = keep
		} else {
			kept += int64(ce.chunk.Length)
		}
		e = next
	}
}

func (q *MemBlockQueue) flushContentLocked() {
	q.chunks.Init()
	q.length = 0
}

func (q *MemBlockQueue) flushLocked() {
	q.flushContentLocked()
	q.readIndex = q.writeIndex
	if q.cfg.PreBuf > 0 {
		q.prebufArmed = true
	}
}

// Flush resets both indices and discards all queued content.
func (q *MemBlockQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
}

// Length returns the current queued content length (write-read overlap).
func (q *MemBlockQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// ReadIndex and WriteIndex expose the logical stream positions, mainly for
// tests verifying push/peek/drop byte conservation.
func (q *MemBlockQueue) ReadIndex() int64  { return q.readIndex }
func (q *MemBlockQueue) WriteIndex() int64 { return q.writeIndex }
