package mixer

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/audiocore/queue"
	"github.com/tphakala/audiocore/internal/audiocore/resampler"
)

// InputState mirrors the sink-input lifecycle.
type InputState int

const (
	InputStateInit InputState = iota
	InputStateRunning
	InputStateCorked
	InputStateDraining
	InputStateDead
)

// SinkInput is a queued audio source feeding one sink.
// Its queue and resampler are guarded by mu: producers call Push while the
// sink's I/O goroutine calls peek and drop. Volume, mute, state and the
// dead flag are atomics that any goroutine may set without the lock.
type SinkInput struct {
	id uint64

	name string

	spec format.SampleSpec
	cmap format.ChannelMap

	queue *queue.MemBlockQueue
	resam *resampler.Resampler

	volume atomic.Pointer[format.Volume]
	muted  atomic.Bool
	state  atomic.Int32
	dead   atomic.Bool

	sink *Sink

	mu sync.Mutex
}

// NewSinkInput builds a sink-input with its own bounded memblock queue.
func NewSinkInput(id uint64, name string, spec format.SampleSpec, cmap format.ChannelMap, qcfg queue.Config, silence pool.MemChunk) *SinkInput {
	si := &SinkInput{
		id:    id,
		name:  name,
		spec:  spec,
		cmap:  cmap,
		queue: queue.New(qcfg, silence),
	}
	v := format.NewVolume(int(spec.Channels))
	si.volume.Store(&v)
	si.state.Store(int32(InputStateInit))
	return si
}

func (si *SinkInput) ID() uint64 { return si.id }

func (si *SinkInput) State() InputState { return InputState(si.state.Load()) }

func (si *SinkInput) setState(s InputState) { si.state.Store(int32(s)) }

// SetVolume installs a new per-channel volume vector. Safe to call from any
// goroutine; the mix loop reads the pointer atomically once per iteration.
func (si *SinkInput) SetVolume(v format.Volume) {
	v.Clamp()
	si.volume.Store(&v)
}

func (si *SinkInput) Volume() format.Volume {
	if v := si.volume.Load(); v != nil {
		return *v
	}
	return format.NewVolume(int(si.spec.Channels))
}

func (si *SinkInput) SetMute(m bool) { si.muted.Store(m) }
func (si *SinkInput) Muted() bool    { return si.muted.Load() }

// Push queues audio for playback.
func (si *SinkInput) Push(c pool.MemChunk) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.queue.Push(c)
}

// Kill marks the input dead; the owning sink's mix loop unlinks it on its
// next iteration, within the same pass that filters the live input list.
func (si *SinkInput) Kill() { si.dead.Store(true) }

func (si *SinkInput) isDead() bool { return si.dead.Load() }

// QueueLength reports the bytes still queued for playback, used by callers
// that need to detect when a one-shot playback has fully drained.
func (si *SinkInput) QueueLength() int {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.queue.Length()
}

// peek produces up to outFrames work-format frames from the chunk at the
// queue's read position. Without a resampler it decodes at most outFrames
// frames of that chunk. With a resampler it passes that chunk, cut to the
// resampler's Request estimate, through a single Run; it does not loop, so
// one call can return fewer than outFrames frames.
// It returns the float32 samples and the number of *input bytes* consumed
// from the queue, for drop() to report.
func (si *SinkInput) peek(outFrames int, workCh int) ([]float32, int) {
	si.mu.Lock()
	defer si.mu.Unlock()

	if si.resam == nil {
		c := si.queue.Peek()
		if c.IsEmpty() {
			return nil, 0
		}
		raw := chunkBytes(c)
		frameSize := si.spec.FrameSize()
		if frameSize == 0 {
			return nil, 0
		}
		n := len(raw) / frameSize
		if n > outFrames {
			n = outFrames
		}
		out := decodeToFloat(raw[:n*frameSize], si.spec.Format, workCh)
		return out, n * frameSize
	}

	need := si.resam.Request(outFrames * workCh * 4)
	c := si.queue.Peek()
	if c.IsEmpty() {
		return nil, 0
	}
	frameSize := si.spec.FrameSize()
	consumed := c.Length
	if frameSize > 0 && need > 0 && consumed > need {
		consumed = need - need%frameSize
	}

	if c.Block == nil {
		// Silence gap: bypass the resampling engine entirely (any linear
		// engine maps zero input to zero output) and return silence sized
		// to the request, a nil Block with a non-zero Length always means
		// digital silence of that length.
		return make([]float32, outFrames*workCh), consumed
	}

	outChunk, err := si.resam.Run(pool.MemChunk{Block: c.Block, Index: c.Index, Length: consumed})
	if err != nil {
		return nil, 0
	}
	out := decodeToFloat(outChunk.Bytes(), format.Float32LE, workCh)
	return out, consumed
}

// chunkBytes returns c's payload, synthesizing a zero-filled buffer when
// the chunk carries no backing block (the queue's silence-padding
// convention: nil Block, non-zero Length means digital silence).
func chunkBytes(c pool.MemChunk) []byte {
	if c.Block != nil {
		return c.Bytes()
	}
	return make([]byte, c.Length)
}

// drop advances the queue's read position by the given input byte count.
func (si *SinkInput) drop(n int) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if n > 0 {
		si.queue.Drop(n)
	}
}

// attachResampler constructs a fresh resampler converting into the sink's
// internal float32 mixing spec (sinkSpec/sinkMap); any partially-consumed
// state in a previous resampler does not carry over. Called both on
// initial attach and on MoveTo.
func (si *SinkInput) attachResampler(p *pool.MemoryPool, sinkSpec format.SampleSpec, sinkMap format.ChannelMap) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.spec.Equal(sinkSpec) && si.cmap.Channels() == sinkMap.Channels() {
		si.resam = nil
		return nil
	}
	r, err := resampler.New(p, si.spec, si.cmap, sinkSpec, sinkMap, resampler.MethodAuto, resampler.Flags{})
	if err != nil {
		return err
	}
	si.resam = r
	return nil
}

func decodeToFloat(raw []byte, f format.SampleFormat, channels int) []float32 {
	size := f.BytesPerSample()
	if size == 0 || channels == 0 {
		return nil
	}
	n := len(raw) / size
	out := make([]float32, n)
	resampler.DecodeSamples(raw, f, out)
	return out
}
