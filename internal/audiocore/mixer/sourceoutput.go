package mixer

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/audiocore/resampler"
)

// SourceOutput is a consumer attached to one source: the mirror image of
// SinkInput for the capture direction. Its source's I/O thread pushes
// captured frames into it each iteration; the output's own resampler (if
// any) converts from the source's internal capture spec to the consumer's
// requested spec before delivery.
type SourceOutput struct {
	id uint64

	name string

	spec format.SampleSpec
	cmap format.ChannelMap

	resam *resampler.Resampler

	volume atomic.Pointer[format.Volume]
	muted  atomic.Bool
	dead   atomic.Bool

	deliver func([]byte)

	source *Source

	mu sync.Mutex
}

// NewSourceOutput builds a source-output that calls deliver with each
// converted chunk of captured audio, encoded in the output's own spec.
func NewSourceOutput(id uint64, name string, spec format.SampleSpec, cmap format.ChannelMap, deliver func([]byte)) *SourceOutput {
	so := &SourceOutput{id: id, name: name, spec: spec, cmap: cmap, deliver: deliver}
	v := format.NewVolume(int(spec.Channels))
	so.volume.Store(&v)
	return so
}

func (so *SourceOutput) ID() uint64 { return so.id }

func (so *SourceOutput) SetVolume(v format.Volume) {
	v.Clamp()
	so.volume.Store(&v)
}

func (so *SourceOutput) Volume() format.Volume {
	if v := so.volume.Load(); v != nil {
		return *v
	}
	return format.NewVolume(int(so.spec.Channels))
}

func (so *SourceOutput) SetMute(m bool) { so.muted.Store(m) }
func (so *SourceOutput) Muted() bool    { return so.muted.Load() }
func (so *SourceOutput) Kill()          { so.dead.Store(true) }
func (so *SourceOutput) isDead() bool   { return so.dead.Load() }

// push is called by the owning source's I/O thread with one block of
// freshly captured audio in the source's native spec; it converts (if a
// resampler is attached), applies volume, and hands the result to deliver.
func (so *SourceOutput) push(c pool.MemChunk) {
	so.mu.Lock()
	defer so.mu.Unlock()

	var raw []byte
	if so.resam != nil {
		converted, err := so.resam.Run(c)
		if err != nil {
			return
		}
		raw = converted.Bytes()
	} else {
		raw = c.Bytes()
	}

	frameSize := so.spec.FrameSize()
	if frameSize == 0 {
		return
	}
	frames := len(raw) / frameSize
	work := make([]float32, frames*int(so.spec.Channels))
	resampler.DecodeSamples(raw, so.spec.Format, work)
	applyVolume(work, so.Volume(), so.Muted())
	out := make([]byte, len(work)*so.spec.Format.BytesPerSample())
	resampler.EncodeSamples(work, so.spec.Format, out)

	if so.deliver != nil {
		so.deliver(out)
	}
}

// attachResampler converts from the source's native spec to this output's
// requested spec, constructed fresh on attach and on any source change.
func (so *SourceOutput) attachResampler(p *pool.MemoryPool, sourceSpec format.SampleSpec, sourceMap format.ChannelMap) error {
	so.mu.Lock()
	defer so.mu.Unlock()
	if sourceSpec.Equal(so.spec) && sourceMap.Channels() == so.cmap.Channels() {
		so.resam = nil
		return nil
	}
	r, err := resampler.New(p, sourceSpec, sourceMap, so.spec, so.cmap, resampler.MethodAuto, resampler.Flags{})
	if err != nil {
		return err
	}
	so.resam = r
	return nil
}
