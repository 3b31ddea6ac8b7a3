// Package resampler implements the sample-format/channel-map/rate
// conversion pipeline: to_work_format → remap_channels → resample_rate →
// from_work_format, behind one contract shared by several pluggable
// rate-conversion engines.
package resampler

import (
	"sync"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/errors"
)

// Method identifies the chosen resampling algorithm family.
type Method int

const (
	MethodAuto Method = iota
	MethodCopy
	MethodTrivial
	MethodSpeexFloat
	MethodSpeexFixed
	MethodLibsamplerate
	MethodFFmpeg
)

// Flags adjusts pipeline behavior, mirroring PA_RESAMPLER_* flags.
type Flags struct {
	VariableRate bool
	NoRemap      bool
	NoRemix      bool
}

// SpeexQuality3 is the Speex-float quality level MethodAuto resolves to.
const SpeexQuality3 = 3

// engine is the pluggable rate-conversion backend.
type engine interface {
	// resample consumes inFrames interleaved work-format frames and
	// returns the produced output frames; the slice may alias scratch
	// state owned by the engine and is only valid until the next call.
	resample(inFrames []float32, inCh int, outCh int) []float32
	// request estimates the input frame count needed to produce outFrames
	// output frames.
	request(outFrames int) int
	setRates(inRate, outRate uint32)
	maxBlockSize(n int)
}

// Resampler converts one stream's sample spec/channel map/rate into
// another's.
type Resampler struct {
	mu sync.Mutex

	pool *pool.MemoryPool

	inSpec, outSpec format.SampleSpec
	inMap, outMap   format.ChannelMap

	method Method
	flags  Flags

	workFormat format.SampleFormat
	matrix     Matrix

	eng engine

	maxBlockSize int

	remapped []float32
}

// New builds a resampler for the given stream↔device spec pair. method is
// fixed up by fixupMethod before an engine is chosen.
func New(p *pool.MemoryPool, inSpec format.SampleSpec, inMap format.ChannelMap, outSpec format.SampleSpec, outMap format.ChannelMap, method Method, flags Flags) (*Resampler, error) {
	if err := inSpec.Validate(); err != nil {
		return nil, err
	}
	if err := outSpec.Validate(); err != nil {
		return nil, err
	}
	if inMap.Channels() != int(inSpec.Channels) || outMap.Channels() != int(outSpec.Channels) {
		return nil, errors.Newf("channel map size does not match sample spec channel count").
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Build()
	}

	method = fixupMethod(method, inSpec.Rate, outSpec.Rate, flags)

	r := &Resampler{
		pool:    p,
		inSpec:  inSpec,
		outSpec: outSpec,
		inMap:   inMap,
		outMap:  outMap,
		method:  method,
		flags:   flags,
	}
	if p != nil {
		r.maxBlockSize = p.BlockSizeMax()
	} else {
		r.maxBlockSize = 64 * 1024
	}

	r.workFormat = chooseWorkFormat(method, inSpec, outSpec, inMap, outMap, flags)
	r.matrix = CalcMapTable(inMap, outMap, flags.NoRemap, flags.NoRemix)

	eng, err := newEngine(method)
	if err != nil {
		return nil, err
	}
	eng.setRates(inSpec.Rate, outSpec.Rate)
	eng.maxBlockSize(r.maxBlockSize)
	r.eng = eng

	return r, nil
}

// fixupMethod resolves a requested method/flags combination to the
// concrete method an engine will actually be built for.
func fixupMethod(method Method, inRate, outRate uint32, flags Flags) Method {
	if !flags.VariableRate && inRate == outRate {
		return MethodCopy
	}
	if method == MethodCopy && (flags.VariableRate || inRate != outRate) {
		method = MethodAuto
	}
	if method == MethodFFmpeg && flags.VariableRate {
		method = MethodAuto
	}
	if method == MethodAuto {
		method = MethodSpeexFloat
	}
	return method
}

// chooseWorkFormat picks a work format from the method, specs and maps; New
// records it in Resampler.workFormat. The conversion stages do not read
// it: toWorkFormat, remapChannels and the engines always use float32.
func chooseWorkFormat(method Method, inSpec, outSpec format.SampleSpec, inMap, outMap format.ChannelMap, flags Flags) format.SampleFormat {
	switch method {
	case MethodSpeexFixed, MethodFFmpeg:
		return format.S16LE
	case MethodTrivial, MethodCopy:
		if identityMap(inMap, outMap, flags) {
			return inSpec.Format
		}
	}
	if !inSpec.Format.IsInteger() || !outSpec.Format.IsInteger() {
		return format.Float32LE
	}
	return format.S16LE
}

func identityMap(in, out format.ChannelMap, flags Flags) bool {
	if in.Channels() != out.Channels() {
		return false
	}
	if flags.NoRemap {
		return true
	}
	for i := range in.Positions {
		if in.Positions[i] != out.Positions[i] {
			return false
		}
	}
	return true
}

// Request returns the input byte count conservatively required to produce
// outLen output bytes.
func (r *Resampler) Request(outLen int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	outFrameSize := r.outSpec.FrameSize()
	if outFrameSize == 0 {
		return 0
	}
	outFrames := outLen / outFrameSize
	inFrames := r.eng.request(outFrames)
	return inFrames * r.inSpec.FrameSize()
}

// SetInputRate adjusts the input rate if the resampler was built with the
// variable-rate flag.
func (r *Resampler) SetInputRate(rate uint32) error {
	return r.setRate(&r.inSpec.Rate, rate)
}

// SetOutputRate adjusts the output rate if variable-rate was requested.
func (r *Resampler) SetOutputRate(rate uint32) error {
	return r.setRate(&r.outSpec.Rate, rate)
}

func (r *Resampler) setRate(field *uint32, rate uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.flags.VariableRate {
		return errors.Newf("resampler was not constructed with variable-rate support").
			Component(audiocoreerr.Component).
			Category(audiocoreerr.CategoryUnsupported).
			Build()
	}
	*field = rate
	r.eng.setRates(r.inSpec.Rate, r.outSpec.Rate)
	return nil
}

// Run consumes in (a memchunk aligned to the input frame size) and writes
// converted output frames into a freshly allocated MemChunk, running the
// to_work_format → remap_channels → resample_rate → from_work_format
// pipeline on float32 samples. An identity conversion (copy method, same
// sample format, identity channel map) skips the pipeline and copies the
// input bytes unchanged.
func (r *Resampler) Run(in pool.MemChunk) (pool.MemChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw := in.Bytes()
	inFrameSize := r.inSpec.FrameSize()
	if inFrameSize == 0 || len(raw)%inFrameSize != 0 {
		return pool.MemChunk{}, errors.Newf("resampler input not frame-aligned").
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Build()
	}
	var out []byte
	if r.method == MethodCopy && r.inSpec.Format == r.outSpec.Format && identityMap(r.inMap, r.outMap, r.flags) {
		out = append([]byte(nil), raw...)
	} else {
		inFrames := len(raw) / inFrameSize

		work := r.toWorkFormat(raw, inFrames)
		remapped := r.remapChannels(work, inFrames)
		resampled := r.eng.resample(remapped, r.matrix.OutChannels(), r.matrix.OutChannels())
		out = r.fromWorkFormat(resampled)
	}

	if r.pool == nil {
		// No pool backing this resampler (e.g. a standalone format-conversion
		// helper in tests): wrap the converted bytes directly rather than
		// drawing a pool slot.
		return pool.MemChunk{Block: pool.NewFixed(nil, out, false), Length: len(out)}, nil
	}
	outBlock, err := pool.NewPoolBlock(r.pool, max(len(out), 1))
	if err != nil {
		return pool.MemChunk{}, err
	}
	data := outBlock.Acquire()
	copy(data, out)
	outBlock.Release()
	return pool.MemChunk{Block: outBlock, Index: 0, Length: len(out)}, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
