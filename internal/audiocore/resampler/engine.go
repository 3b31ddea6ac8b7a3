package resampler

import (
	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/errors"
)

func newEngine(method Method) (engine, error) {
	switch method {
	case MethodCopy:
		return &copyEngine{}, nil
	case MethodTrivial:
		return &trivialEngine{}, nil
	case MethodSpeexFloat, MethodSpeexFixed, MethodLibsamplerate:
		return newSincEngine(), nil
	case MethodFFmpeg:
		return newFFmpegEngine(), nil
	default:
		return nil, errors.Newf("unknown resampler method %d", method).
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Build()
	}
}

// copyEngine is the identity rate converter used when in/out rates match
// and the variable-rate flag is not set.
type copyEngine struct {
	channels int
}

func (e *copyEngine) resample(in []float32, inCh, outCh int) []float32 {
	return in
}
func (e *copyEngine) request(outFrames int) int { return outFrames }
func (e *copyEngine) setRates(in, out uint32)    {}
func (e *copyEngine) maxBlockSize(n int)         {}

// trivialEngine is a nearest-neighbor rate converter: for each output
// frame index o, it selects input frame floor(o * in_rate / out_rate).
// outPos/inPos track the engine's position
// in the overall stream across calls, reduced modulo lcm(in_rate,out_rate)
// worth of frames whenever both sides cross a period boundary together, so
// the ratio (and thus the selected source frame) never changes — only the
// magnitude of the counters is kept bounded.
type trivialEngine struct {
	inRate, outRate uint32
	outPos          uint64
	blockLimit      int
}

func (e *trivialEngine) setRates(in, out uint32) {
	if in == 0 {
		in = 1
	}
	if out == 0 {
		out = 1
	}
	e.inRate, e.outRate = in, out
}

func (e *trivialEngine) maxBlockSize(n int) { e.blockLimit = n }

func (e *trivialEngine) request(outFrames int) int {
	if e.outRate == 0 {
		return 0
	}
	return int((uint64(outFrames)*uint64(e.inRate))/uint64(e.outRate)) + 1
}

// resample produces one output frame for every input frame that becomes
// reachable (floor(o*in_rate/out_rate) < inFrames) given the engine's
// running position, then advances that position by the same amount.
func (e *trivialEngine) resample(in []float32, inCh, outCh int) []float32 {
	if inCh == 0 || e.outRate == 0 || e.inRate == 0 {
		return nil
	}
	inFrames := len(in) / inCh
	if inFrames == 0 {
		return nil
	}

	var frames [][2]int
	for {
		srcFrame := (e.outPos * uint64(e.inRate)) / uint64(e.outRate)
		if int(srcFrame) >= inFrames {
			break
		}
		frames = append(frames, [2]int{len(frames), int(srcFrame)})
		e.outPos++
	}

	// Reduce both counters together once they've advanced a full period,
	// preserving the fractional position.
	if period := uint64(e.outRate); period > 0 && e.outPos >= period*1<<20 {
		e.outPos %= period
	}

	out := make([]float32, len(frames)*outCh)
	for _, pair := range frames {
		o, srcFrame := pair[0], pair[1]
		copy(out[o*outCh:o*outCh+outCh], in[srcFrame*inCh:srcFrame*inCh+inCh])
	}
	return out
}
