package resampler

import "math"

// sincEngine is a pure-Go windowed-sinc rate converter. It stands in for
// the Speex-float/Speex-fixed/libsamplerate method identifiers: no
// cgo-free Go binding for libspeexdsp or libsamplerate exists, so this
// package implements the same family of algorithm (a table-driven FIR
// windowed-sinc interpolator) those libraries use internally, keeping the
// method/quality contract intact even though the concrete DSP code here is
// ours rather than a bound C library.
//
// History is carried between calls only as the trailing window needed to
// give the kernel context at the start of the next buffer; frames that
// cannot yet be produced (not enough lookahead available) are deferred to
// the next call by re-deriving them from the carried tail, so no samples
// are dropped at a buffer boundary.
type sincEngine struct {
	inRate, outRate uint32
	taps            int
	tail            []float32 // last 2*taps+1 frames of the previous call, interleaved
	tailCh          int
	frac            float64 // position of the next output frame, relative to the start of tail
	blockLimit      int
}

const defaultSincHalfTaps = 8 // quality-3-equivalent window half-width

func newSincEngine() *sincEngine {
	return &sincEngine{taps: defaultSincHalfTaps}
}

func (e *sincEngine) setRates(in, out uint32) {
	if in == 0 {
		in = 1
	}
	if out == 0 {
		out = 1
	}
	if e.inRate != in || e.outRate != out {
		// A running sinc tail computed for one ratio is not valid context
		// for another; reinitialize on rate change.
		e.tail = nil
		e.frac = 0
	}
	e.inRate, e.outRate = in, out
}

func (e *sincEngine) maxBlockSize(n int) { e.blockLimit = n }

func (e *sincEngine) request(outFrames int) int {
	if e.outRate == 0 {
		return 0
	}
	return int((uint64(outFrames)*uint64(e.inRate))/uint64(e.outRate)) + 2*e.taps + 1
}

// sinc is the normalized sinc function sin(pi*x)/(pi*x), sinc(0)=1.
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackman is the Blackman window, tapering the sinc kernel to zero at its
// edges to suppress spectral leakage.
func blackman(n, taps int) float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	width := float64(2 * taps)
	x := float64(n + taps)
	return a0 - a1*math.Cos(2*math.Pi*x/width) + a2*math.Cos(4*math.Pi*x/width)
}

// resample interpolates inCh-interleaved frames at ratio outRate/inRate
// using a windowed-sinc kernel.
func (e *sincEngine) resample(in []float32, inCh, outCh int) []float32 {
	if inCh == 0 || e.inRate == 0 || e.outRate == 0 {
		return nil
	}
	if e.tailCh != inCh {
		e.tail = nil
		e.tailCh = inCh
	}

	buf := append(append([]float32(nil), e.tail...), in...)
	bufFrames := len(buf) / inCh

	ratio := float64(e.inRate) / float64(e.outRate)
	var out []float32
	pos := e.frac

	for {
		center := int(math.Floor(pos))
		if center+e.taps+1 >= bufFrames {
			break
		}
		if center-e.taps < 0 {
			pos += ratio
			continue
		}
		frac := pos - float64(center)
		frame := make([]float32, inCh)
		for k := -e.taps; k <= e.taps; k++ {
			w := sinc(float64(k)-frac) * blackman(k, e.taps)
			srcOff := (center + k) * inCh
			for c := 0; c < inCh; c++ {
				frame[c] += buf[srcOff+c] * float32(w)
			}
		}
		out = append(out, frame...)
		pos += ratio
	}

	// Keep the last 2*taps+1 input frames, so the next output frame's whole
	// kernel span is available on the next call, and carry the position
	// forward relative to that new window.
	keepFrames := 2*e.taps + 1
	if keepFrames > bufFrames {
		keepFrames = bufFrames
	}
	keepStart := (bufFrames - keepFrames) * inCh
	e.tail = append([]float32(nil), buf[keepStart:]...)
	e.frac = pos - float64(bufFrames-keepFrames)

	return out
}
