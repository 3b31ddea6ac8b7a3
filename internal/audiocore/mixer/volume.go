package mixer

import "github.com/tphakala/audiocore/internal/audiocore/format"

// applyVolume scales interleaved float32 frames in place by a per-channel
// volume vector, or zeroes them if muted. Channel counts narrower than the
// frame's own are repeated: a volume vector is per output channel of the
// owning input/output, not necessarily the full sink width.
func applyVolume(frames []float32, v format.Volume, muted bool) {
	if muted {
		for i := range frames {
			frames[i] = 0
		}
		return
	}
	n := len(v.Channels)
	if n == 0 {
		return
	}
	for i := range frames {
		factor := float32(v.Channels[i%n]) / float32(format.NORM)
		frames[i] *= factor
	}
}

// mixAccumulate sums src into dst, saturating each sample at the work
// format's nominal [-1,1] range.
func mixAccumulate(dst, src []float32) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		v := dst[i] + src[i]
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = v
	}
}
