package resampler

import (
	"encoding/binary"
	"math"

	"github.com/tphakala/audiocore/internal/audiocore/format"
)

// toWorkFormat decodes raw input bytes into interleaved float32 frames in
// the resampler's work format domain (stage 1 of the pipeline).
func (r *Resampler) toWorkFormat(raw []byte, frames int) []float32 {
	inCh := int(r.inSpec.Channels)
	out := make([]float32, frames*inCh)
	decodeSamples(raw, r.inSpec.Format, out)
	return out
}

// remapChannels applies the channel remix matrix (stage 2).
func (r *Resampler) remapChannels(work []float32, frames int) []float32 {
	inCh := r.matrix.InChannels()
	outCh := r.matrix.OutChannels()
	if cap(r.remapped) < frames*outCh {
		r.remapped = make([]float32, frames*outCh)
	}
	out := r.remapped[:frames*outCh]
	inFrame := make([]float32, inCh)
	for f := 0; f < frames; f++ {
		copy(inFrame, work[f*inCh:f*inCh+inCh])
		r.matrix.Apply(inFrame, out[f*outCh:f*outCh+outCh])
	}
	return out
}

// fromWorkFormat re-encodes the resampled float32 frames into the output
// sample spec's on-the-wire format (stage 4).
func (r *Resampler) fromWorkFormat(work []float32) []byte {
	sampleBytes := r.outSpec.Format.BytesPerSample()
	out := make([]byte, len(work)*sampleBytes)
	encodeSamples(work, r.outSpec.Format, out)
	return out
}

// DecodeSamples fills out with one float32 per sample decoded from raw
// according to f, in [-1,1] (integer formats) or verbatim (float formats).
// Exported for the mixer package's sink-input peek path, which decodes a
// sink-input's native format directly when no resampler is attached.
func DecodeSamples(raw []byte, f format.SampleFormat, out []float32) {
	decodeSamples(raw, f, out)
}

// EncodeSamples is the inverse of DecodeSamples, exported for the mixer's
// device-submission path.
func EncodeSamples(in []float32, f format.SampleFormat, out []byte) {
	encodeSamples(in, f, out)
}

// decodeSamples fills out with one float32 per sample decoded from raw
// according to f, in [-1,1] (integer formats) or verbatim (float formats).
func decodeSamples(raw []byte, f format.SampleFormat, out []float32) {
	switch f {
	case format.U8:
		for i := range out {
			if i >= len(raw) {
				break
			}
			out[i] = (float32(raw[i]) - 128) / 128
		}
	case format.S16LE:
		for i := range out {
			off := i * 2
			if off+2 > len(raw) {
				break
			}
			v := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
			out[i] = float32(v) / 32768
		}
	case format.S16BE:
		for i := range out {
			off := i * 2
			if off+2 > len(raw) {
				break
			}
			v := int16(binary.BigEndian.Uint16(raw[off : off+2]))
			out[i] = float32(v) / 32768
		}
	case format.S32LE:
		for i := range out {
			off := i * 4
			if off+4 > len(raw) {
				break
			}
			v := int32(binary.LittleEndian.Uint32(raw[off : off+4]))
			out[i] = float32(v) / 2147483648
		}
	case format.S32BE:
		for i := range out {
			off := i * 4
			if off+4 > len(raw) {
				break
			}
			v := int32(binary.BigEndian.Uint32(raw[off : off+4]))
			out[i] = float32(v) / 2147483648
		}
	case format.Float32LE:
		for i := range out {
			off := i * 4
			if off+4 > len(raw) {
				break
			}
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
		}
	case format.Float32BE:
		for i := range out {
			off := i * 4
			if off+4 > len(raw) {
				break
			}
			out[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[off : off+4]))
		}
	case format.ALaw:
		for i := range out {
			if i >= len(raw) {
				break
			}
			out[i] = alawDecode(raw[i])
		}
	case format.ULaw:
		for i := range out {
			if i >= len(raw) {
				break
			}
			out[i] = ulawDecode(raw[i])
		}
	}
}

func encodeSamples(in []float32, f format.SampleFormat, out []byte) {
	clampInt16 := func(v float32) int16 {
		s := v * 32768
		if s > 32767 {
			return 32767
		}
		if s < -32768 {
			return -32768
		}
		return int16(s)
	}
	switch f {
	case format.U8:
		for i, v := range in {
			if i >= len(out) {
				break
			}
			s := (v * 128) + 128
			if s > 255 {
				s = 255
			}
			if s < 0 {
				s = 0
			}
			out[i] = byte(s)
		}
	case format.S16LE:
		for i, v := range in {
			off := i * 2
			if off+2 > len(out) {
				break
			}
			binary.LittleEndian.PutUint16(out[off:off+2], uint16(clampInt16(v)))
		}
	case format.S16BE:
		for i, v := range in {
			off := i * 2
			if off+2 > len(out) {
				break
			}
			binary.BigEndian.PutUint16(out[off:off+2], uint16(clampInt16(v)))
		}
	case format.S32LE:
		for i, v := range in {
			off := i * 4
			if off+4 > len(out) {
				break
			}
			s := int64(v * 2147483648)
			if s > math.MaxInt32 {
				s = math.MaxInt32
			}
			if s < math.MinInt32 {
				s = math.MinInt32
			}
			binary.LittleEndian.PutUint32(out[off:off+4], uint32(int32(s)))
		}
	case format.S32BE:
		for i, v := range in {
			off := i * 4
			if off+4 > len(out) {
				break
			}
			s := int64(v * 2147483648)
			if s > math.MaxInt32 {
				s = math.MaxInt32
			}
			if s < math.MinInt32 {
				s = math.MinInt32
			}
			binary.BigEndian.PutUint32(out[off:off+4], uint32(int32(s)))
		}
	case format.Float32LE:
		for i, v := range in {
			off := i * 4
			if off+4 > len(out) {
				break
			}
			binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(v))
		}
	case format.Float32BE:
		for i, v := range in {
			off := i * 4
			if off+4 > len(out) {
				break
			}
			binary.BigEndian.PutUint32(out[off:off+4], math.Float32bits(v))
		}
	case format.ALaw:
		for i, v := range in {
			if i >= len(out) {
				break
			}
			out[i] = alawEncode(v)
		}
	case format.ULaw:
		for i, v := range in {
			if i >= len(out) {
				break
			}
			out[i] = ulawEncode(v)
		}
	}
}

// alawDecode/ulawDecode/alawEncode/ulawEncode implement the ITU-T G.711
// companding curves used by PA_SAMPLE_ALAW/PA_SAMPLE_ULAW.
func alawDecode(b byte) float32 {
	b ^= 0x55
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	var sample int32
	if exponent == 0 {
		sample = int32(mantissa)<<4 + 8
	} else {
		sample = (int32(mantissa)<<4 + 0x108) << (exponent - 1)
	}
	if sign == 0 {
		sample = -sample
	}
	return float32(sample) / 32768
}

func alawEncode(v float32) byte {
	s := int32(v * 32768)
	sign := byte(0)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > 32635 {
		s = 32635
	}
	var exponent byte
	var mantissa byte
	if s >= 256 {
		exponent = 1
		for (s >> uint(exponent+3)) != 0 && exponent < 7 {
			exponent++
		}
		mantissa = byte((s >> uint(exponent+3)) & 0x0F)
	} else {
		exponent = 0
		mantissa = byte((s >> 4) & 0x0F)
	}
	b := sign | (exponent << 4) | mantissa
	return b ^ 0x55
}

func ulawDecode(b byte) float32 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := ((int32(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		sample = -sample
	}
	return float32(sample) / 32768
}

func ulawEncode(v float32) byte {
	const bias = 0x84
	const clip = 32635
	s := int32(v * 32768)
	sign := byte(0)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > clip {
		s = clip
	}
	s += bias
	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> uint(exponent+3)) & 0x0F)
	b := ^(sign | (exponent << 4) | mantissa)
	return b
}
