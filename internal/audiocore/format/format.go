// Package format defines the sample spec, channel map, and volume types
// shared by the memory pool, queue, resampler, and mixer packages.
package format

import (
	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/errors"
)

// SampleFormat identifies the on-the-wire PCM encoding.
type SampleFormat uint16

const (
	U8 SampleFormat = iota
	ALaw
	ULaw
	S16LE
	S16BE
	Float32LE
	Float32BE
	S32LE
	S32BE
)

// BytesPerSample returns the per-sample byte count for the format.
func (f SampleFormat) BytesPerSample() int {
	return f.sampleSize()
}

// sampleSize returns the per-sample byte count for the format.
func (f SampleFormat) sampleSize() int {
	switch f {
	case U8, ALaw, ULaw:
		return 1
	case S16LE, S16BE:
		return 2
	case Float32LE, Float32BE, S32LE, S32BE:
		return 4
	default:
		return 0
	}
}

// IsInteger reports whether the format is an integer PCM encoding (as
// opposed to floating point). Used by the resampler's work-format rules.
func (f SampleFormat) IsInteger() bool {
	switch f {
	case Float32LE, Float32BE:
		return false
	default:
		return true
	}
}

func (f SampleFormat) Valid() bool {
	return f <= S32BE
}

// MaxRate is the largest sample rate a SampleSpec may carry, per spec.
const MaxRate = 192000

// MaxChannels is the largest channel count a SampleSpec may carry.
const MaxChannels = 32

// SampleSpec describes the PCM layout of a stream.
type SampleSpec struct {
	Format   SampleFormat
	Rate     uint32
	Channels uint8
}

// Validate checks that a sample spec is well-formed for use anywhere in
// the engine: a known format, a rate and channel count within range.
func (s SampleSpec) Validate() error {
	if !s.Format.Valid() {
		return errors.Newf("invalid sample format %d", s.Format).
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Context("operation", "sample_spec_validate").
			Build()
	}
	if s.Rate == 0 || s.Rate > MaxRate {
		return errors.Newf("sample rate %d out of range (0,%d]", s.Rate, MaxRate).
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Context("operation", "sample_spec_validate").
			Context("rate", s.Rate).
			Build()
	}
	if s.Channels == 0 || int(s.Channels) > MaxChannels {
		return errors.Newf("channel count %d out of range [1,%d]", s.Channels, MaxChannels).
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Context("operation", "sample_spec_validate").
			Context("channels", s.Channels).
			Build()
	}
	return nil
}

// FrameSize is sample_size(format) * channels.
func (s SampleSpec) FrameSize() int {
	return s.Format.sampleSize() * int(s.Channels)
}

// BytesPerSecond is rate * FrameSize.
func (s SampleSpec) BytesPerSecond() uint32 {
	return s.Rate * uint32(s.FrameSize())
}

// Equal compares two specs field by field.
func (s SampleSpec) Equal(o SampleSpec) bool {
	return s.Format == o.Format && s.Rate == o.Rate && s.Channels == o.Channels
}

// ChannelPosition names a spatial channel slot. "Mono" matches any position
// during remap.
type ChannelPosition int

const (
	PositionMono ChannelPosition = iota
	PositionFrontLeft
	PositionFrontRight
	PositionFrontCenter
	PositionRearLeft
	PositionRearRight
	PositionRearCenter
	PositionLFE
	PositionSideLeft
	PositionSideRight
	PositionAux0
)

func (p ChannelPosition) IsLeft() bool {
	return p == PositionFrontLeft || p == PositionRearLeft || p == PositionSideLeft
}

func (p ChannelPosition) IsRight() bool {
	return p == PositionFrontRight || p == PositionRearRight || p == PositionSideRight
}

func (p ChannelPosition) IsCenter() bool {
	return p == PositionFrontCenter || p == PositionRearCenter
}

func (p ChannelPosition) IsLFE() bool {
	return p == PositionLFE
}

// ChannelMap assigns a position to each channel of a SampleSpec.
type ChannelMap struct {
	Positions []ChannelPosition
}

func (m ChannelMap) Channels() int {
	return len(m.Positions)
}

// StereoMap is the canonical 2.0 layout.
func StereoMap() ChannelMap {
	return ChannelMap{Positions: []ChannelPosition{PositionFrontLeft, PositionFrontRight}}
}

// MonoMap is the canonical 1.0 layout.
func MonoMap() ChannelMap {
	return ChannelMap{Positions: []ChannelPosition{PositionMono}}
}

// Surround51Map is the canonical front-left/front-right/center/LFE/rear-left/
// rear-right 5.1 layout.
func Surround51Map() ChannelMap {
	return ChannelMap{Positions: []ChannelPosition{
		PositionFrontLeft, PositionFrontRight, PositionFrontCenter,
		PositionLFE, PositionRearLeft, PositionRearRight,
	}}
}

// NORM is unity volume.
const NORM uint32 = 0x10000

// Volume is a per-channel fixed-point volume vector in [0, NORM].
type Volume struct {
	Channels []uint32
}

// NewVolume returns a volume vector of n channels at unity.
func NewVolume(n int) Volume {
	v := make([]uint32, n)
	for i := range v {
		v[i] = NORM
	}
	return Volume{Channels: v}
}

// Clamp bounds every channel to [0, NORM].
func (v Volume) Clamp() {
	for i, c := range v.Channels {
		if c > NORM {
			v.Channels[i] = NORM
		}
		_ = c
	}
}

// MultiplyScalar scales every channel by factor/NORM using rounded 32-bit
// fixed-point arithmetic, clamping to [0, NORM] on overflow.
func (v Volume) MultiplyScalar(factor uint32) Volume {
	out := make([]uint32, len(v.Channels))
	for i, c := range v.Channels {
		out[i] = multiplyFixed(c, factor)
	}
	return Volume{Channels: out}
}

// Multiply combines two per-channel volume vectors element-wise with the
// same rounded fixed-point rule as MultiplyScalar. A shorter other is
// extended by repeating its last channel (a mono volume applied uniformly
// to a multi-channel vector).
func (v Volume) Multiply(other Volume) Volume {
	out := make([]uint32, len(v.Channels))
	for i, c := range v.Channels {
		b := NORM
		if n := len(other.Channels); n > 0 {
			idx := i
			if idx >= n {
				idx = n - 1
			}
			b = other.Channels[idx]
		}
		out[i] = multiplyFixed(c, b)
	}
	return Volume{Channels: out}
}

// multiplyFixed computes round((a*b)/NORM) in 64-bit intermediate precision,
// clamped to [0, NORM].
func multiplyFixed(a, b uint32) uint32 {
	prod := uint64(a)*uint64(b) + uint64(NORM)/2
	result := prod / uint64(NORM)
	if result > uint64(NORM) {
		return NORM
	}
	return uint32(result)
}

// IsMuted reports whether every channel is silence.
func (v Volume) IsMuted() bool {
	for _, c := range v.Channels {
		if c != 0 {
			return false
		}
	}
	return true
}
