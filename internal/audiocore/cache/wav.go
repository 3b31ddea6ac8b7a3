package cache

import (
	"os"

	"github.com/go-audio/wav"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/errors"
)

// loadWAV decodes a WAV file into raw PCM bytes matching the file's own
// sample spec (no resampling here; the sink-input's resampler converts at
// play time same as any other attachment).
func loadWAV(path string) (format.SampleSpec, format.ChannelMap, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return format.SampleSpec{}, format.ChannelMap{}, nil, errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryFileIO).
			Context("operation", "sample_cache_load").
			Context("path", path).
			Build()
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return format.SampleSpec{}, format.ChannelMap{}, nil, errors.Newf("not a valid WAV file: %s", path).
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Context("operation", "sample_cache_load").
			Context("path", path).
			Build()
	}

	sf, err := sampleFormatForBitDepth(dec.BitDepth)
	if err != nil {
		return format.SampleSpec{}, format.ChannelMap{}, nil, err
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return format.SampleSpec{}, format.ChannelMap{}, nil, errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryFileIO).
			Context("operation", "sample_cache_load").
			Context("path", path).
			Build()
	}

	raw := make([]byte, len(buf.Data)*sf.BytesPerSample())
	encodeInts(buf.Data, sf, raw)

	spec := format.SampleSpec{Format: sf, Rate: dec.SampleRate, Channels: uint8(dec.NumChans)}
	return spec, channelMapForCount(int(dec.NumChans)), raw, nil
}

func sampleFormatForBitDepth(bits int) (format.SampleFormat, error) {
	switch bits {
	case 8:
		return format.U8, nil
	case 16:
		return format.S16LE, nil
	case 32:
		return format.S32LE, nil
	default:
		return 0, errors.Newf("unsupported WAV bit depth %d", bits).
			Component(audiocoreerr.Component).
			Category(errors.CategoryValidation).
			Context("operation", "sample_cache_load").
			Build()
	}
}

// encodeInts packs decoded integer samples as little-endian bytes of the
// width f.BytesPerSample() calls for. go-audio/wav already sign-extends
// into full-width ints regardless of source bit depth, so it only needs
// truncation to the target byte width here.
func encodeInts(data []int, f format.SampleFormat, out []byte) {
	size := f.BytesPerSample()
	for i, v := range data {
		off := i * size
		u := uint32(int32(v))
		for b := 0; b < size; b++ {
			out[off+b] = byte(u >> (8 * b))
		}
	}
}

func channelMapForCount(n int) format.ChannelMap {
	switch n {
	case 1:
		return format.MonoMap()
	case 2:
		return format.StereoMap()
	case 6:
		return format.Surround51Map()
	default:
		positions := make([]format.ChannelPosition, n)
		for i := range positions {
			positions[i] = format.PositionAux0
		}
		return format.ChannelMap{Positions: positions}
	}
}
