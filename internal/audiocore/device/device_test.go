package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/audiocore/resampler"
)

func testSpec() format.SampleSpec {
	return format.SampleSpec{Format: format.S16LE, Rate: 48000, Channels: 2}
}

func TestCaptureDeviceSubmitUnsupported(t *testing.T) {
	d := NewCaptureDevice(CaptureConfig{Spec: testSpec()})
	err := d.Submit(pool.MemChunk{})
	assert.Error(t, err)
}

func TestCaptureDeviceGetLatencyScalesWithBufferFrames(t *testing.T) {
	d := NewCaptureDevice(CaptureConfig{Spec: testSpec(), BufferFrames: 480})
	lat, err := d.GetLatency()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, lat)
}

func TestPlaybackDeviceRequestFramesUnsupported(t *testing.T) {
	d := NewPlaybackDevice(PlaybackConfig{Spec: testSpec()})
	_, err := d.RequestFrames(128)
	assert.Error(t, err)
}

func TestPlaybackDeviceGetLatencyScalesWithBufferFrames(t *testing.T) {
	d := NewPlaybackDevice(PlaybackConfig{Spec: testSpec(), BufferFrames: 4800})
	lat, err := d.GetLatency()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, lat)
}

func TestPlaybackDeviceSubmitRequantizesFloat32ToHardwareFormat(t *testing.T) {
	d := NewPlaybackDevice(PlaybackConfig{Spec: testSpec()})
	p, err := pool.NewPool(4, 64)
	require.NoError(t, err)

	frames := []float32{0.5, -0.5}
	raw := make([]byte, len(frames)*format.Float32LE.BytesPerSample())
	resampler.EncodeSamples(frames, format.Float32LE, raw)

	block := pool.NewFixed(p, raw, true)
	chunk := pool.MemChunk{Block: block, Length: len(raw)}

	require.NoError(t, d.Submit(chunk))

	want := make([]byte, len(frames)*format.S16LE.BytesPerSample())
	resampler.EncodeSamples(frames, format.S16LE, want)

	out := make([]byte, len(want))
	n := d.bridge.drain(out)
	assert.Equal(t, len(want), n)
	assert.Equal(t, want, out)
}
