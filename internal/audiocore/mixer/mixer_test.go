package mixer

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/audiocore/queue"
)

// fakeDevice records every submitted chunk and optionally serves fixed
// capture frames, standing in for a real hardware collaborator in tests.
type fakeDevice struct {
	mu        sync.Mutex
	submitted [][]byte
	capture   []byte
}

func (d *fakeDevice) Submit(c pool.MemChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted = append(d.submitted, append([]byte(nil), c.Bytes()...))
	return nil
}

func (d *fakeDevice) RequestFrames(n int) (pool.MemChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.capture) == 0 {
		return pool.MemChunk{}, nil
	}
	block := pool.NewFixed(nil, d.capture, true)
	return pool.MemChunk{Block: block, Length: len(d.capture)}, nil
}

func (d *fakeDevice) GetLatency() (time.Duration, error) { return 0, nil }

func (d *fakeDevice) snapshot() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.submitted...)
}

func newTestPool(t *testing.T) *pool.MemoryPool {
	t.Helper()
	p, err := pool.NewPool(8, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func stereoFloatSpec() format.SampleSpec {
	return format.SampleSpec{Format: format.Float32LE, Rate: 44100, Channels: 2}
}

func TestSinkSubmitsMixedOutputToDevice(t *testing.T) {
	p := newTestPool(t)
	dev := &fakeDevice{}
	spec := stereoFloatSpec()
	cmap := format.StereoMap()

	sink := NewSink(1, "test-sink", spec, cmap, p, dev)
	sink.Start(64)
	t.Cleanup(sink.Stop)

	qcfg := queue.Config{MaxLength: 1 << 20, TLength: 0, PreBuf: 0, MinReq: 1, FrameSize: spec.FrameSize()}
	input := NewSinkInput(1, "tone", spec, cmap, qcfg, pool.MemChunk{})
	require.NoError(t, sink.AttachInput(input))

	// 64 frames of 0.5-amplitude L/R samples, one iteration's worth.
	raw := make([]byte, 64*spec.FrameSize())
	for f := 0; f < 64; f++ {
		off := f * spec.FrameSize()
		// 0.5 amplitude on both channels.
		putFloat32LE(raw[off:off+4], 0.5)
		putFloat32LE(raw[off+4:off+8], 0.5)
	}
	input.Push(pool.MemChunk{Block: pool.NewFixed(nil, raw, true), Length: len(raw)})

	assert.Eventually(t, func() bool {
		return len(dev.snapshot()) > 0
	}, time.Second, time.Millisecond)
}

func TestSinkVolumeAttenuatesOutput(t *testing.T) {
	p := newTestPool(t)
	dev := &fakeDevice{}
	spec := stereoFloatSpec()
	cmap := format.StereoMap()

	sink := NewSink(2, "vol-sink", spec, cmap, p, dev)
	sink.SetVolume(format.Volume{Channels: []uint32{format.NORM, format.NORM}})
	sink.Start(32)
	t.Cleanup(sink.Stop)

	qcfg := queue.Config{MaxLength: 1 << 20, PreBuf: 0, MinReq: 1, FrameSize: spec.FrameSize()}
	input := NewSinkInput(2, "quiet", spec, cmap, qcfg, pool.MemChunk{})
	input.SetVolume(format.Volume{Channels: []uint32{format.NORM / 2, format.NORM / 2}})
	require.NoError(t, sink.AttachInput(input))

	raw := make([]byte, 32*spec.FrameSize())
	for f := 0; f < 32; f++ {
		off := f * spec.FrameSize()
		putFloat32LE(raw[off:off+4], 1.0)
		putFloat32LE(raw[off+4:off+8], 1.0)
	}
	input.Push(pool.MemChunk{Block: pool.NewFixed(nil, raw, true), Length: len(raw)})

	// 1.0 input samples at half input volume and unity sink volume mix to 0.5.
	assert.Eventually(t, func() bool {
		for _, chunk := range dev.snapshot() {
			if hasNonSilentSample(chunk) {
				return firstNonSilentSample(chunk) == 0.5
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestKilledInputIsUnlinked(t *testing.T) {
	p := newTestPool(t)
	dev := &fakeDevice{}
	spec := stereoFloatSpec()
	cmap := format.StereoMap()

	sink := NewSink(3, "kill-sink", spec, cmap, p, dev)
	sink.Start(32)
	t.Cleanup(sink.Stop)

	qcfg := queue.Config{MaxLength: 1 << 20, PreBuf: 0, MinReq: 1, FrameSize: spec.FrameSize()}
	input := NewSinkInput(3, "dying", spec, cmap, qcfg, pool.MemChunk{})
	require.NoError(t, sink.AttachInput(input))
	input.Kill()

	assert.Eventually(t, func() bool {
		return input.State() == InputStateDead
	}, time.Second, time.Millisecond)
}

func TestMoveToReattachesInputToNewSink(t *testing.T) {
	p := newTestPool(t)
	devA := &fakeDevice{}
	devB := &fakeDevice{}
	spec := stereoFloatSpec()
	cmap := format.StereoMap()

	sinkA := NewSink(4, "a", spec, cmap, p, devA)
	sinkB := NewSink(5, "b", spec, cmap, p, devB)
	sinkA.Start(32)
	sinkB.Start(32)
	t.Cleanup(sinkA.Stop)
	t.Cleanup(sinkB.Stop)

	qcfg := queue.Config{MaxLength: 1 << 20, PreBuf: 0, MinReq: 1, FrameSize: spec.FrameSize()}
	input := NewSinkInput(4, "movable", spec, cmap, qcfg, pool.MemChunk{})
	require.NoError(t, sinkA.AttachInput(input))

	require.NoError(t, MoveTo(input, sinkB))
	assert.Equal(t, sinkB, input.sink)
}

func TestSourcePushesToAttachedOutputs(t *testing.T) {
	spec := format.SampleSpec{Format: format.S16LE, Rate: 44100, Channels: 2}
	cmap := format.StereoMap()
	raw := make([]byte, 32*spec.FrameSize())
	dev := &fakeDevice{capture: raw}

	src := NewSource(1, "mic", spec, cmap, nil, dev)
	src.Start(32)
	t.Cleanup(src.Stop)

	var mu sync.Mutex
	var delivered [][]byte
	out := NewSourceOutput(1, "listener", spec, cmap, func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, b)
	})
	require.NoError(t, src.AttachOutput(out))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) > 0
	}, time.Second, time.Millisecond)
}

func TestSuspendStopsMixingUntilResumed(t *testing.T) {
	p := newTestPool(t)
	dev := &fakeDevice{}
	spec := stereoFloatSpec()
	cmap := format.StereoMap()

	sink := NewSink(6, "suspend-sink", spec, cmap, p, dev)
	sink.Start(32)
	t.Cleanup(sink.Stop)
	sink.Suspend()

	assert.Eventually(t, func() bool {
		return sink.State() == StateSuspended
	}, time.Second, time.Millisecond)

	// While suspended the I/O goroutine submits nothing to the device.
	submitted := len(dev.snapshot())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, submitted, len(dev.snapshot()))

	sink.Resume()
	assert.Eventually(t, func() bool {
		return sink.State() == StateRunning
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(dev.snapshot()) > submitted
	}, time.Second, time.Millisecond)
}

func hasNonSilentSample(chunk []byte) bool {
	for i := 0; i+4 <= len(chunk); i += 4 {
		bits := uint32(chunk[i]) | uint32(chunk[i+1])<<8 | uint32(chunk[i+2])<<16 | uint32(chunk[i+3])<<24
		if math.Float32frombits(bits) != 0 {
			return true
		}
	}
	return false
}

// firstNonSilentSample returns the first non-zero float32 sample in chunk,
// or 0 when every sample is silent.
func firstNonSilentSample(chunk []byte) float32 {
	for i := 0; i+4 <= len(chunk); i += 4 {
		bits := uint32(chunk[i]) | uint32(chunk[i+1])<<8 | uint32(chunk[i+2])<<16 | uint32(chunk[i+3])<<24
		if v := math.Float32frombits(bits); v != 0 {
			return v
		}
	}
	return 0
}

func putFloat32LE(b []byte, v float32) {
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
