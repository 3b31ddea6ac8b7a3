package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/mixer"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
)

type fakeDevice struct {
	mu        sync.Mutex
	submitted int
}

func (d *fakeDevice) Submit(c pool.MemChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted++
	return nil
}

func (d *fakeDevice) RequestFrames(n int) (pool.MemChunk, error) { return pool.MemChunk{}, nil }
func (d *fakeDevice) GetLatency() (time.Duration, error)         { return 0, nil }

func newTestPool(t *testing.T) *pool.MemoryPool {
	t.Helper()
	p, err := pool.NewPool(8, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func writeTestWAV(t *testing.T, samples int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 44100, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{SampleRate: 44100, NumChannels: 1},
		Data:   make([]int, samples),
	}
	for i := range buf.Data {
		buf.Data[i] = 1000
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	return path
}

func TestAddItemAndPlayItemAttachesSinkInput(t *testing.T) {
	p := newTestPool(t)
	c := New(p, time.Hour, time.Hour)
	t.Cleanup(func() { _ = c.Close() })

	spec := format.SampleSpec{Format: format.S16LE, Rate: 44100, Channels: 1}
	raw := make([]byte, 64*spec.FrameSize())
	require.NoError(t, c.AddItem("beep", spec, format.MonoMap(), raw, format.NewVolume(1)))

	dev := &fakeDevice{}
	sink := mixer.NewSink(1, "test-sink", format.SampleSpec{Format: format.Float32LE, Rate: 44100, Channels: 1}, format.MonoMap(), p, dev)
	sink.Start(32)
	t.Cleanup(sink.Stop)

	input, err := c.PlayItem("beep", sink, format.NewVolume(1))
	require.NoError(t, err)
	assert.NotNil(t, input)

	assert.Eventually(t, func() bool {
		return input.State() == mixer.InputStateDead
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPlayItemUnknownNameErrors(t *testing.T) {
	p := newTestPool(t)
	c := New(p, time.Hour, time.Hour)
	t.Cleanup(func() { _ = c.Close() })

	sink := mixer.NewSink(2, "s", format.SampleSpec{Format: format.Float32LE, Rate: 44100, Channels: 1}, format.MonoMap(), p, &fakeDevice{})
	_, err := c.PlayItem("missing", sink, format.NewVolume(1))
	assert.Error(t, err)
}

func TestAddFileLazyLoadsOnFirstPlay(t *testing.T) {
	p := newTestPool(t)
	c := New(p, time.Hour, time.Hour)
	t.Cleanup(func() { _ = c.Close() })

	path := writeTestWAV(t, 256)
	require.NoError(t, c.AddFileLazy("lazy-clip", path, format.NewVolume(1)))

	e, err := c.lookup("lazy-clip")
	require.NoError(t, err)
	assert.False(t, e.resident())

	dev := &fakeDevice{}
	sink := mixer.NewSink(3, "s", format.SampleSpec{Format: format.Float32LE, Rate: 44100, Channels: 1}, format.MonoMap(), p, dev)
	sink.Start(32)
	t.Cleanup(sink.Stop)

	_, err = c.PlayItem("lazy-clip", sink, format.NewVolume(1))
	require.NoError(t, err)
	assert.True(t, e.resident())
}

func TestEvictionDropsIdleLazyPayload(t *testing.T) {
	p := newTestPool(t)
	c := New(p, 10*time.Millisecond, 20*time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })

	path := writeTestWAV(t, 128)
	require.NoError(t, c.AddFileLazy("evict-me", path, format.NewVolume(1)))

	e, err := c.lookup("evict-me")
	require.NoError(t, err)

	_, loadErr := e.payload(p)
	require.NoError(t, loadErr)
	assert.True(t, e.resident())

	assert.Eventually(t, func() bool {
		return !e.resident()
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveItemDeletesEntry(t *testing.T) {
	p := newTestPool(t)
	c := New(p, time.Hour, time.Hour)
	t.Cleanup(func() { _ = c.Close() })

	spec := format.SampleSpec{Format: format.S16LE, Rate: 44100, Channels: 1}
	require.NoError(t, c.AddItem("gone-soon", spec, format.MonoMap(), make([]byte, 8), format.NewVolume(1)))
	require.NoError(t, c.RemoveItem("gone-soon"))

	_, err := c.lookup("gone-soon")
	assert.Error(t, err)
}
