package device

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	buildErrors "github.com/tphakala/audiocore/internal/errors"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/audiocore/resampler"
	"github.com/tphakala/audiocore/internal/logging"
)

// PlaybackConfig describes the hardware playback device a PlaybackDevice
// opens.
type PlaybackConfig struct {
	DeviceName   string
	Spec         format.SampleSpec
	BufferFrames uint32
}

// PlaybackDevice is a mixer.Device wired to a real output device via
// malgo. Submit queues a mixed chunk; malgo's playback callback drains it
// synchronously each hardware period, padding with silence on underrun.
type PlaybackDevice struct {
	cfg       PlaybackConfig
	frameSize int

	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	bridge *playbackBridge

	running atomic.Bool
	mu      sync.Mutex

	logger *slog.Logger
}

// NewPlaybackDevice builds an unopened playback device; call Open before
// attaching it to a mixer.Sink.
func NewPlaybackDevice(cfg PlaybackConfig) *PlaybackDevice {
	if cfg.BufferFrames == 0 {
		cfg.BufferFrames = 512
	}
	logger := logging.ForService("audiocore-playback-device")
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackDevice{
		cfg:       cfg,
		frameSize: int(cfg.Spec.Channels) * cfg.Spec.Format.BytesPerSample(),
		bridge:    newPlaybackBridge(32),
		logger:    logger,
	}
}

// Open initializes the malgo context and device and starts playback,
// the output-side counterpart to CaptureDevice.Open.
func (d *PlaybackDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return fmt.Errorf("device: playback already open")
	}

	backend, err := backendForPlatform()
	if err != nil {
		return err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return buildErrors.New(err).
			Component(audiocoreerr.Component).
			Category(buildErrors.CategoryAudio).
			Context("operation", "init_context").
			Build()
	}
	d.ctx = ctx

	info, err := d.findDevice()
	if err != nil {
		_ = ctx.Uninit()
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgoFormat(d.cfg.Spec.Format)
	deviceConfig.Playback.Channels = uint32(d.cfg.Spec.Channels)
	if info != nil {
		deviceConfig.Playback.DeviceID = info.ID.Pointer()
	}
	deviceConfig.SampleRate = d.cfg.Spec.Rate
	deviceConfig.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(d.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		_ = ctx.Uninit()
		return buildErrors.New(err).
			Component(audiocoreerr.Component).
			Category(buildErrors.CategoryAudio).
			Context("operation", "init_device").
			Build()
	}
	d.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = ctx.Uninit()
		return buildErrors.New(err).
			Component(audiocoreerr.Component).
			Category(buildErrors.CategoryAudio).
			Context("operation", "start_device").
			Build()
	}

	d.running.Store(true)
	return nil
}

// Close stops and tears down the device.
func (d *PlaybackDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Swap(false) {
		return nil
	}
	if d.dev != nil {
		_ = d.dev.Stop()
		d.dev.Uninit()
		d.dev = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx = nil
	}
	d.bridge.close()
	return nil
}

func (d *PlaybackDevice) findDevice() (*malgo.DeviceInfo, error) {
	infos, err := d.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, buildErrors.New(err).
			Component(audiocoreerr.Component).
			Category(buildErrors.CategoryAudio).
			Context("operation", "enumerate_devices").
			Build()
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return selectDevice(infos, d.cfg.DeviceName)
}

// onData is malgo's playback callback: it fills pOutputSample from the
// bridge, never blocking on an empty queue.
func (d *PlaybackDevice) onData(pOutputSample, _ []byte, _ uint32) {
	filled := d.bridge.drain(pOutputSample)
	if filled < len(pOutputSample) {
		d.logger.Debug("playback underrun, padded with silence",
			"wanted", len(pOutputSample), "got", filled)
	}
}

func (d *PlaybackDevice) onStop() {
	if !d.running.Load() {
		return
	}
	d.logger.Warn("playback device stopped unexpectedly, attempting restart")
	go func() {
		time.Sleep(time.Second)
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.running.Load() && d.dev != nil {
			if err := d.dev.Start(); err != nil {
				d.logger.Error("playback device restart failed", "error", err)
			}
		}
	}()
}

// Submit implements mixer.Device. The sink always hands over its internal
// float32 work-format bytes (mixer.Sink.toChunk); Submit requantizes them
// into the hardware's configured format before queuing for the next
// callback-driven drain. A full internal queue drops the chunk (the sink
// will simply submit fresh mixed audio next iteration).
func (d *PlaybackDevice) Submit(c pool.MemChunk) error {
	if c.IsEmpty() {
		return nil
	}

	raw := c.Bytes()
	frames := make([]float32, len(raw)/format.Float32LE.BytesPerSample())
	resampler.DecodeSamples(raw, format.Float32LE, frames)

	hw := make([]byte, len(frames)*d.cfg.Spec.Format.BytesPerSample())
	resampler.EncodeSamples(frames, d.cfg.Spec.Format, hw)

	if !d.bridge.submit(hw) {
		return fmt.Errorf("device: playback buffer full, chunk dropped")
	}
	return nil
}

// RequestFrames is not meaningful for a playback-only device.
func (d *PlaybackDevice) RequestFrames(int) (pool.MemChunk, error) {
	return pool.MemChunk{}, fmt.Errorf("device: playback device does not accept capture requests")
}

// GetLatency estimates playback latency from the configured buffer size.
func (d *PlaybackDevice) GetLatency() (time.Duration, error) {
	if d.cfg.Spec.Rate == 0 {
		return 0, nil
	}
	return time.Duration(d.cfg.BufferFrames) * time.Second / time.Duration(d.cfg.Spec.Rate), nil
}
