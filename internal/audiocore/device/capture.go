package device

import (
	"errors"
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
	"github.com/tphakala/audiocore/internal/logging"
)

var (
	errCaptureClosed  = errors.New("device: capture stream closed")
	errCaptureTimeout = errors.New("device: capture request timed out")
)

func malgoFormat(f format.SampleFormat) malgo.FormatType {
	switch f {
	case format.U8:
		return malgo.FormatU8
	case format.S16LE, format.S16BE:
		return malgo.FormatS16
	case format.S32LE, format.S32BE:
		return malgo.FormatS32
	case format.Float32LE, format.Float32BE:
		return malgo.FormatF32
	default:
		return malgo.FormatS16
	}
}

// CaptureConfig describes the hardware capture device a CaptureDevice opens.
type CaptureConfig struct {
	DeviceName     string
	Spec           format.SampleSpec
	Pool           *pool.MemoryPool
	BufferFrames   uint32
	RequestTimeout time.Duration
}

// CaptureDevice is a mixer.Device wired to a real input device via malgo.
// Its RequestFrames pulls from a channel fed by malgo's capture callback,
// turning malgo's push-based delivery into the mixer's pull-based
// contract.
type CaptureDevice struct {
	cfg       CaptureConfig
	frameSize int

	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	bridge *captureBridge

	running atomic.Bool
	mu      sync.Mutex

	logger *slog.Logger
}

// NewCaptureDevice builds an unopened capture device; call Open before
// attaching it to a mixer.Source.
func NewCaptureDevice(cfg CaptureConfig) *CaptureDevice {
	if cfg.BufferFrames == 0 {
		cfg.BufferFrames = 512
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	logger := logging.ForService("audiocore-capture-device")
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureDevice{
		cfg:       cfg,
		frameSize: int(cfg.Spec.Channels) * cfg.Spec.Format.BytesPerSample(),
		bridge:    newCaptureBridge(32),
		logger:    logger,
	}
}

// Open initializes the malgo context and device and starts capture for
// an arbitrary sample spec.
func (d *CaptureDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return fmt.Errorf("device: capture already open")
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

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgoFormat(d.cfg.Spec.Format)
	deviceConfig.Capture.Channels = uint32(d.cfg.Spec.Channels)
	if info != nil {
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
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
func (d *CaptureDevice) Close() error {
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

func (d *CaptureDevice) findDevice() (*malgo.DeviceInfo, error) {
	infos, err := d.ctx.Devices(malgo.Capture)
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

// onData is malgo's capture callback; it only ever hands bytes off to the
// bridge, never blocks.
func (d *CaptureDevice) onData(_, pSamples []byte, _ uint32) {
	if !d.bridge.push(pSamples) {
		d.logger.Debug("capture frame dropped, consumer behind")
	}
}

// onStop attempts one restart after an unexpected device stop.
func (d *CaptureDevice) onStop() {
	if !d.running.Load() {
		return
	}
	d.logger.Warn("capture device stopped unexpectedly, attempting restart")
	go func() {
		time.Sleep(time.Second)
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.running.Load() && d.dev != nil {
			if err := d.dev.Start(); err != nil {
				d.logger.Error("capture device restart failed", "error", err)
			}
		}
	}()
}

// RequestFrames implements mixer.Device: it blocks until n frames worth of
// bytes have been captured or RequestTimeout elapses.
func (d *CaptureDevice) RequestFrames(n int) (pool.MemChunk, error) {
	need := n * d.frameSize
	timeout := time.NewTimer(d.cfg.RequestTimeout)
	defer timeout.Stop()

	data, err := d.bridge.pull(need, timeout.C)
	if err != nil {
		return pool.MemChunk{}, buildErrors.New(err).
			Component(audiocoreerr.Component).
			Category(buildErrors.CategoryAudio).
			Context("operation", "capture_request_frames").
			Build()
	}

	block := pool.NewFixed(d.cfg.Pool, data, true)
	return pool.MemChunk{Block: block, Length: len(data)}, nil
}

// Submit is not meaningful for a capture-only device.
func (d *CaptureDevice) Submit(pool.MemChunk) error {
	return fmt.Errorf("device: capture device does not accept playback submissions")
}

// GetLatency estimates capture latency from the configured buffer size.
func (d *CaptureDevice) GetLatency() (time.Duration, error) {
	if d.cfg.Spec.Rate == 0 {
		return 0, nil
	}
	return time.Duration(d.cfg.BufferFrames) * time.Second / time.Duration(d.cfg.Spec.Rate), nil
}
