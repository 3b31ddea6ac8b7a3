// Command audiocoredemo runs the "sine into sink" scenario end to end: a
// single sine-wave sink-input is mixed by a sink and the resulting bytes
// land either at a real malgo playback device or at a software meter that
// reports the same statistics a hardware capture would.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tphakala/audiocore/internal/audiocore/config"
	"github.com/tphakala/audiocore/internal/audiocore/device"
	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/metrics"
	"github.com/tphakala/audiocore/internal/audiocore/mixer"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/audiocore/queue"
	"github.com/tphakala/audiocore/internal/audiocore/resampler"
	"github.com/tphakala/audiocore/internal/logging"
)

func main() {
	var (
		configPath string
		duration   time.Duration
		useHW      bool
		logFile    string
	)

	cmd := &cobra.Command{
		Use:   "audiocoredemo",
		Short: "Run the sine-into-sink routing engine demo",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath, duration, useHW, logFile)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to audiocore.yaml (defaults embedded if absent)")
	cmd.Flags().DurationVar(&duration, "duration", time.Second, "how long to run the demo")
	cmd.Flags().BoolVar(&useHW, "real-device", false, "play through a real malgo playback device instead of the software meter")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write rotated JSON logs to this path instead of the default stderr logger")

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, duration time.Duration, useHW bool, logFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.Default()
	if logFile != "" {
		levelVar := new(slog.LevelVar)
		fileLogger, closeLog, err := logging.NewFileLogger(logFile, "audiocoredemo", levelVar,
			cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer closeLog()
		logger = fileLogger
	}
	logger.Info("starting sine-into-sink demo", "duration", duration, "real_device", useHW)

	p, err := pool.NewPool(cfg.Pool.SlotCount, cfg.Pool.SlotSize)
	if err != nil {
		return fmt.Errorf("new pool: %w", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New(p, nil)
	reg.MustRegister(collector)

	sinkSpec := format.SampleSpec{Format: format.Float32LE, Rate: cfg.Sink.Rate, Channels: cfg.Sink.Channels}
	sinkMap := format.StereoMap()
	if cfg.Sink.Channels == 1 {
		sinkMap = format.MonoMap()
	}

	hwSpec := format.SampleSpec{Format: format.S16LE, Rate: cfg.Sink.Rate, Channels: cfg.Sink.Channels}

	var dev mixer.Device
	var meter *meterDevice
	if useHW {
		pd := device.NewPlaybackDevice(device.PlaybackConfig{Spec: hwSpec, BufferFrames: 512})
		fmt.Println("Available playback devices:")
		if infos, err := device.EnumeratePlaybackDevices(); err == nil {
			for _, info := range infos {
				fmt.Printf("  %d: %s (ID: %s)\n", info.Index, info.Name, info.ID)
			}
		}
		if err := pd.Open(); err != nil {
			return fmt.Errorf("open playback device: %w", err)
		}
		defer pd.Close()
		dev = pd
	} else {
		meter = newMeterDevice(hwSpec)
		dev = meter
	}

	sink := mixer.NewSink(1, cfg.Sink.Name, sinkSpec, sinkMap, p, dev)
	framesPerIteration := int(cfg.Sink.Rate) / 100 // 10ms iterations
	sink.Start(framesPerIteration)
	defer sink.Stop()

	inputSpec := format.SampleSpec{Format: format.Float32LE, Rate: cfg.Sink.Rate, Channels: 1}
	qcfg := queue.Config{MaxLength: cfg.Sink.QueueMaxLength, FrameSize: inputSpec.FrameSize()}
	input := mixer.NewSinkInput(1, "sine-440hz", inputSpec, format.MonoMap(), qcfg, pool.MemChunk{})
	if err := sink.AttachInput(input); err != nil {
		return fmt.Errorf("attach input: %w", err)
	}

	stopGen := make(chan struct{})
	go generateSine(input, inputSpec.Rate, 440, stopGen)
	defer close(stopGen)

	fmt.Printf("Running sine-into-sink demo for %s...\n", duration)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("interrupted")
	case <-time.After(duration):
	}

	if meter != nil {
		bytes, avgAbs := meter.stats()
		fmt.Printf("bytes submitted: %d\n", bytes)
		fmt.Printf("average absolute amplitude: %.1f (expect ~%.1f)\n", avgAbs, 0.318*32767)
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	fmt.Printf("pool metrics: %d families collected\n", len(families))
	logger.Info("demo run finished", "metric_families", len(families))
	return nil
}

// generateSine pushes FLOAT32LE mono frames of a sine wave into input until
// stop is closed, in small chunks matching a realistic producer cadence.
func generateSine(input *mixer.SinkInput, rate uint32, freq float64, stop <-chan struct{}) {
	const chunkFrames = 441 // 10ms at 44100
	buf := make([]float32, chunkFrames)
	raw := make([]byte, chunkFrames*format.Float32LE.BytesPerSample())

	var n uint64
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		for i := range buf {
			t := float64(n) / float64(rate)
			buf[i] = float32(math.Sin(2*math.Pi*freq*t) / 2)
			n++
		}
		resampler.EncodeSamples(buf, format.Float32LE, raw)

		block := pool.NewFixed(nil, append([]byte(nil), raw...), true)
		input.Push(pool.MemChunk{Block: block, Length: len(raw)})
	}
}

// meterDevice is a mixer.Device standing in for real hardware: it
// requantizes the sink's float32 work-format bytes into hwSpec the same
// way device.PlaybackDevice does, and tracks running statistics instead of
// writing anywhere.
type meterDevice struct {
	hwSpec  format.SampleSpec
	bytes   atomic.Uint64
	absSum  atomic.Uint64 // fixed-point sum of |sample|, scaled by 1000
	samples atomic.Uint64
}

func newMeterDevice(hwSpec format.SampleSpec) *meterDevice {
	return &meterDevice{hwSpec: hwSpec}
}

func (m *meterDevice) Submit(c pool.MemChunk) error {
	if c.IsEmpty() {
		return nil
	}
	raw := c.Bytes()
	frames := make([]float32, len(raw)/format.Float32LE.BytesPerSample())
	resampler.DecodeSamples(raw, format.Float32LE, frames)

	hw := make([]byte, len(frames)*m.hwSpec.Format.BytesPerSample())
	resampler.EncodeSamples(frames, m.hwSpec.Format, hw)
	m.bytes.Add(uint64(len(hw)))

	decoded := make([]float32, len(frames))
	resampler.DecodeSamples(hw, m.hwSpec.Format, decoded)
	for _, v := range decoded {
		abs := v
		if abs < 0 {
			abs = -abs
		}
		m.absSum.Add(uint64(abs * 32767 * 1000))
		m.samples.Add(1)
	}
	return nil
}

func (m *meterDevice) RequestFrames(int) (pool.MemChunk, error) {
	return pool.MemChunk{}, fmt.Errorf("meterDevice: capture not supported")
}

func (m *meterDevice) GetLatency() (time.Duration, error) { return 0, nil }

func (m *meterDevice) stats() (bytes uint64, avgAbsAmplitude float64) {
	n := m.samples.Load()
	if n == 0 {
		return m.bytes.Load(), 0
	}
	return m.bytes.Load(), float64(m.absSum.Load()) / float64(n) / 1000
}
