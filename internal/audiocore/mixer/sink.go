package mixer

import (
	"log/slog"
	"sync/atomic"
	"time"

	"code.hybscloud.com/lfq"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/audiocore/resampler"
	"github.com/tphakala/audiocore/internal/errors"
	"github.com/tphakala/audiocore/internal/logging"
)

// messageQueueCapacity bounds the sink's main-thread-to-I/O-thread
// bounded lock-free message queue.
const messageQueueCapacity = 256

// iterationPeriod paces an I/O loop to roughly how long framesPerIteration
// frames take to play/capture at rate, so a Device that never blocks (like
// a test fake, or a software-only source) doesn't spin the goroutine at
// 100% CPU between real device polls.
func iterationPeriod(framesPerIteration int, rate uint32) time.Duration {
	if rate == 0 || framesPerIteration <= 0 {
		return time.Millisecond
	}
	return time.Duration(framesPerIteration) * time.Second / time.Duration(rate)
}

// Sink is a mixing point: one or more SinkInputs are summed and handed to
// a Device for playback. Each Sink owns a dedicated goroutine standing in
// for a dedicated real-time mixing thread.
type Sink struct {
	id   uint64
	name string

	spec   format.SampleSpec // internal float32 mixing spec
	cmap   format.ChannelMap
	volume atomic.Pointer[format.Volume]
	muted  atomic.Bool
	state  atomic.Int32

	pool   *pool.MemoryPool
	device Device

	inputs   []*SinkInput
	messages *lfq.MPMC[ioMessage]

	stop chan struct{}
	done chan struct{}

	logger *slog.Logger
}

// NewSink builds a sink mixing at spec/cmap (always a float32 work format
// internally; the Device is responsible for any final hardware-format
// conversion). The sink's goroutine is not started until Start is called.
func NewSink(id uint64, name string, spec format.SampleSpec, cmap format.ChannelMap, p *pool.MemoryPool, dev Device) *Sink {
	logger := logging.ForService("audiocore-mixer")
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		id:       id,
		name:     name,
		spec:     spec,
		cmap:     cmap,
		pool:     p,
		device:   dev,
		messages: lfq.NewMPMC[ioMessage](messageQueueCapacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.With("sink", name),
	}
	v := format.NewVolume(int(spec.Channels))
	s.volume.Store(&v)
	s.state.Store(int32(StateInit))
	return s
}

func (s *Sink) ID() uint64 { return s.id }

func (s *Sink) Name() string { return s.name }

func (s *Sink) State() State { return State(s.state.Load()) }

func (s *Sink) Spec() format.SampleSpec { return s.spec }

func (s *Sink) ChannelMap() format.ChannelMap { return s.cmap }

func (s *Sink) SetVolume(v format.Volume) {
	v.Clamp()
	s.volume.Store(&v)
}

func (s *Sink) Volume() format.Volume {
	if v := s.volume.Load(); v != nil {
		return *v
	}
	return format.NewVolume(int(s.spec.Channels))
}

func (s *Sink) SetMute(m bool) { s.muted.Store(m) }

// Start launches the sink's I/O goroutine. framesPerIteration is how many
// frames the device is asked for each iteration.
func (s *Sink) Start(framesPerIteration int) {
	s.state.Store(int32(StateRunning))
	go s.ioLoop(framesPerIteration)
}

// Stop terminates the sink's I/O goroutine and waits for it to exit.
func (s *Sink) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// Suspend makes the I/O goroutine skip mixing and device submission
// (state StateSuspended) while attached inputs and their queues stay as
// they are. The goroutine keeps running and the device is not detached.
func (s *Sink) Suspend() {
	s.enqueue(ioMessage{kind: msgSuspend})
}

// Resume clears the suspended flag so mixing restarts with queues as they
// were; no device state is rebuilt.
func (s *Sink) Resume() {
	s.enqueue(ioMessage{kind: msgResume})
}

// AttachInput links a sink-input to this sink, constructing its resampler
// against the sink's mixing spec.
func (s *Sink) AttachInput(si *SinkInput) error {
	if err := si.attachResampler(s.pool, s.spec, s.cmap); err != nil {
		return err
	}
	si.sink = s
	si.setState(InputStateRunning)
	s.enqueue(ioMessage{kind: msgAttachInput, input: si})
	return nil
}

// DetachInput unlinks a sink-input without killing it (used by MoveTo).
func (s *Sink) DetachInput(si *SinkInput) {
	s.enqueue(ioMessage{kind: msgDetachInput, input: si})
}

func (s *Sink) enqueue(m ioMessage) {
	if err := s.messages.Enqueue(&m); err != nil {
		s.logger.Warn("sink message queue full, dropping message", "kind", m.kind, "error", err)
	}
}

// MoveTo detaches an input from its current sink, constructs a fresh
// resampler against the new sink, and attaches. Pending queued data
// survives because SinkInput's queue is not recreated; the outgoing
// resampler (and its tail) is simply discarded.
func MoveTo(si *SinkInput, newSink *Sink) error {
	if err := si.attachResampler(newSink.pool, newSink.spec, newSink.cmap); err != nil {
		return errors.New(err).
			Component(audiocoreerr.Component).
			Category(audiocoreerr.CategoryUnsupported).
			Context("operation", "sink_input_move_to").
			Build()
	}
	if old := si.sink; old != nil {
		old.DetachInput(si)
	}
	si.sink = newSink
	newSink.enqueue(ioMessage{kind: msgAttachInput, input: si})
	return nil
}

// ioLoop is the sink's dedicated goroutine: poll device → mix inputs →
// submit.
func (s *Sink) ioLoop(framesPerIteration int) {
	defer close(s.done)
	accum := make([]float32, framesPerIteration*int(s.spec.Channels))
	period := iterationPeriod(framesPerIteration, s.spec.Rate)

	suspended := false

	for {
		select {
		case <-s.stop:
			return
		case <-time.After(period):
		}

		s.drainMessages(&suspended)

		if suspended {
			continue
		}

		for i := range accum {
			accum[i] = 0
		}

		live := s.inputs[:0]
		for _, si := range s.inputs {
			if si.isDead() {
				si.setState(InputStateDead)
				continue
			}
			frames, consumed := si.peek(framesPerIteration, int(s.spec.Channels))
			if frames != nil {
				vol := si.Volume()
				applyVolume(frames, vol, si.Muted())
				mixAccumulate(accum, frames)
			}
			si.drop(consumed)
			live = append(live, si)
		}
		s.inputs = live

		sinkVol := s.Volume()
		applyVolume(accum, sinkVol, s.muted.Load())

		if s.device != nil {
			if err := s.device.Submit(s.toChunk(accum)); err != nil {
				s.logger.Error("device submit failed", "error", err)
			}
		}
	}
}

// toChunk encodes mixed float32 frames (the sink's internal work format)
// into a byte-backed MemChunk for the device collaborator. Pool-backed
// when a pool is configured, matching the allocation strategy used
// elsewhere in the pipeline.
func (s *Sink) toChunk(frames []float32) pool.MemChunk {
	out := make([]byte, len(frames)*format.Float32LE.BytesPerSample())
	resampler.EncodeSamples(frames, format.Float32LE, out)
	if s.pool == nil {
		return pool.MemChunk{Block: pool.NewFixed(nil, out, false), Length: len(out)}
	}
	block, err := pool.NewPoolBlock(s.pool, max(len(out), 1))
	if err != nil {
		return pool.MemChunk{Block: pool.NewFixed(nil, out, false), Length: len(out)}
	}
	data := block.Acquire()
	copy(data, out)
	block.Release()
	return pool.MemChunk{Block: block, Index: 0, Length: len(out)}
}

func (s *Sink) drainMessages(suspended *bool) {
	for {
		m, err := s.messages.Dequeue()
		if err != nil {
			return
		}
		switch m.kind {
		case msgAttachInput:
			s.inputs = append(s.inputs, m.input)
		case msgDetachInput:
			for i, si := range s.inputs {
				if si == m.input {
					s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
					break
				}
			}
		case msgSuspend:
			*suspended = true
			s.state.Store(int32(StateSuspended))
		case msgResume:
			*suspended = false
			s.state.Store(int32(StateRunning))
		}
	}
}
