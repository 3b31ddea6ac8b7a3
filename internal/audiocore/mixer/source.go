package mixer

import (
	"log/slog"
	"sync/atomic"
	"time"

	"code.hybscloud.com/lfq"

	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
	"github.com/tphakala/audiocore/internal/logging"
)

// Source is a capture point: its I/O goroutine pulls frames from a Device
// and fans them out, converted per-output, to every attached
// SourceOutput. The mirror image of Sink for the recording direction.
type Source struct {
	id   uint64
	name string

	spec format.SampleSpec
	cmap format.ChannelMap

	volume atomic.Pointer[format.Volume]
	muted  atomic.Bool
	state  atomic.Int32

	pool   *pool.MemoryPool
	device Device

	outputs  []*SourceOutput
	messages *lfq.MPMC[ioMessage]

	stop chan struct{}
	done chan struct{}

	logger *slog.Logger
}

// NewSource builds a source capturing at spec/cmap.
func NewSource(id uint64, name string, spec format.SampleSpec, cmap format.ChannelMap, p *pool.MemoryPool, dev Device) *Source {
	logger := logging.ForService("audiocore-mixer")
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		id:       id,
		name:     name,
		spec:     spec,
		cmap:     cmap,
		pool:     p,
		device:   dev,
		messages: lfq.NewMPMC[ioMessage](messageQueueCapacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.With("source", name),
	}
	v := format.NewVolume(int(spec.Channels))
	s.volume.Store(&v)
	s.state.Store(int32(StateInit))
	return s
}

func (s *Source) ID() uint64 { return s.id }

func (s *Source) Name() string { return s.name }

func (s *Source) State() State { return State(s.state.Load()) }

func (s *Source) Spec() format.SampleSpec { return s.spec }

func (s *Source) ChannelMap() format.ChannelMap { return s.cmap }

func (s *Source) SetVolume(v format.Volume) {
	v.Clamp()
	s.volume.Store(&v)
}

func (s *Source) Volume() format.Volume {
	if v := s.volume.Load(); v != nil {
		return *v
	}
	return format.NewVolume(int(s.spec.Channels))
}

func (s *Source) SetMute(m bool) { s.muted.Store(m) }

// Start launches the source's I/O goroutine, requesting framesPerIteration
// frames from the device each cycle.
func (s *Source) Start(framesPerIteration int) {
	s.state.Store(int32(StateRunning))
	go s.ioLoop(framesPerIteration)
}

// Stop terminates the source's I/O goroutine and waits for it to exit.
func (s *Source) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// Suspend makes the I/O goroutine stop requesting frames from the device
// while attached outputs stay as they are, mirroring Sink.Suspend. The
// goroutine keeps running and the device is not detached.
func (s *Source) Suspend() { s.enqueue(ioMessage{kind: msgSuspend}) }

// Resume restarts capture after a Suspend.
func (s *Source) Resume() { s.enqueue(ioMessage{kind: msgResume}) }

// AttachOutput links a source-output to this source, constructing its
// resampler against the source's capture spec.
func (s *Source) AttachOutput(so *SourceOutput) error {
	if err := so.attachResampler(s.pool, s.spec, s.cmap); err != nil {
		return err
	}
	so.source = s
	s.enqueue(ioMessage{kind: msgAttachOutput, output: so})
	return nil
}

// DetachOutput unlinks a source-output without killing it.
func (s *Source) DetachOutput(so *SourceOutput) {
	s.enqueue(ioMessage{kind: msgDetachOutput, output: so})
}

func (s *Source) enqueue(m ioMessage) {
	if err := s.messages.Enqueue(&m); err != nil {
		s.logger.Warn("source message queue full, dropping message", "kind", m.kind, "error", err)
	}
}

// ioLoop is the source's dedicated goroutine: poll device for captured
// frames, then fan them out to every attached output.
func (s *Source) ioLoop(framesPerIteration int) {
	defer close(s.done)
	suspended := false
	period := iterationPeriod(framesPerIteration, s.spec.Rate)

	for {
		select {
		case <-s.stop:
			return
		case <-time.After(period):
		}

		s.drainMessages(&suspended)

		if suspended || s.device == nil {
			continue
		}

		c, err := s.device.RequestFrames(framesPerIteration)
		if err != nil {
			s.logger.Error("device capture failed", "error", err)
			continue
		}
		if c.IsEmpty() {
			continue
		}

		live := s.outputs[:0]
		for _, so := range s.outputs {
			if so.isDead() {
				continue
			}
			so.push(c)
			live = append(live, so)
		}
		s.outputs = live
	}
}

func (s *Source) drainMessages(suspended *bool) {
	for {
		m, err := s.messages.Dequeue()
		if err != nil {
			return
		}
		switch m.kind {
		case msgAttachOutput:
			s.outputs = append(s.outputs, m.output)
		case msgDetachOutput:
			for i, so := range s.outputs {
				if so == m.output {
					s.outputs = append(s.outputs[:i], s.outputs[i+1:]...)
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
