// Package mixer implements the sink/source object model and the per-sink
// I/O thread mix loop: sink-inputs and source-outputs attach to exactly
// one sink/source, and a dedicated goroutine per sink pulls, resamples,
// volumes, and sums their queued audio into a device-bound MemChunk.
package mixer

import (
	"time"

	"github.com/tphakala/audiocore/internal/audiocore/pool"
)

// State is a sink/source's lifecycle state.
type State int

const (
	StateInit State = iota
	StateIdle
	StateRunning
	StateSuspended
	StateUnlinked
)

// Device is the device-driver collaborator contract: the core never
// speaks to hardware directly, only through this interface.
type Device interface {
	// RequestFrames asks a capture device for n frames.
	RequestFrames(n int) (pool.MemChunk, error)
	// Submit hands a mixed chunk to a playback device.
	Submit(c pool.MemChunk) error
	// GetLatency reports the device's current output/input latency.
	GetLatency() (time.Duration, error)
}

// ioMessage is one cross-thread mutation, delivered via the sink/source's
// bounded lock-free queue. Volume, mute, and kill are
// applied directly through atomics on SinkInput/SourceOutput (safe from
// any goroutine without routing through the mix loop); only list
// membership and run-state changes need to cross via the queue, since
// those mutate slices the I/O goroutine alone owns.
type ioMessage struct {
	kind   msgKind
	input  *SinkInput
	output *SourceOutput
}

type msgKind int

const (
	msgAttachInput msgKind = iota
	msgDetachInput
	msgSuspend
	msgResume
	msgAttachOutput
	msgDetachOutput
)
