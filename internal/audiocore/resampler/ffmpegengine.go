package resampler

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/tphakala/audiocore/internal/audiocore/audiocoreerr"
	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/errors"
	"github.com/tphakala/audiocore/internal/logging"
)

const s16leFormat = format.S16LE

// ffmpegEngine pipes S16LE PCM through an ffmpeg subprocess for rate
// conversion only (channel remap already happened in the pipeline stage
// before the engine runs, so in/out channel counts here are always
// equal). Adapted from utils/ffmpeg/process.go's exec.Cmd/pipe/goroutine-
// reader idiom; that package's Process interface is pull-only (built for
// capturing from an input URL), so this engine is a standalone push/pull
// wrapper in the same style rather than a reuse of that interface.
type ffmpegEngine struct {
	mu sync.Mutex

	inRate, outRate uint32
	channels        int
	ffmpegPath      string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reads  chan []byte

	outBuf  []byte
	started bool

	logger *slog.Logger
}

func newFFmpegEngine() *ffmpegEngine {
	logger := logging.ForService("audiocore-resampler")
	if logger == nil {
		logger = slog.Default()
	}
	return &ffmpegEngine{ffmpegPath: "ffmpeg", logger: logger.With("engine", "ffmpeg")}
}

func (e *ffmpegEngine) setRates(in, out uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started && (e.inRate != in || e.outRate != out) {
		e.stopLocked()
	}
	e.inRate, e.outRate = in, out
}

func (e *ffmpegEngine) maxBlockSize(int) {}

func (e *ffmpegEngine) request(outFrames int) int {
	if e.outRate == 0 {
		return 0
	}
	return int((uint64(outFrames)*uint64(e.inRate))/uint64(e.outRate)) + 1
}

func (e *ffmpegEngine) resample(in []float32, inCh, outCh int) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.channels != inCh {
		e.stopLocked()
		e.channels = inCh
	}
	if !e.started {
		if err := e.startLocked(); err != nil {
			e.logger.Error("failed to start ffmpeg resample process", "error", err)
			return nil
		}
	}

	payload := floatToS16LE(in)
	if _, err := e.stdin.Write(payload); err != nil {
		e.logger.Warn("ffmpeg stdin write failed, restarting", "error", err)
		e.stopLocked()
		return nil
	}

	// Drain whatever output the background reader has accumulated without
	// blocking; the residual tail (frames ffmpeg is still buffering
	// internally, or bytes not yet forming a whole frame) carries forward
	// to the next call.
drain:
	for {
		select {
		case chunk, ok := <-e.reads:
			if !ok {
				break drain
			}
			e.outBuf = append(e.outBuf, chunk...)
		default:
			break drain
		}
	}

	frameBytes := inCh * 2
	usable := (len(e.outBuf) / frameBytes) * frameBytes
	out := s16LEToFloat(e.outBuf[:usable])
	e.outBuf = append([]byte(nil), e.outBuf[usable:]...)
	return out
}

func (e *ffmpegEngine) startLocked() error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", fmt.Sprintf("%d", e.inRate), "-ac", fmt.Sprintf("%d", e.channels),
		"-i", "pipe:0",
		"-f", "s16le", "-ar", fmt.Sprintf("%d", e.outRate), "-ac", fmt.Sprintf("%d", e.channels),
		"pipe:1",
	}
	cmd := exec.Command(e.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryConfiguration).
			Context("operation", "ffmpeg-resample-stdin").
			Build()
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategoryConfiguration).
			Context("operation", "ffmpeg-resample-stdout").
			Build()
	}
	if err := cmd.Start(); err != nil {
		return errors.New(err).
			Component(audiocoreerr.Component).
			Category(errors.CategorySystem).
			Context("operation", "ffmpeg-resample-start").
			Build()
	}
	e.cmd = cmd
	e.stdin = stdin
	e.stdout = stdout
	e.reads = make(chan []byte, 64)
	e.started = true
	go e.readLoop(stdout, e.reads)
	return nil
}

// readLoop copies ffmpeg's stdout into reads until EOF or the pipe is
// closed by stopLocked. It owns no engine state beyond the channel so it
// can keep running after startLocked replaces e.reads on restart.
func (e *ffmpegEngine) readLoop(r io.Reader, out chan<- []byte) {
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

func (e *ffmpegEngine) stopLocked() {
	if !e.started {
		return
	}
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
		_ = e.cmd.Wait()
	}
	e.started = false
	e.outBuf = nil
}

func floatToS16LE(in []float32) []byte {
	out := make([]byte, len(in)*2)
	encodeSamples(in, s16leFormat, out)
	return out
}

func s16LEToFloat(in []byte) []float32 {
	out := make([]float32, len(in)/2)
	decodeSamples(in, s16leFormat, out)
	return out
}
