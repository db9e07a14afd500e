package source

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math/cmplx"
	"os/exec"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/types"
	"github.com/streekomroep/voxcap/internal/util"
)

// readBufferSize is ~100ms of audio at 48kHz stereo s16le.
const readBufferSize = 19200

// CaptureSource acquires the platform audio input as a PCM subprocess.
type CaptureSource struct {
	config     *config.Config
	ffmpegPath string
}

// NewCaptureSource creates an input source backed by the platform capture
// command (arecord on Linux, FFmpeg elsewhere).
func NewCaptureSource(cfg *config.Config, ffmpegPath string) *CaptureSource {
	return &CaptureSource{config: cfg, ffmpegPath: ffmpegPath}
}

// Acquire starts the capture subprocess and returns a live stream. This is
// the only blocking step of session startup; any failure here is terminal
// for the session.
func (s *CaptureSource) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device := s.config.AudioInput()
	cmdName, args, err := BuildCaptureCommand(device, s.ffmpegPath)
	if err != nil {
		return nil, err
	}

	slog.Info("starting audio capture", "command", cmdName, "input", device)

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, cmdName, args...)

	// Declarative graceful shutdown: signal first, wait, then kill.
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, util.WrapError("create capture stdout pipe", err)
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, util.WrapError("start capture process", err)
	}

	stream := &PCMStream{
		cmd:    cmd,
		cancel: cancel,
		stdout: stdoutPipe,
		stderr: &stderrBuf,
		window: make([]float64, types.FFTSize),
		done:   make(chan struct{}),
	}
	stream.sampler = newSpectrumSampler(stream)

	go stream.readLoop()
	go stream.reap()

	return stream, nil
}

// PCMStream is a live capture subprocess emitting raw s16le stereo PCM.
// It keeps a rolling mono analysis window for the frequency sampler and
// tees the raw byte stream to an optional sink (the segment encoder).
type PCMStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr *bytes.Buffer

	sampler *spectrumSampler
	done    chan struct{}

	mu       sync.Mutex
	window   []float64 // ring of the last FFTSize mono samples
	pos      int
	sink     io.Writer
	released bool
}

// Sampler returns the frequency sampler bound to this stream.
func (p *PCMStream) Sampler() FrequencySampler {
	return p.sampler
}

// AttachSink tees the raw PCM byte stream into w until detached. Only one
// sink can be attached at a time; attaching replaces the previous sink.
func (p *PCMStream) AttachSink(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = w
}

// DetachSink stops teeing raw PCM to the current sink.
func (p *PCMStream) DetachSink() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
}

// Release tears down the capture subprocess. It signals the process
// gracefully and escalates to a kill when it does not exit in time.
// Safe to call more than once.
func (p *PCMStream) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.sink = nil
	p.mu.Unlock()

	if p.cmd.Process != nil {
		if err := util.GracefulSignal(p.cmd.Process); err != nil {
			slog.Warn("failed to signal capture process", "error", err)
		}
	}

	select {
	case <-p.done:
		slog.Info("audio capture stopped gracefully")
	case <-time.After(types.ShutdownTimeout):
		slog.Warn("audio capture did not stop in time, forcing kill")
		p.cancel()
		<-p.done
	}
}

// readLoop pulls PCM from the subprocess, tees it to the sink, and folds a
// downmixed copy into the analysis window.
func (p *PCMStream) readLoop() {
	buf := make([]byte, readBufferSize)

	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			p.consume(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// consume tees raw bytes to the sink and downmixes complete stereo frames
// into the ring window.
func (p *PCMStream) consume(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sink != nil {
		if _, err := p.sink.Write(data); err != nil {
			slog.Warn("segment sink write failed, detaching", "error", err)
			p.sink = nil
		}
	}

	// s16le stereo: 4 bytes per frame.
	for i := 0; i+3 < len(data); i += 4 {
		left := int16(binary.LittleEndian.Uint16(data[i:]))
		right := int16(binary.LittleEndian.Uint16(data[i+2:]))
		mono := (float64(left) + float64(right)) / 2 / 32768
		p.window[p.pos] = mono
		p.pos = (p.pos + 1) % len(p.window)
	}
}

// windowSnapshot copies the analysis window ordered oldest to newest.
func (p *PCMStream) windowSnapshot() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]float64, len(p.window))
	n := copy(out, p.window[p.pos:])
	copy(out[n:], p.window[:p.pos])
	return out
}

// reap waits for the subprocess to exit and surfaces its last stderr line.
func (p *PCMStream) reap() {
	err := p.cmd.Wait()
	if err != nil {
		slog.Error("capture process exited",
			"error", err, "stderr", util.ExtractLastError(p.stderr.String()))
	}
	close(p.done)
}

// spectrumSampler computes frequency-domain magnitudes over the stream's
// analysis window. Frame is intended for a single caller; the underlying
// window snapshot is what synchronizes with the read loop.
type spectrumSampler struct {
	stream *PCMStream
	fft    *fourier.FFT
}

func newSpectrumSampler(stream *PCMStream) *spectrumSampler {
	return &spectrumSampler{
		stream: stream,
		fft:    fourier.NewFFT(types.FFTSize),
	}
}

// Frame returns BinCount magnitudes in [0, 255] over the current window.
func (s *spectrumSampler) Frame() []float64 {
	samples := s.stream.windowSnapshot()
	return spectrumFrame(s.fft, samples)
}

// spectrumFrame maps FFT coefficients of one analysis window onto BinCount
// byte-domain magnitudes. A full-scale sine lands at MaxLevel in its bin.
func spectrumFrame(fft *fourier.FFT, samples []float64) []float64 {
	coeffs := fft.Coefficients(nil, samples)

	frame := make([]float64, types.BinCount)
	for i := range frame {
		mag := cmplx.Abs(coeffs[i]) * 2 / types.FFTSize
		frame[i] = min(mag*types.MaxLevel, types.MaxLevel)
	}
	return frame
}
