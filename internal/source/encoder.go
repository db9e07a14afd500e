package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/types"
	"github.com/streekomroep/voxcap/internal/util"
)

// ErrUnsupportedStream is returned when an encoder is bound to a stream
// type it cannot tee PCM from.
var ErrUnsupportedStream = errors.New("stream does not support PCM sinks")

// encoderChunkSize bounds one stdout read from the encoder process.
const encoderChunkSize = 32 * 1024

// NewFFmpegEncoderFactory returns a factory producing one FFmpeg encoder
// per segment. The codec is read from config at segment start, so a codec
// change applies to the next segment.
func NewFFmpegEncoderFactory(cfg *config.Config, ffmpegPath string) EncoderFactory {
	return func(stream Stream) (Encoder, error) {
		pcm, ok := stream.(*PCMStream)
		if !ok {
			return nil, ErrUnsupportedStream
		}
		return &FFmpegEncoder{
			ffmpegPath: ffmpegPath,
			preset:     types.PresetFor(cfg.Codec()),
			stream:     pcm,
		}, nil
	}
}

// FFmpegEncoder encodes one segment through an FFmpeg subprocess. Raw PCM
// is teed from the stream into stdin; encoded bytes arrive on stdout and
// are forwarded through the chunk callback. The finalize callback runs
// exactly once, after Stop, when the process has flushed its last bytes.
type FFmpegEncoder struct {
	ffmpegPath string
	preset     types.CodecPreset
	stream     *PCMStream

	mu         sync.Mutex
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	stdin      io.WriteCloser
	stderr     *bytes.Buffer
	started    bool
	stopped    bool
	onChunk    func(data []byte)
	onFinalize func()
	done       chan struct{}
}

// OnChunk registers the encoded-bytes callback. Must be set before Start.
func (e *FFmpegEncoder) OnChunk(fn func(data []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChunk = fn
}

// OnFinalize registers the flush-complete callback. Must be set before Start.
func (e *FFmpegEncoder) OnFinalize(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFinalize = fn
}

// Start launches the encoder process and begins teeing PCM into it.
func (e *FFmpegEncoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrEncoderActive
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "s16le",
		"-ar", strconv.Itoa(types.SampleRate),
		"-ac", strconv.Itoa(types.Channels),
		"-i", "pipe:0",
	}
	args = append(args, "-c:a")
	args = append(args, e.preset.Args...)
	args = append(args, "-f", e.preset.Format, "pipe:1")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return util.WrapError("create encoder stdin pipe", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return util.WrapError("create encoder stdout pipe", err)
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		cancel()
		if closeErr := stdinPipe.Close(); closeErr != nil {
			slog.Warn("failed to close encoder stdin pipe", "error", closeErr)
		}
		return util.WrapError("start encoder process", err)
	}

	e.cmd = cmd
	e.cancel = cancel
	e.stdin = stdinPipe
	e.stderr = &stderrBuf
	e.started = true
	e.done = make(chan struct{})

	go e.run(stdoutPipe, e.onChunk, e.onFinalize)

	e.stream.AttachSink(stdinPipe)

	return nil
}

// Stop detaches the encoder from the stream and closes stdin so the
// process flushes and exits. The finalize callback fires asynchronously
// once the flush completes. Safe to call more than once.
func (e *FFmpegEncoder) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrEncoderStopped
	}
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	stdin := e.stdin
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	e.stream.DetachSink()

	if err := stdin.Close(); err != nil {
		slog.Warn("failed to close encoder stdin", "error", err)
	}

	go func() {
		select {
		case <-done:
		case <-time.After(types.ShutdownTimeout):
			slog.Warn("encoder did not flush in time, forcing kill")
			cancel()
		}
	}()

	return nil
}

// run drains encoded output until EOF, reaps the process, and then fires
// the finalize callback.
func (e *FFmpegEncoder) run(stdout io.ReadCloser, onChunk func([]byte), onFinalize func()) {
	buf := make([]byte, encoderChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 && onChunk != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if err != nil {
			break
		}
	}

	if err := e.cmd.Wait(); err != nil {
		slog.Error("encoder process exited",
			"error", err, "stderr", util.ExtractLastError(e.stderr.String()))
	}
	close(e.done)

	if onFinalize != nil {
		onFinalize()
	}
}
