// Package source provides audio input acquisition and segment encoding.
// It manages the platform capture subprocess, exposes frequency-domain
// samples for voice-activity analysis, and runs FFmpeg encoder processes
// that turn raw PCM into finished segment artifacts.
package source

import (
	"context"
	"errors"
)

// Sentinel errors for source operations.
var (
	ErrNoAudioDevice  = errors.New("no audio input device found")
	ErrEncoderActive  = errors.New("encoder already started")
	ErrEncoderStopped = errors.New("encoder not started")
)

// FrequencySampler produces one frame of frequency-domain magnitudes per
// call. Each magnitude is in [0, 255]; a frame covers the most recent
// analysis window of the input signal.
type FrequencySampler interface {
	Frame() []float64
}

// Stream is an acquired audio input. It stays open across segment
// boundaries until released.
type Stream interface {
	// Sampler returns the frequency sampler bound to this stream.
	Sampler() FrequencySampler

	// Release tears down the underlying capture resource. Safe to call
	// more than once.
	Release()
}

// InputSource acquires audio input streams. Acquire is the only operation
// that may block on hardware or subprocess startup.
type InputSource interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Encoder turns the live input into encoded segment bytes between Start
// and Stop. Encoded data is delivered through the chunk callback; the
// finalize callback runs exactly once after Stop, when the encoder has
// flushed its last bytes.
type Encoder interface {
	Start() error
	Stop() error
	OnChunk(fn func(data []byte))
	OnFinalize(fn func())
}

// EncoderFactory creates a fresh encoder bound to an acquired stream.
// A new encoder is created for every segment.
type EncoderFactory func(stream Stream) (Encoder, error)
