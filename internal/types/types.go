// Package types provides shared type definitions used across the capture engine.
package types

import (
	"time"
)

// SessionStatus represents the current state of the capture session.
type SessionStatus string

const (
	// StatusIdle indicates no active session.
	StatusIdle SessionStatus = "idle"
	// StatusListening indicates the session is sampling audio waiting for voice onset.
	StatusListening SessionStatus = "listening"
	// StatusRecording indicates a segment is being captured.
	StatusRecording SessionStatus = "recording"
	// StatusError indicates the last start attempt failed.
	StatusError SessionStatus = "error"
)

// SessionState is a snapshot of the capture engine's observable state.
// It is owned by the engine and mutated only from within the sampling loop
// or guarded control-surface calls.
type SessionState struct {
	Status               SessionStatus `json:"status"`                 // Current session status
	Continuous           bool          `json:"continuous"`             // Session resumes listening after each segment
	CurrentVolume        float64       `json:"current_volume"`         // Latest analyzer output, 0-255
	SilenceProgress      float64       `json:"silence_progress"`       // Progress toward silence timeout, 0-1
	RecordingDurationSec float64       `json:"recording_duration_sec"` // Elapsed time of the current segment
	LastError            string        `json:"last_error,omitzero"`    // Most recent start failure
}

// ArtifactRef is an opaque reference to a finalized recording's encoded bytes.
// The token dereferences the payload via the artifact endpoint until the
// recording is deleted.
type ArtifactRef struct {
	Token       string `json:"token"`        // Access token for the artifact endpoint
	SizeBytes   int    `json:"size_bytes"`   // Encoded payload size
	ContentType string `json:"content_type"` // MIME type of the encoded payload
}

// Recording is a finalized capture segment.
type Recording struct {
	ID            string      `json:"id"`                     // Unique identifier, generated at finalize time
	Artifact      ArtifactRef `json:"artifact"`               // Reference to the encoded payload
	Timestamp     time.Time   `json:"timestamp"`              // Creation instant
	DurationSec   float64     `json:"duration_sec"`           // Wall-clock capture duration in seconds
	Transcription string      `json:"transcription,omitzero"` // Attached later by an external collaborator
	Summary       string      `json:"summary,omitzero"`       // Attached later by an external collaborator
}

// RecordingPatch updates the collaborator-owned fields of a recording.
// Nil fields are left untouched.
type RecordingPatch struct {
	Transcription *string `json:"transcription,omitempty"`
	Summary       *string `json:"summary,omitempty"`
}

// Analyzer geometry. The sampler produces magnitude frames of BinCount bins
// derived from an FFTSize-point transform; each bin value is in [0, MaxLevel].
const (
	// FFTSize is the transform size used by the frequency sampler.
	FFTSize = 256
	// BinCount is the number of magnitude bins per frame.
	BinCount = FFTSize / 2
	// MaxLevel is the upper bound of the volume domain.
	MaxLevel = 255.0
)

// ThresholdScale maps the 0-100 sensitivity knob onto the 0-255 volume domain.
// The same threshold governs voice onset and release.
const ThresholdScale = 2.5

const (
	// DefaultTickInterval is the sampling loop cadence.
	DefaultTickInterval = 50 * time.Millisecond
	// ShutdownTimeout is the duration to wait for graceful subprocess shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
)

// Audio format constants for PCM capture and encoding.
const (
	// SampleRate is the audio sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of audio channels (stereo capture, downmixed for analysis).
	Channels = 2
)

// Codec represents an audio codec type.
type Codec string

// Supported audio codecs.
const (
	CodecWAV Codec = "wav" // Uncompressed PCM
	CodecMP3 Codec = "mp3" // MPEG Audio Layer III
	CodecOGG Codec = "ogg" // Ogg Vorbis
)

// CodecPreset defines FFmpeg encoding parameters for a codec.
type CodecPreset struct {
	Args        []string // FFmpeg codec arguments
	Format      string   // FFmpeg output format
	ContentType string   // MIME type of the encoded payload
}

// CodecPresets maps codec types to their FFmpeg configuration.
var CodecPresets = map[Codec]CodecPreset{
	CodecWAV: {[]string{"pcm_s16le"}, "wav", "audio/wav"},
	CodecMP3: {[]string{"libmp3lame", "-b:a", "192k"}, "mp3", "audio/mpeg"},
	CodecOGG: {[]string{"libvorbis", "-qscale:a", "6"}, "ogg", "audio/ogg"},
}

// PresetFor returns the FFmpeg preset for the given codec, defaulting to WAV.
func PresetFor(codec Codec) CodecPreset {
	if preset, ok := CodecPresets[codec]; ok {
		return preset
	}
	return CodecPresets[CodecWAV]
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}
