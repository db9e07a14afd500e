// Package segment turns voice-active spans of the input into finalized
// recordings. The segmenter owns the encoder lifecycle for one segment at
// a time and hands finished payloads to the artifact registry and the
// recording store.
package segment

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streekomroep/voxcap/internal/metrics"
	"github.com/streekomroep/voxcap/internal/source"
	"github.com/streekomroep/voxcap/internal/types"
)

// RecordingSink receives finalized recordings.
type RecordingSink interface {
	Add(rec types.Recording) error
}

// Segmenter manages one encoded segment at a time. Begin opens a segment
// on voice onset; End closes it on silence timeout or shutdown. A segment
// that finalizes with zero encoded bytes is discarded silently.
type Segmenter struct {
	factory     source.EncoderFactory
	artifacts   *ArtifactRegistry
	sink        RecordingSink
	contentType func() string
	metrics     *metrics.Metrics

	mu      sync.Mutex
	current *segmentJob

	onRecording func(rec types.Recording)
}

// segmentJob is the capture state of a single segment. Finalization runs
// asynchronously after End, so the job outlives its slot in the segmenter.
type segmentJob struct {
	enc       source.Encoder
	startedAt time.Time

	mu      sync.Mutex
	buf     bytes.Buffer
	endedAt time.Time
}

// NewSegmenter creates a segmenter. contentType is read at segment start
// so codec changes apply to the next segment.
func NewSegmenter(factory source.EncoderFactory, artifacts *ArtifactRegistry, sink RecordingSink, contentType func() string) *Segmenter {
	return &Segmenter{
		factory:     factory,
		artifacts:   artifacts,
		sink:        sink,
		contentType: contentType,
	}
}

// UseMetrics attaches metrics collectors. Safe to skip; all counters are
// nil-safe.
func (s *Segmenter) UseMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// OnRecording registers a hook that runs after each finalized recording is
// stored. Used for status pushes, event logging, and webhook forwarding.
func (s *Segmenter) OnRecording(fn func(rec types.Recording)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecording = fn
}

// Begin opens a new segment on the given stream. The returned error means
// the encoder could not start; capture of the span is lost but the caller
// proceeds, so the error is advisory.
func (s *Segmenter) Begin(stream source.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil
	}

	enc, err := s.factory(stream)
	if err != nil {
		return err
	}

	job := &segmentJob{
		enc:       enc,
		startedAt: time.Now(),
	}
	contentType := s.contentType()

	enc.OnChunk(func(data []byte) {
		job.mu.Lock()
		defer job.mu.Unlock()
		job.buf.Write(data)
	})
	enc.OnFinalize(func() {
		s.complete(job, contentType)
	})

	if err := enc.Start(); err != nil {
		return err
	}

	s.current = job
	return nil
}

// End closes the open segment, if any. Finalization continues
// asynchronously; the recording appears in the sink once the encoder has
// flushed. A no-op when no segment is open.
func (s *Segmenter) End() {
	s.mu.Lock()
	job := s.current
	s.current = nil
	s.mu.Unlock()

	if job == nil {
		return
	}

	job.mu.Lock()
	job.endedAt = time.Now()
	job.mu.Unlock()

	if err := job.enc.Stop(); err != nil {
		slog.Warn("failed to stop segment encoder", "error", err)
	}
}

// Active reports whether a segment is currently open.
func (s *Segmenter) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// complete stores the finalized payload as a recording. Runs on the
// encoder's finalize goroutine.
func (s *Segmenter) complete(job *segmentJob, contentType string) {
	job.mu.Lock()
	data := bytes.Clone(job.buf.Bytes())
	endedAt := job.endedAt
	job.mu.Unlock()

	// The encoder can finalize without End when its process dies early.
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	if len(data) == 0 {
		slog.Debug("discarding empty segment")
		s.metrics.SegmentDiscarded()
		return
	}

	ref, err := s.artifacts.Put(data, contentType)
	if err != nil {
		slog.Error("failed to store segment artifact", "error", err)
		return
	}

	rec := types.Recording{
		ID:          uuid.NewString(),
		Artifact:    ref,
		Timestamp:   job.startedAt,
		DurationSec: endedAt.Sub(job.startedAt).Seconds(),
	}

	if err := s.sink.Add(rec); err != nil {
		slog.Error("failed to store recording", "id", rec.ID, "error", err)
		s.artifacts.Release(ref.Token)
		return
	}

	slog.Info("recording finalized",
		"id", rec.ID, "duration_sec", rec.DurationSec, "size_bytes", ref.SizeBytes)

	s.mu.Lock()
	hook := s.onRecording
	s.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
}
