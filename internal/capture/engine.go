// Package capture implements the voice-activated capture engine. The
// engine owns the session state machine: it acquires the audio input,
// samples it on a fixed cadence, opens a segment on voice onset, and
// closes it when silence outlasts the configured timeout.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/streekomroep/voxcap/internal/audio"
	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/metrics"
	"github.com/streekomroep/voxcap/internal/segment"
	"github.com/streekomroep/voxcap/internal/source"
	"github.com/streekomroep/voxcap/internal/types"
)

// Engine drives one capture session at a time. All state lives behind one
// mutex; the sampling loop, the silence deadline callback, and the control
// surface all funnel through it, so there is a single writer at any
// instant. Detection settings are read from config on every tick, which
// makes sensitivity and timeout changes apply to an in-flight session.
type Engine struct {
	config       *config.Config
	src          source.InputSource
	seg          *segment.Segmenter
	silence      *audio.SilenceTimer
	metrics      *metrics.Metrics
	tickInterval time.Duration

	mu       sync.Mutex
	state    types.SessionState
	session  *session
	gen      uint64 // bumped on every session start and shutdown
	recStart time.Time

	onTransition func(state types.SessionState)
}

// session is the per-start resource bundle. A new one is created on every
// successful Start; the generation counter ties async callbacks to it.
type session struct {
	gen        uint64
	stream     source.Stream
	sampler    source.FrequencySampler
	continuous bool
	stopCh     chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickInterval overrides the sampling cadence.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tickInterval = d }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine in the idle state.
func New(cfg *config.Config, src source.InputSource, seg *segment.Segmenter, opts ...Option) *Engine {
	e := &Engine{
		config:       cfg,
		src:          src,
		seg:          seg,
		silence:      audio.NewSilenceTimer(),
		tickInterval: types.DefaultTickInterval,
		state:        types.SessionState{Status: types.StatusIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnTransition registers a hook that runs on every status change, with a
// copy of the new state. The hook runs on the engine's goroutines and must
// not call back into the engine. Used for status pushes and event logging.
func (e *Engine) OnTransition(fn func(state types.SessionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTransition = fn
}

// State returns a copy of the observable session state.
func (e *Engine) State() types.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Active reports whether a session is listening or recording.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Start begins a capture session. Called while a session is already
// active, it acts as a toggle and shuts the session down instead; the
// continuous flag of the ignored request does not leak into state.
// Acquiring the input is the only step that can block or fail: on failure
// the engine lands in the error state with the cause recorded, and the
// error is also returned.
func (e *Engine) Start(ctx context.Context, continuous bool) error {
	e.mu.Lock()

	if e.session != nil {
		e.shutdownLocked()
		e.mu.Unlock()
		return nil
	}

	e.mu.Unlock()

	stream, err := e.src.Acquire(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	// A concurrent Start may have won the race while we were acquiring.
	if e.session != nil {
		if stream != nil {
			stream.Release()
		}
		return nil
	}

	if err != nil {
		e.metrics.AcquireFailure()
		e.state = types.SessionState{
			Status:    types.StatusError,
			LastError: err.Error(),
		}
		slog.Error("failed to acquire audio input", "error", err)
		e.notifyLocked()
		return err
	}

	e.gen++
	sess := &session{
		gen:        e.gen,
		stream:     stream,
		sampler:    stream.Sampler(),
		continuous: continuous,
		stopCh:     make(chan struct{}),
	}
	e.session = sess
	e.state = types.SessionState{
		Status:     types.StatusListening,
		Continuous: continuous,
	}

	slog.Info("capture session started", "continuous", continuous)
	e.notifyLocked()

	go e.run(sess)

	return nil
}

// Shutdown stops any active session and releases its resources. Safe to
// call in any state, any number of times.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdownLocked()
}

// shutdownLocked tears the session down best-effort and in order: stop the
// sampling loop, cancel the silence deadline, close any open segment, and
// release the input. Caller must hold e.mu.
func (e *Engine) shutdownLocked() {
	sess := e.session
	if sess == nil {
		if e.state.Status != types.StatusIdle {
			e.state = types.SessionState{Status: types.StatusIdle}
			e.notifyLocked()
		}
		return
	}

	e.gen++
	e.session = nil
	close(sess.stopCh)
	e.silence.Disarm()
	e.seg.End()
	sess.stream.Release()

	e.state = types.SessionState{Status: types.StatusIdle}
	slog.Info("capture session stopped")
	e.notifyLocked()
}

// run is the sampling loop for one session. It exits when the session's
// stop channel closes.
func (e *Engine) run(sess *session) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stopCh:
			return
		case now := <-ticker.C:
			e.step(sess, now)
		}
	}
}

// step processes one analysis tick.
func (e *Engine) step(sess *session, now time.Time) {
	frame := sess.sampler.Frame()
	vol := audio.MeanLevel(frame)

	settings := e.config.CaptureSettings()
	threshold := audio.Threshold(settings.Sensitivity)

	e.mu.Lock()
	defer e.mu.Unlock()

	// The session may have been shut down while sampling.
	if e.session != sess {
		return
	}

	e.metrics.Tick()
	e.state.CurrentVolume = vol
	e.metrics.SetVolume(vol)

	switch e.state.Status {
	case types.StatusListening:
		if vol > threshold {
			e.beginSegmentLocked(sess, now)
		}

	case types.StatusRecording:
		e.state.RecordingDurationSec = now.Sub(e.recStart).Seconds()

		if vol > threshold {
			e.silence.Disarm()
			e.state.SilenceProgress = 0
			e.metrics.SetSilenceProgress(0)
			return
		}

		gen := sess.gen
		e.silence.Arm(now, settings.SilenceTimeout, func() {
			e.onSilenceDeadline(gen)
		})
		progress := e.silence.Progress(now)
		e.state.SilenceProgress = progress
		e.metrics.SetSilenceProgress(progress)
	}
}

// beginSegmentLocked opens a segment on voice onset. A failed encoder
// start loses the span's audio but the session still transitions to
// recording; the silence timeout closes it like any other segment.
// Caller must hold e.mu.
func (e *Engine) beginSegmentLocked(sess *session, now time.Time) {
	if err := e.seg.Begin(sess.stream); err != nil {
		slog.Error("failed to start segment encoder", "error", err)
	}

	e.recStart = now
	e.state.Status = types.StatusRecording
	e.state.RecordingDurationSec = 0
	e.state.SilenceProgress = 0
	e.metrics.SegmentStarted()

	slog.Info("voice onset, segment opened", "volume", e.state.CurrentVolume)
	e.notifyLocked()
}

// onSilenceDeadline closes the current segment when silence outlasted the
// timeout. The generation guard drops deadlines that belong to an already
// ended session.
func (e *Engine) onSilenceDeadline(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil || e.session.gen != gen || e.state.Status != types.StatusRecording {
		return
	}

	e.metrics.SilenceTimeout()
	e.seg.End()

	if e.session.continuous {
		e.state.Status = types.StatusListening
		e.state.SilenceProgress = 0
		e.state.RecordingDurationSec = 0
		slog.Info("silence timeout, resuming listening")
		e.notifyLocked()
		return
	}

	slog.Info("silence timeout, session complete")
	e.shutdownLocked()
}

// notifyLocked invokes the transition hook with a copy of the current
// state. Synchronous so observers see transitions in order. Caller must
// hold e.mu.
func (e *Engine) notifyLocked() {
	if e.onTransition != nil {
		e.onTransition(e.state)
	}
}
