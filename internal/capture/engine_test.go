package capture

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/segment"
	"github.com/streekomroep/voxcap/internal/source"
	"github.com/streekomroep/voxcap/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTick    = 5 * time.Millisecond
	testTimeout = 60 * time.Millisecond
	// Sensitivity 50 puts the threshold at 125 in the 0-255 domain.
	testSensitivity = 50
	loudLevel       = 200.0
	quietLevel      = 10.0
)

type fakeSampler struct {
	mu    sync.Mutex
	level float64
}

func (s *fakeSampler) set(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

func (s *fakeSampler) Frame() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := make([]float64, types.BinCount)
	for i := range frame {
		frame[i] = s.level
	}
	return frame
}

type fakeStream struct {
	sampler  *fakeSampler
	released atomic.Int32
}

func (s *fakeStream) Sampler() source.FrequencySampler { return s.sampler }
func (s *fakeStream) Release()                         { s.released.Add(1) }

type fakeSource struct {
	stream     *fakeStream
	acquireErr error
	acquires   atomic.Int32
}

func (s *fakeSource) Acquire(ctx context.Context) (source.Stream, error) {
	s.acquires.Add(1)
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return s.stream, nil
}

// fakeSegEncoder emits one chunk at start and finalizes synchronously on
// stop, so every opened segment produces a recording.
type fakeSegEncoder struct {
	onChunk    func([]byte)
	onFinalize func()
}

func (e *fakeSegEncoder) Start() error {
	e.onChunk([]byte("encoded"))
	return nil
}

func (e *fakeSegEncoder) Stop() error {
	e.onFinalize()
	return nil
}

func (e *fakeSegEncoder) OnChunk(fn func([]byte)) { e.onChunk = fn }
func (e *fakeSegEncoder) OnFinalize(fn func())    { e.onFinalize = fn }

type recordingLog struct {
	mu   sync.Mutex
	recs []types.Recording
}

func (l *recordingLog) Add(rec types.Recording) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

func (l *recordingLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recs)
}

type engineFixture struct {
	engine  *Engine
	sampler *fakeSampler
	stream  *fakeStream
	src     *fakeSource
	sink    *recordingLog
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetSensitivity(testSensitivity))
	require.NoError(t, cfg.SetSilenceTimeoutMs(testTimeout.Milliseconds()))

	sampler := &fakeSampler{}
	stream := &fakeStream{sampler: sampler}
	src := &fakeSource{stream: stream}
	sink := &recordingLog{}

	factory := func(source.Stream) (source.Encoder, error) {
		return &fakeSegEncoder{}, nil
	}
	seg := segment.NewSegmenter(factory, segment.NewArtifactRegistry(), sink, func() string { return "audio/wav" })

	engine := New(cfg, src, seg, WithTickInterval(testTick))
	t.Cleanup(engine.Shutdown)

	return &engineFixture{engine: engine, sampler: sampler, stream: stream, src: src, sink: sink}
}

func (f *engineFixture) waitForStatus(t *testing.T, want types.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.engine.State().Status == want
	}, 2*time.Second, time.Millisecond, "expected status %q", want)
}

func TestEngineOneShotSession(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(context.Background(), false))
	assert.Equal(t, types.StatusListening, f.engine.State().Status)
	assert.False(t, f.engine.State().Continuous)

	// Quiet input keeps the session listening.
	f.sampler.set(quietLevel)
	time.Sleep(4 * testTick)
	assert.Equal(t, types.StatusListening, f.engine.State().Status)

	f.sampler.set(loudLevel)
	f.waitForStatus(t, types.StatusRecording)

	// Sustained silence closes the segment and, one-shot, the session.
	f.sampler.set(quietLevel)
	f.waitForStatus(t, types.StatusIdle)

	assert.Equal(t, 1, f.sink.count())
	assert.Equal(t, int32(1), f.stream.released.Load())
	assert.False(t, f.engine.Active())

	state := f.engine.State()
	assert.Zero(t, state.CurrentVolume)
	assert.Zero(t, state.SilenceProgress)
	assert.Zero(t, state.RecordingDurationSec)
}

func TestEngineContinuousSession(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(context.Background(), true))
	assert.True(t, f.engine.State().Continuous)

	f.sampler.set(loudLevel)
	f.waitForStatus(t, types.StatusRecording)

	// Silence timeout segments but keeps the session listening.
	f.sampler.set(quietLevel)
	f.waitForStatus(t, types.StatusListening)
	assert.Equal(t, 1, f.sink.count())
	assert.Zero(t, f.stream.released.Load())

	// A second voice span produces a second recording on the same stream.
	f.sampler.set(loudLevel)
	f.waitForStatus(t, types.StatusRecording)
	f.sampler.set(quietLevel)
	f.waitForStatus(t, types.StatusListening)
	assert.Equal(t, 2, f.sink.count())
	assert.Equal(t, int32(1), f.src.acquires.Load())

	f.engine.Shutdown()
	assert.Equal(t, types.StatusIdle, f.engine.State().Status)
	assert.Equal(t, int32(1), f.stream.released.Load())
}

func TestEngineStartWhileActiveToggles(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(context.Background(), true))
	require.True(t, f.engine.Active())

	// A second start is a toggle; its continuous flag is irrelevant.
	require.NoError(t, f.engine.Start(context.Background(), false))
	assert.False(t, f.engine.Active())
	assert.Equal(t, types.StatusIdle, f.engine.State().Status)
	assert.Equal(t, int32(1), f.stream.released.Load())
	assert.Equal(t, int32(1), f.src.acquires.Load())
}

func TestEngineAcquireFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.src.acquireErr = errors.New("device busy")

	err := f.engine.Start(context.Background(), false)
	require.Error(t, err)

	state := f.engine.State()
	assert.Equal(t, types.StatusError, state.Status)
	assert.Equal(t, "device busy", state.LastError)
	assert.False(t, f.engine.Active())

	// Shutdown from the error state lands in idle.
	f.engine.Shutdown()
	state = f.engine.State()
	assert.Equal(t, types.StatusIdle, state.Status)
	assert.Empty(t, state.LastError)

	// A later start succeeds once the device frees up.
	f.src.acquireErr = nil
	require.NoError(t, f.engine.Start(context.Background(), false))
	assert.Equal(t, types.StatusListening, f.engine.State().Status)
}

func TestEngineVoiceReturnCancelsSilenceWindow(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(context.Background(), true))

	f.sampler.set(loudLevel)
	f.waitForStatus(t, types.StatusRecording)

	// Drop below the threshold briefly, then recover before the timeout.
	f.sampler.set(quietLevel)
	require.Eventually(t, func() bool {
		return f.engine.State().SilenceProgress > 0
	}, 2*time.Second, time.Millisecond)

	f.sampler.set(loudLevel)
	require.Eventually(t, func() bool {
		return f.engine.State().SilenceProgress == 0
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, types.StatusRecording, f.engine.State().Status)
	assert.Zero(t, f.sink.count())
}

func TestEngineThresholdBoundary(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(context.Background(), false))

	// Volume exactly at the threshold does not count as voice.
	f.sampler.set(float64(testSensitivity) * types.ThresholdScale)
	time.Sleep(6 * testTick)
	assert.Equal(t, types.StatusListening, f.engine.State().Status)
}

func TestEngineShutdownWhileRecordingFinalizesSegment(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(context.Background(), true))
	f.sampler.set(loudLevel)
	f.waitForStatus(t, types.StatusRecording)

	f.engine.Shutdown()

	assert.Equal(t, types.StatusIdle, f.engine.State().Status)
	assert.Equal(t, 1, f.sink.count())
	assert.Equal(t, int32(1), f.stream.released.Load())
}

func TestEngineShutdownIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(context.Background(), true))

	f.engine.Shutdown()
	f.engine.Shutdown()
	f.engine.Shutdown()

	assert.Equal(t, types.StatusIdle, f.engine.State().Status)
	assert.Equal(t, int32(1), f.stream.released.Load())
}

func TestEngineRecordingDurationAdvances(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(context.Background(), true))
	f.sampler.set(loudLevel)
	f.waitForStatus(t, types.StatusRecording)

	require.Eventually(t, func() bool {
		return f.engine.State().RecordingDurationSec > 0
	}, 2*time.Second, time.Millisecond)
}

func TestEngineTransitionHook(t *testing.T) {
	f := newEngineFixture(t)

	var (
		mu       sync.Mutex
		statuses []types.SessionStatus
	)
	f.engine.OnTransition(func(state types.SessionState) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, state.Status)
	})

	require.NoError(t, f.engine.Start(context.Background(), false))
	f.sampler.set(loudLevel)
	f.waitForStatus(t, types.StatusRecording)
	f.sampler.set(quietLevel)
	f.waitForStatus(t, types.StatusIdle)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 3
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.StatusListening, statuses[0])
	assert.Equal(t, types.StatusRecording, statuses[1])
	assert.Equal(t, types.StatusIdle, statuses[2])
}
