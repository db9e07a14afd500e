package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/streekomroep/voxcap/internal/capture"
	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/notify"
	"github.com/streekomroep/voxcap/internal/segment"
	"github.com/streekomroep/voxcap/internal/source"
	"github.com/streekomroep/voxcap/internal/store"
	"github.com/streekomroep/voxcap/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleSampler struct{}

func (idleSampler) Frame() []float64 { return make([]float64, types.BinCount) }

type stubStream struct{}

func (stubStream) Sampler() source.FrequencySampler { return idleSampler{} }
func (stubStream) Release()                         {}

type stubSource struct{}

func (stubSource) Acquire(ctx context.Context) (source.Stream, error) {
	return stubStream{}, nil
}

type stubEncoder struct {
	onFinalize func()
}

func (e *stubEncoder) Start() error            { return nil }
func (e *stubEncoder) Stop() error             { e.onFinalize(); return nil }
func (e *stubEncoder) OnChunk(func([]byte))    {}
func (e *stubEncoder) OnFinalize(fn func())    { e.onFinalize = fn }

type handlerFixture struct {
	handler *CommandHandler
	cfg     *config.Config
	store   *store.Store
	send    chan any
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	registry := segment.NewArtifactRegistry()
	st := store.New(registry.Release)
	factory := func(source.Stream) (source.Encoder, error) { return &stubEncoder{}, nil }
	seg := segment.NewSegmenter(factory, registry, st, func() string { return "audio/wav" })
	engine := capture.New(cfg, stubSource{}, seg, capture.WithTickInterval(5*time.Millisecond))
	t.Cleanup(engine.Shutdown)

	forwarder := notify.NewForwarder(cfg, registry, nil)
	t.Cleanup(forwarder.Close)

	return &handlerFixture{
		handler: NewCommandHandler(cfg, engine, st, forwarder),
		cfg:     cfg,
		store:   st,
		send:    make(chan any, 16),
	}
}

func (f *handlerFixture) dispatch(t *testing.T, cmdType, data string) map[string]any {
	t.Helper()

	cmd := WSCommand{Type: cmdType}
	if data != "" {
		cmd.Data = json.RawMessage(data)
	}
	f.handler.Handle(cmd, f.send, func() {})

	select {
	case msg := <-f.send:
		resp, ok := msg.(map[string]any)
		require.True(t, ok, "unexpected message type %T", msg)
		return resp
	case <-time.After(2 * time.Second):
		t.Fatalf("no response for %s", cmdType)
		return nil
	}
}

func TestSettingsGetAndUpdate(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.dispatch(t, "settings/get", "")
	require.True(t, resp["success"].(bool))
	data := resp["data"].(map[string]any)
	assert.Equal(t, config.DefaultSensitivity, data["sensitivity"])

	resp = f.dispatch(t, "settings/update", `{"sensitivity": 75, "silence_timeout_ms": 3000}`)
	assert.True(t, resp["success"].(bool))

	settings := f.cfg.CaptureSettings()
	assert.Equal(t, 75, settings.Sensitivity)
	assert.Equal(t, 3*time.Second, settings.SilenceTimeout)
}

func TestSettingsUpdateValidation(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.dispatch(t, "settings/update", `{"sensitivity": 150}`)
	assert.False(t, resp["success"].(bool))
	assert.Equal(t, "settings/update_result", resp["type"])

	// The rejected value must not be applied.
	assert.Equal(t, config.DefaultSensitivity, f.cfg.CaptureSettings().Sensitivity)
}

func TestCaptureStartAndToggle(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.dispatch(t, "capture/start", `{"continuous": true}`)
	require.True(t, resp["success"].(bool))
	state := resp["data"].(types.SessionState)
	assert.Equal(t, types.StatusListening, state.Status)
	assert.True(t, state.Continuous)

	// Starting again toggles the session off.
	resp = f.dispatch(t, "capture/start", `{"continuous": false}`)
	require.True(t, resp["success"].(bool))
	state = resp["data"].(types.SessionState)
	assert.Equal(t, types.StatusIdle, state.Status)
}

func TestCaptureStop(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.dispatch(t, "capture/stop", "")
	require.True(t, resp["success"].(bool))
	state := resp["data"].(types.SessionState)
	assert.Equal(t, types.StatusIdle, state.Status)
}

func TestRecordingsCommands(t *testing.T) {
	f := newHandlerFixture(t)
	require.NoError(t, f.store.Add(types.Recording{ID: "rec-1"}))

	resp := f.dispatch(t, "recordings/list", "")
	require.True(t, resp["success"].(bool))
	data := resp["data"].(map[string]any)
	recs := data["recordings"].([]types.Recording)
	require.Len(t, recs, 1)

	resp = f.dispatch(t, "recordings/update", `{"id": "rec-1", "transcription": "hello"}`)
	require.True(t, resp["success"].(bool))
	rec := resp["data"].(types.Recording)
	assert.Equal(t, "hello", rec.Transcription)

	resp = f.dispatch(t, "recordings/delete", `{"id": "rec-1"}`)
	assert.True(t, resp["success"].(bool))
	assert.Zero(t, f.store.Len())

	resp = f.dispatch(t, "recordings/delete", `{"id": "rec-1"}`)
	assert.False(t, resp["success"].(bool))
}

func TestWebhookUpdateValidation(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.dispatch(t, "notifications/webhook/update", `{"url": "not-a-url"}`)
	assert.False(t, resp["success"].(bool))

	resp = f.dispatch(t, "notifications/webhook/update", `{"url": "https://example.com/hook"}`)
	assert.True(t, resp["success"].(bool))
	assert.Equal(t, "https://example.com/hook", f.cfg.WebhookSettings().URL)
}

func TestRegenerateAPIKey(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.dispatch(t, "config/regenerate-key", "")
	require.True(t, resp["success"].(bool))
	data := resp["data"].(map[string]string)
	assert.Len(t, data["api_key"], 32)
	assert.Equal(t, data["api_key"], f.cfg.GetAPIKey())
}
