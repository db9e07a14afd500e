package events

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "capture.jsonl")

	logger, err := NewLogger(path)
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Log(&CaptureEvent{Event: EventListening, Continuous: true}))
	require.NoError(t, logger.Log(&CaptureEvent{Event: EventRecording}))
	require.NoError(t, logger.Log(&CaptureEvent{
		Event:       EventFinalized,
		RecordingID: "rec-1",
		DurationSec: 2.5,
		SizeBytes:   4096,
	}))

	got, err := ReadLast(path, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, EventFinalized, got[0].Event)
	assert.Equal(t, "rec-1", got[0].RecordingID)
	assert.Equal(t, EventRecording, got[1].Event)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestReadLastMissingFile(t *testing.T) {
	got, err := ReadLast(filepath.Join(t.TempDir(), "absent.jsonl"), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
