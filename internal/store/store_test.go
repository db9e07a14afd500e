package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/streekomroep/voxcap/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecording(id string) types.Recording {
	return types.Recording{
		ID:        id,
		Artifact:  types.ArtifactRef{Token: "token-" + id, SizeBytes: 100, ContentType: "audio/wav"},
		Timestamp: time.Now(),
	}
}

func TestStoreOrdersNewestFirst(t *testing.T) {
	s := New(nil)

	for i := range 3 {
		require.NoError(t, s.Add(newRecording(fmt.Sprintf("rec-%d", i))))
	}

	recs := s.List()
	require.Len(t, recs, 3)
	assert.Equal(t, "rec-2", recs[0].ID)
	assert.Equal(t, "rec-1", recs[1].ID)
	assert.Equal(t, "rec-0", recs[2].ID)
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	s := New(nil)

	require.NoError(t, s.Add(newRecording("rec-1")))
	assert.ErrorIs(t, s.Add(newRecording("rec-1")), ErrDuplicate)
	assert.Equal(t, 1, s.Len())
}

func TestStoreDeleteReleasesArtifact(t *testing.T) {
	var released []string
	s := New(func(token string) { released = append(released, token) })

	require.NoError(t, s.Add(newRecording("rec-1")))
	require.NoError(t, s.Add(newRecording("rec-2")))
	require.NoError(t, s.Add(newRecording("rec-3")))

	require.NoError(t, s.Delete("rec-2"))

	assert.Equal(t, []string{"token-rec-2"}, released)

	// Remaining order is preserved.
	recs := s.List()
	require.Len(t, recs, 2)
	assert.Equal(t, "rec-3", recs[0].ID)
	assert.Equal(t, "rec-1", recs[1].ID)
}

func TestStoreDeleteMissing(t *testing.T) {
	s := New(nil)
	assert.ErrorIs(t, s.Delete("missing"), ErrNotFound)
}

func TestStoreUpdatePatchesWithoutReordering(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(newRecording("rec-1")))
	require.NoError(t, s.Add(newRecording("rec-2")))

	text := "hello world"
	updated, err := s.Update("rec-1", types.RecordingPatch{Transcription: &text})
	require.NoError(t, err)
	assert.Equal(t, "hello world", updated.Transcription)
	assert.Empty(t, updated.Summary)

	// Nil fields stay untouched on a second patch.
	summary := "greeting"
	updated, err = s.Update("rec-1", types.RecordingPatch{Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, "hello world", updated.Transcription)
	assert.Equal(t, "greeting", updated.Summary)

	recs := s.List()
	assert.Equal(t, "rec-2", recs[0].ID)
	assert.Equal(t, "rec-1", recs[1].ID)
}

func TestStoreUpdateMissing(t *testing.T) {
	s := New(nil)
	_, err := s.Update("missing", types.RecordingPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGet(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(newRecording("rec-1")))

	rec, err := s.Get("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
