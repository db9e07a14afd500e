// Package store holds finalized recordings in memory, newest first.
package store

import (
	"errors"
	"slices"
	"sync"

	"github.com/streekomroep/voxcap/internal/types"
)

// Sentinel errors for store operations.
var (
	ErrNotFound  = errors.New("recording not found")
	ErrDuplicate = errors.New("recording id already exists")
)

// Store is the in-memory recording collection. Recordings are ordered
// newest first; metadata updates never reorder. It is safe for concurrent
// use.
type Store struct {
	mu         sync.RWMutex
	recordings []types.Recording
	release    func(token string)
}

// New creates a store. release is called with the artifact token of every
// deleted recording so its payload can be dropped.
func New(release func(token string)) *Store {
	if release == nil {
		release = func(string) {}
	}
	return &Store{release: release}
}

// Add prepends a recording. IDs must be unique.
func (s *Store) Add(rec types.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(rec.ID) != -1 {
		return ErrDuplicate
	}

	s.recordings = append([]types.Recording{rec}, s.recordings...)
	return nil
}

// List returns a copy of all recordings, newest first.
func (s *Store) List() []types.Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.recordings)
}

// Get returns a copy of the recording with the given ID.
func (s *Store) Get(id string) (types.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i == -1 {
		return types.Recording{}, ErrNotFound
	}
	return s.recordings[i], nil
}

// Delete removes a recording and releases its artifact payload. Order of
// the remaining recordings is preserved.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i == -1 {
		return ErrNotFound
	}

	token := s.recordings[i].Artifact.Token
	s.recordings = slices.Delete(s.recordings, i, i+1)
	s.release(token)
	return nil
}

// Update patches the collaborator-owned fields of a recording. Nil fields
// in the patch are left untouched and the recording keeps its position.
func (s *Store) Update(id string, patch types.RecordingPatch) (types.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i == -1 {
		return types.Recording{}, ErrNotFound
	}

	if patch.Transcription != nil {
		s.recordings[i].Transcription = *patch.Transcription
	}
	if patch.Summary != nil {
		s.recordings[i].Summary = *patch.Summary
	}
	return s.recordings[i], nil
}

// Len returns the number of stored recordings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recordings)
}

// indexLocked returns the index of the recording with the given ID, or -1
// if not found. Caller must hold s.mu.
func (s *Store) indexLocked(id string) int {
	for i := range s.recordings {
		if s.recordings[i].ID == id {
			return i
		}
	}
	return -1
}
