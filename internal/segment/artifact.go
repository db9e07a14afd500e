package segment

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/streekomroep/voxcap/internal/types"
)

// artifactTokenBytes is the entropy of an artifact access token.
const artifactTokenBytes = 16

// ArtifactRegistry holds finalized segment payloads keyed by opaque access
// token. Payloads live until released, which happens when their recording
// is deleted. It is safe for concurrent use.
type ArtifactRegistry struct {
	mu        sync.RWMutex
	artifacts map[string]artifact
}

type artifact struct {
	data        []byte
	contentType string
}

// NewArtifactRegistry creates an empty registry.
func NewArtifactRegistry() *ArtifactRegistry {
	return &ArtifactRegistry{artifacts: make(map[string]artifact)}
}

// Put stores a payload and returns the reference that dereferences it.
func (r *ArtifactRegistry) Put(data []byte, contentType string) (types.ArtifactRef, error) {
	token, err := generateToken()
	if err != nil {
		return types.ArtifactRef{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[token] = artifact{data: data, contentType: contentType}

	return types.ArtifactRef{
		Token:       token,
		SizeBytes:   len(data),
		ContentType: contentType,
	}, nil
}

// Get returns the payload and content type for a token.
func (r *ArtifactRegistry) Get(token string) (data []byte, contentType string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.artifacts[token]
	return a.data, a.contentType, ok
}

// Release drops the payload for a token. A no-op for unknown tokens.
func (r *ArtifactRegistry) Release(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.artifacts, token)
}

// Len returns the number of stored payloads.
func (r *ArtifactRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.artifacts)
}

// generateToken generates a random hex access token.
func generateToken() (string, error) {
	b := make([]byte, artifactTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
