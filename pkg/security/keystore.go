// Package security holds the cluster bearer-token store used to
// authenticate agents against the control plane's HTTP boundary.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ClusterAPIKey is a bearer token scoped to exactly one cluster. Agents
// present it on every request to the control plane.
type ClusterAPIKey struct {
	Key       string
	ClusterID string
	CreatedAt time.Time
}

// UserAPIKey is the user/project-scoped counterpart to ClusterAPIKey. Its
// issuance and validation live in the external HTTP/auth layer (out of
// scope here per spec §1); this type exists only so the sum — "exactly one
// of cluster_id or user_id is set" — is enforced by the Go type system
// rather than by a single struct with two nullable foreign keys. It carries
// no behavior in this repository.
type UserAPIKey struct {
	Key       string
	UserID    string
	CreatedAt time.Time
}

// ClusterKeyStore issues and validates ClusterAPIKeys. Keys do not expire;
// revocation is the only way to invalidate one, since a cluster's agents
// would otherwise be locked out of the control plane mid-run.
type ClusterKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*ClusterAPIKey // keyed by key value
}

// NewClusterKeyStore returns an empty store.
func NewClusterKeyStore() *ClusterKeyStore {
	return &ClusterKeyStore{
		keys: make(map[string]*ClusterAPIKey),
	}
}

// IssueKey generates a new random key for clusterID.
func (s *ClusterKeyStore) IssueKey(clusterID string) (*ClusterAPIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate cluster api key: %w", err)
	}

	key := &ClusterAPIKey{
		Key:       hex.EncodeToString(raw),
		ClusterID: clusterID,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.keys[key.Key] = key
	s.mu.Unlock()

	return key, nil
}

// AddKey seeds a pre-generated key into the store, for an operator
// reinstating a key issued by a previous `controlplane keygen` run — the
// store itself does not persist across restarts.
func (s *ClusterKeyStore) AddKey(clusterID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = &ClusterAPIKey{
		Key:       key,
		ClusterID: clusterID,
		CreatedAt: time.Now(),
	}
}

// Validate returns the cluster ID a bearer token belongs to, or false if
// the token is unknown or has been revoked.
func (s *ClusterKeyStore) Validate(key string) (clusterID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, exists := s.keys[key]
	if !exists {
		return "", false
	}
	return k.ClusterID, true
}

// Revoke removes a key, after which Validate reports it unknown.
func (s *ClusterKeyStore) Revoke(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// ListKeys returns every currently-valid key. Intended for operator tooling.
func (s *ClusterKeyStore) ListKeys() []*ClusterAPIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ClusterAPIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out
}
