// Package lifecycle drives agent versions through install and activation.
// It plays the part of the hosting runtime: one Registration per scope,
// one event at a time, with the registration state persisted in a StateStore.
package lifecycle

import (
	"context"
	"sync"
	"time"
)

// Phase is the lifecycle phase of the most recently registered version.
type Phase string

const (
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed"
	PhaseActivating Phase = "activating"
	PhaseActivated  Phase = "activated"
	PhaseRedundant  Phase = "redundant"
)

// Redis key suffixes for registration state storage.
const (
	RedisKeyPhase       = "lifecycle:phase"
	RedisKeyGeneration  = "lifecycle:generation"
	RedisKeyInstanceID  = "lifecycle:instance_id"
	RedisKeyCached      = "lifecycle:cached_assets"
	RedisKeyFailed      = "lifecycle:failed_assets"
	RedisKeyInstalledAt = "lifecycle:installed_at"
	RedisKeyActivatedAt = "lifecycle:activated_at"
	RedisKeyUpdatedAt   = "lifecycle:updated_at"
)

// State describes the registration's newest agent version.
// It is shared across agent processes via the StateStore.
type State struct {
	// Phase is the current lifecycle phase.
	Phase Phase `json:"phase"`

	// Generation is the cache container name of the version.
	Generation string `json:"generation"`

	// InstanceID uniquely identifies one registration of the version.
	InstanceID string `json:"instance_id"`

	// CachedAssets and FailedAssets count install-time precache results.
	CachedAssets int `json:"cached_assets"`
	FailedAssets int `json:"failed_assets"`

	// InstalledAt is when install finished.
	InstalledAt time.Time `json:"installed_at,omitzero"`

	// ActivatedAt is when the version took control.
	ActivatedAt time.Time `json:"activated_at,omitzero"`

	// UpdatedAt is when this state was last written.
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// IsActive returns true if the version controls the registration.
func (s *State) IsActive() bool {
	return s.Phase == PhaseActivated
}

// IsStale returns true if the state was not written within maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.UpdatedAt) > maxAge
}

// StateStore persists registration state.
type StateStore interface {
	// Load returns the stored state, or an empty State when nothing was stored.
	Load(ctx context.Context) (*State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, s *State) error
}

// MemoryStateStore keeps the state in process memory.
type MemoryStateStore struct {
	mu    sync.RWMutex
	state State
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load returns a copy of the stored state.
func (m *MemoryStateStore) Load(ctx context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	return &s, nil
}

// Save replaces the stored state.
func (m *MemoryStateStore) Save(ctx context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = *s
	return nil
}
