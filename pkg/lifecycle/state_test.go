package lifecycle

import (
	"context"
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *State
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &State{UpdatedAt: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &State{UpdatedAt: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "never written",
			state:    &State{},
			maxAge:   5 * time.Minute,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsActive(t *testing.T) {
	tests := []struct {
		phase    Phase
		expected bool
	}{
		{PhaseInstalling, false},
		{PhaseInstalled, false},
		{PhaseActivating, false},
		{PhaseActivated, true},
		{PhaseRedundant, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			s := &State{Phase: tt.phase}
			if got := s.IsActive(); got != tt.expected {
				t.Errorf("IsActive() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMemoryStateStore(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	empty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if empty.Phase != "" {
		t.Errorf("empty store Phase = %q", empty.Phase)
	}

	want := &State{Phase: PhaseActivated, Generation: "v7", InstanceID: "abc", CachedAssets: 5}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _ := store.Load(ctx)
	if *got != *want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}

	// the returned state is a copy
	got.Phase = PhaseRedundant
	again, _ := store.Load(ctx)
	if again.Phase != PhaseActivated {
		t.Error("Load() must return a copy")
	}
}
