package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/offline-cache-agent/pkg/agent"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoController is returned for events that need an active agent when none controls yet.
var ErrNoController = errors.New("no active agent")

// Report is the outcome of Register. Install and activation errors are
// recorded here but never stop the version from taking control.
type Report struct {
	State       State
	Install     agent.InstallReport
	InstallErr  error
	Activate    agent.ActivateReport
	ActivateErr error
}

// Registration owns the sequence of agent versions for one origin.
type Registration struct {
	store       StateStore
	logger      zerolog.Logger
	passThrough http.Handler

	// events serializes lifecycle, sync and push events
	events sync.Mutex

	mu         sync.RWMutex
	controller *agent.Agent
	handler    http.Handler
}

// NewRegistration creates a registration with no controller.
// Until a version activates, requests go straight to origin.
func NewRegistration(origin *url.URL, store StateStore, logger zerolog.Logger) *Registration {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Registration{
		store:       store,
		logger:      logger,
		passThrough: agent.NewPassThrough(origin),
	}
}

// Register installs and activates a, then makes it the controller.
//
// The previous controller keeps serving requests until the claim, so for the
// length of the install both versions are live. The replaced agent is marked
// redundant and closed once its detached writes settle.
func (r *Registration) Register(ctx context.Context, a *agent.Agent) *Report {
	r.events.Lock()
	defer r.events.Unlock()

	state := State{
		Generation: a.Generation(),
		InstanceID: uuid.NewString(),
	}
	report := &Report{}

	r.transition(ctx, &state, PhaseInstalling)
	report.Install, report.InstallErr = a.Install(ctx)
	if report.InstallErr != nil {
		r.logger.Error().Err(report.InstallErr).Str("generation", state.Generation).Msg("Install failed, activating anyway")
	}
	state.CachedAssets = len(report.Install.Cached)
	state.FailedAssets = len(report.Install.Failed)
	state.InstalledAt = time.Now()
	r.transition(ctx, &state, PhaseInstalled)

	// skip waiting: activate without waiting for the old controller's clients
	r.transition(ctx, &state, PhaseActivating)
	report.Activate, report.ActivateErr = a.Activate(ctx)
	if report.ActivateErr != nil {
		r.logger.Error().Err(report.ActivateErr).Str("generation", state.Generation).Msg("Cache cleanup failed")
	}

	old := r.claim(a)
	state.ActivatedAt = time.Now()
	r.transition(ctx, &state, PhaseActivated)

	if old != nil && old != a {
		lifecycleTransitionsTotal.WithLabelValues(string(PhaseRedundant)).Inc()
		r.logger.Info().
			Str("generation", old.Generation()).
			Str("replaced_by", a.Generation()).
			Msg("Agent redundant")
		go old.Close()
	}

	report.State = state
	return report
}

// claim makes a the controller and returns the previous one.
func (r *Registration) claim(a *agent.Agent) *agent.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.controller
	r.controller = a
	r.handler = a.Handler()

	activeGenerationInfo.Reset()
	activeGenerationInfo.WithLabelValues(a.Generation()).Set(1)
	return old
}

// transition records a phase change. Store failures are logged, not fatal.
func (r *Registration) transition(ctx context.Context, s *State, phase Phase) {
	s.Phase = phase
	s.UpdatedAt = time.Now()
	lifecycleTransitionsTotal.WithLabelValues(string(phase)).Inc()

	r.logger.Info().
		Str("generation", s.Generation).
		Str("instance_id", s.InstanceID).
		Str("phase", string(phase)).
		Msg("Lifecycle transition")

	if err := r.store.Save(ctx, s); err != nil {
		r.logger.Warn().Err(err).Str("phase", string(phase)).Msg("Failed to store lifecycle state")
	}
}

// Controller returns the active agent, or nil.
func (r *Registration) Controller() *agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controller
}

// State returns the stored registration state.
func (r *Registration) State(ctx context.Context) (*State, error) {
	return r.store.Load(ctx)
}

// Sync delivers a background sync event to the controller.
func (r *Registration) Sync(ctx context.Context, tag string) error {
	return r.deliver(ctx, agent.SyncEvent{Tag: tag})
}

// Push delivers a push event to the controller.
func (r *Registration) Push(ctx context.Context, data []byte) error {
	return r.deliver(ctx, agent.PushEvent{Data: data})
}

func (r *Registration) deliver(ctx context.Context, ev agent.Event) error {
	r.events.Lock()
	defer r.events.Unlock()

	c := r.Controller()
	if c == nil {
		return ErrNoController
	}
	return c.Dispatch(ctx, ev).Err
}

// Handler routes requests to the controller, or to the origin when nothing controls yet.
func (r *Registration) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		h := r.handler
		r.mu.RUnlock()

		if h == nil {
			r.passThrough.ServeHTTP(w, req)
			return
		}
		h.ServeHTTP(w, req)
	})
}

// Close waits for the controller's detached work and stops it.
func (r *Registration) Close() {
	r.events.Lock()
	defer r.events.Unlock()
	if c := r.Controller(); c != nil {
		c.Close()
	}
}
