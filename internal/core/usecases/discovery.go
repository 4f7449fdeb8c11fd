package usecases

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
)

// CandidateFinder runs a nearby query. CandidateService implements it.
type CandidateFinder interface {
	FindNearby(ctx context.Context, q NearbyQuery) ([]domain.Candidate, error)
}

// DiscoveryStatus is what the list/map should show.
type DiscoveryStatus string

const (
	DiscoveryLoading DiscoveryStatus = "loading"
	DiscoveryReady   DiscoveryStatus = "ready"
	DiscoveryEmpty   DiscoveryStatus = "empty"
	DiscoveryError   DiscoveryStatus = "error"
)

// DiscoverySnapshot is the observable state of a session.
type DiscoverySnapshot struct {
	Status           DiscoveryStatus       `json:"status"`
	Candidates       []domain.Candidate    `json:"candidates"`
	NearbyCount      int                   `json:"nearby_count"`
	Error            string                `json:"error,omitempty"`
	PermissionDenied bool                  `json:"permission_denied"`
	Location         *domain.Coordinate    `json:"location,omitempty"`
	ViewFilter       domain.ViewFilter     `json:"view_filter"`
	Criteria         domain.FilterCriteria `json:"-"`
	Generation       uint64                `json:"generation"`
}

// DiscoveryDeps wires a session to its collaborators.
type DiscoveryDeps struct {
	Finder    CandidateFinder
	Provider  ports.LocationProvider
	Surface   ports.MapSurface
	Remote    ports.PresenceUpdater
	Messages  ports.PresenceMessageWriter
	Reader    ports.PresenceReader
	Store     ports.PresenceStore
	Scheduler ports.ExpiryScheduler
	Publisher ports.EventPublisher
	Clock     Clock
	Log       *slog.Logger
}

// DiscoveryConfig tunes a session.
type DiscoveryConfig struct {
	ViewerID   string
	ViewerName string
	Tracker    LocationTrackerConfig
	Presence   PresenceConfig
	Criteria   domain.FilterCriteria
	ViewFilter domain.ViewFilter
	Mode       ReconcileMode
	Points     []domain.PointOfInterest
	// OnSelect receives the owner id of a clicked marker.
	OnSelect func(id string)
}

// DiscoverySession drives one viewer's map: location updates, filter
// changes, presence changes and explicit refreshes all funnel through it.
// Every fetch carries a generation; results of a superseded fetch are
// dropped.
type DiscoverySession struct {
	deps       DiscoveryDeps
	cfg        DiscoveryConfig
	log        *slog.Logger
	tracker    *LocationTracker
	presence   *PresenceController
	reconciler *MapReconciler

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	generation       uint64
	status           DiscoveryStatus
	results          []domain.Candidate
	loaded           bool
	fetching         bool
	visible          []domain.Candidate
	lastErr          error
	location         *domain.Coordinate
	permissionDenied bool
	criteria         domain.FilterCriteria
	viewFilter       domain.ViewFilter
	listeners        []func(DiscoverySnapshot)
	stopped          bool
}

// NewDiscoverySession assembles the tracker, presence controller and map
// reconciler for one viewer.
func NewDiscoverySession(deps DiscoveryDeps, cfg DiscoveryConfig) *DiscoverySession {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.ViewFilter == "" {
		cfg.ViewFilter = domain.ViewAll
	}
	cfg.Presence.UserID = cfg.ViewerID

	log := deps.Log.With("viewer_id", cfg.ViewerID)
	s := &DiscoverySession{
		deps:       deps,
		cfg:        cfg,
		log:        log,
		status:     DiscoveryLoading,
		criteria:   cfg.Criteria,
		viewFilter: cfg.ViewFilter,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.tracker = NewLocationTracker(deps.Provider, deps.Clock, cfg.Tracker, s.onLocation, log)
	s.presence = NewPresenceController(PresenceDeps{
		Remote:    deps.Remote,
		Messages:  deps.Messages,
		Store:     deps.Store,
		Scheduler: deps.Scheduler,
		Publisher: deps.Publisher,
		Clock:     deps.Clock,
		Log:       log,
	}, cfg.Presence)
	s.reconciler = NewMapReconciler(deps.Surface, cfg.Mode, cfg.OnSelect, log)
	s.presence.Subscribe(s.onPresence)
	return s
}

// Presence exposes the viewer's presence controller.
func (s *DiscoverySession) Presence() *PresenceController { return s.presence }

// Map exposes the reconciler for style and terrain switches.
func (s *DiscoverySession) Map() *MapReconciler { return s.reconciler }

// Tracker exposes the location tracker.
func (s *DiscoverySession) Tracker() *LocationTracker { return s.tracker }

// Subscribe registers fn to receive a snapshot after every change.
func (s *DiscoverySession) Subscribe(fn func(DiscoverySnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start restores any live broadcast from the remote store and starts
// location tracking. The first location triggers the first fetch.
func (s *DiscoverySession) Start(ctx context.Context) error {
	if s.deps.Reader != nil {
		committed, err := s.deps.Reader.GetPresence(ctx, s.cfg.ViewerID)
		if err != nil {
			s.log.Warn("restore presence failed", "error", err)
		} else {
			s.presence.Restore(committed)
		}
	}
	metrics.ActiveSessions.Inc()
	return s.tracker.Start(ctx)
}

// Stop tears the session down. Remote presence is left to expire on its own.
func (s *DiscoverySession) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.generation++
	s.mu.Unlock()

	s.cancel()
	s.tracker.Stop()
	s.presence.Close()
	s.reconciler.Clear()
	metrics.ActiveSessions.Dec()
}

// SetCriteria replaces the filter criteria and refetches.
func (s *DiscoverySession) SetCriteria(criteria domain.FilterCriteria) error {
	if !(criteria.RadiusKm > 0) {
		return errors.New("radius must be positive")
	}
	s.mu.Lock()
	s.criteria = criteria
	s.mu.Unlock()

	s.fetch(false)
	return nil
}

// SetViewFilter switches the map filter. No fetch is needed.
func (s *DiscoverySession) SetViewFilter(filter domain.ViewFilter) {
	s.mu.Lock()
	s.viewFilter = filter
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.renderLocked()
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
}

// Refresh publishes a debounced location right away, or refetches for the
// current location when nothing is pending. The refetch bypasses the cache.
func (s *DiscoverySession) Refresh() {
	if s.tracker.FlushPending() {
		return
	}
	s.fetch(true)
}

// Retry re-runs the last query, typically after a failed fetch.
func (s *DiscoverySession) Retry() { s.Refresh() }

// NotifyPresenceChanged is called when another user's availability changed.
// The cached result predates the change, so it is skipped.
func (s *DiscoverySession) NotifyPresenceChanged(userID string) {
	if userID == s.cfg.ViewerID {
		return
	}
	s.fetch(true)
}

// Snapshot returns the current observable state.
func (s *DiscoverySession) Snapshot() DiscoverySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *DiscoverySession) onLocation(u LocationUpdate) {
	s.mu.Lock()
	c := u.Coordinate
	s.location = &c
	s.permissionDenied = u.PermissionDenied
	s.mu.Unlock()

	s.fetch(false)
}

func (s *DiscoverySession) onPresence(domain.PresenceState) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.renderLocked()
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
}

// fetch queries candidates for the current location. Listeners see a
// loading snapshot while the query is in flight.
func (s *DiscoverySession) fetch(fresh bool) {
	s.mu.Lock()
	if s.stopped || s.location == nil {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	query := NearbyQuery{
		ViewerID: s.cfg.ViewerID,
		Center:   *s.location,
		RadiusKm: s.criteria.RadiusKm,
		Criteria: s.criteria,
		Fresh:    fresh,
	}
	s.fetching = true
	s.status = DiscoveryLoading
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)

	candidates, err := s.deps.Finder.FindNearby(s.ctx, query)

	s.mu.Lock()
	if gen != s.generation || s.stopped {
		s.mu.Unlock()
		s.log.Debug("discarding stale fetch", "generation", gen)
		return
	}
	s.fetching = false
	if err != nil {
		s.lastErr = err
		s.status = DiscoveryError
		s.log.Error("nearby fetch failed", "error", err)
	} else {
		s.lastErr = nil
		s.results = candidates
		s.loaded = true
		s.renderLocked()
	}
	snap = s.snapshotLocked()
	listeners = s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
}

// renderLocked filters the last results and hands them to the reconciler.
func (s *DiscoverySession) renderLocked() {
	s.visible = ApplyFilters(s.results, s.criteria)
	if s.lastErr == nil && s.loaded && !s.fetching {
		if len(s.visible) == 0 {
			s.status = DiscoveryEmpty
		} else {
			s.status = DiscoveryReady
		}
	}

	broadcast := s.presence.Broadcast()
	s.reconciler.Render(RenderSnapshot{
		Candidates:        s.visible,
		Viewer:            s.viewerCandidateLocked(broadcast),
		Points:            s.cfg.Points,
		ViewFilter:        s.viewFilter,
		PresenceCommitted: broadcast != nil,
	})
}

func (s *DiscoverySession) viewerCandidateLocked(broadcast *domain.CommittedPresence) *domain.Candidate {
	if s.location == nil {
		return nil
	}
	viewer := &domain.Candidate{
		ID:         s.cfg.ViewerID,
		Name:       s.cfg.ViewerName,
		Coordinate: *s.location,
		IsViewer:   true,
	}
	if broadcast != nil {
		viewer.AvailableNow = true
		viewer.PresenceMessage = broadcast.Value.Message
		viewer.PresenceEmoji = broadcast.Value.Emoji
	}
	return viewer
}

func (s *DiscoverySession) snapshotLocked() DiscoverySnapshot {
	snap := DiscoverySnapshot{
		Status:           s.status,
		Candidates:       append([]domain.Candidate(nil), s.visible...),
		NearbyCount:      NearbyCount(s.visible),
		PermissionDenied: s.permissionDenied,
		ViewFilter:       s.viewFilter,
		Criteria:         s.criteria,
		Generation:       s.generation,
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	if s.location != nil {
		c := *s.location
		snap.Location = &c
	}
	return snap
}

func (s *DiscoverySession) listenersLocked() []func(DiscoverySnapshot) {
	return slices.Clone(s.listeners)
}

func notify(listeners []func(DiscoverySnapshot), snap DiscoverySnapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
