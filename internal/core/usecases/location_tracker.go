package usecases

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
)

// TrackerState is the lifecycle phase of a LocationTracker.
type TrackerState string

const (
	TrackerUninitialized TrackerState = "uninitialized"
	TrackerAcquiring     TrackerState = "acquiring"
	TrackerTracking      TrackerState = "tracking"
	TrackerError         TrackerState = "error"
)

// LocationUpdate is a location published downstream.
type LocationUpdate struct {
	Coordinate domain.Coordinate
	// PermissionDenied is set when Coordinate is the default region center
	// because the device refused access.
	PermissionDenied bool
	// Fallback is set whenever Coordinate is the default region center.
	Fallback bool
}

// LocationTrackerConfig tunes LocationTracker.
type LocationTrackerConfig struct {
	DefaultCenter        domain.Coordinate
	SignificantChangeDeg float64
	Debounce             time.Duration
	Watch                ports.WatchOptions
}

// DefaultLocationTrackerConfig returns a balanced watch that wakes on
// roughly 100m of movement, a 0.001° change filter and a 1s debounce.
func DefaultLocationTrackerConfig(center domain.Coordinate) LocationTrackerConfig {
	return LocationTrackerConfig{
		DefaultCenter:        center,
		SignificantChangeDeg: 0.001,
		Debounce:             time.Second,
		Watch: ports.WatchOptions{
			Accuracy:          ports.AccuracyBalanced,
			MinInterval:       10 * time.Second,
			MinDistanceMeters: 100,
		},
	}
}

var errTrackerStarted = errors.New("location tracker already started")

// LocationTracker acquires and watches the viewer's device location.
// Watch callbacks pass a significant-change filter and a debounce before
// they reach publish.
type LocationTracker struct {
	provider ports.LocationProvider
	clock    Clock
	cfg      LocationTrackerConfig
	publish  func(LocationUpdate)
	log      *slog.Logger

	mu           sync.Mutex
	state        TrackerState
	lastAccepted *domain.Coordinate
	lastKnown    *domain.Coordinate
	pending      *domain.Coordinate
	timer        Timer
	epoch        uint64
	unsubscribe  func()
	stopped      bool
}

// NewLocationTracker creates a tracker. publish is called outside the
// tracker's lock, possibly from a timer goroutine.
func NewLocationTracker(provider ports.LocationProvider, clock Clock, cfg LocationTrackerConfig, publish func(LocationUpdate), log *slog.Logger) *LocationTracker {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}
	if publish == nil {
		publish = func(LocationUpdate) {}
	}
	return &LocationTracker{
		provider: provider,
		clock:    clock,
		cfg:      cfg,
		publish:  publish,
		log:      log,
		state:    TrackerUninitialized,
	}
}

// Start requests permission, publishes a first location and begins the
// continuous watch. Denial or acquisition failure never blocks: the
// default center is published and the tracker moves to TrackerError.
func (t *LocationTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TrackerUninitialized {
		t.mu.Unlock()
		return errTrackerStarted
	}
	t.state = TrackerAcquiring
	t.mu.Unlock()

	granted, err := t.provider.RequestPermission(ctx)
	if err != nil || !granted {
		if err != nil {
			t.log.Warn("location permission request failed", "error", err)
		}
		t.fail(LocationUpdate{Coordinate: t.cfg.DefaultCenter, PermissionDenied: true, Fallback: true})
		return nil
	}

	loc, err := t.provider.CurrentLocation(ctx)
	if err != nil || !loc.Valid() {
		t.log.Warn("one-shot location failed, using default center", "error", err)
		t.fail(LocationUpdate{Coordinate: t.cfg.DefaultCenter, Fallback: true})
		return nil
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.state = TrackerTracking
	t.lastAccepted = &loc
	t.lastKnown = &loc
	t.mu.Unlock()

	t.publish(LocationUpdate{Coordinate: loc})

	unsubscribe, err := t.provider.Watch(t.cfg.Watch, t.onWatch)
	if err != nil {
		t.log.Warn("location watch failed, keeping one-shot location", "error", err)
		return nil
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		unsubscribe()
		return nil
	}
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
	return nil
}

func (t *LocationTracker) fail(u LocationUpdate) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.state = TrackerError
	c := u.Coordinate
	t.lastKnown = &c
	t.mu.Unlock()

	t.publish(u)
}

func (t *LocationTracker) onWatch(c domain.Coordinate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.state != TrackerTracking || !c.Valid() {
		return
	}
	if t.lastAccepted != nil &&
		math.Abs(c.Latitude-t.lastAccepted.Latitude) < t.cfg.SignificantChangeDeg &&
		math.Abs(c.Longitude-t.lastAccepted.Longitude) < t.cfg.SignificantChangeDeg {
		metrics.LocationUpdates.WithLabelValues("dropped").Inc()
		return
	}
	metrics.LocationUpdates.WithLabelValues("accepted").Inc()

	t.lastAccepted = &c
	t.pending = &c
	if t.timer != nil {
		t.timer.Stop()
	}
	t.epoch++
	epoch := t.epoch
	t.timer = t.clock.AfterFunc(t.cfg.Debounce, func() { t.flush(epoch) })
}

func (t *LocationTracker) flush(epoch uint64) {
	t.mu.Lock()
	if epoch != t.epoch || t.stopped || t.pending == nil {
		t.mu.Unlock()
		return
	}
	c := *t.pending
	t.pending = nil
	t.timer = nil
	t.lastKnown = &c
	t.mu.Unlock()

	metrics.LocationUpdates.WithLabelValues("published").Inc()
	t.publish(LocationUpdate{Coordinate: c})
}

// FlushPending cancels the debounce timer and publishes a pending update
// right away. It reports whether anything was published.
func (t *LocationTracker) FlushPending() bool {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.epoch++
	if t.stopped || t.pending == nil {
		t.mu.Unlock()
		return false
	}
	c := *t.pending
	t.pending = nil
	t.lastKnown = &c
	t.mu.Unlock()

	t.publish(LocationUpdate{Coordinate: c})
	return true
}

// Stop cancels any pending debounce and ends the watch. Safe to call twice.
func (t *LocationTracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.epoch++
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns the current lifecycle phase.
func (t *LocationTracker) State() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastKnown returns the last published location.
func (t *LocationTracker) LastKnown() (domain.Coordinate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastKnown == nil {
		return domain.Coordinate{}, false
	}
	return *t.lastKnown, true
}
