package usecases_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/core/usecases"
)

type publishRecorder struct {
	mu      sync.Mutex
	updates []usecases.LocationUpdate
}

func (r *publishRecorder) publish(u usecases.LocationUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *publishRecorder) all() []usecases.LocationUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usecases.LocationUpdate(nil), r.updates...)
}

func newTracker(provider *mockProvider, clock *fakeClock) (*usecases.LocationTracker, *publishRecorder) {
	rec := &publishRecorder{}
	cfg := usecases.DefaultLocationTrackerConfig(theHague.Center())
	return usecases.NewLocationTracker(provider, clock, cfg, rec.publish, nil), rec
}

func TestLocationTracker_Start_Granted(t *testing.T) {
	provider := &mockProvider{granted: true, current: viewerAt}
	tracker, rec := newTracker(provider, newFakeClock())

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracker.State() != usecases.TrackerTracking {
		t.Errorf("expected tracking, got %s", tracker.State())
	}
	updates := rec.all()
	if len(updates) != 1 || updates[0].Coordinate != viewerAt || updates[0].Fallback {
		t.Fatalf("expected one real update, got %+v", updates)
	}
	if provider.watchOpts.Accuracy != ports.AccuracyBalanced || provider.watchOpts.MinDistanceMeters != 100 {
		t.Errorf("unexpected watch options %+v", provider.watchOpts)
	}

	if err := tracker.Start(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
}

func TestLocationTracker_Start_Denied(t *testing.T) {
	provider := &mockProvider{granted: false}
	tracker, rec := newTracker(provider, newFakeClock())

	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("denial must not return an error, got %v", err)
	}
	if tracker.State() != usecases.TrackerError {
		t.Errorf("expected error state, got %s", tracker.State())
	}
	updates := rec.all()
	if len(updates) != 1 {
		t.Fatalf("expected the default center to be published, got %+v", updates)
	}
	if !updates[0].PermissionDenied || updates[0].Coordinate != theHague.Center() {
		t.Errorf("unexpected fallback update %+v", updates[0])
	}
	if provider.callback != nil {
		t.Error("watch must not start after denial")
	}
}

func TestLocationTracker_Start_OneShotFails(t *testing.T) {
	provider := &mockProvider{granted: true, currentErr: errBoom}
	tracker, rec := newTracker(provider, newFakeClock())

	_ = tracker.Start(context.Background())
	updates := rec.all()
	if len(updates) != 1 || !updates[0].Fallback || updates[0].PermissionDenied {
		t.Fatalf("unexpected updates %+v", updates)
	}
	if c, ok := tracker.LastKnown(); !ok || c != theHague.Center() {
		t.Errorf("expected last known to be the default center, got %+v", c)
	}
}

func TestLocationTracker_SubThresholdUpdateDropped(t *testing.T) {
	provider := &mockProvider{granted: true, current: viewerAt}
	clock := newFakeClock()
	tracker, rec := newTracker(provider, clock)
	_ = tracker.Start(context.Background())

	provider.emit(domain.Coordinate{Latitude: viewerAt.Latitude + 0.0004, Longitude: viewerAt.Longitude + 0.0009})
	if clock.Pending() != 0 {
		t.Error("sub-threshold update must not arm the debounce")
	}
	clock.Advance(5 * time.Second)
	if n := len(rec.all()); n != 1 {
		t.Errorf("expected no new publish, got %d updates", n)
	}
}

func TestLocationTracker_Debounce(t *testing.T) {
	provider := &mockProvider{granted: true, current: viewerAt}
	clock := newFakeClock()
	tracker, rec := newTracker(provider, clock)
	_ = tracker.Start(context.Background())

	first := domain.Coordinate{Latitude: 52.0720, Longitude: 4.3007}
	second := domain.Coordinate{Latitude: 52.0740, Longitude: 4.3007}
	provider.emit(first)
	clock.Advance(500 * time.Millisecond)
	provider.emit(second)
	clock.Advance(500 * time.Millisecond)

	if n := len(rec.all()); n != 1 {
		t.Fatalf("burst must not publish inside the quiet window, got %d updates", n)
	}

	clock.Advance(600 * time.Millisecond)
	updates := rec.all()
	if len(updates) != 2 {
		t.Fatalf("expected one collapsed publish, got %d updates", len(updates))
	}
	if updates[1].Coordinate != second {
		t.Errorf("last value must win, got %+v", updates[1].Coordinate)
	}
	if c, _ := tracker.LastKnown(); c != second {
		t.Errorf("expected last known %+v, got %+v", second, c)
	}
}

func TestLocationTracker_FlushPending(t *testing.T) {
	provider := &mockProvider{granted: true, current: viewerAt}
	clock := newFakeClock()
	tracker, rec := newTracker(provider, clock)
	_ = tracker.Start(context.Background())

	if tracker.FlushPending() {
		t.Error("nothing pending yet")
	}
	provider.emit(domain.Coordinate{Latitude: 52.0800, Longitude: 4.3007})
	if !tracker.FlushPending() {
		t.Fatal("expected pending update to flush")
	}
	clock.Advance(2 * time.Second)
	if n := len(rec.all()); n != 2 {
		t.Errorf("expected exactly one flushed publish, got %d updates", n)
	}
}

func TestLocationTracker_StopCancelsDebounce(t *testing.T) {
	provider := &mockProvider{granted: true, current: viewerAt}
	clock := newFakeClock()
	tracker, rec := newTracker(provider, clock)
	_ = tracker.Start(context.Background())

	provider.emit(domain.Coordinate{Latitude: 52.0800, Longitude: 4.3007})
	tracker.Stop()
	tracker.Stop()

	if clock.Pending() != 0 {
		t.Error("stop must cancel the pending debounce timer")
	}
	if provider.Unsubscribes() != 1 {
		t.Errorf("expected watch unsubscribed once, got %d", provider.Unsubscribes())
	}
	clock.Advance(2 * time.Second)
	provider.emit(domain.Coordinate{Latitude: 52.0900, Longitude: 4.3007})
	if n := len(rec.all()); n != 1 {
		t.Errorf("expected no publish after stop, got %d updates", n)
	}
}
