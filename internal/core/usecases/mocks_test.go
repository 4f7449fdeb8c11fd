package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/core/usecases"
)

var errBoom = errors.New("boom")

// --- Fake clock ---

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) usecases.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every due timer in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Pending counts timers that are neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// --- Mock GeoQueryService / CandidateSource ---

type mockGeo struct {
	queryNearbyFn func(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error)
}

func (m *mockGeo) QueryNearby(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error) {
	if m.queryNearbyFn != nil {
		return m.queryNearbyFn(ctx, lat, lng, radiusKm)
	}
	return nil, nil
}

type mockSource struct {
	listAllFn func(ctx context.Context) ([]domain.RawCandidate, error)
}

func (m *mockSource) ListAll(ctx context.Context) ([]domain.RawCandidate, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: make(map[string][]byte)} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("cache miss: %s", key)
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Mock presence collaborators ---

type availabilityCall struct {
	UserID string
	Status domain.AvailabilityStatus
	TTL    *int
	At     time.Time
}

type mockUpdater struct {
	mu                sync.Mutex
	calls             []availabilityCall
	setAvailabilityFn func(ctx context.Context, userID string, status domain.AvailabilityStatus, ttl *int) error
}

func (m *mockUpdater) SetAvailability(ctx context.Context, userID string, status domain.AvailabilityStatus, ttl *int, at time.Time) error {
	m.mu.Lock()
	m.calls = append(m.calls, availabilityCall{UserID: userID, Status: status, TTL: ttl, At: at})
	m.mu.Unlock()
	if m.setAvailabilityFn != nil {
		return m.setAvailabilityFn(ctx, userID, status, ttl)
	}
	return nil
}

func (m *mockUpdater) Calls() []availabilityCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]availabilityCall(nil), m.calls...)
}

type mockMessages struct {
	mu           sync.Mutex
	messages     []string
	setMessageFn func(ctx context.Context, userID, message, emoji string) error
}

func (m *mockMessages) SetMessage(ctx context.Context, userID, message, emoji string) error {
	if m.setMessageFn != nil {
		if err := m.setMessageFn(ctx, userID, message, emoji); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, emoji+" "+message)
	return nil
}

// Last returns the most recent stored "emoji message" pair.
func (m *mockMessages) Last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1]
}

type mockStore struct {
	meta    *domain.PresenceMeta
	saved   []domain.PresenceMeta
	loadErr error
}

func (m *mockStore) LoadMeta(ctx context.Context, userID string) (*domain.PresenceMeta, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.meta, nil
}

func (m *mockStore) SaveMeta(ctx context.Context, userID string, meta domain.PresenceMeta) error {
	m.saved = append(m.saved, meta)
	return nil
}

type mockReader struct {
	getPresenceFn func(ctx context.Context, userID string) (*domain.CommittedPresence, error)
}

func (m *mockReader) GetPresence(ctx context.Context, userID string) (*domain.CommittedPresence, error) {
	if m.getPresenceFn != nil {
		return m.getPresenceFn(ctx, userID)
	}
	return nil, nil
}

type scheduledExpiry struct {
	CommittedAt time.Time
	ExpiresAt   time.Time
}

type mockScheduler struct {
	scheduled []scheduledExpiry
}

func (m *mockScheduler) ScheduleExpiry(ctx context.Context, userID string, committedAt, expiresAt time.Time) error {
	m.scheduled = append(m.scheduled, scheduledExpiry{CommittedAt: committedAt, ExpiresAt: expiresAt})
	return nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.ViewerPresence
}

func (m *mockPublisher) PublishPresence(ctx context.Context, userID string, state domain.ViewerPresence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, state)
	return nil
}

// --- Mock LocationProvider ---

type mockProvider struct {
	mu           sync.Mutex
	granted      bool
	permErr      error
	current      domain.Coordinate
	currentErr   error
	watchErr     error
	watchOpts    ports.WatchOptions
	callback     func(domain.Coordinate)
	unsubscribes int
}

func (m *mockProvider) RequestPermission(ctx context.Context) (bool, error) {
	return m.granted, m.permErr
}

func (m *mockProvider) CurrentLocation(ctx context.Context) (domain.Coordinate, error) {
	return m.current, m.currentErr
}

func (m *mockProvider) Watch(opts ports.WatchOptions, cb func(domain.Coordinate)) (func(), error) {
	if m.watchErr != nil {
		return nil, m.watchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchOpts = opts
	m.callback = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.unsubscribes++
		m.callback = nil
	}, nil
}

// emit simulates a device location callback.
func (m *mockProvider) emit(c domain.Coordinate) {
	m.mu.Lock()
	cb := m.callback
	m.mu.Unlock()
	if cb != nil {
		cb(c)
	}
}

func (m *mockProvider) Unsubscribes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribes
}

// --- Fake MapSurface ---

type fakeSurface struct {
	mu          sync.Mutex
	next        int
	markers     map[domain.MarkerHandle]domain.MarkerSpec
	created     int
	updated     int
	removed     int
	pulseCalls  int
	pulse       bool
	styles      []domain.MapStyle
	onReady     func()
	readyNow    bool
	onClick     func(domain.MarkerHandle)
	terrain     bool
	createErr   error
	createPanic bool
	styleErr    error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{markers: make(map[domain.MarkerHandle]domain.MarkerSpec)}
}

func (f *fakeSurface) CreateMarker(spec domain.MarkerSpec) (domain.MarkerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createPanic {
		panic("surface not attached")
	}
	if f.createErr != nil {
		return "", f.createErr
	}
	f.next++
	h := domain.MarkerHandle(fmt.Sprintf("m%d", f.next))
	f.markers[h] = spec
	f.created++
	return h, nil
}

func (f *fakeSurface) UpdateMarker(h domain.MarkerHandle, spec domain.MarkerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markers[h]; !ok {
		return fmt.Errorf("unknown marker %s", h)
	}
	f.markers[h] = spec
	f.updated++
	return nil
}

func (f *fakeSurface) RemoveMarker(h domain.MarkerHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.markers, h)
	f.removed++
	return nil
}

func (f *fakeSurface) SetPulse(visible bool, center domain.Coordinate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulse = visible
	f.pulseCalls++
	return nil
}

func (f *fakeSurface) SetStyle(style domain.MapStyle, onReady func()) error {
	f.mu.Lock()
	if f.styleErr != nil {
		f.mu.Unlock()
		return f.styleErr
	}
	f.styles = append(f.styles, style)
	// a style switch drops every layer
	f.markers = make(map[domain.MarkerHandle]domain.MarkerSpec)
	f.pulse = false
	now := f.readyNow
	if !now {
		f.onReady = onReady
	}
	f.mu.Unlock()

	if now {
		onReady()
	}
	return nil
}

func (f *fakeSurface) SetTerrain(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terrain = enabled
	return nil
}

func (f *fakeSurface) OnMarkerClick(handler func(domain.MarkerHandle)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClick = handler
}

// finishStyle reports the pending style as loaded.
func (f *fakeSurface) finishStyle() {
	f.mu.Lock()
	ready := f.onReady
	f.onReady = nil
	f.mu.Unlock()
	if ready != nil {
		ready()
	}
}

func (f *fakeSurface) click(owner string) {
	f.mu.Lock()
	var handle domain.MarkerHandle
	for h, spec := range f.markers {
		if spec.OwnerID == owner {
			handle = h
		}
	}
	fn := f.onClick
	f.mu.Unlock()
	if fn != nil {
		fn(handle)
	}
}

// byOwner returns the live marker specs keyed by owner id.
func (f *fakeSurface) byOwner() map[string]domain.MarkerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.MarkerSpec, len(f.markers))
	for _, spec := range f.markers {
		out[spec.OwnerID] = spec
	}
	return out
}

func (f *fakeSurface) PulseVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulse
}

func ptr[T any](v T) *T { return &v }
