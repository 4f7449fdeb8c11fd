package usecases

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/pkg/geospatial"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
)

// ReconcileMode selects how marker handles follow the rendered snapshot.
type ReconcileMode string

const (
	// ReconcileRebuild removes every handle and recreates them on each render.
	ReconcileRebuild ReconcileMode = "rebuild"
	// ReconcileDiff creates, updates and removes handles keyed by owner id.
	ReconcileDiff ReconcileMode = "diff"
)

// RenderSnapshot is everything the map shows at one point in time.
type RenderSnapshot struct {
	Candidates        []domain.Candidate
	Viewer            *domain.Candidate
	Points            []domain.PointOfInterest
	ViewFilter        domain.ViewFilter
	PresenceCommitted bool
}

type placedMarker struct {
	handle domain.MarkerHandle
	spec   domain.MarkerSpec
}

// MapReconciler owns every marker handle on a map surface and keeps them in
// lockstep with the latest RenderSnapshot. It holds no selection state:
// clicks are forwarded to onSelect.
type MapReconciler struct {
	surface  ports.MapSurface
	mode     ReconcileMode
	onSelect func(ownerID string)
	log      *slog.Logger

	mu           sync.Mutex
	markers      map[string]placedMarker
	owners       map[domain.MarkerHandle]string
	last         *RenderSnapshot
	style        domain.MapStyle
	styleLoading bool
	pulse        bool
	pulseCenter  domain.Coordinate

	// loading is also written by surface calls made outside mu
	loading atomic.Bool
}

// NewMapReconciler creates a reconciler bound to surface.
func NewMapReconciler(surface ports.MapSurface, mode ReconcileMode, onSelect func(ownerID string), log *slog.Logger) *MapReconciler {
	if log == nil {
		log = slog.Default()
	}
	if mode != ReconcileDiff {
		mode = ReconcileRebuild
	}
	r := &MapReconciler{
		surface:  surface,
		mode:     mode,
		onSelect: onSelect,
		log:      log,
		markers:  make(map[string]placedMarker),
		owners:   make(map[domain.MarkerHandle]string),
		style:    domain.StyleStandard,
	}
	r.guard("register click handler", func() error {
		surface.OnMarkerClick(r.handleClick)
		return nil
	})
	return r
}

// Render brings the surface in line with snap. Surface failures are logged
// and put the reconciler in the loading state; they are never returned.
func (r *MapReconciler) Render(snap RenderSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = &snap
	if r.styleLoading {
		// re-attached once the style is ready
		return
	}
	r.apply(snap, r.mode == ReconcileRebuild)
}

// SetStyle switches the surface style. Markers are re-attached from the
// last snapshot once the surface reports the new style as loaded.
func (r *MapReconciler) SetStyle(style domain.MapStyle) error {
	if !style.Valid() {
		return fmt.Errorf("unknown map style %q", style)
	}

	r.mu.Lock()
	if style == r.style && !r.styleLoading {
		r.mu.Unlock()
		return nil
	}
	r.style = style
	r.styleLoading = true
	r.mu.Unlock()

	ok := r.guard("set style", func() error {
		return r.surface.SetStyle(style, func() { r.styleReady(style) })
	})
	if !ok {
		r.mu.Lock()
		r.styleLoading = false
		r.mu.Unlock()
		return domain.ErrMapSurfaceLoadFailed
	}
	return nil
}

// SetTerrain toggles the surface's terrain/pitch mode.
func (r *MapReconciler) SetTerrain(enabled bool) {
	r.guard("set terrain", func() error { return r.surface.SetTerrain(enabled) })
}

func (r *MapReconciler) styleReady(style domain.MapStyle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if style != r.style {
		// superseded by a newer style switch
		return
	}
	r.styleLoading = false

	// A style switch may drop the surface's layers, so every handle is
	// recreated regardless of mode.
	r.pulse = false
	if r.last != nil {
		r.apply(*r.last, true)
	}
}

// Clear removes every marker and hides the pulse.
func (r *MapReconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeAll()
	if r.pulse {
		r.guard("hide pulse", func() error { return r.surface.SetPulse(false, r.pulseCenter) })
		r.pulse = false
	}
	r.last = nil
}

// MarkerCount returns the number of live handles.
func (r *MapReconciler) MarkerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers)
}

// PulseVisible reports whether the radar pulse overlay is shown.
func (r *MapReconciler) PulseVisible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulse
}

// Loading reports whether the surface failed and the map should show an
// indefinite loading affordance.
func (r *MapReconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading.Load() || r.styleLoading
}

// Style returns the active (or pending) style.
func (r *MapReconciler) Style() domain.MapStyle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.style
}

// apply must be called with r.mu held.
func (r *MapReconciler) apply(snap RenderSnapshot, rebuild bool) {
	desired := DesiredMarkers(snap)
	r.loading.Store(false)

	if rebuild {
		r.removeAll()
		for _, spec := range desired {
			r.create(spec)
		}
	} else {
		r.diff(desired)
	}
	metrics.MarkersRendered.Observe(float64(len(r.markers)))

	visible := snap.PresenceCommitted && snap.ViewFilter.IncludesPeople()
	var center domain.Coordinate
	if snap.Viewer != nil {
		center = snap.Viewer.Coordinate
	}
	if visible != r.pulse || (visible && center != r.pulseCenter) {
		if r.guard("set pulse", func() error { return r.surface.SetPulse(visible, center) }) {
			r.pulse = visible
			r.pulseCenter = center
		}
	}
}

func (r *MapReconciler) diff(desired []domain.MarkerSpec) {
	keep := make(map[string]struct{}, len(desired))
	for _, spec := range desired {
		keep[spec.OwnerID] = struct{}{}
		placed, ok := r.markers[spec.OwnerID]
		switch {
		case !ok:
			r.create(spec)
		case placed.spec != spec:
			if r.guard("update marker", func() error { return r.surface.UpdateMarker(placed.handle, spec) }) {
				r.markers[spec.OwnerID] = placedMarker{handle: placed.handle, spec: spec}
			}
		}
	}
	for owner, placed := range r.markers {
		if _, ok := keep[owner]; !ok {
			r.remove(owner, placed)
		}
	}
}

func (r *MapReconciler) create(spec domain.MarkerSpec) {
	var handle domain.MarkerHandle
	ok := r.guard("create marker", func() error {
		h, err := r.surface.CreateMarker(spec)
		handle = h
		return err
	})
	if !ok {
		return
	}
	r.markers[spec.OwnerID] = placedMarker{handle: handle, spec: spec}
	r.owners[handle] = spec.OwnerID
}

func (r *MapReconciler) remove(owner string, placed placedMarker) {
	r.guard("remove marker", func() error { return r.surface.RemoveMarker(placed.handle) })
	delete(r.markers, owner)
	delete(r.owners, placed.handle)
}

func (r *MapReconciler) removeAll() {
	for owner, placed := range r.markers {
		r.remove(owner, placed)
	}
}

func (r *MapReconciler) handleClick(handle domain.MarkerHandle) {
	r.mu.Lock()
	owner, ok := r.owners[handle]
	r.mu.Unlock()

	if ok && r.onSelect != nil {
		r.onSelect(owner)
	}
}

// guard runs a surface call, converting errors and panics into the loading
// state. It reports whether the call succeeded.
func (r *MapReconciler) guard(op string, call func() error) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.surfaceFailed(op, fmt.Errorf("%w: panic: %v", domain.ErrMapSurfaceLoadFailed, rec))
			ok = false
		}
	}()
	if err := call(); err != nil {
		r.surfaceFailed(op, fmt.Errorf("%w: %w", domain.ErrMapSurfaceLoadFailed, err))
		return false
	}
	return true
}

func (r *MapReconciler) surfaceFailed(op string, err error) {
	metrics.SurfaceFailures.WithLabelValues(op).Inc()
	r.log.Error("map surface call failed", "op", op, "error", err)
	r.loading.Store(true)
}

// DesiredMarkers computes the marker specs for a snapshot: the viewer, the
// candidates the view filter shows, and matching points of interest.
func DesiredMarkers(snap RenderSnapshot) []domain.MarkerSpec {
	var specs []domain.MarkerSpec

	if snap.Viewer != nil {
		v := snap.Viewer
		specs = append(specs, domain.MarkerSpec{
			OwnerID:     v.ID,
			Kind:        domain.MarkerViewer,
			Coordinate:  v.Coordinate,
			Glyph:       Initial(v.Name, v.ID),
			Online:      true,
			LiveBadge:   v.AvailableNow,
			Approximate: v.CoordinateIsFallback,
			Emoji:       v.PresenceEmoji,
			Label:       v.PresenceMessage,
		})
	}

	if snap.ViewFilter.IncludesPeople() {
		for _, c := range snap.Candidates {
			if c.IsViewer {
				continue
			}
			if snap.ViewFilter == domain.ViewAvailable && !c.AvailableNow {
				continue
			}
			specs = append(specs, domain.MarkerSpec{
				OwnerID:     c.ID,
				Kind:        domain.MarkerCandidate,
				Coordinate:  c.Coordinate,
				Glyph:       Initial(c.Name, c.ID),
				Online:      true,
				LiveBadge:   c.AvailableNow,
				Approximate: c.CoordinateIsFallback,
				Emoji:       c.PresenceEmoji,
				Label:       geospatial.FormatDistancePtr(c.DistanceKm),
			})
		}
	}

	for _, p := range snap.Points {
		if !showsPoint(snap.ViewFilter, p.Category) {
			continue
		}
		specs = append(specs, domain.MarkerSpec{
			OwnerID:    "poi:" + p.ID,
			Kind:       domain.MarkerPointOfInterest,
			Coordinate: p.Coordinate,
			Glyph:      Initial(p.Name, p.ID),
			Label:      p.Name,
		})
	}
	return specs
}

func showsPoint(filter, category domain.ViewFilter) bool {
	switch filter {
	case domain.ViewAll, "":
		return true
	case domain.ViewPlaces, domain.ViewEvents:
		return filter == category
	}
	return false
}

// Initial returns the upper-cased first letter of name, falling back to id.
func Initial(name, id string) string {
	for _, s := range []string{strings.TrimSpace(name), strings.TrimSpace(id)} {
		if s == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(s)
		return string(unicode.ToUpper(r))
	}
	return "?"
}
