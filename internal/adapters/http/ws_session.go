package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/core/usecases"
)

var errDeviceTimeout = errors.New("device did not answer in time")

// Frame is one JSON message on the live map socket.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outFrame is a server to client message.
type outFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type markerFrame struct {
	Handle domain.MarkerHandle `json:"handle"`
	Spec   *domain.MarkerSpec  `json:"spec,omitempty"`
}

type pulseFrame struct {
	Visible bool              `json:"visible"`
	Center  domain.Coordinate `json:"center"`
}

type errorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MapSession adapts one websocket client to ports.LocationProvider and
// ports.MapSurface: device requests go out as frames and the answers come
// back through Handle.
type MapSession struct {
	send    func(outFrame) error
	timeout time.Duration
	log     *slog.Logger

	mu         sync.Mutex
	permission chan bool
	location   chan domain.Coordinate
	watch      func(domain.Coordinate)
	watchSeq   uint64
	onClick    func(domain.MarkerHandle)
	styleReady func()
	styleWant  domain.MapStyle
	discovery  *usecases.DiscoverySession
}

var (
	_ ports.LocationProvider = (*MapSession)(nil)
	_ ports.MapSurface       = (*MapSession)(nil)
)

// NewMapSession creates a session writing frames with send. timeout bounds
// permission and one-shot location requests.
func NewMapSession(send func(outFrame) error, timeout time.Duration, log *slog.Logger) *MapSession {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &MapSession{send: send, timeout: timeout, log: log}
}

// Attach binds the discovery session that client commands drive.
func (m *MapSession) Attach(d *usecases.DiscoverySession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovery = d
}

// RequestPermission asks the device for location access and waits for the answer.
func (m *MapSession) RequestPermission(ctx context.Context) (bool, error) {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.permission = ch
	m.mu.Unlock()

	if err := m.send(outFrame{Type: "request_permission"}); err != nil {
		return false, err
	}
	select {
	case granted := <-ch:
		return granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(m.timeout):
		return false, errDeviceTimeout
	}
}

// CurrentLocation asks the device for a one-shot fix.
func (m *MapSession) CurrentLocation(ctx context.Context) (domain.Coordinate, error) {
	ch := make(chan domain.Coordinate, 1)
	m.mu.Lock()
	m.location = ch
	m.mu.Unlock()

	if err := m.send(outFrame{Type: "request_location"}); err != nil {
		return domain.Coordinate{}, err
	}
	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		return domain.Coordinate{}, ctx.Err()
	case <-time.After(m.timeout):
		return domain.Coordinate{}, errDeviceTimeout
	}
}

// Watch starts continuous updates on the device. Only the latest watch is live.
func (m *MapSession) Watch(opts ports.WatchOptions, callback func(domain.Coordinate)) (func(), error) {
	m.mu.Lock()
	m.watchSeq++
	seq := m.watchSeq
	m.watch = callback
	m.mu.Unlock()

	if err := m.send(outFrame{Type: "watch", Data: opts}); err != nil {
		m.mu.Lock()
		if m.watchSeq == seq {
			m.watch = nil
		}
		m.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			live := m.watchSeq == seq
			if live {
				m.watch = nil
			}
			m.mu.Unlock()
			if live {
				_ = m.send(outFrame{Type: "unwatch"})
			}
		})
	}, nil
}

// CreateMarker issues a new handle and tells the client to draw it.
func (m *MapSession) CreateMarker(spec domain.MarkerSpec) (domain.MarkerHandle, error) {
	handle := domain.MarkerHandle(uuid.NewString())
	if err := m.send(outFrame{Type: "marker_create", Data: markerFrame{Handle: handle, Spec: &spec}}); err != nil {
		return "", err
	}
	return handle, nil
}

func (m *MapSession) UpdateMarker(handle domain.MarkerHandle, spec domain.MarkerSpec) error {
	return m.send(outFrame{Type: "marker_update", Data: markerFrame{Handle: handle, Spec: &spec}})
}

func (m *MapSession) RemoveMarker(handle domain.MarkerHandle) error {
	return m.send(outFrame{Type: "marker_remove", Data: markerFrame{Handle: handle}})
}

func (m *MapSession) SetPulse(visible bool, center domain.Coordinate) error {
	return m.send(outFrame{Type: "pulse", Data: pulseFrame{Visible: visible, Center: center}})
}

// SetStyle switches the client style. onReady runs when the client reports
// style_ready for the same style.
func (m *MapSession) SetStyle(style domain.MapStyle, onReady func()) error {
	m.mu.Lock()
	m.styleWant = style
	m.styleReady = onReady
	m.mu.Unlock()
	return m.send(outFrame{Type: "style", Data: map[string]domain.MapStyle{"style": style}})
}

func (m *MapSession) SetTerrain(enabled bool) error {
	return m.send(outFrame{Type: "terrain", Data: map[string]bool{"enabled": enabled}})
}

func (m *MapSession) OnMarkerClick(handler func(domain.MarkerHandle)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClick = handler
}

// Handle dispatches one client frame. Errors are reported back to the
// client as error frames.
func (m *MapSession) Handle(ctx context.Context, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		m.fail("bad_request", "invalid JSON")
		return
	}
	if err := m.dispatch(ctx, f); err != nil {
		code := "bad_request"
		switch {
		case errors.Is(err, domain.ErrPresenceCommitFailed), errors.Is(err, domain.ErrFetchFailed):
			code = "fetch_failed"
		case errors.Is(err, domain.ErrMapSurfaceLoadFailed):
			code = "surface_failed"
		}
		m.fail(code, err.Error())
	}
}

func (m *MapSession) dispatch(ctx context.Context, f Frame) error {
	switch f.Type {
	case "permission":
		var body struct {
			Granted bool `json:"granted"`
		}
		if err := decode(f.Data, &body); err != nil {
			return err
		}
		m.mu.Lock()
		ch := m.permission
		m.permission = nil
		m.mu.Unlock()
		if ch != nil {
			ch <- body.Granted
		}
		return nil

	case "location":
		var c domain.Coordinate
		if err := decode(f.Data, &c); err != nil {
			return err
		}
		if !c.Valid() {
			return fmt.Errorf("%w: %.6f,%.6f", domain.ErrInvalidCoordinate, c.Latitude, c.Longitude)
		}
		m.mu.Lock()
		ch, watch := m.location, m.watch
		m.location = nil
		m.mu.Unlock()
		switch {
		case ch != nil:
			ch <- c
		case watch != nil:
			watch(c)
		}
		return nil

	case "marker_click":
		var body markerFrame
		if err := decode(f.Data, &body); err != nil {
			return err
		}
		m.mu.Lock()
		click := m.onClick
		m.mu.Unlock()
		if click != nil {
			click(body.Handle)
		}
		return nil

	case "style_ready":
		var body struct {
			Style domain.MapStyle `json:"style"`
		}
		if err := decode(f.Data, &body); err != nil {
			return err
		}
		m.mu.Lock()
		ready := m.styleReady
		if body.Style != m.styleWant {
			ready = nil
		} else {
			m.styleReady = nil
		}
		m.mu.Unlock()
		if ready != nil {
			ready()
		}
		return nil
	}

	m.mu.Lock()
	d := m.discovery
	m.mu.Unlock()
	if d == nil {
		return fmt.Errorf("session not ready for %q", f.Type)
	}
	return m.command(ctx, d, f)
}

// command handles frames that drive the discovery session.
func (m *MapSession) command(ctx context.Context, d *usecases.DiscoverySession, f Frame) error {
	switch f.Type {
	case "criteria":
		var body struct {
			RadiusKm  float64 `json:"radius_km"`
			Available string  `json:"available"`
			Skills    string  `json:"skills"`
			Languages string  `json:"languages"`
		}
		if err := decode(f.Data, &body); err != nil {
			return err
		}
		if !validRadius(body.RadiusKm) {
			return fmt.Errorf("radius_km must be between 0 and %d", maxRadiusKm)
		}
		criteria, err := usecases.ParseCriteria(body.RadiusKm, body.Available, body.Skills, body.Languages)
		if err != nil {
			return err
		}
		return d.SetCriteria(criteria)

	case "view":
		var body struct {
			Filter domain.ViewFilter `json:"filter"`
		}
		if err := decode(f.Data, &body); err != nil {
			return err
		}
		if !body.Filter.Valid() {
			return fmt.Errorf("unknown view filter %q", body.Filter)
		}
		d.SetViewFilter(body.Filter)
		return nil

	case "set_style":
		var body struct {
			Style domain.MapStyle `json:"style"`
		}
		if err := decode(f.Data, &body); err != nil {
			return err
		}
		return d.Map().SetStyle(body.Style)

	case "set_terrain":
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := decode(f.Data, &body); err != nil {
			return err
		}
		d.Map().SetTerrain(body.Enabled)
		return nil

	case "refresh":
		d.Refresh()
		return nil

	case "retry":
		d.Retry()
		return nil

	case "presence_edit":
		draft, err := d.Presence().BeginEditing(ctx)
		if err != nil {
			return err
		}
		return m.send(outFrame{Type: "presence_draft", Data: draft})

	case "presence_draft":
		var body struct {
			DurationMinutes *int    `json:"duration_minutes"`
			Message         *string `json:"message"`
			Emoji           *string `json:"emoji"`
		}
		if err := decode(f.Data, &body); err != nil {
			return err
		}
		draft, err := d.Presence().UpdateDraft(func(v *domain.ViewerPresence) {
			if body.DurationMinutes != nil {
				v.DurationMinutes = *body.DurationMinutes
			}
			if body.Message != nil {
				v.Message = *body.Message
			}
			if body.Emoji != nil {
				v.Emoji = *body.Emoji
			}
		})
		if err != nil {
			return err
		}
		return m.send(outFrame{Type: "presence_draft", Data: draft})

	case "presence_commit":
		_, err := d.Presence().Commit(ctx)
		return err

	case "presence_cancel":
		d.Presence().Cancel()
		return nil

	case "presence_offline":
		return d.Presence().GoOffline(ctx)
	}
	return fmt.Errorf("unknown frame type %q", f.Type)
}

func (m *MapSession) fail(code, msg string) {
	if err := m.send(outFrame{Type: "error", Data: errorFrame{Code: code, Message: msg}}); err != nil {
		m.log.Debug("send error frame failed", "error", err)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

// presenceFrame is the client view of the viewer's presence state.
type presenceFrame struct {
	Phase string               `json:"phase"`
	State domain.PresenceState `json:"state"`
}

// openDiscovery builds the discovery session behind a live map connection
// and wires its snapshots and presence changes back to the client.
func openDiscovery(ctx context.Context, deps *Dependencies, m *MapSession, viewerID, viewerName string) *usecases.DiscoverySession {
	settings := deps.Settings

	var points []domain.PointOfInterest
	if deps.Points != nil {
		var err error
		if points, err = deps.Points.ListWithin(ctx, settings.Region); err != nil {
			m.log.Warn("load points of interest failed", "error", err)
		}
	}

	var (
		reader   ports.PresenceReader
		remote   ports.PresenceUpdater
		messages ports.PresenceMessageWriter
	)
	if deps.Presence != nil {
		reader, remote, messages = deps.Presence, deps.Presence, deps.Presence
	}

	d := usecases.NewDiscoverySession(usecases.DiscoveryDeps{
		Finder:    deps.Candidates,
		Provider:  m,
		Surface:   m,
		Remote:    remote,
		Messages:  messages,
		Reader:    reader,
		Store:     deps.PresenceStore,
		Scheduler: deps.Scheduler,
		Publisher: deps.Publisher,
		Log:       m.log,
	}, usecases.DiscoveryConfig{
		ViewerID:   viewerID,
		ViewerName: viewerName,
		Tracker:    settings.Tracker,
		Presence:   settings.Presence,
		Criteria:   domain.FilterCriteria{RadiusKm: settings.DefaultRadiusKm},
		ViewFilter: domain.ViewAll,
		Mode:       settings.ReconcileMode,
		Points:     points,
		OnSelect: func(ownerID string) {
			_ = m.send(outFrame{Type: "selected", Data: map[string]string{"owner_id": ownerID}})
		},
	})

	d.Subscribe(func(snap usecases.DiscoverySnapshot) {
		_ = m.send(outFrame{Type: "snapshot", Data: snap})
	})
	d.Presence().Subscribe(func(st domain.PresenceState) {
		_ = m.send(outFrame{Type: "presence", Data: presenceFrame{Phase: st.Phase(), State: st}})
	})
	m.Attach(d)

	if settings.DefaultStyle.Valid() && settings.DefaultStyle != domain.StyleStandard {
		if err := d.Map().SetStyle(settings.DefaultStyle); err != nil {
			m.log.Warn("apply default style failed", "error", err)
		}
	}
	return d
}
