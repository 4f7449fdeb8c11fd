package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
)

// PresenceDeps are the collaborators of a PresenceController. Only Remote is
// required.
type PresenceDeps struct {
	Remote ports.PresenceUpdater
	// Messages receives the message and emoji of every commit before the
	// remote status flips to available.
	Messages  ports.PresenceMessageWriter
	Store     ports.PresenceStore
	Scheduler ports.ExpiryScheduler
	Publisher ports.EventPublisher
	Clock     Clock
	Log       *slog.Logger
}

// PresenceConfig tunes a PresenceController.
type PresenceConfig struct {
	UserID          string
	AllowedEmojis   []string
	DefaultDuration int
	MaxMessageLen   int
}

// PresenceController is the staged/committed state machine of the viewer's
// own availability broadcast.
type PresenceController struct {
	deps PresenceDeps
	cfg  PresenceConfig

	// op serializes Commit, GoOffline and expiry so their remote effects
	// land in call order. mu is never held across a remote call.
	op sync.Mutex

	mu        sync.Mutex
	state     domain.PresenceState
	timer     Timer
	epoch     uint64
	listeners []func(domain.PresenceState)
	changed   []domain.PresenceState
}

// NewPresenceController creates a controller in the offline state.
func NewPresenceController(deps PresenceDeps, cfg PresenceConfig) *PresenceController {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if len(cfg.AllowedEmojis) == 0 {
		cfg.AllowedEmojis = domain.DefaultPresenceEmojis
	}
	if cfg.DefaultDuration == 0 {
		cfg.DefaultDuration = domain.DefaultPresenceMins
	}
	if cfg.MaxMessageLen <= 0 || cfg.MaxMessageLen > domain.MaxPresenceMessage {
		cfg.MaxMessageLen = domain.MaxPresenceMessage
	}
	return &PresenceController{deps: deps, cfg: cfg, state: domain.PresenceOffline{}}
}

// Subscribe registers fn to receive every state change. fn is called
// without the controller's lock held; it may read the controller but must
// not call Commit or GoOffline.
func (p *PresenceController) Subscribe(fn func(domain.PresenceState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// State returns the current state.
func (p *PresenceController) State() domain.PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Broadcast returns the value currently visible to others, if any. A
// committed value stays visible while the editor is open.
func (p *PresenceController) Broadcast() *domain.CommittedPresence {
	p.mu.Lock()
	defer p.mu.Unlock()
	return broadcastOf(p.state)
}

// IsBroadcasting reports whether a committed value is live.
func (p *PresenceController) IsBroadcasting() bool {
	return p.Broadcast() != nil
}

func broadcastOf(state domain.PresenceState) *domain.CommittedPresence {
	switch st := state.(type) {
	case domain.PresenceCommitted:
		c := st.CommittedPresence
		return &c
	case domain.PresenceDrafting:
		if st.Committed != nil {
			c := *st.Committed
			return &c
		}
	}
	return nil
}

// BeginEditing opens the editor. From offline the draft is seeded from the
// locally persisted metadata; from committed it is re-seeded from the
// committed value. While already drafting the current draft is returned.
func (p *PresenceController) BeginEditing(ctx context.Context) (domain.ViewerPresence, error) {
	p.mu.Lock()
	draft, ok := p.reopenLocked()
	p.unlockAndNotify()
	if ok {
		return draft, nil
	}

	seeded := p.seedDraft(ctx)

	p.mu.Lock()
	defer p.unlockAndNotify()
	if draft, ok := p.reopenLocked(); ok {
		return draft, nil
	}
	p.setState(domain.PresenceDrafting{Draft: seeded})
	return seeded, nil
}

// reopenLocked handles BeginEditing for every state but offline.
func (p *PresenceController) reopenLocked() (domain.ViewerPresence, bool) {
	switch st := p.state.(type) {
	case domain.PresenceDrafting:
		return st.Draft, true
	case domain.PresenceCommitted:
		committed := st.CommittedPresence
		draft := committed.Value
		p.setState(domain.PresenceDrafting{Draft: draft, Committed: &committed})
		return draft, true
	}
	return domain.ViewerPresence{}, false
}

func (p *PresenceController) seedDraft(ctx context.Context) domain.ViewerPresence {
	draft := domain.ViewerPresence{
		IsAvailable:     true,
		DurationMinutes: p.cfg.DefaultDuration,
		Emoji:           p.cfg.AllowedEmojis[0],
	}
	if p.deps.Store == nil {
		return draft
	}
	meta, err := p.deps.Store.LoadMeta(ctx, p.cfg.UserID)
	if err != nil {
		p.deps.Log.Debug("no stored presence meta", "user_id", p.cfg.UserID, "error", err)
	} else if meta != nil {
		draft.Message = meta.Message
		if p.emojiAllowed(meta.Emoji) {
			draft.Emoji = meta.Emoji
		}
	}
	return draft
}

// UpdateDraft applies edit to the open draft.
func (p *PresenceController) UpdateDraft(edit func(*domain.ViewerPresence)) (domain.ViewerPresence, error) {
	p.mu.Lock()
	defer p.unlockAndNotify()

	st, ok := p.state.(domain.PresenceDrafting)
	if !ok {
		return domain.ViewerPresence{}, domain.ErrNotEditing
	}
	edit(&st.Draft)
	p.setState(st)
	return st.Draft, nil
}

// Commit validates and broadcasts the draft. A remote failure keeps the
// controller in the drafting state with the draft untouched. Edits made
// while the remote call is in flight are not part of the commit.
func (p *PresenceController) Commit(ctx context.Context) (domain.CommittedPresence, error) {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	st, ok := p.state.(domain.PresenceDrafting)
	p.mu.Unlock()
	if !ok {
		return domain.CommittedPresence{}, domain.ErrNotEditing
	}

	value, err := p.normalize(st.Draft)
	if err != nil {
		return domain.CommittedPresence{}, err
	}

	if p.deps.Store != nil {
		meta := domain.PresenceMeta{Message: value.Message, Emoji: value.Emoji}
		if err := p.deps.Store.SaveMeta(ctx, p.cfg.UserID, meta); err != nil {
			p.deps.Log.Warn("save presence meta failed", "user_id", p.cfg.UserID, "error", err)
		}
	}
	if p.deps.Messages != nil {
		if err := p.deps.Messages.SetMessage(ctx, p.cfg.UserID, value.Message, value.Emoji); err != nil {
			metrics.PresenceTransitions.WithLabelValues("commit_failed").Inc()
			return domain.CommittedPresence{}, fmt.Errorf("%w: %w", domain.ErrPresenceCommitFailed, err)
		}
	}

	now := p.deps.Clock.Now()
	ttl := value.DurationMinutes
	if err := p.deps.Remote.SetAvailability(ctx, p.cfg.UserID, domain.StatusAvailable, &ttl, now); err != nil {
		metrics.PresenceTransitions.WithLabelValues("commit_failed").Inc()
		return domain.CommittedPresence{}, fmt.Errorf("%w: %w", domain.ErrPresenceCommitFailed, err)
	}

	value.CommittedAt = &now
	committed := domain.CommittedPresence{
		Value:     value,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Minute),
	}
	p.mu.Lock()
	p.arm(time.Duration(ttl) * time.Minute)
	p.setState(domain.PresenceCommitted{CommittedPresence: committed})
	p.unlockAndNotify()
	metrics.PresenceTransitions.WithLabelValues("commit").Inc()

	if p.deps.Scheduler != nil {
		if err := p.deps.Scheduler.ScheduleExpiry(ctx, p.cfg.UserID, now, committed.ExpiresAt); err != nil {
			p.deps.Log.Warn("schedule presence expiry failed", "user_id", p.cfg.UserID, "error", err)
		}
	}
	p.publish(ctx, value)

	return committed, nil
}

// Cancel discards the draft without touching the committed value.
func (p *PresenceController) Cancel() {
	p.mu.Lock()
	defer p.unlockAndNotify()

	st, ok := p.state.(domain.PresenceDrafting)
	if !ok {
		return
	}
	metrics.PresenceTransitions.WithLabelValues("cancel").Inc()
	if st.Committed != nil && st.Committed.ExpiresAt.After(p.deps.Clock.Now()) {
		p.setState(domain.PresenceCommitted{CommittedPresence: *st.Committed})
		return
	}
	p.setState(domain.PresenceOffline{})
}

// GoOffline stops a live broadcast before it expires and closes the editor.
// If clearing the remote fails the state is left as it was.
func (p *PresenceController) GoOffline(ctx context.Context) error {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	_, offline := p.state.(domain.PresenceOffline)
	live := broadcastOf(p.state) != nil
	p.mu.Unlock()
	if offline {
		return nil
	}

	if live {
		if err := p.deps.Remote.SetAvailability(ctx, p.cfg.UserID, domain.StatusOffline, nil, p.deps.Clock.Now()); err != nil {
			return fmt.Errorf("clear availability: %w", err)
		}
	}

	p.mu.Lock()
	p.disarm()
	p.setState(domain.PresenceOffline{})
	p.unlockAndNotify()
	metrics.PresenceTransitions.WithLabelValues("offline").Inc()

	if live {
		p.publish(ctx, domain.ViewerPresence{})
	}
	return nil
}

// Restore seeds the controller from the remote committed state at session
// start. Remote state wins over anything held locally.
func (p *PresenceController) Restore(committed *domain.CommittedPresence) {
	p.mu.Lock()
	defer p.unlockAndNotify()

	if committed == nil {
		return
	}
	remaining := committed.ExpiresAt.Sub(p.deps.Clock.Now())
	if remaining <= 0 {
		return
	}
	p.arm(remaining)
	p.setState(domain.PresenceCommitted{CommittedPresence: *committed})
}

// Close stops the local expiry timer. The durable scheduler, if any, still
// clears the remote status.
func (p *PresenceController) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disarm()
}

func (p *PresenceController) expire(epoch uint64) {
	p.op.Lock()
	defer p.op.Unlock()

	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	p.timer = nil

	switch st := p.state.(type) {
	case domain.PresenceCommitted:
		p.setState(domain.PresenceOffline{})
	case domain.PresenceDrafting:
		if st.Committed == nil {
			p.mu.Unlock()
			return
		}
		p.setState(domain.PresenceDrafting{Draft: st.Draft})
	default:
		p.mu.Unlock()
		return
	}
	p.unlockAndNotify()
	metrics.PresenceTransitions.WithLabelValues("expire").Inc()

	ctx := context.Background()
	if err := p.deps.Remote.SetAvailability(ctx, p.cfg.UserID, domain.StatusOffline, nil, p.deps.Clock.Now()); err != nil {
		p.deps.Log.Warn("clear expired presence failed", "user_id", p.cfg.UserID, "error", err)
	}
	p.publish(ctx, domain.ViewerPresence{})
}

func (p *PresenceController) normalize(draft domain.ViewerPresence) (domain.ViewerPresence, error) {
	if !p.emojiAllowed(draft.Emoji) {
		return domain.ViewerPresence{}, fmt.Errorf("%w: %q", domain.ErrInvalidEmoji, draft.Emoji)
	}
	draft.Message = truncateRunes(draft.Message, p.cfg.MaxMessageLen)
	draft.DurationMinutes = ClampDuration(draft.DurationMinutes)
	draft.IsAvailable = true
	return draft, nil
}

func (p *PresenceController) emojiAllowed(e string) bool {
	for _, allowed := range p.cfg.AllowedEmojis {
		if e == allowed {
			return true
		}
	}
	return false
}

// arm and disarm must be called with p.mu held.
func (p *PresenceController) arm(d time.Duration) {
	p.disarm()
	epoch := p.epoch
	p.timer = p.deps.Clock.AfterFunc(d, func() { p.expire(epoch) })
}

func (p *PresenceController) disarm() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.epoch++
}

// setState must be called with p.mu held. Listeners are notified by
// unlockAndNotify once the lock is released.
func (p *PresenceController) setState(s domain.PresenceState) {
	p.state = s
	p.changed = append(p.changed, s)
}

func (p *PresenceController) unlockAndNotify() {
	changed := p.changed
	p.changed = nil
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	for _, s := range changed {
		for _, fn := range listeners {
			fn(s)
		}
	}
}

func (p *PresenceController) publish(ctx context.Context, value domain.ViewerPresence) {
	if p.deps.Publisher == nil {
		return
	}
	if err := p.deps.Publisher.PublishPresence(ctx, p.cfg.UserID, value); err != nil {
		p.deps.Log.Warn("publish presence failed", "user_id", p.cfg.UserID, "error", err)
	}
}

// ClampDuration bounds minutes to the allowed broadcast window.
func ClampDuration(minutes int) int {
	switch {
	case minutes < domain.MinPresenceMinutes:
		return domain.MinPresenceMinutes
	case minutes > domain.MaxPresenceMinutes:
		return domain.MaxPresenceMinutes
	}
	return minutes
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
