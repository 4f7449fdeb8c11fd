package http

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// PresenceListener is a live session that refetches when someone's
// presence changes.
type PresenceListener interface {
	NotifyPresenceChanged(userID string)
	Stop()
}

// Hub tracks the live map sessions of this process.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]PresenceListener
	log      *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{sessions: make(map[string]PresenceListener), log: log}
}

func (h *Hub) Add(id string, s PresenceListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[id] = s
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// NotifyPresenceChanged fans a presence change out to every session. Each
// session refetches on its own goroutine.
func (h *Hub) NotifyPresenceChanged(userID string) {
	h.mu.RLock()
	targets := make([]PresenceListener, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		go s.NotifyPresenceChanged(userID)
	}
}

// StopAll stops every session, for shutdown.
func (h *Hub) StopAll() {
	h.mu.Lock()
	targets := h.sessions
	h.sessions = make(map[string]PresenceListener)
	h.mu.Unlock()

	for _, s := range targets {
		s.Stop()
	}
	h.log.Info("map sessions stopped", "count", len(targets))
}

// MessageStore persists the broadcast message shown to other viewers.
type MessageStore interface {
	SetMessage(ctx context.Context, userID, message, emoji string) error
}

// PresenceEventHandler handles presence events from the broker: a commit's
// message is stored so the next nearby query carries it, then live sessions
// refetch.
func PresenceEventHandler(store MessageStore, hub *Hub) func(ctx context.Context, userID string, state domain.ViewerPresence) error {
	return func(ctx context.Context, userID string, state domain.ViewerPresence) error {
		if state.IsAvailable && store != nil {
			if err := store.SetMessage(ctx, userID, state.Message, state.Emoji); err != nil {
				return fmt.Errorf("store presence message %s: %w", userID, err)
			}
		}
		if hub != nil {
			hub.NotifyPresenceChanged(userID)
		}
		return nil
	}
}
