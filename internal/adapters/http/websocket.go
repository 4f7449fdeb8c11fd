package http

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// MapSessionHandler upgrades to a live map session. The client identifies
// itself with ?viewer_id=&name=; anonymous clients get a guest id.
func MapSessionHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		defer conn.Close()

		viewerID := conn.Query("viewer_id")
		if viewerID == "" {
			viewerID = "guest-" + uuid.NewString()
		}
		sessionID := uuid.NewString()
		log := LoggerFromCtx(context.Background()).With("session_id", sessionID, "viewer_id", viewerID)

		var writeMu sync.Mutex
		send := func(f outFrame) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteJSON(f)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m := NewMapSession(send, deps.Settings.PermissionTimeout, log)
		session := openDiscovery(ctx, deps, m, viewerID, conn.Query("name"))
		defer session.Stop()

		if deps.Hub != nil {
			deps.Hub.Add(sessionID, session)
			defer deps.Hub.Remove(sessionID)
		}
		log.Info("map session opened", "remote", conn.RemoteAddr().String())

		// Start blocks on device answers, which arrive on the read loop below.
		go func() {
			if err := session.Start(ctx); err != nil {
				log.Warn("start session failed", "error", err)
			}
		}()

		// Keep-alive ping
		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					writeMu.Lock()
					err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
					writeMu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			m.Handle(ctx, msg)
		}
		log.Info("map session closed")
	}
}
