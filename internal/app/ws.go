package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"redline/api/internal/hub"
	"redline/api/internal/presence"
	"redline/api/internal/util"
)

type wsUpgrader = websocket.Upgrader

func newUpgrader() wsUpgrader {
	return wsUpgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// CORS policy is enforced by the HTTP middleware; the browser's
		// Origin header is not a trust boundary here.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// wsSender adapts one websocket connection to the hub's Sender. Writes are
// serialized; gorilla connections allow at most one concurrent writer.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSender) Send(ev hub.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// handleWS upgrades the connection, registers a session on the design's
// fan-out group and pumps commands into the hub until the peer disconnects.
func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	designID := strings.TrimSpace(r.URL.Query().Get("designId"))
	if designID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "designId is required", nil)
		return
	}
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		role = hub.RoleReviewer
	}
	if role != hub.RoleReviewer && role != hub.RoleDesigner {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "role must be designer or reviewer", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connectionID := util.NewID("conn")
	sender := &wsSender{conn: conn}
	s.service.Hub().Register(connectionID, role, designID, sender)
	defer s.service.Hub().Unregister(connectionID)

	done := make(chan struct{})
	defer close(done)
	s.trackPresence(done, designID, connectionID, role)

	ctx := r.Context()
	for {
		var cmd hub.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: %s read: %v", connectionID, err)
			}
			return
		}

		// Commands are scoped to the design this session subscribed to; the
		// envelope's designId field is informational.
		switch cmd.Type {
		case hub.CommandAddComment:
			if _, err := s.service.CreateReview(ctx, designID, cmd.X, cmd.Y, cmd.Text, role); err != nil {
				sendCommandError(sender, connectionID, err)
			}
		case hub.CommandResolveComment:
			if err := s.service.ResolveReview(ctx, designID, cmd.CommentID, role); err != nil {
				sendCommandError(sender, connectionID, err)
			}
		default:
			sendCommandError(sender, connectionID, &hub.Error{
				Code:    hub.CodeInvalidInput,
				Message: "unknown command type " + cmd.Type,
			})
		}
	}
}

// sendCommandError reports a rejected command to the submitting session
// only. Broadcast never carries errors.
func sendCommandError(sender *wsSender, connectionID string, err error) {
	ev := hub.Event{Type: hub.EventError, Code: "SERVER_ERROR", Message: "Server error"}
	var hubErr *hub.Error
	if errors.As(err, &hubErr) {
		ev.Code = hubErr.Code
		ev.Message = hubErr.Message
	}
	if sendErr := sender.Send(ev); sendErr != nil {
		log.Printf("ws: deliver error to %s: %v", connectionID, sendErr)
	}
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// trackPresence mirrors the session into the presence registry and keeps it
// alive with heartbeats until done closes. Best-effort throughout.
func (s *HTTPServer) trackPresence(done <-chan struct{}, designID, connectionID, role string) {
	registry := s.service.Presence()
	if registry == nil {
		return
	}

	ctx, cancel := contextWithTimeout(2 * time.Second)
	err := registry.Register(ctx, presence.Entry{
		ConnectionID: connectionID,
		DesignID:     designID,
		Role:         role,
	})
	cancel()
	if err != nil {
		log.Printf("ws: presence register %s: %v", connectionID, err)
	}

	interval := s.service.cfg.PresenceTTL / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				ctx, cancel := contextWithTimeout(2 * time.Second)
				if err := registry.Unregister(ctx, designID, connectionID); err != nil {
					log.Printf("ws: presence unregister %s: %v", connectionID, err)
				}
				cancel()
				return
			case <-ticker.C:
				ctx, cancel := contextWithTimeout(2 * time.Second)
				if err := registry.Heartbeat(ctx, designID, connectionID); err != nil {
					log.Printf("ws: presence heartbeat %s: %v", connectionID, err)
				}
				cancel()
			}
		}
	}()
}
