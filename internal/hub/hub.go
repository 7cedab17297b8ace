// Package hub serializes comment commands per design and fans the resulting
// events out to every live session, submitter included. A command's durable
// effect is committed to the store before any session observes the event, so
// a client that re-reads the store after an event never sees older state.
package hub

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"redline/api/internal/store"
)

// Roles carried by sessions and commands.
const (
	RoleDesigner = "designer"
	RoleReviewer = "reviewer"
)

// Sender delivers one event to a live connection. Implementations must be
// safe for concurrent use; delivery failures are logged and swallowed by the
// hub, never propagated to the triggering command.
type Sender interface {
	Send(Event) error
}

// Store is the durable authority the hub commits to before broadcasting.
// Satisfied by store.PostgresStore and store.MemoryStore.
type Store interface {
	GetDesign(ctx context.Context, id string) (store.Design, error)
	CreateComment(ctx context.Context, designID string, x, y float64, text string) (store.Comment, error)
	ResolveComment(ctx context.Context, designID, id string) (store.Comment, error)
}

// Session is one live connection subscribed to a single design. Ephemeral:
// created on Register, gone on Unregister, never persisted.
type Session struct {
	ConnectionID string
	Role         string
	DesignID     string
	sender       Sender
}

// Hub owns the session groups and the per-design command sections. Construct
// one with New and pass it by reference to connection handlers; independent
// hubs never share state.
type Hub struct {
	store Store

	mu     sync.Mutex
	groups map[string]*group
	byConn map[string]string
}

// group holds the live sessions for one design. cmdMu is the design's
// serialization point: commands for the design run one at a time, commands
// for other designs proceed in parallel. Groups are never removed once
// created so an in-flight command and a re-registering session can never
// disagree about which lock guards the design.
type group struct {
	cmdMu    sync.Mutex
	sessions map[string]*Session
}

func New(st Store) *Hub {
	return &Hub{
		store:  st,
		groups: make(map[string]*group),
		byConn: make(map[string]string),
	}
}

// Register adds a session to the design's fan-out group. Always succeeds.
func (h *Hub) Register(connectionID, role, designID string, sender Sender) *Session {
	session := &Session{
		ConnectionID: connectionID,
		Role:         role,
		DesignID:     designID,
		sender:       sender,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[designID]
	if !ok {
		g = &group{sessions: make(map[string]*Session)}
		h.groups[designID] = g
	}
	g.sessions[connectionID] = session
	h.byConn[connectionID] = designID
	return session
}

// Unregister removes a session from its group. Idempotent: unknown
// connection ids are a no-op. In-flight commands are unaffected; a comment
// submitted just before a disconnect is still committed and broadcast to the
// remaining sessions.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	designID, ok := h.byConn[connectionID]
	if !ok {
		return
	}
	delete(h.byConn, connectionID)
	if g, ok := h.groups[designID]; ok {
		delete(g.sessions, connectionID)
	}
}

// SubmitAddComment validates, commits, then broadcasts a new comment.
// Reviewer-only. Fails NOT_FOUND for an unknown design rather than creating
// an orphan record, and INVALID_INPUT when the design tracks bounds and the
// anchor lies outside them.
func (h *Hub) SubmitAddComment(ctx context.Context, designID string, x, y float64, text, role string) (store.Comment, error) {
	if role != RoleReviewer {
		return store.Comment{}, forbidden("only reviewers may add comments")
	}
	if strings.TrimSpace(text) == "" {
		return store.Comment{}, invalidInput("comment text is required")
	}
	if strings.TrimSpace(designID) == "" {
		return store.Comment{}, invalidInput("designId is required")
	}

	g := h.group(designID)
	g.cmdMu.Lock()
	defer g.cmdMu.Unlock()

	design, err := h.store.GetDesign(ctx, designID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Comment{}, notFound("design %s not found", designID)
	}
	if err != nil {
		log.Printf("hub: load design %s: %v", designID, err)
		return store.Comment{}, storeUnavailable()
	}
	if design.Width > 0 && design.Height > 0 {
		if x < 0 || y < 0 || x > float64(design.Width) || y > float64(design.Height) {
			return store.Comment{}, invalidInput("coordinates (%.1f, %.1f) outside design bounds %dx%d", x, y, design.Width, design.Height)
		}
	}

	comment, err := h.store.CreateComment(ctx, designID, x, y, text)
	if err != nil {
		log.Printf("hub: create comment on %s: %v", designID, err)
		return store.Comment{}, storeUnavailable()
	}

	h.broadcast(designID, Event{Type: EventCommentAdded, Comment: &comment})
	return comment, nil
}

// SubmitResolveComment validates, commits, then broadcasts a resolution.
// Designer-only. Resolving an already-resolved comment is idempotent and
// still broadcasts, so late joiners converge. The store write is scoped to
// the session's design, so a comment id from another design fails NOT_FOUND
// with nothing committed.
func (h *Hub) SubmitResolveComment(ctx context.Context, designID, commentID, role string) error {
	if role != RoleDesigner {
		return forbidden("only the designer may resolve comments")
	}
	if strings.TrimSpace(commentID) == "" {
		return invalidInput("commentId is required")
	}

	g := h.group(designID)
	g.cmdMu.Lock()
	defer g.cmdMu.Unlock()

	_, err := h.store.ResolveComment(ctx, designID, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("comment %s not found on design %s", commentID, designID)
	}
	if err != nil {
		log.Printf("hub: resolve comment %s: %v", commentID, err)
		return storeUnavailable()
	}

	h.broadcast(designID, Event{Type: EventCommentResolved, CommentID: commentID})
	return nil
}

// SessionCount reports the live sessions subscribed to a design.
func (h *Hub) SessionCount(designID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[designID]; ok {
		return len(g.sessions)
	}
	return 0
}

func (h *Hub) group(designID string) *group {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[designID]
	if !ok {
		g = &group{sessions: make(map[string]*Session)}
		h.groups[designID] = g
	}
	return g
}

// broadcast snapshots the membership under the hub lock, then delivers
// outside it so a slow or dead connection cannot block registration. Send
// failures are logged and swallowed.
func (h *Hub) broadcast(designID string, ev Event) {
	h.mu.Lock()
	g, ok := h.groups[designID]
	var members []*Session
	if ok {
		members = make([]*Session, 0, len(g.sessions))
		for _, session := range g.sessions {
			members = append(members, session)
		}
	}
	h.mu.Unlock()

	for _, session := range members {
		if err := session.sender.Send(ev); err != nil {
			log.Printf("hub: deliver %s to %s: %v", ev.Type, session.ConnectionID, err)
		}
	}
}
