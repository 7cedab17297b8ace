package replica

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"redline/api/internal/hub"
	"redline/api/internal/store"
)

// Agent is one viewer's live connection: it pumps hub events into a local
// replica and emits commands for the viewer's actions. One agent per
// connection, subscribed to exactly one design.
type Agent struct {
	conn     *websocket.Conn
	designID string
	role     string

	mu      sync.Mutex
	replica *Replica

	writeMu sync.Mutex
}

// Dial connects to the hub's live channel. wsURL is the endpoint without
// query parameters, e.g. "ws://localhost:5000/ws".
func Dial(ctx context.Context, wsURL, designID, role string) (*Agent, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("designId", designID)
	q.Set("role", role)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	return &Agent{
		conn:     conn,
		designID: designID,
		role:     role,
		replica:  New(),
	}, nil
}

// Run reads events until the connection closes, folding each into the
// replica. It returns the read error that ended the loop.
func (a *Agent) Run() error {
	for {
		var ev hub.Event
		if err := a.conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		a.mu.Lock()
		a.replica.Apply(ev)
		a.mu.Unlock()
	}
}

// AddComment emits an addComment command anchored at design coordinates.
// The hub enforces role gating; the resulting commentAdded event comes back
// through Run like everyone else's.
func (a *Agent) AddComment(x, y float64, text string) error {
	return a.send(hub.Command{
		Type:     hub.CommandAddComment,
		DesignID: a.designID,
		X:        x,
		Y:        y,
		Text:     text,
	})
}

// ResolveComment emits a resolveComment command.
func (a *Agent) ResolveComment(commentID string) error {
	return a.send(hub.Command{
		Type:      hub.CommandResolveComment,
		DesignID:  a.designID,
		CommentID: commentID,
	})
}

// CanResolve reports whether resolve controls should be presented for this
// session. The hub is the actual enforcement point.
func (a *Agent) CanResolve() bool {
	return a.role == hub.RoleDesigner
}

// Seed loads an out-of-band full listing into the replica.
func (a *Agent) Seed(comments []store.Comment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replica.Seed(comments)
}

// Comments snapshots the replica contents.
func (a *Agent) Comments() []store.Comment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.replica.Comments()
}

// Markers snapshots the marker projection.
func (a *Agent) Markers() []Marker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.replica.Markers()
}

func (a *Agent) Close() error {
	return a.conn.Close()
}

func (a *Agent) send(cmd hub.Command) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}
