// Package replica maintains a client-side copy of one design's comment set,
// built by reducing the hub's event stream, and projects it onto
// coordinate-anchored markers.
package replica

import (
	"redline/api/internal/hub"
	"redline/api/internal/store"
)

// Marker colors, matching how the editor renders resolution state.
const (
	ColorOpen     = "red"
	ColorResolved = "green"
)

// Marker is the on-design overlay graphic for one comment.
type Marker struct {
	CommentID string  `json:"commentId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Resolved  bool    `json:"resolved"`
	Color     string  `json:"color"`
}

// Replica is an ordered local copy of a design's comments. Apply is a
// deterministic reducer over incoming events: duplicate delivery is a no-op
// and a resolve that arrives before its add is buffered until the add shows
// up, so network reordering cannot lose state. Not safe for concurrent use;
// Agent serializes access for live connections.
type Replica struct {
	comments        []store.Comment
	index           map[string]int
	pendingResolves map[string]bool
}

func New() *Replica {
	return &Replica{
		index:           make(map[string]int),
		pendingResolves: make(map[string]bool),
	}
}

// Seed loads a full listing fetched out-of-band, reconciling any resolves
// that arrived before this refresh.
func (r *Replica) Seed(comments []store.Comment) {
	for _, comment := range comments {
		r.Apply(hub.Event{Type: hub.EventCommentAdded, Comment: &comment})
		if comment.Resolved {
			r.Apply(hub.Event{Type: hub.EventCommentResolved, CommentID: comment.ID})
		}
	}
}

// Apply folds one event into the replica. Unknown event types are ignored.
func (r *Replica) Apply(ev hub.Event) {
	switch ev.Type {
	case hub.EventCommentAdded:
		if ev.Comment == nil {
			return
		}
		if _, ok := r.index[ev.Comment.ID]; ok {
			return
		}
		comment := *ev.Comment
		if r.pendingResolves[comment.ID] {
			comment.Resolved = true
			delete(r.pendingResolves, comment.ID)
		}
		r.index[comment.ID] = len(r.comments)
		r.comments = append(r.comments, comment)

	case hub.EventCommentResolved:
		if ev.CommentID == "" {
			return
		}
		i, ok := r.index[ev.CommentID]
		if !ok {
			// Add event not seen yet; replay once it arrives.
			r.pendingResolves[ev.CommentID] = true
			return
		}
		r.comments[i].Resolved = true
	}
}

// Comments returns the replica contents in arrival order.
func (r *Replica) Comments() []store.Comment {
	out := make([]store.Comment, len(r.comments))
	copy(out, r.comments)
	return out
}

// Get looks up a single comment by id.
func (r *Replica) Get(id string) (store.Comment, bool) {
	i, ok := r.index[id]
	if !ok {
		return store.Comment{}, false
	}
	return r.comments[i], true
}

func (r *Replica) Len() int {
	return len(r.comments)
}

// Markers projects every comment onto its overlay marker, colored by
// resolution state.
func (r *Replica) Markers() []Marker {
	markers := make([]Marker, 0, len(r.comments))
	for _, comment := range r.comments {
		color := ColorOpen
		if comment.Resolved {
			color = ColorResolved
		}
		markers = append(markers, Marker{
			CommentID: comment.ID,
			X:         comment.X,
			Y:         comment.Y,
			Resolved:  comment.Resolved,
			Color:     color,
		})
	}
	return markers
}
