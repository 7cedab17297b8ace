package hub

import "redline/api/internal/store"

// Event types fanned out to live sessions. EventError is only ever sent to
// the session whose command was rejected, never broadcast.
const (
	EventCommentAdded    = "commentAdded"
	EventCommentResolved = "commentResolved"
	EventError           = "error"
)

// Event is one committed change, delivered to every session subscribed to
// the affected design in commit order.
type Event struct {
	Type      string         `json:"type"`
	Comment   *store.Comment `json:"comment,omitempty"`
	CommentID string         `json:"commentId,omitempty"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Command types accepted from clients over the live channel.
const (
	CommandAddComment     = "addComment"
	CommandResolveComment = "resolveComment"
)

// Command is the client-to-hub envelope on the live channel.
type Command struct {
	Type      string  `json:"type"`
	DesignID  string  `json:"designId,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Text      string  `json:"text,omitempty"`
	CommentID string  `json:"commentId,omitempty"`
}
