package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a design or comment id is unknown. Adapters
// translate their backend's miss (sql.ErrNoRows, absent map key) into it.
var ErrNotFound = errors.New("not found")

// Design is the visual artifact under review. Data holds the rendered
// snapshot wholesale; a save always replaces it, never patches it. Width and
// Height are the rendered bounds used to validate comment coordinates; zero
// means bounds are not tracked.
type Design struct {
	ID        string
	Data      []byte
	Width     int
	Height    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Comment is a reviewer note anchored at design-space coordinates. Resolved
// is monotonic: once true it never reverts. Seq is the insertion order used
// to break created-at ties in listings; it is assigned by the store and not
// exposed on the wire.
type Comment struct {
	ID        string    `json:"id"`
	DesignID  string    `json:"designId"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Text      string    `json:"text"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"createdAt"`
	Seq       int64     `json:"-"`
}
