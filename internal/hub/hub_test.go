package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"redline/api/internal/store"
)

type recordingSender struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSender) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSender) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

type failingSender struct{}

func (failingSender) Send(Event) error { return errors.New("connection gone") }

// brokenStore fails every write, for commit-before-broadcast checks.
type brokenStore struct {
	*store.MemoryStore
}

func (b brokenStore) CreateComment(ctx context.Context, designID string, x, y float64, text string) (store.Comment, error) {
	return store.Comment{}, errors.New("backend down")
}

func (b brokenStore) ResolveComment(ctx context.Context, designID, id string) (store.Comment, error) {
	return store.Comment{}, errors.New("backend down")
}

func newTestHub(t *testing.T) (*Hub, *store.MemoryStore, string) {
	t.Helper()
	mem := store.NewMemoryStore()
	design, err := mem.SaveDesign(context.Background(), "", []byte("png"), 800, 600)
	if err != nil {
		t.Fatalf("seed design: %v", err)
	}
	return New(mem), mem, design.ID
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	var hubErr *Error
	if !errors.As(err, &hubErr) {
		t.Fatalf("expected *hub.Error, got %T: %v", err, err)
	}
	return hubErr.Code
}

func TestFanOutIncludesSubmitter(t *testing.T) {
	h, _, designID := newTestHub(t)

	senders := make([]*recordingSender, 3)
	for i := range senders {
		senders[i] = &recordingSender{}
		h.Register(fmt.Sprintf("conn-%d", i), RoleReviewer, designID, senders[i])
	}

	comment, err := h.SubmitAddComment(context.Background(), designID, 10, 20, "fix logo", RoleReviewer)
	if err != nil {
		t.Fatalf("SubmitAddComment: %v", err)
	}
	if err := h.SubmitResolveComment(context.Background(), designID, comment.ID, RoleDesigner); err != nil {
		t.Fatalf("SubmitResolveComment: %v", err)
	}

	for i, sender := range senders {
		events := sender.snapshot()
		if len(events) != 2 {
			t.Fatalf("session %d: expected 2 events, got %d", i, len(events))
		}
		if events[0].Type != EventCommentAdded || events[0].Comment == nil || events[0].Comment.ID != comment.ID {
			t.Errorf("session %d: unexpected first event %+v", i, events[0])
		}
		if events[1].Type != EventCommentResolved || events[1].CommentID != comment.ID {
			t.Errorf("session %d: unexpected second event %+v", i, events[1])
		}
	}
}

func TestResolveExactlyOncePerSession(t *testing.T) {
	h, _, designID := newTestHub(t)

	senders := make([]*recordingSender, 3)
	for i := range senders {
		senders[i] = &recordingSender{}
		h.Register(fmt.Sprintf("viewer-%d", i), RoleReviewer, designID, senders[i])
	}

	comment, err := h.SubmitAddComment(context.Background(), designID, 5, 5, "tighten kerning", RoleReviewer)
	if err != nil {
		t.Fatalf("SubmitAddComment: %v", err)
	}
	if err := h.SubmitResolveComment(context.Background(), designID, comment.ID, RoleDesigner); err != nil {
		t.Fatalf("SubmitResolveComment: %v", err)
	}

	for i, sender := range senders {
		resolved := 0
		for _, ev := range sender.snapshot() {
			if ev.Type == EventCommentResolved && ev.CommentID == comment.ID {
				resolved++
			}
		}
		if resolved != 1 {
			t.Errorf("session %d: expected exactly one commentResolved, got %d", i, resolved)
		}
	}
}

func TestRoleGating(t *testing.T) {
	h, _, designID := newTestHub(t)
	sender := &recordingSender{}
	h.Register("conn-1", RoleReviewer, designID, sender)

	comment, err := h.SubmitAddComment(context.Background(), designID, 1, 1, "note", RoleReviewer)
	if err != nil {
		t.Fatalf("SubmitAddComment: %v", err)
	}

	// A reviewer may not resolve.
	err = h.SubmitResolveComment(context.Background(), designID, comment.ID, RoleReviewer)
	if code := errorCode(t, err); code != CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %s", code)
	}

	// A designer may not add.
	_, err = h.SubmitAddComment(context.Background(), designID, 1, 1, "note", RoleDesigner)
	if code := errorCode(t, err); code != CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %s", code)
	}

	if got := len(sender.snapshot()); got != 1 {
		t.Fatalf("rejected commands must not broadcast; got %d events", got)
	}
}

func TestAddCommentValidation(t *testing.T) {
	h, _, designID := newTestHub(t)

	cases := []struct {
		name string
		id   string
		x, y float64
		text string
		code string
	}{
		{"empty text", designID, 10, 10, "   ", CodeInvalidInput},
		{"unknown design", "des_missing", 10, 10, "hi", CodeNotFound},
		{"x out of bounds", designID, 900, 10, "hi", CodeInvalidInput},
		{"y out of bounds", designID, 10, 700, "hi", CodeInvalidInput},
		{"negative coords", designID, -1, 10, "hi", CodeInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.SubmitAddComment(context.Background(), tc.id, tc.x, tc.y, tc.text, RoleReviewer)
			if code := errorCode(t, err); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}
}

func TestResolveUnknownComment(t *testing.T) {
	h, _, designID := newTestHub(t)
	err := h.SubmitResolveComment(context.Background(), designID, "rev_missing", RoleDesigner)
	if code := errorCode(t, err); code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", code)
	}
}

func TestResolveWrongDesign(t *testing.T) {
	h, mem, designID := newTestHub(t)
	other, err := mem.SaveDesign(context.Background(), "", []byte("png"), 0, 0)
	if err != nil {
		t.Fatalf("seed design: %v", err)
	}
	sender := &recordingSender{}
	h.Register("conn-1", RoleReviewer, designID, sender)

	comment, err := h.SubmitAddComment(context.Background(), designID, 1, 1, "note", RoleReviewer)
	if err != nil {
		t.Fatalf("SubmitAddComment: %v", err)
	}

	// A designer session on another design names this comment's id.
	err = h.SubmitResolveComment(context.Background(), other.ID, comment.ID, RoleDesigner)
	if code := errorCode(t, err); code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND for cross-design resolve, got %s", code)
	}

	// The rejection must leave no trace: the comment stays open in the store
	// and the owning design's sessions see no resolution event.
	listed, err := mem.ListComments(context.Background(), designID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(listed) != 1 || listed[0].Resolved {
		t.Fatalf("cross-design resolve must not commit; got %+v", listed)
	}
	for _, ev := range sender.snapshot() {
		if ev.Type == EventCommentResolved {
			t.Fatalf("cross-design resolve must not broadcast, got %+v", ev)
		}
	}
}

func TestCommitBeforeBroadcast(t *testing.T) {
	mem := store.NewMemoryStore()
	design, err := mem.SaveDesign(context.Background(), "", []byte("png"), 0, 0)
	if err != nil {
		t.Fatalf("seed design: %v", err)
	}
	h := New(brokenStore{mem})
	sender := &recordingSender{}
	h.Register("conn-1", RoleReviewer, design.ID, sender)

	_, err = h.SubmitAddComment(context.Background(), design.ID, 1, 1, "note", RoleReviewer)
	if code := errorCode(t, err); code != CodeStoreUnavailable {
		t.Fatalf("expected STORE_UNAVAILABLE, got %s", code)
	}
	if got := len(sender.snapshot()); got != 0 {
		t.Fatalf("persistence failure must prevent broadcast; got %d events", got)
	}
}

func TestDeadSessionDoesNotBlockOthers(t *testing.T) {
	h, _, designID := newTestHub(t)
	healthy := &recordingSender{}
	h.Register("dead", RoleReviewer, designID, failingSender{})
	h.Register("healthy", RoleReviewer, designID, healthy)

	if _, err := h.SubmitAddComment(context.Background(), designID, 1, 1, "note", RoleReviewer); err != nil {
		t.Fatalf("SubmitAddComment: %v", err)
	}
	if got := len(healthy.snapshot()); got != 1 {
		t.Fatalf("healthy session expected 1 event, got %d", got)
	}
}

func TestConcurrentAddsYieldDistinctIDs(t *testing.T) {
	h, mem, designID := newTestHub(t)
	sender := &recordingSender{}
	h.Register("conn-1", RoleReviewer, designID, sender)

	const workers = 8
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			comment, err := h.SubmitAddComment(context.Background(), designID, float64(n), float64(n), fmt.Sprintf("note %d", n), RoleReviewer)
			if err != nil {
				t.Errorf("SubmitAddComment: %v", err)
				return
			}
			ids <- comment.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate comment id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct ids, got %d", workers, len(seen))
	}

	listed, err := mem.ListComments(context.Background(), designID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(listed) != workers {
		t.Fatalf("expected %d persisted comments, got %d", workers, len(listed))
	}
	if got := len(sender.snapshot()); got != workers {
		t.Fatalf("expected %d broadcasts, got %d", workers, got)
	}
}

func TestEventOrderIdenticalAcrossSessions(t *testing.T) {
	h, _, designID := newTestHub(t)
	a := &recordingSender{}
	b := &recordingSender{}
	h.Register("a", RoleReviewer, designID, a)
	h.Register("b", RoleDesigner, designID, b)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := h.SubmitAddComment(context.Background(), designID, 1, 1, fmt.Sprintf("note %d", n), RoleReviewer); err != nil {
				t.Errorf("SubmitAddComment: %v", err)
			}
		}(i)
	}
	wg.Wait()

	eventsA := a.snapshot()
	eventsB := b.snapshot()
	if len(eventsA) != len(eventsB) {
		t.Fatalf("session event counts diverge: %d vs %d", len(eventsA), len(eventsB))
	}
	for i := range eventsA {
		if eventsA[i].Comment.ID != eventsB[i].Comment.ID {
			t.Fatalf("event order diverges at %d: %s vs %s", i, eventsA[i].Comment.ID, eventsB[i].Comment.ID)
		}
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h, _, designID := newTestHub(t)
	sender := &recordingSender{}
	h.Register("conn-1", RoleReviewer, designID, sender)
	h.Unregister("conn-1")
	h.Unregister("conn-1")
	h.Unregister("never-registered")

	if _, err := h.SubmitAddComment(context.Background(), designID, 1, 1, "note", RoleReviewer); err != nil {
		t.Fatalf("SubmitAddComment: %v", err)
	}
	if got := len(sender.snapshot()); got != 0 {
		t.Fatalf("unregistered session must not receive events; got %d", got)
	}
}
