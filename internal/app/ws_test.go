package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"redline/api/internal/config"
	"redline/api/internal/hub"
	"redline/api/internal/presence"
	"redline/api/internal/replica"
	"redline/api/internal/store"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialAgent(t *testing.T, srv *httptest.Server, designID, role string) *replica.Agent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	agent, err := replica.Dial(ctx, wsURL(srv), designID, role)
	if err != nil {
		t.Fatalf("dial agent: %v", err)
	}
	t.Cleanup(func() { agent.Close() })
	go func() { _ = agent.Run() }()
	return agent
}

func waitFor(t *testing.T, timeout time.Duration, message string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

// waitForSessions blocks until the hub has registered the expected number of
// live sessions; the server registers shortly after the client handshake
// completes.
func waitForSessions(t *testing.T, service *Service, designID string, want int) {
	t.Helper()
	waitFor(t, 3*time.Second, "sessions never registered", func() bool {
		return service.Hub().SessionCount(designID) == want
	})
}

func TestLiveCommentRoundTrip(t *testing.T) {
	srv, service := newTestServer(t)
	designID := mustSaveDesign(t, srv.URL)

	reviewer := dialAgent(t, srv, designID, hub.RoleReviewer)
	designer := dialAgent(t, srv, designID, hub.RoleDesigner)
	waitForSessions(t, service, designID, 2)

	if err := reviewer.AddComment(120.5, 44, "logo is off-center"); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	// The submitter receives its own event through the same fan-out.
	waitFor(t, 3*time.Second, "reviewer replica never saw the comment", func() bool {
		return len(reviewer.Comments()) == 1
	})
	waitFor(t, 3*time.Second, "designer replica never saw the comment", func() bool {
		return len(designer.Comments()) == 1
	})

	commentID := designer.Comments()[0].ID
	if err := designer.ResolveComment(commentID); err != nil {
		t.Fatalf("ResolveComment() error = %v", err)
	}

	waitFor(t, 3*time.Second, "resolution never reached the reviewer", func() bool {
		markers := reviewer.Markers()
		return len(markers) == 1 && markers[0].Color == replica.ColorResolved
	})
}

func TestReviewerCannotResolve(t *testing.T) {
	srv, service := newTestServer(t)
	designID := mustSaveDesign(t, srv.URL)

	reviewer := dialAgent(t, srv, designID, hub.RoleReviewer)
	waitForSessions(t, service, designID, 1)

	if err := reviewer.AddComment(10, 10, "please fix"); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	waitFor(t, 3*time.Second, "comment never arrived", func() bool {
		return len(reviewer.Comments()) == 1
	})

	commentID := reviewer.Comments()[0].ID
	if err := reviewer.ResolveComment(commentID); err != nil {
		t.Fatalf("ResolveComment() write error = %v", err)
	}

	// The rejection goes only to the submitter as an error event, which the
	// replica ignores; the comment must stay open.
	time.Sleep(200 * time.Millisecond)
	markers := reviewer.Markers()
	if len(markers) != 1 || markers[0].Resolved {
		t.Fatalf("reviewer resolve must be rejected, markers %v", markers)
	}
}

func TestRESTCreateFansOutToLiveSessions(t *testing.T) {
	srv, service := newTestServer(t)
	designID := mustSaveDesign(t, srv.URL)

	viewer := dialAgent(t, srv, designID, hub.RoleDesigner)
	waitForSessions(t, service, designID, 1)

	resp, body := postJSON(t, srv.URL+"/reviews", map[string]any{
		"designId": designID, "x": 30.0, "y": 40.0, "text": "tighten kerning",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create review status = %d, body %v", resp.StatusCode, body)
	}

	waitFor(t, 3*time.Second, "REST-created comment never reached the live session", func() bool {
		comments := viewer.Comments()
		return len(comments) == 1 && comments[0].Text == "tighten kerning"
	})
}

func TestEventOrderConsistentAcrossSessions(t *testing.T) {
	srv, service := newTestServer(t)
	designID := mustSaveDesign(t, srv.URL)

	first := dialAgent(t, srv, designID, hub.RoleReviewer)
	second := dialAgent(t, srv, designID, hub.RoleReviewer)
	waitForSessions(t, service, designID, 2)

	for i := 0; i < 5; i++ {
		if err := first.AddComment(float64(i), float64(i), "note"); err != nil {
			t.Fatalf("AddComment() error = %v", err)
		}
	}

	waitFor(t, 3*time.Second, "first replica incomplete", func() bool {
		return len(first.Comments()) == 5
	})
	waitFor(t, 3*time.Second, "second replica incomplete", func() bool {
		return len(second.Comments()) == 5
	})

	a, b := first.Comments(), second.Comments()
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("replicas diverged at %d: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
}

func TestWSRequiresDesignID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPresenceTracksLiveSessions(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	registry, err := presence.NewRegistry("redis://"+redisSrv.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("presence registry: %v", err)
	}
	defer registry.Close()

	mem := store.NewMemoryStore()
	cfg := config.Config{DefaultWidth: 800, DefaultHeight: 600, PresenceTTL: time.Minute}
	service := New(cfg, mem, hub.New(mem), nil, nil, registry, nil)
	srv := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	defer srv.Close()

	designID := mustSaveDesign(t, srv.URL)
	agent := dialAgent(t, srv, designID, hub.RoleReviewer)

	waitFor(t, 3*time.Second, "session never appeared in presence", func() bool {
		_, body := getJSON(t, srv.URL+"/designs/"+designID+"/presence")
		viewers, _ := body["viewers"].([]any)
		return len(viewers) == 1
	})

	agent.Close()
	waitFor(t, 3*time.Second, "session never left presence", func() bool {
		_, body := getJSON(t, srv.URL+"/designs/"+designID+"/presence")
		viewers, _ := body["viewers"].([]any)
		return len(viewers) == 0
	})
}
