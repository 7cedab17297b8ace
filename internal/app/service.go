package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"redline/api/internal/archive"
	"redline/api/internal/config"
	"redline/api/internal/export"
	"redline/api/internal/history"
	"redline/api/internal/hub"
	"redline/api/internal/presence"
	"redline/api/internal/search"
	"redline/api/internal/store"
)

// Store is the persistence surface the service needs. Satisfied by
// store.PostgresStore and store.MemoryStore.
type Store interface {
	SaveDesign(ctx context.Context, id string, data []byte, width, height int) (store.Design, error)
	GetDesign(ctx context.Context, id string) (store.Design, error)
	CreateComment(ctx context.Context, designID string, x, y float64, text string) (store.Comment, error)
	ResolveComment(ctx context.Context, designID, id string) (store.Comment, error)
	ListComments(ctx context.Context, designID string) ([]store.Comment, error)
	Ping(ctx context.Context) error
}

// Service wires the store, the fan-out hub and the supporting subsystems
// behind one API used by the HTTP and WebSocket layers. history, presence,
// archive and searchSvc may be nil when the backing system is not configured;
// every use site checks.
type Service struct {
	cfg       config.Config
	store     Store
	hub       *hub.Hub
	searchSvc *search.Service
	history   *history.Service
	presence  *presence.Registry
	archive   *archive.Service
	exporter  *export.Service
}

func New(cfg config.Config, st Store, h *hub.Hub, searchSvc *search.Service, historySvc *history.Service, presenceReg *presence.Registry, archiveSvc *archive.Service) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     st,
		hub:       h,
		searchSvc: searchSvc,
		history:   historySvc,
		presence:  presenceReg,
		archive:   archiveSvc,
	}
	svc.exporter = export.NewService(exportStore{st})
	return svc
}

// exportStore narrows Store to what the exporter reads.
type exportStore struct{ st Store }

func (e exportStore) GetDesign(ctx context.Context, id string) (store.Design, error) {
	return e.st.GetDesign(ctx, id)
}

func (e exportStore) ListComments(ctx context.Context, designID string) ([]store.Comment, error) {
	return e.st.ListComments(ctx, designID)
}

// Hub exposes the fan-out hub to the WebSocket layer.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// Presence exposes the registry to the WebSocket layer; nil when disabled.
func (s *Service) Presence() *presence.Registry {
	return s.presence
}

// DesignPayload is the design record shape on the wire. Data travels as a
// string so clients round-trip it without base64 handling.
type DesignPayload struct {
	ID        string `json:"id"`
	Data      string `json:"data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// SaveDesign stores the design wholesale, replacing any previous data for
// the same id. An empty id mints a new design. The snapshot is also recorded
// in the design's version history and pushed to the archive, both
// best-effort.
func (s *Service) SaveDesign(ctx context.Context, id, data string, width, height int) (map[string]any, error) {
	id = strings.TrimSpace(id)
	if id != "" && !validDesignID(id) {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "id may only contain letters, digits, '-' and '_'", nil)
	}
	if strings.TrimSpace(data) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "data is required", nil)
	}
	if width < 0 || height < 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "width and height must not be negative", nil)
	}
	if width == 0 {
		width = s.cfg.DefaultWidth
	}
	if height == 0 {
		height = s.cfg.DefaultHeight
	}

	design, err := s.store.SaveDesign(ctx, id, []byte(data), width, height)
	if err != nil {
		return nil, fmt.Errorf("save design: %w", err)
	}

	if s.history != nil {
		if _, err := s.history.CommitSnapshot(design.ID, design.Data, "designer", "Save design snapshot"); err != nil {
			log.Printf("app: snapshot history for %s: %v", design.ID, err)
		}
	}
	if s.archive != nil {
		s.archive.PutAsync(design.ID, design.Data)
	}

	return map[string]any{"id": design.ID, "success": true}, nil
}

// GetDesign loads one design wholesale.
func (s *Service) GetDesign(ctx context.Context, id string) (DesignPayload, error) {
	design, err := s.store.GetDesign(ctx, id)
	if err != nil {
		return DesignPayload{}, err
	}
	return DesignPayload{
		ID:        design.ID,
		Data:      string(design.Data),
		Width:     design.Width,
		Height:    design.Height,
		CreatedAt: design.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		UpdatedAt: design.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}, nil
}

// CreateReview submits an addComment command through the hub so REST-created
// comments commit in the same per-design order as live ones and fan out to
// every subscribed session.
func (s *Service) CreateReview(ctx context.Context, designID string, x, y float64, text, role string) (store.Comment, error) {
	comment, err := s.hub.SubmitAddComment(ctx, designID, x, y, text, role)
	if err != nil {
		return store.Comment{}, err
	}
	s.indexComment(comment)
	return comment, nil
}

// ResolveReview submits a resolveComment command through the hub.
func (s *Service) ResolveReview(ctx context.Context, designID, commentID, role string) error {
	if err := s.hub.SubmitResolveComment(ctx, designID, commentID, role); err != nil {
		return err
	}
	s.reindexResolved(ctx, designID, commentID)
	return nil
}

// ListReviews returns a design's comments newest first.
func (s *Service) ListReviews(ctx context.Context, designID string) ([]store.Comment, error) {
	comments, err := s.store.ListComments(ctx, designID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	return comments, nil
}

// Search runs a full-text query over review comments.
func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.searchSvc == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.searchSvc.Search(ctx, q), nil
}

// Versions lists the saved snapshot revisions for a design, newest first.
func (s *Service) Versions(ctx context.Context, designID string, limit int) ([]history.Version, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Version history is not configured", nil)
	}
	if _, err := s.store.GetDesign(ctx, designID); err != nil {
		return nil, err
	}
	return s.history.Versions(designID, limit)
}

// Snapshot returns the design bytes as of one committed revision.
func (s *Service) Snapshot(ctx context.Context, designID, hash string) ([]byte, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Version history is not configured", nil)
	}
	if _, err := s.store.GetDesign(ctx, designID); err != nil {
		return nil, err
	}
	return s.history.GetSnapshot(designID, hash)
}

// ListPresence reports the live sessions viewing a design.
func (s *Service) ListPresence(ctx context.Context, designID string) ([]presence.Entry, error) {
	if s.presence == nil {
		return nil, domainError(http.StatusServiceUnavailable, "PRESENCE_UNAVAILABLE", "Presence is not configured", nil)
	}
	return s.presence.List(ctx, designID)
}

// ExportSummary renders the design's review summary as a PDF.
func (s *Service) ExportSummary(ctx context.Context, designID string) (*export.Result, error) {
	return s.exporter.Export(ctx, export.Request{
		DesignID:    designID,
		Format:      export.FormatPDF,
		IncludeOpen: true,
		IncludeDone: true,
	})
}

// validDesignID restricts client-supplied ids to a filesystem-safe alphabet.
// The history and archive layers key repository paths and object names by
// design id, so anything that could carry a path segment is rejected before
// it reaches storage.
func validDesignID(id string) bool {
	if len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ReindexSearch pushes the full comment corpus to the search backend.
func (s *Service) ReindexSearch(ctx context.Context) {
	if s.searchSvc == nil {
		return
	}
	s.searchSvc.ReindexAllFromPG(ctx)
}

func (s *Service) indexComment(comment store.Comment) {
	if s.searchSvc == nil {
		return
	}
	s.searchSvc.IndexComment(search.CommentRecord{
		ID:       comment.ID,
		DesignID: comment.DesignID,
		Body:     comment.Text,
		Resolved: comment.Resolved,
		X:        comment.X,
		Y:        comment.Y,
	})
}

// reindexResolved refreshes the resolved flag in the search index. The hub
// has already committed; a lookup miss here only delays index convergence.
func (s *Service) reindexResolved(ctx context.Context, designID, commentID string) {
	if s.searchSvc == nil {
		return
	}
	comments, err := s.store.ListComments(ctx, designID)
	if err != nil {
		log.Printf("app: reindex resolved %s: %v", commentID, err)
		return
	}
	for _, comment := range comments {
		if comment.ID == commentID {
			s.indexComment(comment)
			return
		}
	}
}
