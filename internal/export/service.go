package export

import (
	"context"
	"fmt"
	"time"

	"redline/api/internal/store"
)

// DataStore defines the data access the exporter needs
type DataStore interface {
	GetDesign(ctx context.Context, id string) (store.Design, error)
	ListComments(ctx context.Context, designID string) ([]store.Comment, error)
}

// Service provides review summary export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	design, err := s.store.GetDesign(ctx, req.DesignID)
	if err != nil {
		return nil, fmt.Errorf("get design: %w", err)
	}

	comments, err := s.store.ListComments(ctx, req.DesignID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	data := TemplateData{
		DesignID:    design.ID,
		Width:       design.Width,
		Height:      design.Height,
		Snapshot:    SnapshotDataURL(design.Data),
		GeneratedAt: time.Now(),
		Markers:     []TemplateMarker{},
		Comments:    []TemplateComment{},
	}

	// The list endpoint returns newest first; number the table oldest first
	// so marker numbers match the order reviewers left them.
	for i := len(comments) - 1; i >= 0; i-- {
		c := comments[i]
		if c.Resolved && !req.IncludeDone {
			continue
		}
		if !c.Resolved && !req.IncludeOpen {
			continue
		}
		number := len(data.Comments) + 1
		data.Markers = append(data.Markers, TemplateMarker{
			Number:   number,
			X:        c.X,
			Y:        c.Y,
			Resolved: c.Resolved,
		})
		status := "OPEN"
		if c.Resolved {
			status = "RESOLVED"
		}
		data.Comments = append(data.Comments, TemplateComment{
			Number:    number,
			Text:      c.Text,
			Status:    status,
			CreatedAt: c.CreatedAt,
		})
	}

	html, err := RenderSummaryHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return renderPDF(ctx, html, "review-summary-"+design.ID, design.Width, design.Height)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
