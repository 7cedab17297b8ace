package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"redline/api/internal/util"
)

// MemoryStore keeps designs and comments in process memory. It satisfies the
// same contract as PostgresStore and backs tests and single-node dev runs.
type MemoryStore struct {
	mu       sync.Mutex
	designs  map[string]Design
	comments map[string]Comment
	order    []string
	seq      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		designs:  make(map[string]Design),
		comments: make(map[string]Comment),
	}
}

func (s *MemoryStore) SaveDesign(ctx context.Context, id string, data []byte, width, height int) (Design, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = util.NewID("des")
	}
	now := time.Now()
	design, ok := s.designs[id]
	if !ok {
		design = Design{ID: id, CreatedAt: now}
	}
	design.Data = append([]byte(nil), data...)
	design.Width = width
	design.Height = height
	design.UpdatedAt = now
	s.designs[id] = design
	return design, nil
}

func (s *MemoryStore) GetDesign(ctx context.Context, id string) (Design, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	design, ok := s.designs[id]
	if !ok {
		return Design{}, ErrNotFound
	}
	design.Data = append([]byte(nil), design.Data...)
	return design, nil
}

func (s *MemoryStore) CreateComment(ctx context.Context, designID string, x, y float64, text string) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	comment := Comment{
		ID:        util.NewID("rev"),
		DesignID:  designID,
		X:         x,
		Y:         y,
		Text:      text,
		Seq:       s.seq,
		CreatedAt: time.Now(),
	}
	s.comments[comment.ID] = comment
	s.order = append(s.order, comment.ID)
	return comment, nil
}

func (s *MemoryStore) ResolveComment(ctx context.Context, designID, id string) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.comments[id]
	if !ok || comment.DesignID != designID {
		return Comment{}, ErrNotFound
	}
	comment.Resolved = true
	s.comments[id] = comment
	return comment, nil
}

func (s *MemoryStore) ListComments(ctx context.Context, designID string) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Comment, 0)
	for _, id := range s.order {
		if comment := s.comments[id]; comment.DesignID == designID {
			items = append(items, comment)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].Seq < items[j].Seq
	})
	return items, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
