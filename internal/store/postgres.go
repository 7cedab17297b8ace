package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"redline/api/internal/util"
)

// PostgresStore is the durable authority for designs and review comments.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// SaveDesign upserts a design snapshot. An empty id mints a fresh one; an
// existing id has its data replaced wholesale and updated_at bumped.
// Last-writer-wins, no version token.
func (s *PostgresStore) SaveDesign(ctx context.Context, id string, data []byte, width, height int) (Design, error) {
	if id == "" {
		id = util.NewID("des")
	}
	design := Design{ID: id, Data: data, Width: width, Height: height}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO designs (id, data, width, height)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET data=EXCLUDED.data, width=EXCLUDED.width, height=EXCLUDED.height, updated_at=NOW()
		RETURNING created_at, updated_at
	`, id, data, width, height).Scan(&design.CreatedAt, &design.UpdatedAt)
	if err != nil {
		return Design{}, fmt.Errorf("save design: %w", err)
	}
	return design, nil
}

func (s *PostgresStore) GetDesign(ctx context.Context, id string) (Design, error) {
	var design Design
	err := s.db.QueryRowContext(ctx, `
		SELECT id, data, width, height, created_at, updated_at
		FROM designs
		WHERE id=$1
	`, id).Scan(&design.ID, &design.Data, &design.Width, &design.Height, &design.CreatedAt, &design.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Design{}, ErrNotFound
	}
	if err != nil {
		return Design{}, fmt.Errorf("get design: %w", err)
	}
	return design, nil
}

// CreateComment persists a new unresolved comment and assigns its id. The id
// is always minted here, never accepted from a client.
func (s *PostgresStore) CreateComment(ctx context.Context, designID string, x, y float64, text string) (Comment, error) {
	comment := Comment{
		ID:       util.NewID("rev"),
		DesignID: designID,
		X:        x,
		Y:        y,
		Text:     text,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reviews (id, design_id, x, y, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq, created_at
	`, comment.ID, designID, x, y, text).Scan(&comment.Seq, &comment.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

// ResolveComment flips resolved to true for a comment belonging to the given
// design and returns the updated record. Resolving an already-resolved
// comment is a no-op that still succeeds. The design scope is part of the
// WHERE clause, so a comment on another design is ErrNotFound and nothing is
// written.
func (s *PostgresStore) ResolveComment(ctx context.Context, designID, id string) (Comment, error) {
	var comment Comment
	err := s.db.QueryRowContext(ctx, `
		UPDATE reviews
		SET resolved=TRUE
		WHERE id=$1 AND design_id=$2
		RETURNING id, design_id, x, y, body, resolved, seq, created_at
	`, id, designID).Scan(&comment.ID, &comment.DesignID, &comment.X, &comment.Y, &comment.Text, &comment.Resolved, &comment.Seq, &comment.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("resolve comment: %w", err)
	}
	return comment, nil
}

// ListComments returns a design's comments newest first, created-at ties
// broken by insertion order.
func (s *PostgresStore) ListComments(ctx context.Context, designID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, design_id, x, y, body, resolved, seq, created_at
		FROM reviews
		WHERE design_id=$1
		ORDER BY created_at DESC, seq ASC
	`, designID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.DesignID, &item.X, &item.Y, &item.Text, &item.Resolved, &item.Seq, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
