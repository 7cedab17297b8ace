package search

import "context"

// Result is a single comment hit returned to the caller.
type Result struct {
	ID       string  `json:"id"`
	DesignID string  `json:"designId"`
	Text     string  `json:"text"`
	Snippet  string  `json:"snippet"`
	Resolved bool    `json:"resolved"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// Query describes a comment search request, scoped to one design.
type Query struct {
	Text     string
	DesignID string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over review comments.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// CommentRecord is the data we index for a review comment.
type CommentRecord struct {
	ID       string  `json:"id"`
	DesignID string  `json:"designId"`
	Body     string  `json:"body"`
	Resolved bool    `json:"resolved"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}
