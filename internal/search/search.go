// Package search provides full-text issue search with a Meilisearch primary
// backend and a PostgreSQL fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Type      string `json:"type"`
	Priority  string `json:"priority"`
	Status    string `json:"status"`
}

// Query describes a search request scoped to one project.
type Query struct {
	Text      string
	ProjectID string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// IssueRecord is the data we index for an issue.
type IssueRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}
