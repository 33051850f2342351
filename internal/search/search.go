// Package search provides full-text search over ideas and comments,
// with Meilisearch as the primary backend and Postgres FTS as fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultIdea    ResultType = "idea"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	PostID   string     `json:"postId"`
	IdeaType string     `json:"ideaType,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterIdeaType string     // concept/mvp/testing/scaling, ideas only
	Limit          int
	Offset         int
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

// IdeaRecord is the data indexed for an idea post.
type IdeaRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	IdeaType string   `json:"ideaType"`
	Tags     []string `json:"tags"`
}

// CommentRecord is the data indexed for a comment.
type CommentRecord struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	PostID  string `json:"postId"`
}
