package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// generated search_vector columns.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across posts and comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultIdea {
		ideaWhere := "p.search_vector @@ " + tsQuery
		if q.FilterIdeaType != "" {
			ideaWhere += fmt.Sprintf(" AND p.idea_type = $%d", argN)
			args = append(args, q.FilterIdeaType)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'idea'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS post_id, p.idea_type,
				ts_rank(p.search_vector, %s) AS rank
			FROM posts p
			WHERE %s`, tsQuery, tsQuery, ideaWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := "c.search_vector @@ " + tsQuery
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, ''::text AS title,
				ts_headline('english', coalesce(c.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.post_id, ''::text AS idea_type,
				ts_rank(c.search_vector, %s) AS rank
			FROM comments c
			WHERE %s`, tsQuery, tsQuery, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, post_id, idea_type
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.PostID, &r.IdeaType); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IdeaRecord, []CommentRecord, error) {
	ideaRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, idea_type, tags
		FROM posts
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load ideas: %w", err)
	}
	defer ideaRows.Close()

	ideas := make([]IdeaRecord, 0)
	for ideaRows.Next() {
		var idea IdeaRecord
		var tags []byte
		if err := ideaRows.Scan(&idea.ID, &idea.Title, &idea.Content, &idea.IdeaType, &tags); err != nil {
			return nil, nil, fmt.Errorf("scan idea: %w", err)
		}
		idea.Tags = decodeTags(tags)
		ideas = append(ideas, idea)
	}
	if err := ideaRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate ideas: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT id, content, post_id
		FROM comments
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Content, &c.PostID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return ideas, comments, nil
}

func decodeTags(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return tags
}
