package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over saved
// favorites as a fallback when Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries favorites with plainto_tsquery and ts_rank. The same track
// saved by several users collapses to one result.
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

	const sub = `
		SELECT DISTINCT ON (f.url, f.title)
			f.url, f.title, f.channel, f.thumbnail,
			ts_headline('english', f.title, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(f.fts, plainto_tsquery('english', $1)) AS rank
		FROM favorites f
		WHERE f.fts @@ plainto_tsquery('english', $1)`

	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", sub)
	if err := p.db.QueryRowContext(ctx, countSQL, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT url, title, channel, thumbnail, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, sub, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.URL, &r.Title, &r.Channel, &r.Thumbnail, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllTracks returns the distinct saved tracks for full reindexing.
func (p *PgFTS) LoadAllTracks(ctx context.Context) ([]TrackRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (url, title) url, title, channel, thumbnail
		FROM favorites
	`)
	if err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]TrackRecord, 0)
	for rows.Next() {
		var t TrackRecord
		if err := rows.Scan(&t.URL, &t.Title, &t.Channel, &t.Thumbnail); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		t.ID = TrackID(t.URL, t.Title)
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}

	return tracks, nil
}
