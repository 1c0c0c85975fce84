package search

// TrackRecord is the data we index for a playable track.
type TrackRecord struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	Thumbnail string `json:"thumbnail"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	Thumbnail string `json:"thumbnail"`
	Snippet   string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over known tracks.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push tracks into a search index.
type Indexer interface {
	IndexTrack(t TrackRecord) error
	IndexTracks(tracks []TrackRecord) error
}
