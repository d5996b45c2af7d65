package search

import "time"

// Result is a single message hit.
type Result struct {
	MessageID int64
	UserID    int64
	Username  string
	Text      string
	Timestamp time.Time
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is what the search page renders.
type Response struct {
	Results []Result
	Total   int
	Query   string
	// Backend names the engine that answered: "meilisearch" or "sql".
	Backend string
}

// MessageRecord is the document pushed into the search index.
type MessageRecord struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
