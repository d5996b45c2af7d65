package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLSearch is the fallback searcher: a case-insensitive substring match
// that runs on both Postgres and SQLite.
type SQLSearch struct {
	db *sql.DB
}

func NewSQLSearch(db *sql.DB) *SQLSearch {
	return &SQLSearch{db: db}
}

func (p *SQLSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE LOWER(m.text) LIKE $1 ESCAPE '\'
	`, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, u.username, m.text, m.timestamp
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE LOWER(m.text) LIKE $1 ESCAPE '\'
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, pattern, normalizeLimit(q.Limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Username, &r.Text, &r.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every message for a full reindex.
func (p *SQLSearch) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.text, m.user_id, u.username, m.timestamp
		FROM messages m
		JOIN users u ON u.id = m.user_id
		ORDER BY m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load messages for reindex: %w", err)
	}
	defer rows.Close()

	records := make([]MessageRecord, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MessageID, &r.Text, &r.UserID, &r.Username, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message for reindex: %w", err)
		}
		records = append(records, MessageRecord{
			ID:        r.MessageID,
			Text:      r.Text,
			UserID:    r.UserID,
			Username:  r.Username,
			Timestamp: r.Timestamp.Unix(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages for reindex: %w", err)
	}
	return records, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
