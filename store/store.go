// Package store persists per-channel history: what was uploaded and when the
// next publish slot is, so consecutive runs space themselves out and the
// prompt can steer away from already-covered content.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	publish_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// Store is a sqlite-backed channel history. It implements pipeline.History.
type Store struct {
	db *sql.DB
}

// Open creates or opens the channel's history database under dataDir.
func Open(dataDir, channel string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, channel+".db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecentTitles returns up to limit most recent upload titles, newest first.
func (s *Store) RecentTitles(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT title FROM uploads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// LastScheduled returns the latest recorded publish time, or the zero time
// when the channel has no history.
func (s *Store) LastScheduled() (time.Time, error) {
	var raw string
	err := s.db.QueryRow(`SELECT publish_at FROM uploads ORDER BY id DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last scheduled: %w", err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last scheduled: %w", err)
	}
	return t, nil
}

// RecordUpload appends one upload to the history. A zero publishAt (immediate
// publish) is recorded as the current time.
func (s *Store) RecordUpload(title, url string, publishAt time.Time) error {
	if publishAt.IsZero() {
		publishAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO uploads (title, url, publish_at, created_at) VALUES (?, ?, ?, ?)`,
		title, url, publishAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}
