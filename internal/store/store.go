package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"watchbridge/internal/config"
)

// Store manages watchlist persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the watchlist database and applies
// migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "watchbridge.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Stats aggregates row counts for diagnostic output.
type Stats struct {
	Users        int
	SyncDisabled int
	ItemsByState map[ItemStatus]int
	PendingDiffs int
}

// Stats returns aggregate counts across all tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ItemsByState: make(map[ItemStatus]int)}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1), COALESCE(SUM(CASE WHEN can_sync = 0 THEN 1 ELSE 0 END), 0) FROM users`)
	if err := row.Scan(&stats.Users, &stats.SyncDisabled); err != nil {
		return stats, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM watchlist_items GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ItemsByState[status] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM pending_diff_items`)
	if err := row.Scan(&stats.PendingDiffs); err != nil {
		return stats, fmt.Errorf("count pending diffs: %w", err)
	}
	return stats, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
