// Package store persists which listing IDs each job has already reported.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amishk599/listingwatch/internal/model"
)

// Ensure SQLiteStore implements model.SeenStore.
var _ model.SeenStore = (*SQLiteStore)(nil)

const (
	createSeenTable = `CREATE TABLE IF NOT EXISTS seen_listings (
		job_key    TEXT    NOT NULL,
		listing_id TEXT    NOT NULL,
		first_seen INTEGER NOT NULL,
		last_seen  INTEGER NOT NULL,
		PRIMARY KEY (job_key, listing_id)
	)`
	createSeededTable = `CREATE TABLE IF NOT EXISTS seeded_jobs (
		job_key   TEXT    PRIMARY KEY,
		seeded_at INTEGER NOT NULL
	)`
)

// SQLiteStore tracks seen listing IDs per job in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures the
// seen_listings and seeded_jobs tables exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	// One writer at a time; jobs poll concurrently.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createSeenTable, createSeededTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}
	if err := migrateLastSeen(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// migrateLastSeen upgrades databases created before last_seen and seeded_jobs
// existed. Jobs that already have entries count as seeded.
func migrateLastSeen(db *sql.DB) error {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('seen_listings') WHERE name = 'last_seen'").Scan(&n)
	if err != nil {
		return fmt.Errorf("inspecting seen_listings: %w", err)
	}
	if n > 0 {
		return nil
	}

	stmts := []string{
		"ALTER TABLE seen_listings ADD COLUMN last_seen INTEGER NOT NULL DEFAULT 0",
		"UPDATE seen_listings SET last_seen = first_seen",
		"INSERT OR IGNORE INTO seeded_jobs (job_key, seeded_at) SELECT job_key, MIN(first_seen) FROM seen_listings GROUP BY job_key",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating seen_listings: %w", err)
		}
	}
	return nil
}

// HasSeen returns true if the job has already recorded listingID, and marks it
// as observed now.
func (s *SQLiteStore) HasSeen(jobKey, listingID string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE seen_listings SET last_seen = ? WHERE job_key = ? AND listing_id = ?",
		time.Now().Unix(), jobKey, listingID,
	)
	if err != nil {
		return false, fmt.Errorf("checking seen status for %s/%s: %w", jobKey, listingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking seen status for %s/%s: %w", jobKey, listingID, err)
	}
	return n > 0, nil
}

// MarkSeen records listingID for the job. An existing entry keeps its
// first_seen and gets a fresh last_seen.
func (s *SQLiteStore) MarkSeen(jobKey, listingID string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO seen_listings (job_key, listing_id, first_seen, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT (job_key, listing_id) DO UPDATE SET last_seen = excluded.last_seen`,
		jobKey, listingID, now, now,
	)
	if err != nil {
		return fmt.Errorf("marking listing %s/%s as seen: %w", jobKey, listingID, err)
	}
	return nil
}

// Cleanup deletes entries of every job not observed within olderThan.
func (s *SQLiteStore) Cleanup(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()
	_, err := s.db.Exec("DELETE FROM seen_listings WHERE last_seen < ?", cutoff)
	if err != nil {
		return fmt.Errorf("cleaning up seen listings older than %v: %w", olderThan, err)
	}
	return nil
}

// IsSeeded returns true once the job's first run has completed.
func (s *SQLiteStore) IsSeeded(jobKey string) (bool, error) {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM seeded_jobs WHERE job_key = ?", jobKey).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking seeded status for %s: %w", jobKey, err)
	}
	return true, nil
}

// MarkSeeded records that the job completed its first run.
func (s *SQLiteStore) MarkSeeded(jobKey string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO seeded_jobs (job_key, seeded_at) VALUES (?, ?)",
		jobKey, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("marking job %s as seeded: %w", jobKey, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
