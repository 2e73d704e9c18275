package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for screenshots and runs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "grepshot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode so the pipeline can write while readers search.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for tests and one-off maintenance.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Screenshots ---

const screenshotColumns = "id, display_name, extracted_text, created_at"

// SaveScreenshot inserts a screenshot record, replacing any existing record with the same id.
func (s *Store) SaveScreenshot(sc Screenshot) error {
	_, err := s.db.Exec(`
		INSERT INTO screenshots (id, display_name, extracted_text, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			extracted_text = excluded.extracted_text,
			created_at = excluded.created_at`,
		sc.ID, sc.DisplayName, sc.ExtractedText, sc.CreatedAt,
	)
	return err
}

// GetScreenshot returns the record for id, or ErrNotFound.
func (s *Store) GetScreenshot(id string) (Screenshot, error) {
	var sc Screenshot
	err := s.db.QueryRow(
		"SELECT "+screenshotColumns+" FROM screenshots WHERE id = ?", id,
	).Scan(&sc.ID, &sc.DisplayName, &sc.ExtractedText, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return Screenshot{}, ErrNotFound
	}
	if err != nil {
		return Screenshot{}, err
	}
	return sc, nil
}

// HasScreenshot reports whether a record exists for id.
func (s *Store) HasScreenshot(id string) (bool, error) {
	var exists int
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM screenshots WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// MostRecentScreenshot returns the record with the greatest created_at, or ErrNotFound
// for an empty store. Discovery uses its created_at as the watermark.
func (s *Store) MostRecentScreenshot() (Screenshot, error) {
	var sc Screenshot
	err := s.db.QueryRow(
		"SELECT " + screenshotColumns + " FROM screenshots ORDER BY created_at DESC LIMIT 1",
	).Scan(&sc.ID, &sc.DisplayName, &sc.ExtractedText, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return Screenshot{}, ErrNotFound
	}
	if err != nil {
		return Screenshot{}, err
	}
	return sc, nil
}

// CountScreenshots returns the number of stored records.
func (s *Store) CountScreenshots() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM screenshots").Scan(&n)
	return n, err
}

// AllScreenshots returns every record, newest first.
func (s *Store) AllScreenshots() ([]Screenshot, error) {
	return s.queryScreenshots(
		"SELECT " + screenshotColumns + " FROM screenshots ORDER BY created_at DESC",
	)
}

// AllScreenshotIDs returns the set of processed ids.
func (s *Store) AllScreenshotIDs() (map[string]struct{}, error) {
	rows, err := s.db.Query("SELECT id FROM screenshots")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// SearchScreenshots returns records whose extracted text contains query,
// case-insensitive, newest first. An empty query matches nothing.
//
// Case folding is ASCII only: SQLite's lower() leaves non-ASCII letters
// untouched, so "ÄPFEL" stored in a screenshot is not found by "äpfel".
// Non-ASCII text still matches when the case agrees.
func (s *Store) SearchScreenshots(query string) ([]Screenshot, error) {
	if query == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.queryScreenshots(
		"SELECT "+screenshotColumns+` FROM screenshots
		WHERE lower(extracted_text) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC`,
		pattern,
	)
}

// escapeLike escapes the LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// DeleteAllScreenshots removes every record.
func (s *Store) DeleteAllScreenshots() error {
	_, err := s.db.Exec("DELETE FROM screenshots")
	return err
}

func (s *Store) queryScreenshots(query string, args ...any) ([]Screenshot, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Screenshot
	for rows.Next() {
		var sc Screenshot
		if err := rows.Scan(&sc.ID, &sc.DisplayName, &sc.ExtractedText, &sc.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

// --- Runs ---

// CreateRun records the start of a processing run.
func (s *Store) CreateRun(id string, total int) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, processed, total, status)
		VALUES (?, ?, 0, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339), total, RunStatusRunning,
	)
	return err
}

// UpdateRunProgress updates the processed counter of a running run.
func (s *Store) UpdateRunProgress(id string, processed int) error {
	res, err := s.db.Exec("UPDATE runs SET processed = ? WHERE id = ?", processed, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishRun marks a run terminal with the given status and optional error message.
func (s *Store) FinishRun(id, status, lastError string) error {
	res, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, last_error = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), status, lastError, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, processed, total, status, last_error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		var startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Processed, &r.Total, &r.Status, &r.LastError); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for run %s: %w", r.ID, err)
		}
		if finishedAt != "" {
			if r.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
				return nil, fmt.Errorf("parsing finished_at for run %s: %w", r.ID, err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
