// Package store persists the PortEntry table in sqlite using a
// WAL-mode, busy-retrying connection idiom.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an operation targets a port with no entry.
var ErrNotFound = errors.New("not found")

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// StatusActive / StatusInactive are the two PortEntry states.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// PortEntry is one row of the port table.
type PortEntry struct {
	Port       int       `json:"port"`
	Name       string    `json:"name,omitempty"`
	Status     string    `json:"status"`
	ExposedAt  time.Time `json:"exposedAt"`
	InactiveAt time.Time `json:"inactiveAt,omitempty"`
}

// Store is the sqlite-backed PortEntry table.
type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS ports (
	port        INTEGER PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'active',
	exposed_at  DATETIME NOT NULL,
	inactive_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_ports_status ON ports(status);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens the store. maxOpenConns controls the connection pool size (0 = default 4).
func New(dbPath string, maxOpenConns int) (*Store, error) {
	dsn := dsnWithPragmas(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts a new active entry for port, or reactivates/renames an
// existing one.
func (s *Store) Upsert(entry *PortEntry) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(
			`INSERT INTO ports (port, name, status, exposed_at, inactive_at)
			 VALUES (?, ?, ?, ?, NULL)
			 ON CONFLICT(port) DO UPDATE SET name = excluded.name, status = excluded.status,
				exposed_at = excluded.exposed_at, inactive_at = NULL`,
			entry.Port, entry.Name, entry.Status, entry.ExposedAt.UTC(),
		)
		return err
	})
}

// MarkInactive flips an entry from active to inactive.
func (s *Store) MarkInactive(port int) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE ports SET status = ?, inactive_at = ? WHERE port = ?`,
			StatusInactive, time.Now().UTC(), port,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("marking port inactive: %w", err)
	}
	return checkRowAffected(result, port)
}

// Get returns the entry for port, or ErrNotFound.
func (s *Store) Get(port int) (*PortEntry, error) {
	row := s.db.QueryRow(
		`SELECT port, name, status, exposed_at, inactive_at FROM ports WHERE port = ?`, port,
	)
	return scanEntry(row)
}

// List returns every tracked entry, most recently exposed first.
func (s *Store) List() ([]*PortEntry, error) {
	rows, err := s.db.Query(
		`SELECT port, name, status, exposed_at, inactive_at FROM ports ORDER BY exposed_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing ports: %w", err)
	}
	defer rows.Close()

	var out []*PortEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteStaleInactive removes inactive entries whose inactive_at is older
// than olderThan, returning how many were removed.
func (s *Store) DeleteStaleInactive(olderThan time.Duration) (int, error) {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`DELETE FROM ports WHERE status = ? AND inactive_at IS NOT NULL AND inactive_at <= ?`,
			StatusInactive, time.Now().Add(-olderThan).UTC(),
		)
		return e
	})
	if err != nil {
		return 0, fmt.Errorf("deleting stale ports: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*PortEntry, error) {
	var e PortEntry
	var inactiveAt sql.NullTime
	err := row.Scan(&e.Port, &e.Name, &e.Status, &e.ExposedAt, &inactiveAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning port entry: %w", err)
	}
	if inactiveAt.Valid {
		e.InactiveAt = inactiveAt.Time
	}
	return &e, nil
}

func checkRowAffected(result sql.Result, port int) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: port %d", ErrNotFound, port)
	}
	return nil
}
