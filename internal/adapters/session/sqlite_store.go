package session

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite-backed implementation of the FlagStore interface.
// It keeps session flags alive across consumer restarts within one login
// session; the file is wiped on sign-in and sign-out via Clear. Store
// failures are logged, never surfaced: flag persistence is best-effort and
// the in-process flag state stays authoritative.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the session store at dbPath.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS session_flags (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session_flags table: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Get retrieves a stored value for a key.
func (s *SQLiteStore) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session_flags WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("Failed to read session flag", zap.Error(err), zap.String("key", key))
		}
		return "", false
	}
	return value, true
}

// Set stores a value for a key.
func (s *SQLiteStore) Set(key, value string) {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO session_flags (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		s.logger.Error("Failed to write session flag", zap.Error(err), zap.String("key", key))
	}
}

// Delete removes a key; no-op if absent.
func (s *SQLiteStore) Delete(key string) {
	if _, err := s.db.Exec(`DELETE FROM session_flags WHERE key = ?`, key); err != nil {
		s.logger.Error("Failed to delete session flag", zap.Error(err), zap.String("key", key))
	}
}

// Clear removes every key.
func (s *SQLiteStore) Clear() {
	if _, err := s.db.Exec(`DELETE FROM session_flags`); err != nil {
		s.logger.Error("Failed to clear session flags", zap.Error(err))
	}
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
