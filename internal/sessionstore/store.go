// Package sessionstore is a SQLite-backed store for conversation snapshots,
// entirely peripheral to the agent loop's core Run call (SPEC_FULL §B.7,
// §1's persistence Non-goal). A host program loads a snapshot to seed
// AgentRequest.ConversationHistory for a --continue/--session <id> flag and
// saves the resulting AgentResponse.ConversationHistory back afterward; the
// core loop never imports this package.
package sessionstore

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/xonecas/agentrt/internal/conversation"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id        TEXT PRIMARY KEY,
	snapshot  TEXT NOT NULL,
	updated   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated);
`

// Store is a SQLite-backed registry of named conversation snapshots.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens a session store at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Save persists a conversation's current snapshot under id, replacing any
// prior snapshot saved under the same id.
func (s *Store) Save(id string, mgr *conversation.Manager) error {
	snapshot, err := mgr.ToJSON()
	if err != nil {
		return fmt.Errorf("session %q: marshal snapshot: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO sessions (id, snapshot, updated) VALUES (?, ?, ?)",
		id, snapshot, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("session %q: save: %w", id, err)
	}
	return nil
}

// Load rebuilds the conversation.Manager saved under id, or reports a miss.
func (s *Store) Load(id string) (*conversation.Manager, bool, error) {
	s.mu.Lock()
	var snapshot []byte
	err := s.db.QueryRow("SELECT snapshot FROM sessions WHERE id = ?", id).Scan(&snapshot)
	s.mu.Unlock()

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session %q: load: %w", id, err)
	}

	mgr, err := conversation.FromJSON(snapshot)
	if err != nil {
		log.Warn().Err(err).Str("session", id).Msg("sessionstore: corrupt snapshot, treating as miss")
		return nil, false, nil
	}
	return mgr, true, nil
}

// Delete removes a saved session, if any. A miss is not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("session %q: delete: %w", id, err)
	}
	return nil
}

// List returns every saved session id, most recently updated first. Saves
// within the same second are ordered by rowid, which INSERT OR REPLACE
// renews on every save.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query("SELECT id FROM sessions ORDER BY updated DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
