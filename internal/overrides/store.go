// Package overrides persists local display-name aliases. Aliases are a
// bridge-local concern: they never leave the process except as the
// effective name in frames sent to dashboard clients.
package overrides

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_aliases (
	agent_id   TEXT PRIMARY KEY,
	alias      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store is the sqlite-backed alias store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the alias database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open overrides db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply overrides schema: %w", err)
	}
	return &Store{db: db}, nil
}

// All returns every stored alias keyed by agent id.
func (s *Store) All() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT agent_id, alias FROM agent_aliases`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, alias string
		if err := rows.Scan(&id, &alias); err != nil {
			return nil, err
		}
		out[id] = alias
	}
	return out, rows.Err()
}

// Set upserts the alias for an agent.
func (s *Store) Set(agentID, alias string) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_aliases (agent_id, alias, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(agent_id) DO UPDATE SET alias = excluded.alias, updated_at = excluded.updated_at
	`, agentID, alias)
	return err
}

// Delete removes the alias for an agent.
func (s *Store) Delete(agentID string) error {
	_, err := s.db.Exec(`DELETE FROM agent_aliases WHERE agent_id = ?`, agentID)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
