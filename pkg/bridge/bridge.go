package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"switchboard/internal/observability"
)

// Mapping is one (project, logical session, agent) → native token record.
type Mapping struct {
	Project     string    `json:"project"`
	SessionKey  string    `json:"session_key"`
	Agent       string    `json:"agent"`
	NativeToken string    `json:"native_token"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Bridge persists the mapping from a logical session identity to each
// agent's native session token. It is the only durable cross-invocation
// state in the orchestration core. Writes are upserts keyed by the composite
// (project, session_key, agent); concurrent writers resolve last-write-wins
// through sqlite's native upsert.
type Bridge struct {
	db     *sql.DB
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS session_mappings (
	project      TEXT NOT NULL,
	session_key  TEXT NOT NULL,
	agent        TEXT NOT NULL,
	native_token TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (project, session_key, agent)
);
CREATE INDEX IF NOT EXISTS idx_session_mappings_updated
	ON session_mappings (updated_at);
`

// New opens (creating if needed) the bridge database at dbPath
func New(dbPath string, logger zerolog.Logger) (*Bridge, error) {
	observability.EnsureRegistered()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create bridge directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bridge schema: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("Session bridge initialized")

	return &Bridge{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the underlying database
func (b *Bridge) Close() error {
	return b.db.Close()
}

// GetNativeToken returns the stored native token for the composite key.
// Absence is not an error; callers branch on ok.
func (b *Bridge) GetNativeToken(ctx context.Context, project, sessionKey, agent string) (string, bool, error) {
	var token string
	err := b.db.QueryRowContext(ctx,
		`SELECT native_token FROM session_mappings
		 WHERE project = ? AND session_key = ? AND agent = ?`,
		project, sessionKey, agent,
	).Scan(&token)

	if errors.Is(err, sql.ErrNoRows) {
		observability.RecordBridgeLookup(false)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("bridge lookup failed: %w", err)
	}

	observability.RecordBridgeLookup(true)
	return token, true, nil
}

// PutNativeToken upserts the native token for the composite key
func (b *Bridge) PutNativeToken(ctx context.Context, project, sessionKey, agent, token string) error {
	if token == "" {
		return fmt.Errorf("native token cannot be empty")
	}

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO session_mappings (project, session_key, agent, native_token, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project, session_key, agent)
		 DO UPDATE SET native_token = excluded.native_token, updated_at = excluded.updated_at`,
		project, sessionKey, agent, token, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("bridge upsert failed: %w", err)
	}

	observability.RecordBridgeUpsert()
	b.logger.Debug().
		Str("project", project).
		Str("session_key", sessionKey).
		Str("agent", agent).
		Msg("Native token stored")

	return nil
}

// DeleteToken removes one (project, session, agent) mapping.
func (b *Bridge) DeleteToken(ctx context.Context, project, sessionKey, agent string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM session_mappings WHERE project = ? AND session_key = ? AND agent = ?`,
		project, sessionKey, agent,
	)
	if err != nil {
		return fmt.Errorf("bridge delete failed: %w", err)
	}
	return nil
}

// DeleteSession removes every mapping for a logical session across agents.
func (b *Bridge) DeleteSession(ctx context.Context, project, sessionKey string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM session_mappings WHERE project = ? AND session_key = ?`,
		project, sessionKey,
	)
	if err != nil {
		return fmt.Errorf("bridge session delete failed: %w", err)
	}
	return nil
}

// ListSession returns all mappings held for a logical session.
func (b *Bridge) ListSession(ctx context.Context, project, sessionKey string) ([]Mapping, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT project, session_key, agent, native_token, updated_at
		 FROM session_mappings WHERE project = ? AND session_key = ?
		 ORDER BY agent`,
		project, sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("bridge list failed: %w", err)
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.Project, &m.SessionKey, &m.Agent, &m.NativeToken, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("bridge scan failed: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// HasSession reports whether any agent mapping exists for a logical session.
func (b *Bridge) HasSession(ctx context.Context, project, sessionKey string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM session_mappings WHERE project = ? AND session_key = ? LIMIT 1`,
		project, sessionKey,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SweepExpired deletes mappings not updated within ttl and returns how many
// were removed. Used by the maintenance schedule.
func (b *Bridge) SweepExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM session_mappings WHERE updated_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("bridge sweep failed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		b.logger.Info().Int64("removed", n).Msg("Expired session mappings swept")
	}
	return n, nil
}
