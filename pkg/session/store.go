package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"switchboard/internal/observability"
	"switchboard/internal/tracing"
)

// Turn represents a single conversation turn under a logical session. Turns
// are append-only; metadata carries the raw untruncated agent output for
// diagnostics.
type Turn struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"` // caller, agent
	Content   string                 `json:"content"`
	Tool      string                 `json:"tool,omitempty"` // producing tool: agent name or advisory model
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// turnEntry is the on-disk JSONL record shape.
type turnEntry struct {
	SessionKey string `json:"session_key"`
	Turn       Turn   `json:"turn"`
}

// Store manages conversation turn persistence using JSONL files, one per
// logical session key.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewStore creates a turn store rooted at dir
func NewStore(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		return nil, fmt.Errorf("sessions directory is required")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("Turn store initialized")
	s.updateActiveSessionsMetric()

	return s, nil
}

// ValidateSessionKey validates the session key for filesystem safety
func ValidateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(sessionKey string) string {
	return filepath.Join(s.dir, sessionKey+".jsonl")
}

func (s *Store) updateActiveSessionsMetric() {
	sessions, err := s.ListSessions()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

func (s *Store) writeLock(sessionKey string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[sessionKey]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[sessionKey] = lock
	return lock
}

// AppendTurn appends one turn to a session, creating the session on first use
func (s *Store) AppendTurn(ctx context.Context, sessionKey string, turn Turn) error {
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"switchboard.session",
		"session.append_turn",
		attribute.String("session_key", sessionKey),
		attribute.String("role", turn.Role),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if turn.Role == "" {
		return fmt.Errorf("turn role cannot be empty")
	}
	if turn.Content == "" {
		return fmt.Errorf("turn content cannot be empty")
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	lock := s.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(sessionKey), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(turnEntry{SessionKey: sessionKey, Turn: turn})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write turn: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	s.updateActiveSessionsMetric()

	lg := tracing.LoggerFromContext(ctx, log.Logger)
	lg.Debug().
		Str("session_key", sessionKey).
		Str("role", turn.Role).
		Str("tool", turn.Tool).
		Msg("Turn appended")

	return nil
}

// LoadTurns loads all turns for a session. A missing session yields an empty
// slice, and corrupt lines are skipped rather than failing the load.
func (s *Store) LoadTurns(ctx context.Context, sessionKey string) ([]Turn, error) {
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"switchboard.session",
		"session.load_turns",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := ValidateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	file, err := os.Open(s.path(sessionKey))
	if os.IsNotExist(err) {
		return []Turn{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var turns []Turn
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry turnEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			skipped++
			continue
		}
		turns = append(turns, entry.Turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if skipped > 0 {
		lg := tracing.LoggerFromContext(ctx, log.Logger)
		lg.Warn().
			Str("session_key", sessionKey).
			Int("skipped", skipped).
			Msg("Corrupt turn entries skipped")
	}

	return turns, nil
}

// HasTurns reports whether a session has any recorded turns.
func (s *Store) HasTurns(ctx context.Context, sessionKey string) (bool, error) {
	if err := ValidateSessionKey(sessionKey); err != nil {
		return false, err
	}
	info, err := os.Stat(s.path(sessionKey))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() > 0, nil
}

// ListSessions returns all session keys with stored turns
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}
	return keys, nil
}

// DeleteSession removes a session's turn file
func (s *Store) DeleteSession(ctx context.Context, sessionKey string) error {
	if err := ValidateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := s.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	s.updateActiveSessionsMetric()
	log.Info().Str("session_key", sessionKey).Msg("Session deleted")
	return nil
}

// LastModified returns the last modification time of a session file.
func (s *Store) LastModified(sessionKey string) (time.Time, error) {
	if err := ValidateSessionKey(sessionKey); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(s.path(sessionKey))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
