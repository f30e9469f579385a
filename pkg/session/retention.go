package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const archiveDirName = "archive"

// CleanupExpired archives sessions whose last activity is older than the
// retention window. Archived files move under the archive subdirectory so a
// sweep never silently destroys conversation history.
func (s *Store) CleanupExpired(ctx context.Context, retention time.Duration) (int, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return 0, err
	}

	archiveDir := filepath.Join(s.dir, archiveDirName)
	cutoff := time.Now().Add(-retention)
	archived := 0

	for _, sessionKey := range sessions {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}

		modified, err := s.LastModified(sessionKey)
		if err != nil {
			continue
		}
		if modified.After(cutoff) {
			continue
		}

		if err := os.MkdirAll(archiveDir, 0700); err != nil {
			return archived, fmt.Errorf("failed to create archive directory: %w", err)
		}

		lock := s.writeLock(sessionKey)
		lock.Lock()
		target := filepath.Join(archiveDir,
			fmt.Sprintf("%s-%s.jsonl", sessionKey, time.Now().Format("20060102")))
		err = os.Rename(s.path(sessionKey), target)
		lock.Unlock()

		if err != nil {
			log.Error().Err(err).Str("session_key", sessionKey).Msg("Failed to archive session")
			continue
		}

		archived++
		log.Info().Str("session_key", sessionKey).Msg("Session archived by retention sweep")
	}

	if archived > 0 {
		s.updateActiveSessionsMetric()
	}

	return archived, nil
}

// PurgeArchives deletes archived session files older than maxAge.
func (s *Store) PurgeArchives(ctx context.Context, maxAge time.Duration) (int, error) {
	archiveDir := filepath.Join(s.dir, archiveDirName)
	entries, err := os.ReadDir(archiveDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read archive directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	purged := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(archiveDir, entry.Name())); err != nil {
			log.Error().Err(err).Str("file", entry.Name()).Msg("Failed to purge archive")
			continue
		}
		purged++
	}

	return purged, nil
}
