package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"switchboard/internal/observability"
)

// Bridge sweeps expired native-token mappings.
type Bridge interface {
	SweepExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// SessionStore archives expired session histories.
type SessionStore interface {
	CleanupExpired(ctx context.Context, retention time.Duration) (int, error)
	PurgeArchives(ctx context.Context, maxAge time.Duration) (int, error)
	ListSessions() ([]string, error)
}

// Isolator garbage-collects per-session isolation directories.
type Isolator interface {
	ListSessions() ([]string, error)
	ModTime(sessionKey string) (time.Time, error)
	Remove(sessionKey string) error
}

// JobRegistry compacts terminal job records.
type JobRegistry interface {
	Compact(maxAge time.Duration) int
}

// Config holds maintenance configuration
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string

	MappingTTL       time.Duration
	SessionRetention time.Duration

	// IsolationGrace keeps freshly prepared isolation directories out of
	// the GC: a first invocation holds its directory before it has written
	// any session history.
	IsolationGrace time.Duration

	Bridge   Bridge
	Sessions SessionStore
	Isolator Isolator
	Jobs     JobRegistry
	Logger   zerolog.Logger
}

// Service runs the scheduled maintenance sweep: mapping expiry, session
// retention, isolation directory GC, and job registry compaction.
type Service struct {
	cfg    Config
	cron   *cron.Cron
	logger zerolog.Logger
}

// New creates the maintenance service
func New(cfg Config) (*Service, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "17 3 * * *"
	}
	if cfg.MappingTTL == 0 {
		cfg.MappingTTL = 30 * 24 * time.Hour
	}
	if cfg.SessionRetention == 0 {
		cfg.SessionRetention = 90 * 24 * time.Hour
	}
	if cfg.IsolationGrace == 0 {
		cfg.IsolationGrace = time.Hour
	}

	s := &Service{
		cfg:    cfg,
		cron:   cron.New(),
		logger: cfg.Logger.With().Str("component", "maintenance").Logger(),
	}

	if _, err := s.cron.AddFunc(cfg.Schedule, s.RunSweep); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Schedule, err)
	}

	return s, nil
}

// Start begins the schedule.
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info().Str("schedule", s.cfg.Schedule).Msg("Maintenance schedule started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance schedule stopped")
}

// RunSweep executes one full maintenance pass. Each step is independent; a
// failing step is logged and the rest still run.
func (s *Service) RunSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	s.logger.Info().Msg("Maintenance sweep starting")

	if s.cfg.Bridge != nil {
		swept, err := s.cfg.Bridge.SweepExpired(ctx, s.cfg.MappingTTL)
		if err != nil {
			s.logger.Error().Err(err).Msg("Mapping expiry sweep failed")
		} else if swept > 0 {
			s.logger.Info().Int64("removed", swept).Msg("Expired native-token mappings removed")
		}
	}

	if s.cfg.Sessions != nil {
		archived, err := s.cfg.Sessions.CleanupExpired(ctx, s.cfg.SessionRetention)
		if err != nil {
			s.logger.Error().Err(err).Msg("Session retention sweep failed")
		} else if archived > 0 {
			s.logger.Info().Int("archived", archived).Msg("Expired sessions archived")
		}

		purged, err := s.cfg.Sessions.PurgeArchives(ctx, s.cfg.SessionRetention)
		if err != nil {
			s.logger.Error().Err(err).Msg("Archive purge failed")
		} else if purged > 0 {
			s.logger.Info().Int("purged", purged).Msg("Old session archives purged")
		}
	}

	s.collectIsolationDirs()

	if s.cfg.Jobs != nil {
		if removed := s.cfg.Jobs.Compact(s.cfg.SessionRetention); removed > 0 {
			s.logger.Info().Int("removed", removed).Msg("Job registry compacted")
		}
	}

	observability.RecordAdminAudit(ctx, "maintenance_sweep", "scheduler", "success", map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	s.logger.Info().Dur("duration", time.Since(start)).Msg("Maintenance sweep finished")
}

// collectIsolationDirs removes isolation directories whose logical session
// no longer has any stored history. Retention archives the history first,
// so an orphaned isolation dir means the session is gone for good. Recently
// touched directories are left alone: a first invocation prepares its
// directory before it appends any turn.
func (s *Service) collectIsolationDirs() {
	if s.cfg.Isolator == nil || s.cfg.Sessions == nil {
		return
	}

	isolated, err := s.cfg.Isolator.ListSessions()
	if err != nil {
		s.logger.Error().Err(err).Msg("Listing isolation directories failed")
		return
	}

	live, err := s.cfg.Sessions.ListSessions()
	if err != nil {
		s.logger.Error().Err(err).Msg("Listing sessions failed")
		return
	}

	liveSet := make(map[string]struct{}, len(live))
	for _, key := range live {
		liveSet[key] = struct{}{}
	}

	removed := 0
	for _, key := range isolated {
		if _, ok := liveSet[key]; ok {
			continue
		}
		if mtime, err := s.cfg.Isolator.ModTime(key); err == nil && time.Since(mtime) < s.cfg.IsolationGrace {
			continue
		}
		if err := s.cfg.Isolator.Remove(key); err != nil {
			s.logger.Warn().Err(err).Str("session_key", key).Msg("Failed to remove isolation directory")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Orphaned isolation directories removed")
	}
}
