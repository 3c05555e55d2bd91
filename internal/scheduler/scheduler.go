// Package scheduler runs periodic housekeeping: expiring idle UI sessions
// and deleting expired login tokens.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// SessionExpirer drops in-memory sessions idle for longer than idle.
type SessionExpirer interface {
	Expire(idle time.Duration) int
}

// TokenCleaner deletes expired login tokens and returns their ids.
type TokenCleaner interface {
	CleanupExpiredSessions(ctx context.Context) ([]string, error)
}

// Scheduler manages the housekeeping jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	sessions  SessionExpirer
	tokens    TokenCleaner
	idle      time.Duration
}

// New creates a scheduler. tokens may be nil when login is disabled.
func New(sessions SessionExpirer, tokens TokenCleaner, idle time.Duration) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		sessions:  sessions,
		tokens:    tokens,
		idle:      idle,
	}
}

// Start schedules the sweep every interval and runs it in the background.
func (s *Scheduler) Start(interval time.Duration) error {
	if _, err := s.scheduler.Every(interval).Do(s.sweep); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	s.scheduler.StartAsync()
	slog.Info("session sweeper started", "interval", interval, "idle", s.idle)
	return nil
}

// Stop terminates all scheduled jobs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Sweep(ctx)
}

// Sweep runs one housekeeping pass.
func (s *Scheduler) Sweep(ctx context.Context) {
	if n := s.sessions.Expire(s.idle); n > 0 {
		slog.Info("expired idle sessions", "count", n)
	}
	if s.tokens == nil {
		return
	}
	ids, err := s.tokens.CleanupExpiredSessions(ctx)
	if err != nil {
		slog.Error("failed to clean up login tokens", "error", err)
		return
	}
	if len(ids) > 0 {
		slog.Info("deleted expired login tokens", "count", len(ids))
	}
}
