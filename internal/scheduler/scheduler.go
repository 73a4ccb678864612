package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kpessa/delphi-webapp/internal/config"
	"github.com/kpessa/delphi-webapp/internal/models"
	"github.com/kpessa/delphi-webapp/internal/service"
)

// taskTimeout bounds a single run of any task
const taskTimeout = 10 * time.Minute

// DigestSender flushes queued digest emails
type DigestSender interface {
	SendDigests(ctx context.Context, frequencies []models.EmailFrequency) (int, error)
}

// InvitationExpirer marks past-due invitations expired
type InvitationExpirer interface {
	ExpireSweep(ctx context.Context) (int64, error)
}

// NotificationPruner deletes old notifications
type NotificationPruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Scheduler handles periodic tasks
type Scheduler struct {
	digests       DigestSender
	invitations   InvitationExpirer
	notifications NotificationPruner
	config        *config.SchedulerConfig
	now           func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(
	digests DigestSender,
	invitations InvitationExpirer,
	notifications NotificationPruner,
	cfg *config.SchedulerConfig,
) *Scheduler {
	return &Scheduler{
		digests:       digests,
		invitations:   invitations,
		notifications: notifications,
		config:        cfg,
		now:           time.Now,
	}
}

// Start starts all enabled tasks. Invalid schedules are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	slog.Info("Starting scheduler",
		"digest_enabled", s.config.EnableDigest,
		"invitation_expiry_enabled", s.config.EnableInvitationExpiry,
		"cleanup_enabled", s.config.EnableCleanup)

	if s.config.EnableDigest {
		s.startTask(ctx, s.config.DigestCron, "email_digest", s.sendDigests)
	}
	if s.config.EnableInvitationExpiry {
		s.startTask(ctx, s.config.InvitationExpiryCron, "invitation_expiry", s.expireInvitations)
	}
	if s.config.EnableCleanup {
		s.startTask(ctx, s.config.NotificationCleanupCron, "notification_cleanup", s.cleanupNotifications)
	}

	slog.Info("Scheduler started")
}

// Stop stops the scheduler and waits for running tasks to return
func (s *Scheduler) Stop() {
	slog.Info("Stopping scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) startTask(ctx context.Context, cronExpr, taskName string, task func(context.Context) error) {
	sched, err := parseCron(cronExpr)
	if err != nil {
		slog.Error("Failed to start task", "task", taskName, "error", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, sched, taskName, task)
	}()
}

func (s *Scheduler) run(ctx context.Context, sched schedule, taskName string, task func(context.Context) error) {
	for {
		now := s.now()
		next := sched.next(now)
		slog.Info("Next task run scheduled", "task", taskName, "next_run", next.Format("2006-01-02 15:04:05"))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.runOnce(ctx, taskName, task)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, taskName string, task func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	if err := task(ctx); err != nil {
		slog.Error("Task failed", "task", taskName, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return
	}
	slog.Info("Task completed", "task", taskName, "duration_ms", time.Since(start).Milliseconds())
}

// sendDigests flushes daily digests, and weekly ones on the configured weekday
func (s *Scheduler) sendDigests(ctx context.Context) error {
	frequencies := service.DigestFrequencies(s.now(), time.Weekday(s.config.WeeklyDigestWeekday))
	if _, err := s.digests.SendDigests(ctx, frequencies); err != nil {
		return fmt.Errorf("failed to send digests: %w", err)
	}
	return nil
}

func (s *Scheduler) expireInvitations(ctx context.Context) error {
	expired, err := s.invitations.ExpireSweep(ctx)
	if err != nil {
		return fmt.Errorf("failed to expire invitations: %w", err)
	}
	if expired > 0 {
		slog.Info("Expired invitations", "count", expired)
	}
	return nil
}

func (s *Scheduler) cleanupNotifications(ctx context.Context) error {
	deleted, err := s.notifications.DeleteOlderThan(ctx, s.config.NotificationRetention)
	if err != nil {
		return fmt.Errorf("failed to delete old notifications: %w", err)
	}
	slog.Info("Deleted old notifications", "count", deleted, "retention", s.config.NotificationRetention)
	return nil
}

type scheduleKind int

const (
	everyMinutes scheduleKind = iota
	everyHours
	daily
	weekly
)

// schedule is a parsed subset of cron: "minute hour day month weekday".
// Supported forms: "*/n * * * *", "m */n * * *", "m h * * *" and "m h * * w".
type schedule struct {
	kind     scheduleKind
	interval int
	minute   int
	hour     int
	weekday  time.Weekday
}

// parseCron parses a cron expression
// Examples: "0 9 * * 1" = Monday 9 AM, "0 8 * * *" = Daily 8 AM, "*/5 * * * *" = Every 5 minutes
func parseCron(cronExpr string) (schedule, error) {
	parts := strings.Fields(cronExpr)
	if len(parts) != 5 {
		return schedule{}, fmt.Errorf("invalid cron expression: %s (expected 5 fields)", cronExpr)
	}
	if parts[2] != "*" || parts[3] != "*" {
		return schedule{}, fmt.Errorf("invalid cron expression: %s (day and month must be *)", cronExpr)
	}

	if strings.HasPrefix(parts[0], "*/") {
		interval, err := strconv.Atoi(parts[0][2:])
		if err != nil || interval < 1 || interval > 59 {
			return schedule{}, fmt.Errorf("invalid minute interval in cron: %s", parts[0])
		}
		return schedule{kind: everyMinutes, interval: interval}, nil
	}

	minute, err := strconv.Atoi(parts[0])
	if err != nil || minute < 0 || minute > 59 {
		return schedule{}, fmt.Errorf("invalid minute in cron: %s", parts[0])
	}

	if strings.HasPrefix(parts[1], "*/") {
		interval, err := strconv.Atoi(parts[1][2:])
		if err != nil || interval < 1 || interval > 23 {
			return schedule{}, fmt.Errorf("invalid hour interval in cron: %s", parts[1])
		}
		return schedule{kind: everyHours, interval: interval, minute: minute}, nil
	}

	hour, err := strconv.Atoi(parts[1])
	if err != nil || hour < 0 || hour > 23 {
		return schedule{}, fmt.Errorf("invalid hour in cron: %s", parts[1])
	}

	if parts[4] == "*" {
		return schedule{kind: daily, hour: hour, minute: minute}, nil
	}

	weekday, err := strconv.Atoi(parts[4])
	if err != nil || weekday < 0 || weekday > 6 {
		return schedule{}, fmt.Errorf("invalid weekday in cron: %s (0-6, 0=Sunday)", parts[4])
	}
	return schedule{kind: weekly, hour: hour, minute: minute, weekday: time.Weekday(weekday)}, nil
}

// next returns the first run time strictly after from
func (s schedule) next(from time.Time) time.Time {
	switch s.kind {
	case everyMinutes:
		next := from.Truncate(time.Minute).Add(time.Minute)
		for next.Minute()%s.interval != 0 {
			next = next.Add(time.Minute)
		}
		return next

	case everyHours:
		next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.Add(time.Hour)
		}
		for next.Hour()%s.interval != 0 {
			next = next.Add(time.Hour)
		}
		return next

	case weekly:
		next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
		daysUntil := int(s.weekday - from.Weekday())
		if daysUntil < 0 {
			daysUntil += 7
		}
		next = next.AddDate(0, 0, daysUntil)
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return next

	default:
		next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}
