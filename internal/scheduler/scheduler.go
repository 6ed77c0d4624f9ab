// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	JobPendingBacklog        = "pending-backlog"
	JobNotificationRetention = "notification-retention"

	jobTimeout = time.Minute
)

// BacklogNotifier reminds administrators about accounts awaiting approval.
type BacklogNotifier interface {
	NotifyPendingBacklog(ctx context.Context) (bool, error)
}

// NotificationPurger deletes read notifications older than a retention period.
type NotificationPurger interface {
	PurgeRead(ctx context.Context, retention time.Duration) (int64, error)
}

// Options configures job intervals.
type Options struct {
	PendingBacklogEvery time.Duration
	RetentionEvery      time.Duration
	Retention           time.Duration
}

// Manager owns the gocron scheduler and its jobs.
type Manager struct {
	scheduler gocron.Scheduler
	backlog   BacklogNotifier
	purger    NotificationPurger
	opts      Options
	logger    *zap.Logger
}

// NewManager creates a scheduler manager. Jobs run in singleton mode: a slow run is never overlapped.
func NewManager(backlog BacklogNotifier, purger NotificationPurger, opts Options, logger *zap.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if opts.PendingBacklogEvery <= 0 {
		opts.PendingBacklogEvery = 5 * time.Minute
	}
	if opts.RetentionEvery <= 0 {
		opts.RetentionEvery = 24 * time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 90 * 24 * time.Hour
	}
	return &Manager{scheduler: s, backlog: backlog, purger: purger, opts: opts, logger: logger}, nil
}

// RegisterJobs adds every job to the scheduler.
func (m *Manager) RegisterJobs() error {
	if err := m.register(JobPendingBacklog, m.opts.PendingBacklogEvery, m.PendingBacklog); err != nil {
		return err
	}
	return m.register(JobNotificationRetention, m.opts.RetentionEvery, m.NotificationRetention)
}

func (m *Manager) register(name string, every time.Duration, fn func()) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", name, err)
	}
	m.logger.Info("job registered", zap.String("job", name), zap.Duration("every", every))
	return nil
}

// JobNames lists the registered jobs.
func (m *Manager) JobNames() []string {
	jobs := m.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start begins running jobs.
func (m *Manager) Start() {
	m.scheduler.Start()
	m.logger.Info("scheduler started")
}

// Stop waits for running jobs and shuts the scheduler down.
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		m.logger.Warn("scheduler shutdown failed", zap.Error(err))
	}
	m.logger.Info("scheduler stopped")
}

// PendingBacklog reminds administrators about pending registrations, at most once per throttle window.
func (m *Manager) PendingBacklog() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	sent, err := m.backlog.NotifyPendingBacklog(ctx)
	if err != nil {
		m.logger.Error("pending backlog job failed", zap.Error(err))
		return
	}
	if sent {
		m.logger.Info("pending backlog reminder sent")
	}
}

// NotificationRetention deletes read notifications past the retention period.
func (m *Manager) NotificationRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := m.purger.PurgeRead(ctx, m.opts.Retention)
	if err != nil {
		m.logger.Error("notification retention job failed", zap.Error(err))
		return
	}
	m.logger.Info("read notifications purged", zap.Int64("deleted", n), zap.Duration("retention", m.opts.Retention))
}
