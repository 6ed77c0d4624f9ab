package scheduler

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeBacklog struct {
	calls int
	err   error
}

func (f *fakeBacklog) NotifyPendingBacklog(context.Context) (bool, error) {
	f.calls++
	return f.err == nil, f.err
}

type fakePurger struct {
	retention time.Duration
}

func (f *fakePurger) PurgeRead(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return 3, nil
}

func TestRegisterJobs(t *testing.T) {
	m, err := NewManager(&fakeBacklog{}, &fakePurger{}, Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Stop()
	if err := m.RegisterJobs(); err != nil {
		t.Fatalf("RegisterJobs: %v", err)
	}
	names := m.JobNames()
	sort.Strings(names)
	if len(names) != 2 || names[0] != JobNotificationRetention || names[1] != JobPendingBacklog {
		t.Errorf("job names = %v", names)
	}
}

func TestJobsCallServices(t *testing.T) {
	backlog := &fakeBacklog{}
	purger := &fakePurger{}
	m, err := NewManager(backlog, purger, Options{Retention: 30 * 24 * time.Hour}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Stop()

	m.PendingBacklog()
	backlog.err = errors.New("redis down")
	m.PendingBacklog()
	if backlog.calls != 2 {
		t.Errorf("backlog calls = %d", backlog.calls)
	}

	m.NotificationRetention()
	if purger.retention != 30*24*time.Hour {
		t.Errorf("retention = %v", purger.retention)
	}
}
