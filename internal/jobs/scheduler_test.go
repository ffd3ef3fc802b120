package jobs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"deskbridge/internal/joblock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	sched := NewScheduler(quietLogger(), nil, time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	if err := sched.Register("slow", "@every 1h", func(context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	done := make(chan bool)
	go func() {
		ran, _ := sched.Run(context.Background(), "slow")
		done <- ran
	}()
	<-started

	ran, err := sched.Run(context.Background(), "slow")
	if err != nil || ran {
		t.Fatalf("overlapping Run() = %v, %v, want skipped", ran, err)
	}
	if status := sched.Status(); len(status) != 1 || !status[0].Running {
		t.Fatalf("Status() = %+v, want one running job", status)
	}

	close(release)
	if !<-done {
		t.Fatal("first run reported skipped")
	}
	if ran, err := sched.Run(context.Background(), "slow"); !ran || err != nil {
		t.Fatalf("Run() after finish = %v, %v", ran, err)
	}
}

func TestSchedulerHonoursSharedLock(t *testing.T) {
	locker := joblock.NewLocalLocker()
	sched := NewScheduler(quietLogger(), locker, time.Minute)
	calls := 0
	if err := sched.Register(JobPurge, "@every 48h", func(context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	unlock, ok, _ := locker.TryLock(context.Background(), JobPurge, time.Minute)
	if !ok {
		t.Fatal("could not take lock")
	}
	if ran, err := sched.Run(context.Background(), JobPurge); ran || err != nil {
		t.Fatalf("Run() with lock held = %v, %v", ran, err)
	}
	_ = unlock(context.Background())

	if ran, err := sched.Run(context.Background(), JobPurge); !ran || err != nil {
		t.Fatalf("Run() after unlock = %v, %v", ran, err)
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
}

func TestSchedulerRecordsFailures(t *testing.T) {
	sched := NewScheduler(quietLogger(), nil, time.Minute)
	_ = sched.Register("boom", "@every 1h", func(context.Context) error { panic("kaboom") })
	_ = sched.Register("fail", "@every 1h", func(context.Context) error { return errors.New("tracker down") })

	if _, err := sched.Run(context.Background(), "boom"); err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("panic not reported: %v", err)
	}
	if _, err := sched.Run(context.Background(), "fail"); err == nil {
		t.Fatal("expected handler error")
	}

	status := sched.Status()
	if len(status) != 2 || status[0].Name != "boom" || status[1].LastError != "tracker down" {
		t.Fatalf("Status() = %+v", status)
	}
	if status[0].Running {
		t.Fatal("panicked job still marked running")
	}
}

func TestSchedulerRegisterErrors(t *testing.T) {
	sched := NewScheduler(quietLogger(), nil, time.Minute)
	if err := sched.Register("a", "not a schedule", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if err := sched.Register("a", "@every 1h", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := sched.Register("a", "@every 1h", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, err := sched.Run(context.Background(), "missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	sched := NewScheduler(quietLogger(), nil, time.Minute)
	sched.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sched.Stop(ctx)
}
