package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/scheduler"
	"github.com/titlecardmaker/titlecardmaker/internal/testutil"
)

func newScheduler(t *testing.T) (*scheduler.Scheduler, *library.Service) {
	t.Helper()
	db := testutil.NewTestDB(t)
	svc := library.NewService(db.Conn(), zerolog.Nop())
	sched, err := scheduler.New(context.Background(), svc, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { sched.Shutdown() })
	return sched, svc
}

// waitIdle blocks until the named job is no longer running.
func waitIdle(t *testing.T, sched *scheduler.Scheduler, name string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for sched.Running(name) {
		if time.Now().After(deadline) {
			t.Fatalf("job %q still running after 5s", name)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitStarted blocks until the named job reports as running.
func waitStarted(t *testing.T, sched *scheduler.Scheduler, name string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !sched.Running(name) {
		if time.Now().After(deadline) {
			t.Fatalf("job %q never started", name)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegister_RejectsDuplicates(t *testing.T) {
	sched, _ := newScheduler(t)
	job := &scheduler.Job{Name: "dup", Handler: func(ctx context.Context) (int, error) { return 0, nil }}

	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := sched.Register(job); err == nil {
		t.Error("Register() accepted a duplicate job name")
	}
}

func TestTrigger_UnknownJob(t *testing.T) {
	sched, _ := newScheduler(t)
	if err := sched.Trigger("missing"); err == nil {
		t.Error("Trigger() on an unknown job should error")
	}
}

func TestTrigger_RecordsOutcome(t *testing.T) {
	sched, svc := newScheduler(t)

	ran := make(chan struct{})
	job := &scheduler.Job{
		Name: "once",
		Handler: func(ctx context.Context) (int, error) {
			close(ran)
			return 2, nil
		},
	}
	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := sched.Trigger("once"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
	waitIdle(t, sched, "once")

	rec, err := svc.GetJobRecord(context.Background(), "once")
	if err != nil {
		t.Fatalf("GetJobRecord() error = %v", err)
	}
	if rec == nil {
		t.Fatal("GetJobRecord() = nil, want a registry row")
	}
	if rec.Outcome != library.OutcomeOK {
		t.Errorf("outcome = %q, want %q", rec.Outcome, library.OutcomeOK)
	}
	if rec.Retries != 2 {
		t.Errorf("retries = %d, want 2", rec.Retries)
	}
	if rec.LastStart == nil || rec.LastEnd == nil {
		t.Error("job record is missing start or end timestamps")
	}
}

func TestTrigger_OverlapSkipped(t *testing.T) {
	sched, svc := newScheduler(t)

	release := make(chan struct{})
	runs := 0
	job := &scheduler.Job{
		Name: "slow",
		Handler: func(ctx context.Context) (int, error) {
			runs++
			<-release
			return 0, nil
		},
	}
	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := sched.Trigger("slow"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitStarted(t, sched, "slow")

	// Second firing while the first is still in flight.
	if err := sched.Trigger("slow"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	// The overlapping firing records its outcome and returns without
	// invoking the handler.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := svc.GetJobRecord(context.Background(), "slow")
		if err != nil {
			t.Fatalf("GetJobRecord() error = %v", err)
		}
		if rec != nil && rec.Outcome == library.OutcomeOverlap {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("overlap outcome never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	waitIdle(t, sched, "slow")
	if runs != 1 {
		t.Errorf("handler ran %d times, want 1", runs)
	}

	rec, err := svc.GetJobRecord(context.Background(), "slow")
	if err != nil {
		t.Fatalf("GetJobRecord() error = %v", err)
	}
	if rec.Outcome != library.OutcomeOK {
		t.Errorf("final outcome = %q, want %q", rec.Outcome, library.OutcomeOK)
	}
}

func TestCancel_RecordsCancelled(t *testing.T) {
	sched, svc := newScheduler(t)

	job := &scheduler.Job{
		Name: "cancellable",
		Handler: func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}
	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := sched.Trigger("cancellable"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitStarted(t, sched, "cancellable")

	sched.Cancel("cancellable")
	waitIdle(t, sched, "cancellable")

	rec, err := svc.GetJobRecord(context.Background(), "cancellable")
	if err != nil {
		t.Fatalf("GetJobRecord() error = %v", err)
	}
	if rec.Outcome != library.OutcomeCancelled {
		t.Errorf("outcome = %q, want %q", rec.Outcome, library.OutcomeCancelled)
	}
}

func TestPanicIsolation(t *testing.T) {
	sched, svc := newScheduler(t)

	job := &scheduler.Job{
		Name: "crashy",
		Handler: func(ctx context.Context) (int, error) {
			panic("boom")
		},
	}
	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := sched.Trigger("crashy"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := svc.GetJobRecord(context.Background(), "crashy")
		if err != nil {
			t.Fatalf("GetJobRecord() error = %v", err)
		}
		if rec != nil && rec.Outcome == library.OutcomeError {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("panicking job never recorded an error outcome")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegister_BadCron(t *testing.T) {
	sched, _ := newScheduler(t)
	job := &scheduler.Job{
		Name:    "badcron",
		Cron:    "not a cron expression",
		Handler: func(ctx context.Context) (int, error) { return 0, nil },
	}
	if err := sched.Register(job); err == nil {
		t.Error("Register() accepted an invalid cron expression")
	}
}

var errBoom = errors.New("boom")

func TestTrigger_ErrorOutcome(t *testing.T) {
	sched, svc := newScheduler(t)

	job := &scheduler.Job{
		Name: "failing",
		Handler: func(ctx context.Context) (int, error) {
			return 1, errBoom
		},
	}
	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := sched.Trigger("failing"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := svc.GetJobRecord(context.Background(), "failing")
		if err != nil {
			t.Fatalf("GetJobRecord() error = %v", err)
		}
		if rec != nil && rec.Outcome == library.OutcomeError {
			if rec.Retries != 1 {
				t.Errorf("retries = %d, want 1", rec.Retries)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("failing job never recorded an error outcome")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
