package reportjob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu    sync.Mutex
	dates []time.Time
	err   error
	ran   chan struct{}
}

func (r *fakeRunner) Run(_ context.Context, procDate time.Time) (*Result, error) {
	r.mu.Lock()
	r.dates = append(r.dates, procDate)
	r.mu.Unlock()
	select {
	case r.ran <- struct{}{}:
	default:
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Result{ReportDate: ReportDate(procDate)}, nil
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{"later today", time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC), 6, time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)},
		{"already passed", time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC), 6, time.Date(2024, 3, 3, 6, 0, 0, 0, time.UTC)},
		{"exactly on the hour", time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC), 6, time.Date(2024, 3, 3, 6, 0, 0, 0, time.UTC)},
		{"month end", time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC), 0, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(tt.now, tt.hour); !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, SchedulerConfig{Hour: 6})

	if s.IsRunning() {
		t.Error("scheduler should not be running before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running after Start")
	}
	// Starting again is a no-op.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop")
	}
	s.Stop()
}

func TestScheduler_RunsWhenDue(t *testing.T) {
	runner := &fakeRunner{ran: make(chan struct{}, 1), err: errors.New("export failed")}
	s := NewScheduler(runner, SchedulerConfig{Hour: 6})
	fireAt := time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fireAt.Add(-time.Minute) }
	s.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- fireAt
		return ch
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	// A failing run does not stop the schedule.
	for i := 0; i < 2; i++ {
		select {
		case <-runner.ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d did not happen", i+1)
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if !runner.dates[0].Equal(fireAt) {
		t.Errorf("procDate = %v, want %v", runner.dates[0], fireAt)
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(&fakeRunner{}, SchedulerConfig{Hour: 6})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	select {
	case <-s.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit after context cancellation")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after context cancellation, want false")
	}
	s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() after cancellation error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after restart, want true")
	}
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop, want false")
	}
}
