package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"imgpub/internal/runtime"
)

// Scheduler wraps gocron to dispatch periodic rebuild runs.
type Scheduler struct {
	scheduler gocron.Scheduler
	srv       *Server
}

// NewScheduler creates a scheduler that dispatches through srv.
func NewScheduler(srv *Server) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, srv: srv}, nil
}

// SchedulePeriodicRun dispatches a scheduled run for group every interval.
// Returns the job ID for later management.
func (s *Scheduler) SchedulePeriodicRun(interval time.Duration, group string) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("rebuild interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.dispatch, group),
		gocron.WithName("scheduled-rebuild"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create periodic rebuild job: %w", err)
	}
	return job.ID().String(), nil
}

func (s *Scheduler) dispatch(group string) {
	slog.Info("Executing scheduled rebuild", "group", group)
	s.srv.Dispatch(Request{Trigger: runtime.TriggerSchedule, Group: group})
}

// Start begins the scheduler.
func (s *Scheduler) Start(_ context.Context) {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(_ context.Context) error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}
