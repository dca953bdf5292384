package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	"github.com/noah-isme/kelas-ledger-api/pkg/config"
	"github.com/noah-isme/kelas-ledger-api/pkg/jobs"
)

type schedulerScheduleRepository interface {
	ListDue(ctx context.Context, dayOfWeek int, date time.Time, timeOfDay string) ([]models.DueSchedule, error)
}

type schedulerMaterializer interface {
	Materialize(ctx context.Context, schedule *models.ClassSchedule, durationMinutes int, targetDate time.Time, now time.Time) (*MaterializeResult, error)
}

// SchedulerService drives occurrence materialization on a fixed
// interval. Each tick scans for active schedules whose start time has
// passed today and fans the work out to a bounded worker pool; the scan
// itself never overlaps a previous scan. Missed ticks are harmless
// because materialization is idempotent per (class, date, start_time).
type SchedulerService struct {
	schedules    schedulerScheduleRepository
	materializer schedulerMaterializer
	queue        *jobs.Queue
	metrics      *MetricsService
	logger       *zap.Logger
	location     *time.Location
	interval     time.Duration

	mu      sync.Mutex
	ticking bool
}

type materializeJob struct {
	Schedule models.DueSchedule
	Date     time.Time
	Now      time.Time
}

// NewSchedulerService constructs the driver. The business timezone in
// cfg governs every civil date and time-of-day decision.
func NewSchedulerService(schedules schedulerScheduleRepository, materializer schedulerMaterializer, cfg config.SchedulerConfig, metrics *MetricsService, logger *zap.Logger) (*SchedulerService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	location := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load scheduler timezone %q: %w", cfg.Timezone, err)
		}
		location = loc
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s := &SchedulerService{
		schedules:    schedules,
		materializer: materializer,
		metrics:      metrics,
		logger:       logger,
		location:     location,
		interval:     interval,
	}
	s.queue = jobs.NewQueue("materializer", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		BufferSize: cfg.QueueSize,
		MaxRetries: 1,
		Logger:     logger,
	})
	return s, nil
}

// Location exposes the business timezone used by the protocol.
func (s *SchedulerService) Location() *time.Location {
	return s.location
}

// Start launches the worker pool and the tick loop. Both stop when ctx
// is cancelled.
func (s *SchedulerService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.queue.Stop()
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
	s.logger.Sugar().Infow("scheduler started", "interval", s.interval, "timezone", s.location.String())
}

// Tick performs one catch-up scan. Overlapping invocations are skipped,
// not queued: the next tick repeats the scan anyway.
func (s *SchedulerService) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.ticking {
		s.mu.Unlock()
		s.metrics.RecordTickSkipped()
		s.logger.Sugar().Debugw("tick skipped, previous tick still running")
		return
	}
	s.ticking = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ticking = false
		s.mu.Unlock()
	}()

	start := time.Now()
	now := start.In(s.location)
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	weekday := int(now.Weekday())
	timeOfDay := now.Format("15:04")

	due, err := s.schedules.ListDue(ctx, weekday, date, timeOfDay)
	if err != nil {
		s.logger.Sugar().Errorw("tick scan failed, will retry next tick", "error", err)
		return
	}

	for _, schedule := range due {
		job := materializeJob{Schedule: schedule, Date: date, Now: now}
		if err := s.queue.Enqueue(jobs.Job{
			ID:      fmt.Sprintf("%s:%s", schedule.ID, date.Format("2006-01-02")),
			Type:    "materialize",
			Payload: job,
		}); err != nil && !errors.Is(err, jobs.ErrDuplicate) {
			s.logger.Sugar().Warnw("failed to enqueue materialization", "schedule_id", schedule.ID, "error", err)
		}
	}

	s.metrics.ObserveTick(time.Since(start))
	if len(due) > 0 {
		s.logger.Sugar().Infow("tick dispatched", "due", len(due), "date", date.Format("2006-01-02"), "time", timeOfDay)
	}
}

func (s *SchedulerService) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(materializeJob)
	if !ok {
		return fmt.Errorf("unexpected payload for job %s", job.ID)
	}
	schedule := payload.Schedule.ClassSchedule
	result, err := s.materializer.Materialize(ctx, &schedule, payload.Schedule.ClassDurationMinutes, payload.Date, payload.Now)
	if err != nil {
		return fmt.Errorf("materialize schedule %s: %w", schedule.ID, err)
	}
	if result.Created {
		s.logger.Sugar().Infow("occurrence materialized",
			"schedule_id", schedule.ID, "occurrence_id", result.Occurrence.ID,
			"class", payload.Schedule.ClassName, "students", len(result.Students))
	}
	return nil
}
