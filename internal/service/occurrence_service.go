package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
)

type occurrenceRepository interface {
	Insert(ctx context.Context, occurrence *models.Occurrence) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Occurrence, error)
	FindByKey(ctx context.Context, classID string, date time.Time, startTime string) (*models.Occurrence, error)
	List(ctx context.Context, filter models.OccurrenceFilter) ([]models.OccurrenceDetail, int, error)
	SetCancelled(ctx context.Context, id string, cancelled bool) error
	UpdateNotes(ctx context.Context, id string, notes *string) error
}

type occurrenceScheduleRepository interface {
	FindByID(ctx context.Context, id string) (*models.ClassSchedule, error)
}

type occurrenceClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type occurrenceEnrollmentRepository interface {
	ListActiveStudentIDs(ctx context.Context, classID string) ([]string, error)
}

type occurrenceExclusionRepository interface {
	ListStudentIDsByOccurrence(ctx context.Context, occurrenceID string) ([]string, error)
}

type occurrenceAttendanceRepository interface {
	SeedPresent(ctx context.Context, occurrenceID, studentID string) (bool, error)
}

type occurrenceBalanceEngine interface {
	Deduct(ctx context.Context, studentID, classID, occurrenceID string, kind models.DeductionKind) (*models.DeductionOutcome, error)
	Refund(ctx context.Context, studentID, occurrenceID string) (*models.RefundOutcome, error)
}

type occurrenceDeductionLister interface {
	ListDeductionsByOccurrence(ctx context.Context, occurrenceID string) ([]models.Deduction, error)
}

// StudentBillingResult reports the billing outcome for one student during
// occurrence seeding. A non-empty Error means the deduction attempt
// failed; failures are isolated and never abort the other students.
type StudentBillingResult struct {
	StudentID string              `json:"student_id"`
	State     models.BillingState `json:"state,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// MaterializeResult is the structured outcome of a materialization attempt.
type MaterializeResult struct {
	Occurrence *models.Occurrence     `json:"occurrence"`
	Created    bool                   `json:"created"`
	Reason     string                 `json:"reason,omitempty"`
	Students   []StudentBillingResult `json:"students,omitempty"`
}

// CreateOccurrenceRequest describes a manual occurrence creation.
type CreateOccurrenceRequest struct {
	ClassID   string  `json:"class_id" validate:"required"`
	Date      string  `json:"date" validate:"required"`
	StartTime string  `json:"start_time" validate:"required"`
	EndTime   *string `json:"end_time"`
	Notes     *string `json:"notes"`
}

// OccurrenceService materializes class occurrences and seeds attendance
// plus deductions for enrolled students.
type OccurrenceService struct {
	occurrences     occurrenceRepository
	schedules       occurrenceScheduleRepository
	classes         occurrenceClassRepository
	enrollments     occurrenceEnrollmentRepository
	exclusions      occurrenceExclusionRepository
	attendance      occurrenceAttendanceRepository
	balance         occurrenceBalanceEngine
	deductions      occurrenceDeductionLister
	validator       *validator.Validate
	metrics         *MetricsService
	logger          *zap.Logger
	location        *time.Location
	defaultDuration int
}

// NewOccurrenceService constructs the materializer. location is the
// single business timezone every civil-time decision uses.
func NewOccurrenceService(
	occurrences occurrenceRepository,
	schedules occurrenceScheduleRepository,
	classes occurrenceClassRepository,
	enrollments occurrenceEnrollmentRepository,
	exclusions occurrenceExclusionRepository,
	attendance occurrenceAttendanceRepository,
	balance occurrenceBalanceEngine,
	deductions occurrenceDeductionLister,
	validate *validator.Validate,
	metrics *MetricsService,
	logger *zap.Logger,
	location *time.Location,
	defaultDuration int,
) *OccurrenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	if defaultDuration <= 0 {
		defaultDuration = 60
	}
	return &OccurrenceService{
		occurrences:     occurrences,
		schedules:       schedules,
		classes:         classes,
		enrollments:     enrollments,
		exclusions:      exclusions,
		attendance:      attendance,
		balance:         balance,
		deductions:      deductions,
		validator:       validate,
		metrics:         metrics,
		logger:          logger,
		location:        location,
		defaultDuration: defaultDuration,
	}
}

const clockLayout = "15:04"

// computeEndTime adds duration minutes to a "15:04" start. When the sum
// would cross midnight the end time is capped at 23:59 so an occurrence
// never ends before it starts and never silently rolls to the next day.
func computeEndTime(startTime string, durationMinutes int) (string, error) {
	start, err := time.Parse(clockLayout, startTime)
	if err != nil {
		return "", fmt.Errorf("invalid start time %q: %w", startTime, err)
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	if end.Day() != start.Day() {
		return "23:59", nil
	}
	return end.Format(clockLayout), nil
}

// MaterializeByScheduleID looks up the schedule and materializes its
// occurrence for targetDate using the current wall clock.
func (s *OccurrenceService) MaterializeByScheduleID(ctx context.Context, scheduleID string, targetDate time.Time) (*MaterializeResult, error) {
	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	class, err := s.classes.FindByID(ctx, schedule.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return s.Materialize(ctx, schedule, class.DurationMinutes, targetDate, time.Now().In(s.location))
}

// Materialize creates at most one occurrence for (schedule, targetDate)
// and, on creation, seeds attendance and deductions for enrolled
// students. Re-running for the same key is an idempotent no-op.
func (s *OccurrenceService) Materialize(ctx context.Context, schedule *models.ClassSchedule, durationMinutes int, targetDate time.Time, now time.Time) (*MaterializeResult, error) {
	if !schedule.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "schedule is inactive")
	}

	targetDate = civilDate(targetDate, s.location)
	today := civilDate(now, s.location)
	if int(targetDate.Weekday()) != schedule.DayOfWeek {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "target date does not fall on the schedule's weekday")
	}
	if targetDate.After(today) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot materialize a future date")
	}
	if targetDate.Equal(today) && schedule.StartTime > now.In(s.location).Format(clockLayout) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "schedule start time has not passed yet")
	}

	if durationMinutes <= 0 {
		durationMinutes = s.defaultDuration
	}
	endTime := schedule.EndTime
	if endTime == nil || *endTime == "" {
		computed, err := computeEndTime(schedule.StartTime, durationMinutes)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule start time")
		}
		endTime = &computed
	}

	occurrence := &models.Occurrence{
		ClassID:     schedule.ClassID,
		ScheduleID:  &schedule.ID,
		Date:        targetDate,
		StartTime:   schedule.StartTime,
		EndTime:     *endTime,
		AutoCreated: true,
	}
	return s.createAndSeed(ctx, occurrence)
}

// Create materializes a manual occurrence with no originating schedule.
func (s *OccurrenceService) Create(ctx context.Context, req CreateOccurrenceRequest) (*MaterializeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid occurrence payload")
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, s.location)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date")
	}
	if _, err := time.Parse(clockLayout, req.StartTime); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start time")
	}

	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	endTime := req.EndTime
	if endTime == nil || *endTime == "" {
		duration := class.DurationMinutes
		if duration <= 0 {
			duration = s.defaultDuration
		}
		computed, err := computeEndTime(req.StartTime, duration)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start time")
		}
		endTime = &computed
	}

	occurrence := &models.Occurrence{
		ClassID:     req.ClassID,
		Date:        civilDate(date, s.location),
		StartTime:   req.StartTime,
		EndTime:     *endTime,
		AutoCreated: false,
		Notes:       req.Notes,
	}
	return s.createAndSeed(ctx, occurrence)
}

func (s *OccurrenceService) createAndSeed(ctx context.Context, occurrence *models.Occurrence) (*MaterializeResult, error) {
	created, err := s.occurrences.Insert(ctx, occurrence)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create occurrence")
	}
	if !created {
		existing, err := s.occurrences.FindByKey(ctx, occurrence.ClassID, occurrence.Date, occurrence.StartTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing occurrence")
		}
		return &MaterializeResult{Occurrence: existing, Created: false, Reason: models.ReasonAlreadyExists}, nil
	}

	s.metrics.RecordMaterialized(occurrence.AutoCreated)
	result := &MaterializeResult{Occurrence: occurrence, Created: true}
	result.Students = s.seedStudents(ctx, occurrence)
	return result, nil
}

// seedStudents records a "present" attendance row and attempts a
// deduction for every actively enrolled, non-excluded student. One
// student's failure never blocks the rest; the repository-level
// transactions keep each student's billing atomic on its own.
func (s *OccurrenceService) seedStudents(ctx context.Context, occurrence *models.Occurrence) []StudentBillingResult {
	studentIDs, err := s.enrollments.ListActiveStudentIDs(ctx, occurrence.ClassID)
	if err != nil {
		s.logger.Sugar().Errorw("failed to list enrolled students",
			"occurrence_id", occurrence.ID, "class_id", occurrence.ClassID, "error", err)
		return nil
	}

	excludedIDs, err := s.exclusions.ListStudentIDsByOccurrence(ctx, occurrence.ID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to list exclusions", "occurrence_id", occurrence.ID, "error", err)
	}
	excluded := make(map[string]struct{}, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = struct{}{}
	}

	results := make([]StudentBillingResult, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		if _, skip := excluded[studentID]; skip {
			continue
		}
		seeded, err := s.attendance.SeedPresent(ctx, occurrence.ID, studentID)
		if err != nil {
			s.logger.Sugar().Errorw("failed to seed attendance",
				"occurrence_id", occurrence.ID, "student_id", studentID, "error", err)
			results = append(results, StudentBillingResult{StudentID: studentID, Error: err.Error()})
			continue
		}
		if !seeded {
			// A record already existed; leave its billing state alone.
			continue
		}
		outcome, err := s.balance.Deduct(ctx, studentID, occurrence.ClassID, occurrence.ID, models.DeductionKindStandard)
		if err != nil {
			s.logger.Sugar().Errorw("deduction failed during seeding",
				"occurrence_id", occurrence.ID, "student_id", studentID, "error", err)
			results = append(results, StudentBillingResult{StudentID: studentID, Error: err.Error()})
			continue
		}
		results = append(results, StudentBillingResult{
			StudentID: studentID,
			State:     outcome.State,
			Reason:    outcome.Reason,
		})
	}
	return results
}

// Cancel marks an occurrence cancelled and refunds every deduction
// charged for it.
func (s *OccurrenceService) Cancel(ctx context.Context, occurrenceID string) (*models.Occurrence, error) {
	occurrence, err := s.occurrences.FindByID(ctx, occurrenceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "occurrence not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence")
	}
	if occurrence.Cancelled {
		return occurrence, nil
	}

	deductions, err := s.deductions.ListDeductionsByOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deductions")
	}
	for _, d := range deductions {
		if _, err := s.balance.Refund(ctx, d.StudentID, occurrenceID); err != nil {
			s.logger.Sugar().Errorw("failed to refund cancelled occurrence",
				"occurrence_id", occurrenceID, "student_id", d.StudentID, "error", err)
		}
	}

	if err := s.occurrences.SetCancelled(ctx, occurrenceID, true); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel occurrence")
	}
	occurrence.Cancelled = true
	s.logger.Sugar().Infow("occurrence cancelled", "occurrence_id", occurrenceID, "refunds", len(deductions))
	return occurrence, nil
}

// UpdateNotes replaces the free-form notes on an occurrence.
func (s *OccurrenceService) UpdateNotes(ctx context.Context, occurrenceID string, notes *string) (*models.Occurrence, error) {
	occurrence, err := s.occurrences.FindByID(ctx, occurrenceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "occurrence not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence")
	}
	if err := s.occurrences.UpdateNotes(ctx, occurrenceID, notes); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update occurrence notes")
	}
	occurrence.Notes = notes
	return occurrence, nil
}

// Get returns an occurrence together with the deductions charged for it.
func (s *OccurrenceService) Get(ctx context.Context, occurrenceID string) (*models.Occurrence, []models.Deduction, error) {
	occurrence, err := s.occurrences.FindByID(ctx, occurrenceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "occurrence not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence")
	}
	deductions, err := s.deductions.ListDeductionsByOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deductions")
	}
	return occurrence, deductions, nil
}

// List returns occurrences matching the filter.
func (s *OccurrenceService) List(ctx context.Context, filter models.OccurrenceFilter) ([]models.OccurrenceDetail, *models.Pagination, error) {
	occurrences, total, err := s.occurrences.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list occurrences")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return occurrences, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// civilDate truncates a timestamp to its civil date in loc.
func civilDate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
