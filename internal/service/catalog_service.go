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

type catalogStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	Create(ctx context.Context, student *models.Student) error
}

type catalogClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	Create(ctx context.Context, class *models.Class) error
}

type catalogScheduleRepository interface {
	FindByID(ctx context.Context, id string) (*models.ClassSchedule, error)
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.ClassSchedule, int, error)
	Create(ctx context.Context, schedule *models.ClassSchedule) error
	SetActive(ctx context.Context, id string, active bool) error
}

type catalogEnrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	SetActive(ctx context.Context, id string, active bool, leftAt *time.Time) error
	ExistsActive(ctx context.Context, studentID, classID string) (bool, error)
}

// CreateStudentRequest is the payload for registering a student.
type CreateStudentRequest struct {
	FullName string  `json:"full_name" validate:"required,min=2"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone    *string `json:"phone,omitempty"`
}

// CreateClassRequest is the payload for registering a class.
type CreateClassRequest struct {
	Name            string  `json:"name" validate:"required,min=2"`
	DurationMinutes int     `json:"duration_minutes" validate:"omitempty,min=1,max=1439"`
	Price           float64 `json:"price" validate:"omitempty,min=0"`
}

// CreateScheduleRequest is the payload for adding a weekly slot.
type CreateScheduleRequest struct {
	ClassID   string  `json:"class_id" validate:"required,uuid"`
	DayOfWeek int     `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string  `json:"start_time" validate:"required,clock_time"`
	EndTime   *string `json:"end_time,omitempty" validate:"omitempty,clock_time"`
}

// CreateEnrollmentRequest is the payload for enrolling a student in a class.
type CreateEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
	ClassID   string `json:"class_id" validate:"required,uuid"`
}

// CatalogService manages students, classes, schedules and enrollments.
type CatalogService struct {
	students    catalogStudentRepository
	classes     catalogClassRepository
	schedules   catalogScheduleRepository
	enrollments catalogEnrollmentRepository
	validator   *validator.Validate
	logger      *zap.Logger

	defaultDurationMinutes int
}

// NewCatalogService constructs a CatalogService instance.
func NewCatalogService(
	students catalogStudentRepository,
	classes catalogClassRepository,
	schedules catalogScheduleRepository,
	enrollments catalogEnrollmentRepository,
	validate *validator.Validate,
	logger *zap.Logger,
	defaultDurationMinutes int,
) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerClockTimeValidation(validate)
	if defaultDurationMinutes <= 0 {
		defaultDurationMinutes = 60
	}
	return &CatalogService{
		students:    students,
		classes:     classes,
		schedules:   schedules,
		enrollments: enrollments,
		validator:   validate,
		logger:      logger,

		defaultDurationMinutes: defaultDurationMinutes,
	}
}

func registerClockTimeValidation(v *validator.Validate) {
	_ = v.RegisterValidation("clock_time", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(clockLayout, fl.Field().String())
		return err == nil
	})
}

// CreateStudent registers a new student.
func (s *CatalogService) CreateStudent(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student := &models.Student{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Active:   true,
	}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.logger.Info("student created", zap.String("student_id", student.ID))
	return student, nil
}

// GetStudent fetches a student by ID.
func (s *CatalogService) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch student")
	}
	return student, nil
}

// ListStudents returns students matching the filter.
func (s *CatalogService) ListStudents(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, total, nil
}

// CreateClass registers a new class.
func (s *CatalogService) CreateClass(ctx context.Context, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	duration := req.DurationMinutes
	if duration <= 0 {
		duration = s.defaultDurationMinutes
	}
	class := &models.Class{
		Name:            req.Name,
		DurationMinutes: duration,
		Price:           req.Price,
		Active:          true,
	}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	s.logger.Info("class created", zap.String("class_id", class.ID), zap.String("name", class.Name))
	return class, nil
}

// GetClass fetches a class by ID.
func (s *CatalogService) GetClass(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch class")
	}
	return class, nil
}

// ListClasses returns classes matching the filter.
func (s *CatalogService) ListClasses(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	classes, total, err := s.classes.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return classes, total, nil
}

// CreateSchedule adds a weekly recurring slot to a class.
func (s *CatalogService) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*models.ClassSchedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	class, err := s.GetClass(ctx, req.ClassID)
	if err != nil {
		return nil, err
	}
	if req.EndTime != nil && *req.EndTime <= req.StartTime {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	endTime := req.EndTime
	if endTime == nil {
		computed, err := computeEndTime(req.StartTime, class.DurationMinutes)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start_time")
		}
		endTime = &computed
	}
	schedule := &models.ClassSchedule{
		ClassID:   req.ClassID,
		DayOfWeek: req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   endTime,
		Active:    true,
	}
	if err := s.schedules.Create(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}
	s.logger.Info("schedule created",
		zap.String("schedule_id", schedule.ID),
		zap.String("class_id", schedule.ClassID),
		zap.Int("day_of_week", schedule.DayOfWeek),
		zap.String("start_time", schedule.StartTime))
	return schedule, nil
}

// ListSchedules returns schedules matching the filter.
func (s *CatalogService) ListSchedules(ctx context.Context, filter models.ScheduleFilter) ([]models.ClassSchedule, int, error) {
	schedules, total, err := s.schedules.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	return schedules, total, nil
}

// SetScheduleActive enables or disables a schedule.
func (s *CatalogService) SetScheduleActive(ctx context.Context, id string, active bool) error {
	if _, err := s.schedules.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch schedule")
	}
	if err := s.schedules.SetActive(ctx, id, active); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}
	return nil
}

// Enroll adds a student to a class.
func (s *CatalogService) Enroll(ctx context.Context, req CreateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if _, err := s.GetStudent(ctx, req.StudentID); err != nil {
		return nil, err
	}
	if _, err := s.GetClass(ctx, req.ClassID); err != nil {
		return nil, err
	}
	exists, err := s.enrollments.ExistsActive(ctx, req.StudentID, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadyExists, "student already enrolled in class")
	}
	enrollment := &models.Enrollment{
		StudentID: req.StudentID,
		ClassID:   req.ClassID,
		Active:    true,
		JoinedAt:  time.Now().UTC(),
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.logger.Info("student enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("class_id", enrollment.ClassID))
	return enrollment, nil
}

// Unenroll deactivates an enrollment, keeping its history.
func (s *CatalogService) Unenroll(ctx context.Context, enrollmentID string) error {
	now := time.Now().UTC()
	if err := s.enrollments.SetActive(ctx, enrollmentID, false, &now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to deactivate enrollment %s", enrollmentID))
	}
	return nil
}

// ListEnrollments returns enrollments matching the filter.
func (s *CatalogService) ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, total, nil
}
