package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
)

type attendanceRepository interface {
	Get(ctx context.Context, occurrenceID, studentID string) (*models.AttendanceRecord, error)
	Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	Delete(ctx context.Context, occurrenceID, studentID string) error
	ListByOccurrence(ctx context.Context, occurrenceID string) ([]models.AttendanceRecordDetail, error)
}

type attendanceExclusionRepository interface {
	Insert(ctx context.Context, exclusion *models.Exclusion) (bool, error)
	Delete(ctx context.Context, occurrenceID, studentID string) (bool, error)
	ListByOccurrence(ctx context.Context, occurrenceID string) ([]models.Exclusion, error)
}

type attendanceOccurrenceRepository interface {
	FindByID(ctx context.Context, id string) (*models.Occurrence, error)
}

type attendanceEnrollmentRepository interface {
	ExistsActive(ctx context.Context, studentID, classID string) (bool, error)
}

type attendanceBalanceEngine interface {
	Deduct(ctx context.Context, studentID, classID, occurrenceID string, kind models.DeductionKind) (*models.DeductionOutcome, error)
	Refund(ctx context.Context, studentID, occurrenceID string) (*models.RefundOutcome, error)
}

// SetAttendanceRequest describes a status change for one student.
type SetAttendanceRequest struct {
	Status           string  `json:"status" validate:"required,attendance_status"`
	Notes            *string `json:"notes"`
	ReconcileBalance bool    `json:"reconcile_balance"`
}

// SetAttendanceResult is the structured outcome of a status change.
type SetAttendanceResult struct {
	Record  *models.AttendanceRecord `json:"record"`
	Deduct  *models.DeductionOutcome `json:"deduction,omitempty"`
	Refund  *models.RefundOutcome    `json:"refund,omitempty"`
	Changed bool                     `json:"changed"`
}

// ExcludeRequest carries the optional reason for an exclusion.
type ExcludeRequest struct {
	Reason *string `json:"reason"`
}

// ExclusionResult reports the ledger effect of an exclusion change.
type ExclusionResult struct {
	Exclusion *models.Exclusion        `json:"exclusion,omitempty"`
	Refund    *models.RefundOutcome    `json:"refund,omitempty"`
	Deduct    *models.DeductionOutcome `json:"deduction,omitempty"`
}

// AttendanceService reacts to attendance and exclusion changes,
// invoking balance reversals and re-deductions as statuses move in and
// out of "present".
type AttendanceService struct {
	attendance  attendanceRepository
	exclusions  attendanceExclusionRepository
	occurrences attendanceOccurrenceRepository
	enrollments attendanceEnrollmentRepository
	balance     attendanceBalanceEngine
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService constructs the attendance mutation handler.
func NewAttendanceService(
	attendance attendanceRepository,
	exclusions attendanceExclusionRepository,
	occurrences attendanceOccurrenceRepository,
	enrollments attendanceEnrollmentRepository,
	balance attendanceBalanceEngine,
	validate *validator.Validate,
	logger *zap.Logger,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AttendanceService{
		attendance:  attendance,
		exclusions:  exclusions,
		occurrences: occurrences,
		enrollments: enrollments,
		balance:     balance,
		validator:   validate,
		logger:      logger,
	}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return models.AttendanceStatus(strings.ToLower(fl.Field().String())).Valid()
	})
	return svc
}

func (s *AttendanceService) loadOccurrence(ctx context.Context, occurrenceID string) (*models.Occurrence, error) {
	occurrence, err := s.occurrences.FindByID(ctx, occurrenceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "occurrence not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence")
	}
	return occurrence, nil
}

func (s *AttendanceService) requireEnrollment(ctx context.Context, studentID, classID string) error {
	enrolled, err := s.enrollments.ExistsActive(ctx, studentID, classID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrNotEnrolled, "")
	}
	return nil
}

// SetStatus upserts the student's attendance status for the occurrence.
// With ReconcileBalance set, moving away from "present" refunds the
// deduction and moving to "present" deducts; callers doing bulk imports
// or corrections leave the flag off to change status without touching
// money.
func (s *AttendanceService) SetStatus(ctx context.Context, occurrenceID, studentID string, req SetAttendanceRequest) (*SetAttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	newStatus := models.AttendanceStatus(strings.ToLower(req.Status))

	occurrence, err := s.loadOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireEnrollment(ctx, studentID, occurrence.ClassID); err != nil {
		return nil, err
	}

	wasPresent := false
	previous, err := s.attendance.Get(ctx, occurrenceID, studentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attendance")
	}
	if previous != nil {
		wasPresent = previous.Status == models.AttendanceStatusPresent
	}
	isPresent := newStatus == models.AttendanceStatusPresent

	record, err := s.attendance.Upsert(ctx, &models.AttendanceRecord{
		OccurrenceID: occurrenceID,
		StudentID:    studentID,
		Status:       newStatus,
		Notes:        req.Notes,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance")
	}

	result := &SetAttendanceResult{Record: record, Changed: previous == nil || previous.Status != newStatus}
	if !req.ReconcileBalance {
		return result, nil
	}

	switch {
	case wasPresent && !isPresent:
		refund, err := s.balance.Refund(ctx, studentID, occurrenceID)
		if err != nil {
			return nil, err
		}
		result.Refund = refund
	case !wasPresent && isPresent:
		outcome, err := s.balance.Deduct(ctx, studentID, occurrence.ClassID, occurrenceID, models.DeductionKindStandard)
		if err != nil {
			return nil, err
		}
		result.Deduct = outcome
	}
	return result, nil
}

// Exclude opts the student out of the occurrence: the exclusion row is
// recorded, any attendance record is removed and any deduction refunded.
func (s *AttendanceService) Exclude(ctx context.Context, occurrenceID, studentID string, req ExcludeRequest) (*ExclusionResult, error) {
	occurrence, err := s.loadOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireEnrollment(ctx, studentID, occurrence.ClassID); err != nil {
		return nil, err
	}

	exclusion := &models.Exclusion{
		OccurrenceID: occurrenceID,
		StudentID:    studentID,
		Reason:       req.Reason,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.exclusions.Insert(ctx, exclusion); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record exclusion")
	}

	refund, err := s.balance.Refund(ctx, studentID, occurrenceID)
	if err != nil {
		return nil, err
	}
	if err := s.attendance.Delete(ctx, occurrenceID, studentID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove attendance")
	}

	s.logger.Sugar().Infow("student excluded from occurrence",
		"occurrence_id", occurrenceID, "student_id", studentID, "refunded", refund.Refunded)
	return &ExclusionResult{Exclusion: exclusion, Refund: refund}, nil
}

// Unexclude reverses an exclusion: the student regains a "present"
// attendance record and a deduction is attempted again.
func (s *AttendanceService) Unexclude(ctx context.Context, occurrenceID, studentID string) (*ExclusionResult, error) {
	occurrence, err := s.loadOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}

	removed, err := s.exclusions.Delete(ctx, occurrenceID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove exclusion")
	}
	if !removed {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exclusion not found")
	}

	if _, err := s.attendance.Upsert(ctx, &models.AttendanceRecord{
		OccurrenceID: occurrenceID,
		StudentID:    studentID,
		Status:       models.AttendanceStatusPresent,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore attendance")
	}

	outcome, err := s.balance.Deduct(ctx, studentID, occurrence.ClassID, occurrenceID, models.DeductionKindStandard)
	if err != nil {
		return nil, err
	}

	s.logger.Sugar().Infow("student exclusion removed",
		"occurrence_id", occurrenceID, "student_id", studentID, "billing_state", outcome.State)
	return &ExclusionResult{Deduct: outcome}, nil
}

// ListByOccurrence returns attendance records and exclusions for an occurrence.
func (s *AttendanceService) ListByOccurrence(ctx context.Context, occurrenceID string) ([]models.AttendanceRecordDetail, []models.Exclusion, error) {
	if _, err := s.loadOccurrence(ctx, occurrenceID); err != nil {
		return nil, nil, err
	}
	records, err := s.attendance.ListByOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	exclusions, err := s.exclusions.ListByOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exclusions")
	}
	return records, exclusions, nil
}
