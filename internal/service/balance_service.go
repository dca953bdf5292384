package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
)

type balanceLedgerRepository interface {
	Deduct(ctx context.Context, studentID, classID, occurrenceID string, kind models.DeductionKind) (*models.DeductionOutcome, error)
	Refund(ctx context.Context, studentID, occurrenceID string) (*models.RefundOutcome, error)
	ListOverdueOccurrences(ctx context.Context, studentID, classID string, limit int) ([]models.OverdueOccurrence, error)
	BalanceSummary(ctx context.Context, studentID string) (*models.BalanceSummary, error)
}

type balanceEnrollmentRepository interface {
	ExistsActive(ctx context.Context, studentID, classID string) (bool, error)
}

type balanceCache interface {
	GetBalanceSummary(ctx context.Context, studentID string) (*models.BalanceSummary, error)
	SetBalanceSummary(ctx context.Context, summary *models.BalanceSummary, ttl time.Duration) error
	InvalidateBalanceSummary(ctx context.Context, studentID string)
}

// BalanceService is the deduction/refund/overdue state machine operating
// per (student, class, occurrence). All storage transitions run inside
// single transactions owned by the ledger repository; this layer adds
// enrollment checks, overdue recovery ordering, caching and metrics.
type BalanceService struct {
	ledger      balanceLedgerRepository
	enrollments balanceEnrollmentRepository
	cache       balanceCache
	metrics     *MetricsService
	logger      *zap.Logger
	summaryTTL  time.Duration
}

// NewBalanceService constructs the balance engine.
func NewBalanceService(ledger balanceLedgerRepository, enrollments balanceEnrollmentRepository, cache balanceCache, metrics *MetricsService, logger *zap.Logger, summaryTTL time.Duration) *BalanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if summaryTTL <= 0 {
		summaryTTL = 5 * time.Minute
	}
	return &BalanceService{
		ledger:      ledger,
		enrollments: enrollments,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		summaryTTL:  summaryTTL,
	}
}

// Deduct consumes one prepaid credit for the student at the occurrence.
// Re-deducting an already billed pair reports already_exists without
// touching the ledger; an exhausted balance transitions the pair to
// overdue and reports no_payment_available.
func (s *BalanceService) Deduct(ctx context.Context, studentID, classID, occurrenceID string, kind models.DeductionKind) (*models.DeductionOutcome, error) {
	enrolled, err := s.enrollments.ExistsActive(ctx, studentID, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "")
	}

	outcome, err := s.ledger.Deduct(ctx, studentID, classID, occurrenceID, kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "deduction failed")
	}

	switch {
	case outcome.Deducted():
		s.metrics.RecordDeduction(outcome.Deduction.Kind)
		if s.cache != nil {
			s.cache.InvalidateBalanceSummary(ctx, studentID)
		}
		s.logger.Sugar().Infow("credit deducted",
			"student_id", studentID, "class_id", classID, "occurrence_id", occurrenceID,
			"payment_id", outcome.Deduction.PaymentID, "kind", outcome.Deduction.Kind)
	case outcome.Reason == models.ReasonNoPaymentAvailable:
		s.metrics.RecordOverdue()
		if s.cache != nil {
			s.cache.InvalidateBalanceSummary(ctx, studentID)
		}
		s.logger.Sugar().Warnw("no prepaid credit available, marked overdue",
			"student_id", studentID, "class_id", classID, "occurrence_id", occurrenceID)
	}
	return outcome, nil
}

// Refund reverses the deduction for the pair, restoring the payment's
// remaining credit. A missing deduction is a safe no-op.
func (s *BalanceService) Refund(ctx context.Context, studentID, occurrenceID string) (*models.RefundOutcome, error) {
	outcome, err := s.ledger.Refund(ctx, studentID, occurrenceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "refund failed")
	}
	if outcome.Refunded {
		s.metrics.RecordRefund()
		if s.cache != nil {
			s.cache.InvalidateBalanceSummary(ctx, studentID)
		}
		s.logger.Sugar().Infow("credit refunded",
			"student_id", studentID, "occurrence_id", occurrenceID, "payment_id", outcome.PaymentID)
	}
	return outcome, nil
}

// RecoverOverdue re-runs deduction for the student's overdue occurrences
// of a class, oldest first, consuming at most maxCredits newly available
// credits. Recovery stops as soon as the balance runs dry again. The
// recovered deductions are recorded with the overdue kind for audit.
func (s *BalanceService) RecoverOverdue(ctx context.Context, studentID, classID string, maxCredits int) (int, error) {
	if maxCredits <= 0 {
		return 0, nil
	}
	overdue, err := s.ledger.ListOverdueOccurrences(ctx, studentID, classID, maxCredits)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue occurrences")
	}

	recovered := 0
	for _, occ := range overdue {
		outcome, err := s.Deduct(ctx, studentID, classID, occ.OccurrenceID, models.DeductionKindOverdue)
		if err != nil {
			s.logger.Sugar().Warnw("overdue recovery deduction failed",
				"student_id", studentID, "occurrence_id", occ.OccurrenceID, "error", err)
			continue
		}
		if outcome.Reason == models.ReasonNoPaymentAvailable {
			break
		}
		if outcome.Deducted() {
			recovered++
		}
	}
	if recovered > 0 {
		s.logger.Sugar().Infow("overdue occurrences recovered",
			"student_id", studentID, "class_id", classID, "recovered", recovered)
	}
	return recovered, nil
}

// Summary returns the student's ledger position, served from cache when fresh.
func (s *BalanceService) Summary(ctx context.Context, studentID string) (*models.BalanceSummary, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetBalanceSummary(ctx, studentID); err == nil {
			return cached, nil
		}
	}
	summary, err := s.ledger.BalanceSummary(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute balance summary")
	}
	if s.cache != nil {
		if err := s.cache.SetBalanceSummary(ctx, summary, s.summaryTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache balance summary", "student_id", studentID, "error", err)
		}
	}
	return summary, nil
}
