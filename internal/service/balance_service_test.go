package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
)

type mockLedger struct {
	outcomes   map[string]*models.DeductionOutcome
	deductions []string
	refund     *models.RefundOutcome
	refunded   []string
	overdue    []models.OverdueOccurrence
	summary    *models.BalanceSummary
}

func (m *mockLedger) Deduct(ctx context.Context, studentID, classID, occurrenceID string, kind models.DeductionKind) (*models.DeductionOutcome, error) {
	m.deductions = append(m.deductions, occurrenceID)
	if outcome, ok := m.outcomes[occurrenceID]; ok {
		return outcome, nil
	}
	paymentID := "pay-1"
	return &models.DeductionOutcome{
		State: models.BillingStateDeducted,
		Deduction: &models.Deduction{
			ID: "ded-" + occurrenceID, StudentID: studentID, ClassID: classID,
			OccurrenceID: occurrenceID, PaymentID: &paymentID, ClassesDeducted: 1, Kind: kind,
		},
	}, nil
}

func (m *mockLedger) Refund(ctx context.Context, studentID, occurrenceID string) (*models.RefundOutcome, error) {
	m.refunded = append(m.refunded, occurrenceID)
	if m.refund != nil {
		return m.refund, nil
	}
	return &models.RefundOutcome{Refunded: false, Reason: models.ReasonNotFound}, nil
}

func (m *mockLedger) ListOverdueOccurrences(ctx context.Context, studentID, classID string, limit int) ([]models.OverdueOccurrence, error) {
	if limit < len(m.overdue) {
		return m.overdue[:limit], nil
	}
	return m.overdue, nil
}

func (m *mockLedger) BalanceSummary(ctx context.Context, studentID string) (*models.BalanceSummary, error) {
	if m.summary != nil {
		return m.summary, nil
	}
	return &models.BalanceSummary{StudentID: studentID}, nil
}

type mockEnrollmentChecker struct {
	enrolled bool
}

func (m *mockEnrollmentChecker) ExistsActive(ctx context.Context, studentID, classID string) (bool, error) {
	return m.enrolled, nil
}

type mockBalanceCache struct {
	summaries   map[string]*models.BalanceSummary
	invalidated []string
	stored      int
}

func (m *mockBalanceCache) GetBalanceSummary(ctx context.Context, studentID string) (*models.BalanceSummary, error) {
	if s, ok := m.summaries[studentID]; ok {
		return s, nil
	}
	return nil, appErrors.ErrCacheMiss
}

func (m *mockBalanceCache) SetBalanceSummary(ctx context.Context, summary *models.BalanceSummary, ttl time.Duration) error {
	m.stored++
	return nil
}

func (m *mockBalanceCache) InvalidateBalanceSummary(ctx context.Context, studentID string) {
	m.invalidated = append(m.invalidated, studentID)
}

func newBalanceServiceForTest(ledger *mockLedger, enrolled bool, cache *mockBalanceCache) *BalanceService {
	var c balanceCache
	if cache != nil {
		c = cache
	}
	return NewBalanceService(ledger, &mockEnrollmentChecker{enrolled: enrolled}, c, NewMetricsService(), zap.NewNop(), time.Minute)
}

func TestBalanceServiceDeduct(t *testing.T) {
	ledger := &mockLedger{}
	cache := &mockBalanceCache{}
	svc := newBalanceServiceForTest(ledger, true, cache)

	outcome, err := svc.Deduct(context.Background(), "stu-1", "cls-1", "occ-1", models.DeductionKindStandard)
	require.NoError(t, err)
	require.True(t, outcome.Deducted())
	require.Equal(t, []string{"stu-1"}, cache.invalidated)
}

func TestBalanceServiceDeductRejectsUnenrolledStudent(t *testing.T) {
	ledger := &mockLedger{}
	svc := newBalanceServiceForTest(ledger, false, nil)

	_, err := svc.Deduct(context.Background(), "stu-1", "cls-1", "occ-1", models.DeductionKindStandard)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)
	require.Empty(t, ledger.deductions)
}

func TestBalanceServiceDeductAlreadyBilled(t *testing.T) {
	ledger := &mockLedger{outcomes: map[string]*models.DeductionOutcome{
		"occ-1": {State: models.BillingStateDeducted, Reason: models.ReasonAlreadyExists},
	}}
	cache := &mockBalanceCache{}
	svc := newBalanceServiceForTest(ledger, true, cache)

	outcome, err := svc.Deduct(context.Background(), "stu-1", "cls-1", "occ-1", models.DeductionKindStandard)
	require.NoError(t, err)
	require.False(t, outcome.Deducted())
	require.Equal(t, models.ReasonAlreadyExists, outcome.Reason)
	require.Empty(t, cache.invalidated)
}

func TestBalanceServiceDeductMarksOverdue(t *testing.T) {
	ledger := &mockLedger{outcomes: map[string]*models.DeductionOutcome{
		"occ-1": {State: models.BillingStateOverdue, Reason: models.ReasonNoPaymentAvailable},
	}}
	cache := &mockBalanceCache{}
	svc := newBalanceServiceForTest(ledger, true, cache)

	outcome, err := svc.Deduct(context.Background(), "stu-1", "cls-1", "occ-1", models.DeductionKindStandard)
	require.NoError(t, err)
	require.Equal(t, models.BillingStateOverdue, outcome.State)
	require.Equal(t, []string{"stu-1"}, cache.invalidated)
}

func TestBalanceServiceRefund(t *testing.T) {
	paymentID := "pay-1"
	ledger := &mockLedger{refund: &models.RefundOutcome{Refunded: true, PaymentID: &paymentID, ClassesRefunded: 1}}
	cache := &mockBalanceCache{}
	svc := newBalanceServiceForTest(ledger, true, cache)

	outcome, err := svc.Refund(context.Background(), "stu-1", "occ-1")
	require.NoError(t, err)
	require.True(t, outcome.Refunded)
	require.Equal(t, []string{"stu-1"}, cache.invalidated)
}

func TestBalanceServiceRefundMissingDeduction(t *testing.T) {
	ledger := &mockLedger{}
	cache := &mockBalanceCache{}
	svc := newBalanceServiceForTest(ledger, true, cache)

	outcome, err := svc.Refund(context.Background(), "stu-1", "occ-1")
	require.NoError(t, err)
	require.False(t, outcome.Refunded)
	require.Equal(t, models.ReasonNotFound, outcome.Reason)
	require.Empty(t, cache.invalidated)
}

func TestBalanceServiceRecoverOverdueOldestFirst(t *testing.T) {
	ledger := &mockLedger{
		overdue: []models.OverdueOccurrence{
			{OccurrenceID: "occ-1", ClassID: "cls-1", Date: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
			{OccurrenceID: "occ-2", ClassID: "cls-1", Date: time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC)},
			{OccurrenceID: "occ-3", ClassID: "cls-1", Date: time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)},
		},
	}
	svc := newBalanceServiceForTest(ledger, true, nil)

	recovered, err := svc.RecoverOverdue(context.Background(), "stu-1", "cls-1", 5)
	require.NoError(t, err)
	require.Equal(t, 3, recovered)
	require.Equal(t, []string{"occ-1", "occ-2", "occ-3"}, ledger.deductions)
}

func TestBalanceServiceRecoverOverdueStopsWhenCreditsRunOut(t *testing.T) {
	ledger := &mockLedger{
		overdue: []models.OverdueOccurrence{
			{OccurrenceID: "occ-1", ClassID: "cls-1"},
			{OccurrenceID: "occ-2", ClassID: "cls-1"},
			{OccurrenceID: "occ-3", ClassID: "cls-1"},
		},
		outcomes: map[string]*models.DeductionOutcome{
			"occ-2": {State: models.BillingStateOverdue, Reason: models.ReasonNoPaymentAvailable},
		},
	}
	svc := newBalanceServiceForTest(ledger, true, nil)

	recovered, err := svc.RecoverOverdue(context.Background(), "stu-1", "cls-1", 5)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
	require.Equal(t, []string{"occ-1", "occ-2"}, ledger.deductions)
}

func TestBalanceServiceRecoverOverdueHonorsCreditLimit(t *testing.T) {
	ledger := &mockLedger{
		overdue: []models.OverdueOccurrence{
			{OccurrenceID: "occ-1", ClassID: "cls-1"},
			{OccurrenceID: "occ-2", ClassID: "cls-1"},
			{OccurrenceID: "occ-3", ClassID: "cls-1"},
		},
	}
	svc := newBalanceServiceForTest(ledger, true, nil)

	recovered, err := svc.RecoverOverdue(context.Background(), "stu-1", "cls-1", 2)
	require.NoError(t, err)
	require.Equal(t, 2, recovered)
}

func TestBalanceServiceSummaryUsesCache(t *testing.T) {
	ledger := &mockLedger{summary: &models.BalanceSummary{StudentID: "stu-1", ClassesRemaining: 4}}
	cache := &mockBalanceCache{summaries: map[string]*models.BalanceSummary{
		"stu-1": {StudentID: "stu-1", ClassesRemaining: 7},
	}}
	svc := newBalanceServiceForTest(ledger, true, cache)

	summary, err := svc.Summary(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Equal(t, 7, summary.ClassesRemaining)
	require.Zero(t, cache.stored)
}

func TestBalanceServiceSummaryFillsCacheOnMiss(t *testing.T) {
	ledger := &mockLedger{summary: &models.BalanceSummary{StudentID: "stu-1", ClassesRemaining: 4}}
	cache := &mockBalanceCache{}
	svc := newBalanceServiceForTest(ledger, true, cache)

	summary, err := svc.Summary(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Equal(t, 4, summary.ClassesRemaining)
	require.Equal(t, 1, cache.stored)
}
