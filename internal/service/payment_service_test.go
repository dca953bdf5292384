package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
)

type mockPaymentLedger struct {
	payments    map[string]*models.Payment
	allocations []models.PaymentAllocation
	allocErr    error
	created     *models.Payment
}

func (m *mockPaymentLedger) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = "pay-new"
	}
	m.created = payment
	return nil
}

func (m *mockPaymentLedger) FindPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	if p, ok := m.payments[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentLedger) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	return nil, 0, nil
}

func (m *mockPaymentLedger) CreateAllocation(ctx context.Context, alloc *models.PaymentAllocation) error {
	if m.allocErr != nil {
		return m.allocErr
	}
	if alloc.ID == "" {
		alloc.ID = "alloc-new"
	}
	m.allocations = append(m.allocations, *alloc)
	return nil
}

func (m *mockPaymentLedger) ListAllocationsByPayment(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error) {
	var list []models.PaymentAllocation
	for _, a := range m.allocations {
		if a.PaymentID == paymentID {
			list = append(list, a)
		}
	}
	return list, nil
}

type mockStudentFinder struct {
	students map[string]*models.Student
}

func (m *mockStudentFinder) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockOverdueRecoverer struct {
	recovered int
	calls     []int
}

func (m *mockOverdueRecoverer) RecoverOverdue(ctx context.Context, studentID, classID string, maxCredits int) (int, error) {
	m.calls = append(m.calls, maxCredits)
	return m.recovered, nil
}

type paymentFixture struct {
	ledger    *mockPaymentLedger
	recoverer *mockOverdueRecoverer
	svc       *PaymentService
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{
		ledger:    &mockPaymentLedger{payments: map[string]*models.Payment{}},
		recoverer: &mockOverdueRecoverer{},
	}
	students := &mockStudentFinder{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", FullName: "Sari Dewi"},
	}}
	classes := &mockClassStore{classes: map[string]*models.Class{
		"cls-1": {ID: "cls-1", Name: "Math A"},
	}}
	f.svc = NewPaymentService(f.ledger, students, classes, f.recoverer, nil, zap.NewNop())
	return f
}

func TestPaymentServiceCreate(t *testing.T) {
	f := newPaymentFixture()

	payment, results, err := f.svc.Create(context.Background(), CreatePaymentRequest{
		StudentID:        "stu-1",
		Method:           "transfer",
		Amount:           1200000,
		ClassesPurchased: 8,
	})
	require.NoError(t, err)
	require.Equal(t, 8, payment.ClassesPurchased)
	require.Empty(t, results)
	require.NotNil(t, f.ledger.created)
}

func TestPaymentServiceCreateWithInlineAllocation(t *testing.T) {
	f := newPaymentFixture()
	f.recoverer.recovered = 2

	payment, results, err := f.svc.Create(context.Background(), CreatePaymentRequest{
		StudentID:        "stu-1",
		Method:           "cash",
		Amount:           600000,
		ClassesPurchased: 4,
		Allocations: []PaymentAllocationInput{
			{ClassID: "cls-1", ClassesAllocated: 4},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, payment.ID, results[0].Allocation.PaymentID)
	require.Equal(t, 2, results[0].OverdueRecovered)
	require.Equal(t, []int{4}, f.recoverer.calls)
}

func TestPaymentServiceCreateRejectsOverAllocation(t *testing.T) {
	f := newPaymentFixture()

	_, _, err := f.svc.Create(context.Background(), CreatePaymentRequest{
		StudentID:        "stu-1",
		Method:           "cash",
		ClassesPurchased: 4,
		Allocations: []PaymentAllocationInput{
			{ClassID: "cls-1", ClassesAllocated: 5},
		},
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceCreateUnknownStudent(t *testing.T) {
	f := newPaymentFixture()

	_, _, err := f.svc.Create(context.Background(), CreatePaymentRequest{
		StudentID:        "stu-missing",
		Method:           "cash",
		ClassesPurchased: 4,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceAllocateTriggersOverdueRecovery(t *testing.T) {
	f := newPaymentFixture()
	f.ledger.payments["pay-1"] = &models.Payment{ID: "pay-1", StudentID: "stu-1", ClassesPurchased: 10}
	f.recoverer.recovered = 3

	result, err := f.svc.Allocate(context.Background(), "pay-1", AllocatePaymentRequest{
		ClassID:          "cls-1",
		ClassesAllocated: 6,
	})
	require.NoError(t, err)
	require.Equal(t, 6, result.Allocation.ClassesAllocated)
	require.Equal(t, 3, result.OverdueRecovered)
	require.Equal(t, []int{6}, f.recoverer.calls)
}

func TestPaymentServiceAllocateRejectsDuplicateClass(t *testing.T) {
	f := newPaymentFixture()
	f.ledger.payments["pay-1"] = &models.Payment{ID: "pay-1", StudentID: "stu-1", ClassesPurchased: 10}
	f.ledger.allocErr = &pq.Error{Code: "23505"}

	_, err := f.svc.Allocate(context.Background(), "pay-1", AllocatePaymentRequest{
		ClassID:          "cls-1",
		ClassesAllocated: 2,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrAlreadyExists.Code, appErrors.FromError(err).Code)
	require.Empty(t, f.recoverer.calls)
}

func TestPaymentServiceAllocateRejectsExceedingPurchase(t *testing.T) {
	f := newPaymentFixture()
	f.ledger.payments["pay-1"] = &models.Payment{ID: "pay-1", StudentID: "stu-1", ClassesPurchased: 10}
	f.ledger.allocations = []models.PaymentAllocation{
		{ID: "alloc-1", PaymentID: "pay-1", ClassID: "cls-2", ClassesAllocated: 8},
	}

	_, err := f.svc.Allocate(context.Background(), "pay-1", AllocatePaymentRequest{
		ClassID:          "cls-1",
		ClassesAllocated: 3,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceAllocateUnknownPayment(t *testing.T) {
	f := newPaymentFixture()

	_, err := f.svc.Allocate(context.Background(), "pay-missing", AllocatePaymentRequest{
		ClassID:          "cls-1",
		ClassesAllocated: 1,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
