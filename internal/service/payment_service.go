package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	"github.com/noah-isme/kelas-ledger-api/internal/repository"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
)

type paymentLedgerRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPaymentByID(ctx context.Context, id string) (*models.Payment, error)
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
	CreateAllocation(ctx context.Context, alloc *models.PaymentAllocation) error
	ListAllocationsByPayment(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error)
}

type paymentStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type paymentClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type paymentOverdueRecoverer interface {
	RecoverOverdue(ctx context.Context, studentID, classID string, maxCredits int) (int, error)
}

// CreatePaymentRequest describes a credit purchase. Allocations may be
// provided inline to earmark the credits immediately.
type CreatePaymentRequest struct {
	StudentID        string                   `json:"student_id" validate:"required"`
	Method           string                   `json:"method" validate:"required"`
	Amount           float64                  `json:"amount" validate:"gte=0"`
	ClassesPurchased int                      `json:"classes_purchased" validate:"required,gt=0"`
	PaymentDate      *time.Time               `json:"payment_date"`
	Notes            *string                  `json:"notes"`
	Allocations      []PaymentAllocationInput `json:"allocations" validate:"omitempty,dive"`
}

// PaymentAllocationInput is one inline allocation entry.
type PaymentAllocationInput struct {
	ClassID          string `json:"class_id" validate:"required"`
	ClassesAllocated int    `json:"classes_allocated" validate:"required,gt=0"`
}

// AllocatePaymentRequest earmarks credits from an existing payment.
type AllocatePaymentRequest struct {
	ClassID          string `json:"class_id" validate:"required"`
	ClassesAllocated int    `json:"classes_allocated" validate:"required,gt=0"`
}

// AllocationResult reports the allocation plus any overdue recovery it triggered.
type AllocationResult struct {
	Allocation       *models.PaymentAllocation `json:"allocation"`
	OverdueRecovered int                       `json:"overdue_recovered"`
}

// PaymentService manages credit purchases and their allocation to
// classes. Allocating credits additionally sweeps the student's overdue
// occurrences for that class, oldest first.
type PaymentService struct {
	ledger    paymentLedgerRepository
	students  paymentStudentRepository
	classes   paymentClassRepository
	balance   paymentOverdueRecoverer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaymentService constructs the payment service.
func NewPaymentService(ledger paymentLedgerRepository, students paymentStudentRepository, classes paymentClassRepository, balance paymentOverdueRecoverer, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		ledger:    ledger,
		students:  students,
		classes:   classes,
		balance:   balance,
		validator: validate,
		logger:    logger,
	}
}

// Create records a payment and applies any inline allocations.
func (s *PaymentService) Create(ctx context.Context, req CreatePaymentRequest) (*models.Payment, []AllocationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	allocatedTotal := 0
	for _, alloc := range req.Allocations {
		allocatedTotal += alloc.ClassesAllocated
	}
	if allocatedTotal > req.ClassesPurchased {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "allocations exceed purchased classes")
	}

	payment := &models.Payment{
		StudentID:        req.StudentID,
		Method:           req.Method,
		Amount:           req.Amount,
		ClassesPurchased: req.ClassesPurchased,
		Notes:            req.Notes,
	}
	if req.PaymentDate != nil {
		payment.PaymentDate = *req.PaymentDate
	}
	if err := s.ledger.CreatePayment(ctx, payment); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}
	s.logger.Sugar().Infow("payment created",
		"payment_id", payment.ID, "student_id", payment.StudentID, "classes", payment.ClassesPurchased)

	results := make([]AllocationResult, 0, len(req.Allocations))
	for _, alloc := range req.Allocations {
		result, err := s.allocate(ctx, payment, AllocatePaymentRequest(alloc))
		if err != nil {
			s.logger.Sugar().Warnw("inline allocation failed",
				"payment_id", payment.ID, "class_id", alloc.ClassID, "error", err)
			continue
		}
		results = append(results, *result)
	}
	return payment, results, nil
}

// Allocate earmarks credits from an existing payment for a class and
// recovers the student's overdue occurrences with the fresh credits.
func (s *PaymentService) Allocate(ctx context.Context, paymentID string, req AllocatePaymentRequest) (*AllocationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid allocation payload")
	}
	payment, err := s.ledger.FindPaymentByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return s.allocate(ctx, payment, req)
}

func (s *PaymentService) allocate(ctx context.Context, payment *models.Payment, req AllocatePaymentRequest) (*AllocationResult, error) {
	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	existing, err := s.ledger.ListAllocationsByPayment(ctx, payment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list allocations")
	}
	allocatedTotal := req.ClassesAllocated
	for _, alloc := range existing {
		allocatedTotal += alloc.ClassesAllocated
	}
	if allocatedTotal > payment.ClassesPurchased {
		return nil, appErrors.Clone(appErrors.ErrValidation, "allocations exceed purchased classes")
	}

	allocation := &models.PaymentAllocation{
		PaymentID:        payment.ID,
		ClassID:          req.ClassID,
		ClassesAllocated: req.ClassesAllocated,
	}
	if err := s.ledger.CreateAllocation(ctx, allocation); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyExists, "payment already allocated to this class")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create allocation")
	}

	recovered, err := s.balance.RecoverOverdue(ctx, payment.StudentID, req.ClassID, req.ClassesAllocated)
	if err != nil {
		// The allocation is committed; recovery repeats on the next allocation.
		s.logger.Sugar().Warnw("overdue recovery failed after allocation",
			"payment_id", payment.ID, "class_id", req.ClassID, "error", err)
		recovered = 0
	}

	s.logger.Sugar().Infow("payment allocated",
		"payment_id", payment.ID, "class_id", req.ClassID,
		"classes_allocated", req.ClassesAllocated, "overdue_recovered", recovered)
	return &AllocationResult{Allocation: allocation, OverdueRecovered: recovered}, nil
}

// List returns payments matching the filter.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.ledger.ListPayments(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
