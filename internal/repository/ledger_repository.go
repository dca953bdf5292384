package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
)

// LedgerRepository owns payments, allocations and deductions. The
// transactional Deduct and Refund methods implement the billing state
// machine at the storage level: row locks on the payment being touched
// plus the unique index on (occurrence_id, student_id) deductions keep
// concurrent attempts from double charging.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreatePayment persists a new payment with its full credit balance.
func (r *LedgerRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = now
	}
	payment.ClassesRemaining = payment.ClassesPurchased
	payment.CreatedAt = now
	payment.UpdatedAt = now
	const query = `INSERT INTO payments (id, student_id, payment_date, method, amount, classes_purchased, classes_remaining, notes, created_at, updated_at)
        VALUES (:id, :student_id, :payment_date, :method, :amount, :classes_purchased, :classes_remaining, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// FindPaymentByID returns a payment by its ID.
func (r *LedgerRepository) FindPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	const query = `SELECT id, student_id, payment_date, method, amount, classes_purchased, classes_remaining, notes, created_at, updated_at
        FROM payments WHERE id = $1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPayments returns payments matching the filter.
func (r *LedgerRepository) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Method != "" {
		where = append(where, fmt.Sprintf("method = $%d", len(args)+1))
		args = append(args, filter.Method)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("payment_date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("payment_date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, student_id, payment_date, method, amount, classes_purchased, classes_remaining, notes, created_at, updated_at
        FROM payments WHERE %s ORDER BY payment_date %s LIMIT %d OFFSET %d`, whereClause, order, size, offset)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM payments WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// CreateAllocation earmarks credits from a payment for a class. A
// duplicate (payment_id, class_id) pair surfaces as a unique violation.
func (r *LedgerRepository) CreateAllocation(ctx context.Context, alloc *models.PaymentAllocation) error {
	if alloc.ID == "" {
		alloc.ID = uuid.NewString()
	}
	if alloc.CreatedAt.IsZero() {
		alloc.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payment_allocations (id, payment_id, class_id, classes_allocated, created_at)
        VALUES (:id, :payment_id, :class_id, :classes_allocated, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, alloc); err != nil {
		return fmt.Errorf("create allocation: %w", err)
	}
	return nil
}

// ListAllocationsByPayment returns the allocations funded by a payment.
func (r *LedgerRepository) ListAllocationsByPayment(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error) {
	const query = `SELECT id, payment_id, class_id, classes_allocated, created_at
        FROM payment_allocations WHERE payment_id = $1 ORDER BY created_at`
	var allocations []models.PaymentAllocation
	if err := r.db.SelectContext(ctx, &allocations, query, paymentID); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return allocations, nil
}

// ListDeductionsByOccurrence returns every deduction charged for an occurrence.
func (r *LedgerRepository) ListDeductionsByOccurrence(ctx context.Context, occurrenceID string) ([]models.Deduction, error) {
	const query = `SELECT id, student_id, class_id, occurrence_id, payment_id, classes_deducted, kind, deducted_at
        FROM class_deductions WHERE occurrence_id = $1`
	var deductions []models.Deduction
	if err := r.db.SelectContext(ctx, &deductions, query, occurrenceID); err != nil {
		return nil, fmt.Errorf("list occurrence deductions: %w", err)
	}
	return deductions, nil
}

// ListDeductionsByStudent returns a student's deductions, newest first.
func (r *LedgerRepository) ListDeductionsByStudent(ctx context.Context, studentID string) ([]models.Deduction, error) {
	const query = `SELECT id, student_id, class_id, occurrence_id, payment_id, classes_deducted, kind, deducted_at
        FROM class_deductions WHERE student_id = $1 ORDER BY deducted_at DESC`
	var deductions []models.Deduction
	if err := r.db.SelectContext(ctx, &deductions, query, studentID); err != nil {
		return nil, fmt.Errorf("list student deductions: %w", err)
	}
	return deductions, nil
}

// ListDeductionDetailsByStudent returns a student's deductions joined
// with class and occurrence metadata, oldest first, optionally bounded
// to an occurrence date range. Statements read from this.
func (r *LedgerRepository) ListDeductionDetailsByStudent(ctx context.Context, studentID string, from, to *time.Time) ([]models.DeductionDetail, error) {
	query := `SELECT d.id, d.student_id, d.class_id, d.occurrence_id, d.payment_id, d.classes_deducted, d.kind, d.deducted_at,
            c.name AS class_name, o.date AS occurrence_date, o.start_time
        FROM class_deductions d
        JOIN classes c ON c.id = d.class_id
        JOIN class_occurrences o ON o.id = d.occurrence_id
        WHERE d.student_id = $1`
	args := []interface{}{studentID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND o.date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND o.date <= $%d", len(args))
	}
	query += " ORDER BY o.date ASC, o.start_time ASC"

	var details []models.DeductionDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, fmt.Errorf("list student deduction details: %w", err)
	}
	return details, nil
}

// eligiblePaymentQuery picks the payment funding a deduction: the
// student's newest payment with credits left and unexhausted allocation
// capacity for the class. Newest-first is deliberate so recent purchases
// are consumed before older ones expire or get disputed; overdue
// recovery walks occurrences oldest-first instead (see ListOverdueOccurrences).
const eligiblePaymentQuery = `SELECT p.id
FROM payments p
JOIN payment_allocations pa ON pa.payment_id = p.id AND pa.class_id = $2
LEFT JOIN (
    SELECT payment_id, SUM(classes_deducted) AS used
    FROM class_deductions
    WHERE class_id = $2
    GROUP BY payment_id
) d ON d.payment_id = p.id
WHERE p.student_id = $1
  AND p.classes_remaining > 0
  AND pa.classes_allocated - COALESCE(d.used, 0) > 0
ORDER BY p.payment_date DESC, p.created_at DESC
LIMIT 1
FOR UPDATE OF p`

// Deduct consumes one credit for (student, class, occurrence) inside a
// single transaction. Outcomes:
//   - already_exists: a deduction is already recorded, nothing changes
//   - no_payment_available: no eligible payment; the pair is marked overdue
//   - deducted: a deduction row exists and the payment lost one credit
func (r *LedgerRepository) Deduct(ctx context.Context, studentID, classID, occurrenceID string, kind models.DeductionKind) (*models.DeductionOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin deduct: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existingID string
	err = tx.GetContext(ctx, &existingID,
		`SELECT id FROM class_deductions WHERE occurrence_id = $1 AND student_id = $2`,
		occurrenceID, studentID)
	if err == nil {
		return &models.DeductionOutcome{State: models.BillingStateDeducted, Reason: models.ReasonAlreadyExists}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check existing deduction: %w", err)
	}

	now := time.Now().UTC()

	var paymentID string
	err = tx.GetContext(ctx, &paymentID, eligiblePaymentQuery, studentID, classID)
	if errors.Is(err, sql.ErrNoRows) {
		if err := r.markOverdue(ctx, tx, occurrenceID, studentID, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit overdue mark: %w", err)
		}
		return &models.DeductionOutcome{State: models.BillingStateOverdue, Reason: models.ReasonNoPaymentAvailable}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select eligible payment: %w", err)
	}

	if kind == "" {
		kind = models.DeductionKindStandard
	}
	deduction := &models.Deduction{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		ClassID:         classID,
		OccurrenceID:    occurrenceID,
		PaymentID:       &paymentID,
		ClassesDeducted: 1,
		Kind:            kind,
		DeductedAt:      now,
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO class_deductions (id, student_id, class_id, occurrence_id, payment_id, classes_deducted, kind, deducted_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         ON CONFLICT (occurrence_id, student_id) DO NOTHING`,
		deduction.ID, deduction.StudentID, deduction.ClassID, deduction.OccurrenceID,
		deduction.PaymentID, deduction.ClassesDeducted, deduction.Kind, deduction.DeductedAt)
	if err != nil {
		return nil, fmt.Errorf("insert deduction: %w", err)
	}
	if inserted, err := res.RowsAffected(); err == nil && inserted == 0 {
		// A concurrent transaction won the race; the unique index is the arbiter.
		return &models.DeductionOutcome{State: models.BillingStateDeducted, Reason: models.ReasonAlreadyExists}, nil
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE payments SET classes_remaining = classes_remaining - 1, updated_at = $2 WHERE id = $1 AND classes_remaining > 0`,
		paymentID, now)
	if err != nil {
		return nil, fmt.Errorf("decrement payment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, fmt.Errorf("payment %s has no remaining credit", paymentID)
	}

	if err := r.clearOverdue(ctx, tx, occurrenceID, studentID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit deduct: %w", err)
	}
	return &models.DeductionOutcome{State: models.BillingStateDeducted, Deduction: deduction}, nil
}

// Refund reverses a deduction inside a single transaction: the linked
// payment regains the deducted credits and the deduction row is removed.
// Missing deductions are a no-op so refunds are safe to retry.
func (r *LedgerRepository) Refund(ctx context.Context, studentID, occurrenceID string) (*models.RefundOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin refund: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var deduction models.Deduction
	err = tx.GetContext(ctx, &deduction,
		`SELECT id, student_id, class_id, occurrence_id, payment_id, classes_deducted, kind, deducted_at
         FROM class_deductions WHERE occurrence_id = $1 AND student_id = $2 FOR UPDATE`,
		occurrenceID, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.RefundOutcome{Refunded: false, Reason: models.ReasonNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find deduction: %w", err)
	}

	now := time.Now().UTC()
	if deduction.PaymentID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE payments SET classes_remaining = classes_remaining + $2, updated_at = $3 WHERE id = $1`,
			*deduction.PaymentID, deduction.ClassesDeducted, now); err != nil {
			return nil, fmt.Errorf("restore payment credit: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM class_deductions WHERE id = $1`, deduction.ID); err != nil {
		return nil, fmt.Errorf("delete deduction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit refund: %w", err)
	}
	return &models.RefundOutcome{
		Refunded:        true,
		PaymentID:       deduction.PaymentID,
		ClassesRefunded: deduction.ClassesDeducted,
	}, nil
}

// ListOverdueOccurrences returns a student's unpaid occurrences for a
// class, oldest first. Overdue debt is recovered in the order incurred.
func (r *LedgerRepository) ListOverdueOccurrences(ctx context.Context, studentID, classID string, limit int) ([]models.OverdueOccurrence, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ar.occurrence_id, o.class_id, o.date, o.start_time
        FROM attendance_records ar
        JOIN class_occurrences o ON o.id = ar.occurrence_id
        WHERE ar.student_id = $1 AND o.class_id = $2 AND ar.is_overdue AND NOT o.cancelled
        ORDER BY o.date ASC, o.start_time ASC
        LIMIT $3`
	var overdue []models.OverdueOccurrence
	if err := r.db.SelectContext(ctx, &overdue, query, studentID, classID, limit); err != nil {
		return nil, fmt.Errorf("list overdue occurrences: %w", err)
	}
	return overdue, nil
}

// BalanceSummary aggregates a student's ledger position.
func (r *LedgerRepository) BalanceSummary(ctx context.Context, studentID string) (*models.BalanceSummary, error) {
	const query = `SELECT
        COALESCE((SELECT SUM(classes_purchased) FROM payments WHERE student_id = $1), 0) AS classes_purchased,
        COALESCE((SELECT SUM(classes_remaining) FROM payments WHERE student_id = $1), 0) AS classes_remaining,
        COALESCE((SELECT SUM(classes_deducted) FROM class_deductions WHERE student_id = $1), 0) AS classes_deducted,
        (SELECT COUNT(*) FROM attendance_records WHERE student_id = $1 AND is_overdue) AS overdue_count`
	var summary models.BalanceSummary
	if err := r.db.GetContext(ctx, &summary, query, studentID); err != nil {
		return nil, fmt.Errorf("balance summary: %w", err)
	}
	summary.StudentID = studentID
	summary.GeneratedAt = time.Now().UTC()
	return &summary, nil
}

func (r *LedgerRepository) markOverdue(ctx context.Context, tx *sqlx.Tx, occurrenceID, studentID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE attendance_records SET is_overdue = TRUE, updated_at = $3 WHERE occurrence_id = $1 AND student_id = $2 AND NOT is_overdue`,
		occurrenceID, studentID, now); err != nil {
		return fmt.Errorf("mark attendance overdue: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE class_occurrences SET is_overdue = TRUE, updated_at = $2 WHERE id = $1`,
		occurrenceID, now); err != nil {
		return fmt.Errorf("mark occurrence overdue: %w", err)
	}
	return nil
}

func (r *LedgerRepository) clearOverdue(ctx context.Context, tx *sqlx.Tx, occurrenceID, studentID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE attendance_records SET is_overdue = FALSE, updated_at = $3 WHERE occurrence_id = $1 AND student_id = $2 AND is_overdue`,
		occurrenceID, studentID, now); err != nil {
		return fmt.Errorf("clear attendance overdue: %w", err)
	}
	// The occurrence flag is an aggregate over per-student state.
	if _, err := tx.ExecContext(ctx,
		`UPDATE class_occurrences o SET is_overdue = EXISTS (
             SELECT 1 FROM attendance_records ar WHERE ar.occurrence_id = o.id AND ar.is_overdue
         ), updated_at = $2 WHERE o.id = $1`,
		occurrenceID, now); err != nil {
		return fmt.Errorf("refresh occurrence overdue: %w", err)
	}
	return nil
}
