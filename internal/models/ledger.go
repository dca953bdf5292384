package models

import "time"

// Payment is a purchase of prepaid class credits.
// ClassesPurchased is the immutable intent; ClassesRemaining is a
// transactionally maintained projection of the deduction ledger and
// never drops below zero.
type Payment struct {
	ID               string    `db:"id" json:"id"`
	StudentID        string    `db:"student_id" json:"student_id"`
	PaymentDate      time.Time `db:"payment_date" json:"payment_date"`
	Method           string    `db:"method" json:"method"`
	Amount           float64   `db:"amount" json:"amount"`
	ClassesPurchased int       `db:"classes_purchased" json:"classes_purchased"`
	ClassesRemaining int       `db:"classes_remaining" json:"classes_remaining"`
	Notes            *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// PaymentAllocation earmarks credits from a payment toward one class.
// At most one allocation exists per (payment_id, class_id).
type PaymentAllocation struct {
	ID               string    `db:"id" json:"id"`
	PaymentID        string    `db:"payment_id" json:"payment_id"`
	ClassID          string    `db:"class_id" json:"class_id"`
	ClassesAllocated int       `db:"classes_allocated" json:"classes_allocated"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// DeductionKind distinguishes ordinary deductions from overdue recovery
// deductions for audit purposes.
type DeductionKind string

const (
	DeductionKindStandard DeductionKind = "standard"
	DeductionKindOverdue  DeductionKind = "overdue"
)

// Deduction records that one class credit was consumed for a student at
// an occurrence. At most one deduction exists per (occurrence_id,
// student_id); the unique constraint is the guard against double billing.
type Deduction struct {
	ID              string        `db:"id" json:"id"`
	StudentID       string        `db:"student_id" json:"student_id"`
	ClassID         string        `db:"class_id" json:"class_id"`
	OccurrenceID    string        `db:"occurrence_id" json:"occurrence_id"`
	PaymentID       *string       `db:"payment_id" json:"payment_id,omitempty"`
	ClassesDeducted int           `db:"classes_deducted" json:"classes_deducted"`
	Kind            DeductionKind `db:"kind" json:"kind"`
	DeductedAt      time.Time     `db:"deducted_at" json:"deducted_at"`
}

// DeductionDetail extends a deduction with display metadata for
// statements and occurrence views.
type DeductionDetail struct {
	Deduction
	ClassName      string    `db:"class_name" json:"class_name"`
	OccurrenceDate time.Time `db:"occurrence_date" json:"occurrence_date"`
	StartTime      string    `db:"start_time" json:"start_time"`
}

// BillingState is the explicit per-(student, occurrence) billing status.
type BillingState string

const (
	BillingStateUnbilled BillingState = "unbilled"
	BillingStateDeducted BillingState = "deducted"
	BillingStateOverdue  BillingState = "overdue"
)

// Machine-readable reason codes returned by billing operations.
const (
	ReasonAlreadyExists      = "already_exists"
	ReasonNoPaymentAvailable = "no_payment_available"
	ReasonNotEnrolled        = "not_enrolled"
	ReasonNotFound           = "not_found"
)

// DeductionOutcome is the structured result of a deduct attempt.
type DeductionOutcome struct {
	State     BillingState `json:"state"`
	Reason    string       `json:"reason,omitempty"`
	Deduction *Deduction   `json:"deduction,omitempty"`
}

// Deducted reports whether the attempt consumed a credit.
func (o DeductionOutcome) Deducted() bool {
	return o.State == BillingStateDeducted && o.Reason == ""
}

// RefundOutcome is the structured result of a refund attempt.
type RefundOutcome struct {
	Refunded        bool    `json:"refunded"`
	Reason          string  `json:"reason,omitempty"`
	PaymentID       *string `json:"payment_id,omitempty"`
	ClassesRefunded int     `json:"classes_refunded"`
}

// OverdueOccurrence describes an occurrence awaiting payment for one
// student, ordered oldest first when recovering debt.
type OverdueOccurrence struct {
	OccurrenceID string    `db:"occurrence_id" json:"occurrence_id"`
	ClassID      string    `db:"class_id" json:"class_id"`
	Date         time.Time `db:"date" json:"date"`
	StartTime    string    `db:"start_time" json:"start_time"`
}

// BalanceSummary aggregates a student's ledger position.
type BalanceSummary struct {
	StudentID        string    `db:"student_id" json:"student_id"`
	ClassesPurchased int       `db:"classes_purchased" json:"classes_purchased"`
	ClassesRemaining int       `db:"classes_remaining" json:"classes_remaining"`
	ClassesDeducted  int       `db:"classes_deducted" json:"classes_deducted"`
	OverdueCount     int       `db:"overdue_count" json:"overdue_count"`
	GeneratedAt      time.Time `db:"generated_at" json:"generated_at"`
}

// PaymentFilter scopes payment listing queries.
type PaymentFilter struct {
	StudentID string
	Method    string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
