package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
)

func newLedgerRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestLedgerRepositoryDeduct(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM class_deductions WHERE occurrence_id = $1 AND student_id = $2")).
		WithArgs("occ-1", "stu-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF p")).
		WithArgs("stu-1", "cls-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("pay-1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_deductions")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "cls-1", "occ-1", "pay-1", 1, models.DeductionKindStandard, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET classes_remaining = classes_remaining - 1")).
		WithArgs("pay-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_records SET is_overdue = FALSE")).
		WithArgs("occ-1", "stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_occurrences o SET is_overdue = EXISTS")).
		WithArgs("occ-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.Deduct(context.Background(), "stu-1", "cls-1", "occ-1", models.DeductionKindStandard)
	require.NoError(t, err)
	require.Equal(t, models.BillingStateDeducted, outcome.State)
	require.Empty(t, outcome.Reason)
	require.NotNil(t, outcome.Deduction)
	require.Equal(t, "pay-1", *outcome.Deduction.PaymentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryDeductAlreadyExists(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM class_deductions WHERE occurrence_id = $1 AND student_id = $2")).
		WithArgs("occ-1", "stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ded-1"))
	mock.ExpectRollback()

	outcome, err := repo.Deduct(context.Background(), "stu-1", "cls-1", "occ-1", models.DeductionKindStandard)
	require.NoError(t, err)
	require.Equal(t, models.BillingStateDeducted, outcome.State)
	require.Equal(t, models.ReasonAlreadyExists, outcome.Reason)
	require.Nil(t, outcome.Deduction)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryDeductNoPaymentMarksOverdue(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM class_deductions WHERE occurrence_id = $1 AND student_id = $2")).
		WithArgs("occ-1", "stu-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF p")).
		WithArgs("stu-1", "cls-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_records SET is_overdue = TRUE")).
		WithArgs("occ-1", "stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_occurrences SET is_overdue = TRUE")).
		WithArgs("occ-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.Deduct(context.Background(), "stu-1", "cls-1", "occ-1", models.DeductionKindStandard)
	require.NoError(t, err)
	require.Equal(t, models.BillingStateOverdue, outcome.State)
	require.Equal(t, models.ReasonNoPaymentAvailable, outcome.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryDeductLosesInsertRace(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM class_deductions WHERE occurrence_id = $1 AND student_id = $2")).
		WithArgs("occ-1", "stu-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE OF p")).
		WithArgs("stu-1", "cls-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("pay-1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_deductions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	outcome, err := repo.Deduct(context.Background(), "stu-1", "cls-1", "occ-1", models.DeductionKindStandard)
	require.NoError(t, err)
	require.Equal(t, models.BillingStateDeducted, outcome.State)
	require.Equal(t, models.ReasonAlreadyExists, outcome.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryRefund(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "class_id", "occurrence_id", "payment_id", "classes_deducted", "kind", "deducted_at"}).
		AddRow("ded-1", "stu-1", "cls-1", "occ-1", "pay-1", 1, "standard", time.Now())
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_deductions WHERE occurrence_id = $1 AND student_id = $2 FOR UPDATE")).
		WithArgs("occ-1", "stu-1").
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET classes_remaining = classes_remaining + $2")).
		WithArgs("pay-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM class_deductions WHERE id = $1")).
		WithArgs("ded-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.Refund(context.Background(), "stu-1", "occ-1")
	require.NoError(t, err)
	require.True(t, outcome.Refunded)
	require.Equal(t, 1, outcome.ClassesRefunded)
	require.Equal(t, "pay-1", *outcome.PaymentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryRefundMissingDeduction(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_deductions WHERE occurrence_id = $1 AND student_id = $2 FOR UPDATE")).
		WithArgs("occ-1", "stu-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	outcome, err := repo.Refund(context.Background(), "stu-1", "occ-1")
	require.NoError(t, err)
	require.False(t, outcome.Refunded)
	require.Equal(t, models.ReasonNotFound, outcome.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryListOverdueOccurrences(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)

	rows := sqlmock.NewRows([]string{"occurrence_id", "class_id", "date", "start_time"}).
		AddRow("occ-1", "cls-1", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), "19:00").
		AddRow("occ-2", "cls-1", time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC), "19:00")
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY o.date ASC, o.start_time ASC")).
		WithArgs("stu-1", "cls-1", 10).
		WillReturnRows(rows)

	overdue, err := repo.ListOverdueOccurrences(context.Background(), "stu-1", "cls-1", 10)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	require.Equal(t, "occ-1", overdue[0].OccurrenceID)
	require.True(t, overdue[0].Date.Before(overdue[1].Date))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryBalanceSummary(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)

	rows := sqlmock.NewRows([]string{"classes_purchased", "classes_remaining", "classes_deducted", "overdue_count"}).
		AddRow(20, 12, 8, 2)
	mock.ExpectQuery(regexp.QuoteMeta("AS overdue_count")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	summary, err := repo.BalanceSummary(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Equal(t, "stu-1", summary.StudentID)
	require.Equal(t, 20, summary.ClassesPurchased)
	require.Equal(t, 12, summary.ClassesRemaining)
	require.Equal(t, 8, summary.ClassesDeducted)
	require.Equal(t, 2, summary.OverdueCount)
	require.NoError(t, mock.ExpectationsWereMet())
}
