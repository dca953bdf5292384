package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
)

func TestAttendanceRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "occurrence_id", "student_id", "status", "is_overdue", "notes", "created_at", "updated_at"}).
		AddRow("att-1", "occ-1", "stu-1", "absent", false, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("DO UPDATE SET status = EXCLUDED.status")).
		WithArgs(sqlmock.AnyArg(), "occ-1", "stu-1", models.AttendanceStatusAbsent, false, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	stored, err := repo.Upsert(context.Background(), &models.AttendanceRecord{
		OccurrenceID: "occ-1",
		StudentID:    "stu-1",
		Status:       models.AttendanceStatusAbsent,
	})
	require.NoError(t, err)
	require.Equal(t, "att-1", stored.ID)
	require.Equal(t, models.AttendanceStatusAbsent, stored.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySeedPresent(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (occurrence_id, student_id) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "occ-1", "stu-1", models.AttendanceStatusPresent, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	seeded, err := repo.SeedPresent(context.Background(), "occ-1", "stu-1")
	require.NoError(t, err)
	require.True(t, seeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySeedPresentKeepsExistingRecord(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (occurrence_id, student_id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	seeded, err := repo.SeedPresent(context.Background(), "occ-1", "stu-1")
	require.NoError(t, err)
	require.False(t, seeded)
	require.NoError(t, mock.ExpectationsWereMet())
}
