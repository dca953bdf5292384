package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
)

// AttendanceRepository handles persistence of attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Get returns the attendance record for (occurrence, student), if any.
func (r *AttendanceRepository) Get(ctx context.Context, occurrenceID, studentID string) (*models.AttendanceRecord, error) {
	const query = `SELECT id, occurrence_id, student_id, status, is_overdue, notes, created_at, updated_at
        FROM attendance_records WHERE occurrence_id = $1 AND student_id = $2`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, occurrenceID, studentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert inserts or updates the attendance record for (occurrence, student).
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO attendance_records (id, occurrence_id, student_id, status, is_overdue, notes, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (occurrence_id, student_id)
        DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
        RETURNING id, occurrence_id, student_id, status, is_overdue, notes, created_at, updated_at`
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.OccurrenceID, record.StudentID, record.Status,
		record.IsOverdue, record.Notes, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// SeedPresent inserts a "present" record only when none exists yet.
// Returns false when a record was already present for the pair.
func (r *AttendanceRepository) SeedPresent(ctx context.Context, occurrenceID, studentID string) (bool, error) {
	now := time.Now().UTC()
	const query = `INSERT INTO attendance_records (id, occurrence_id, student_id, status, is_overdue, notes, created_at, updated_at)
        VALUES ($1, $2, $3, $4, FALSE, NULL, $5, $5)
        ON CONFLICT (occurrence_id, student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, uuid.NewString(), occurrenceID, studentID, models.AttendanceStatusPresent, now)
	if err != nil {
		return false, fmt.Errorf("seed attendance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seed attendance result: %w", err)
	}
	return affected == 1, nil
}

// Delete removes the attendance record for (occurrence, student).
func (r *AttendanceRepository) Delete(ctx context.Context, occurrenceID, studentID string) error {
	const query = `DELETE FROM attendance_records WHERE occurrence_id = $1 AND student_id = $2`
	if _, err := r.db.ExecContext(ctx, query, occurrenceID, studentID); err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	return nil
}

// ListByOccurrence returns every attendance record for an occurrence.
func (r *AttendanceRepository) ListByOccurrence(ctx context.Context, occurrenceID string) ([]models.AttendanceRecordDetail, error) {
	const query = `SELECT ar.id, ar.occurrence_id, ar.student_id, ar.status, ar.is_overdue, ar.notes, ar.created_at, ar.updated_at,
        s.full_name AS student_name
        FROM attendance_records ar
        JOIN students s ON s.id = ar.student_id
        WHERE ar.occurrence_id = $1
        ORDER BY s.full_name`
	var records []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &records, query, occurrenceID); err != nil {
		return nil, fmt.Errorf("list occurrence attendance: %w", err)
	}
	return records, nil
}
