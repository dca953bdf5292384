package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
)

// ExclusionRepository handles per-occurrence student exclusions.
type ExclusionRepository struct {
	db *sqlx.DB
}

// NewExclusionRepository constructs the repository.
func NewExclusionRepository(db *sqlx.DB) *ExclusionRepository {
	return &ExclusionRepository{db: db}
}

// Insert stores an exclusion. Returns false when the pair was already excluded.
func (r *ExclusionRepository) Insert(ctx context.Context, exclusion *models.Exclusion) (bool, error) {
	if exclusion.ID == "" {
		exclusion.ID = uuid.NewString()
	}
	if exclusion.CreatedAt.IsZero() {
		exclusion.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO occurrence_exclusions (id, occurrence_id, student_id, reason, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (occurrence_id, student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		exclusion.ID, exclusion.OccurrenceID, exclusion.StudentID, exclusion.Reason, exclusion.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert exclusion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert exclusion result: %w", err)
	}
	return affected == 1, nil
}

// Delete removes an exclusion. Returns false when none existed.
func (r *ExclusionRepository) Delete(ctx context.Context, occurrenceID, studentID string) (bool, error) {
	const query = `DELETE FROM occurrence_exclusions WHERE occurrence_id = $1 AND student_id = $2`
	res, err := r.db.ExecContext(ctx, query, occurrenceID, studentID)
	if err != nil {
		return false, fmt.Errorf("delete exclusion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete exclusion result: %w", err)
	}
	return affected == 1, nil
}

// ListStudentIDsByOccurrence returns the excluded student IDs for an occurrence.
func (r *ExclusionRepository) ListStudentIDsByOccurrence(ctx context.Context, occurrenceID string) ([]string, error) {
	const query = `SELECT student_id FROM occurrence_exclusions WHERE occurrence_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, occurrenceID); err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	return ids, nil
}

// ListByOccurrence returns the exclusions recorded for an occurrence.
func (r *ExclusionRepository) ListByOccurrence(ctx context.Context, occurrenceID string) ([]models.Exclusion, error) {
	const query = `SELECT id, occurrence_id, student_id, reason, created_at
        FROM occurrence_exclusions WHERE occurrence_id = $1 ORDER BY created_at`
	var exclusions []models.Exclusion
	if err := r.db.SelectContext(ctx, &exclusions, query, occurrenceID); err != nil {
		return nil, fmt.Errorf("list occurrence exclusions: %w", err)
	}
	return exclusions, nil
}
