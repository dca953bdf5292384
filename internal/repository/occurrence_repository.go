package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
)

// OccurrenceRepository handles persistence of class occurrences.
type OccurrenceRepository struct {
	db *sqlx.DB
}

// NewOccurrenceRepository constructs the repository.
func NewOccurrenceRepository(db *sqlx.DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

// Insert creates an occurrence if none exists for (class_id, date,
// start_time). The returned flag is false when the row already existed;
// the unique constraint makes the call idempotent.
func (r *OccurrenceRepository) Insert(ctx context.Context, occurrence *models.Occurrence) (bool, error) {
	now := time.Now().UTC()
	if occurrence.ID == "" {
		occurrence.ID = uuid.NewString()
	}
	occurrence.CreatedAt = now
	occurrence.UpdatedAt = now
	const query = `INSERT INTO class_occurrences (id, class_id, schedule_id, date, start_time, end_time, cancelled, auto_created, is_overdue, notes, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11)
        ON CONFLICT (class_id, date, start_time) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		occurrence.ID, occurrence.ClassID, occurrence.ScheduleID, occurrence.Date,
		occurrence.StartTime, occurrence.EndTime, occurrence.Cancelled, occurrence.AutoCreated,
		occurrence.Notes, occurrence.CreatedAt, occurrence.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert occurrence: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert occurrence result: %w", err)
	}
	return affected == 1, nil
}

// FindByID returns an occurrence by its ID.
func (r *OccurrenceRepository) FindByID(ctx context.Context, id string) (*models.Occurrence, error) {
	const query = `SELECT id, class_id, schedule_id, date, start_time, end_time, cancelled, auto_created, is_overdue, notes, created_at, updated_at
        FROM class_occurrences WHERE id = $1`
	var occurrence models.Occurrence
	if err := r.db.GetContext(ctx, &occurrence, query, id); err != nil {
		return nil, err
	}
	return &occurrence, nil
}

// FindByKey returns the occurrence for the idempotence key, if any.
func (r *OccurrenceRepository) FindByKey(ctx context.Context, classID string, date time.Time, startTime string) (*models.Occurrence, error) {
	const query = `SELECT id, class_id, schedule_id, date, start_time, end_time, cancelled, auto_created, is_overdue, notes, created_at, updated_at
        FROM class_occurrences WHERE class_id = $1 AND date = $2 AND start_time = $3`
	var occurrence models.Occurrence
	if err := r.db.GetContext(ctx, &occurrence, query, classID, date, startTime); err != nil {
		return nil, err
	}
	return &occurrence, nil
}

// List returns occurrences matching the filter.
func (r *OccurrenceRepository) List(ctx context.Context, filter models.OccurrenceFilter) ([]models.OccurrenceDetail, int, error) {
	base := `FROM class_occurrences o JOIN classes c ON c.id = o.class_id`
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("o.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("o.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("o.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	if filter.Overdue != nil {
		where = append(where, fmt.Sprintf("o.is_overdue = $%d", len(args)+1))
		args = append(args, *filter.Overdue)
	}
	if filter.Cancelled != nil {
		where = append(where, fmt.Sprintf("o.cancelled = $%d", len(args)+1))
		args = append(args, *filter.Cancelled)
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

	query := fmt.Sprintf(`SELECT o.id, o.class_id, o.schedule_id, o.date, o.start_time, o.end_time, o.cancelled, o.auto_created, o.is_overdue, o.notes, o.created_at, o.updated_at,
        c.name AS class_name
        %s WHERE %s ORDER BY o.date %s, o.start_time %s LIMIT %d OFFSET %d`,
		base, whereClause, order, order, size, offset)
	var occurrences []models.OccurrenceDetail
	if err := r.db.SelectContext(ctx, &occurrences, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list occurrences: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count occurrences: %w", err)
	}
	return occurrences, total, nil
}

// SetCancelled flips the cancelled flag on an occurrence.
func (r *OccurrenceRepository) SetCancelled(ctx context.Context, id string, cancelled bool) error {
	const query = `UPDATE class_occurrences SET cancelled = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, cancelled, time.Now().UTC()); err != nil {
		return fmt.Errorf("set occurrence cancelled: %w", err)
	}
	return nil
}

// UpdateNotes replaces the notes on an occurrence.
func (r *OccurrenceRepository) UpdateNotes(ctx context.Context, id string, notes *string) error {
	const query = `UPDATE class_occurrences SET notes = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, notes, time.Now().UTC()); err != nil {
		return fmt.Errorf("update occurrence notes: %w", err)
	}
	return nil
}
