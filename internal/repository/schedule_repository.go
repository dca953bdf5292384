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

// ScheduleRepository handles persistence of recurring class schedules.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// FindByID returns a schedule by its ID.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.ClassSchedule, error) {
	const query = `SELECT id, class_id, day_of_week, start_time, end_time, active, created_at, updated_at
        FROM class_schedules WHERE id = $1`
	var schedule models.ClassSchedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// List returns schedules matching the filter.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ClassSchedule, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.DayOfWeek != nil {
		where = append(where, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, *filter.DayOfWeek)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, class_id, day_of_week, start_time, end_time, active, created_at, updated_at
        FROM class_schedules WHERE %s ORDER BY day_of_week, start_time LIMIT %d OFFSET %d`, whereClause, size, offset)
	var schedules []models.ClassSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM class_schedules WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}
	return schedules, total, nil
}

// Create persists a new schedule.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.ClassSchedule) error {
	now := time.Now().UTC()
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	const query = `INSERT INTO class_schedules (id, class_id, day_of_week, start_time, end_time, active, created_at, updated_at)
        VALUES (:id, :class_id, :day_of_week, :start_time, :end_time, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// SetActive toggles the active flag for a schedule.
func (r *ScheduleRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE class_schedules SET active = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active, time.Now().UTC()); err != nil {
		return fmt.Errorf("set schedule active: %w", err)
	}
	return nil
}

// ListDue returns active schedules for the given weekday whose start
// time has already passed and which have no occurrence on the given
// date yet. startTime comparisons are lexicographic over "15:04" values.
func (r *ScheduleRepository) ListDue(ctx context.Context, dayOfWeek int, date time.Time, timeOfDay string) ([]models.DueSchedule, error) {
	const query = `SELECT cs.id, cs.class_id, cs.day_of_week, cs.start_time, cs.end_time, cs.active, cs.created_at, cs.updated_at,
        c.name AS class_name, c.duration_minutes AS class_duration_minutes
        FROM class_schedules cs
        JOIN classes c ON c.id = cs.class_id
        WHERE cs.active
          AND c.active
          AND cs.day_of_week = $1
          AND cs.start_time <= $2
          AND NOT EXISTS (
              SELECT 1 FROM class_occurrences o
              WHERE o.class_id = cs.class_id AND o.date = $3 AND o.start_time = cs.start_time
          )
        ORDER BY cs.start_time`
	var due []models.DueSchedule
	if err := r.db.SelectContext(ctx, &due, query, dayOfWeek, timeOfDay, date); err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	return due, nil
}
