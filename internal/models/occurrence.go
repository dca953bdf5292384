package models

import "time"

// Occurrence is one dated instance of a class. At most one occurrence
// exists per (class_id, date, start_time); the unique constraint doubles
// as the idempotence key for the materializer.
type Occurrence struct {
	ID          string    `db:"id" json:"id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	ScheduleID  *string   `db:"schedule_id" json:"schedule_id,omitempty"`
	Date        time.Time `db:"date" json:"date"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
	Cancelled   bool      `db:"cancelled" json:"cancelled"`
	AutoCreated bool      `db:"auto_created" json:"auto_created"`
	IsOverdue   bool      `db:"is_overdue" json:"is_overdue"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// OccurrenceDetail extends an occurrence with class metadata.
type OccurrenceDetail struct {
	Occurrence
	ClassName string `db:"class_name" json:"class_name"`
}

// OccurrenceFilter scopes occurrence listing queries.
type OccurrenceFilter struct {
	ClassID   string
	DateFrom  *time.Time
	DateTo    *time.Time
	Overdue   *bool
	Cancelled *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Exclusion marks a student as not participating in one specific occurrence.
type Exclusion struct {
	ID           string    `db:"id" json:"id"`
	OccurrenceID string    `db:"occurrence_id" json:"occurrence_id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	Reason       *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
