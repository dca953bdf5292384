package models

import "time"

// ClassSchedule represents a recurring weekly slot for a class.
// DayOfWeek follows time.Weekday numbering (0 = Sunday).
// StartTime and EndTime are civil times of day in "15:04" format,
// interpreted in the configured business timezone.
type ClassSchedule struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   *string   `db:"end_time" json:"end_time,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DueSchedule is a schedule whose start time has passed today and
// whose occurrence has not been created yet.
type DueSchedule struct {
	ClassSchedule
	ClassName            string `db:"class_name"`
	ClassDurationMinutes int    `db:"class_duration_minutes"`
}

// ScheduleFilter scopes schedule listing queries.
type ScheduleFilter struct {
	ClassID   string
	DayOfWeek *int
	Active    *bool
	Page      int
	PageSize  int
}
