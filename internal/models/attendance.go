package models

import "time"

// AttendanceStatus represents the recorded status for a student at an occurrence.
// A missing row means "not recorded".
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// AttendanceRecord is one student's attendance at one occurrence.
// IsOverdue carries per-student billing state: the student attended but
// no prepaid credit was available when the deduction was attempted.
type AttendanceRecord struct {
	ID           string           `db:"id" json:"id"`
	OccurrenceID string           `db:"occurrence_id" json:"occurrence_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	Status       AttendanceStatus `db:"status" json:"status"`
	IsOverdue    bool             `db:"is_overdue" json:"is_overdue"`
	Notes        *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail extends an attendance row with student metadata.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string `db:"student_name" json:"student_name"`
}
