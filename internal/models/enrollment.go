package models

import "time"

// Enrollment links a student to a class they attend.
type Enrollment struct {
	ID        string     `db:"id" json:"id"`
	StudentID string     `db:"student_id" json:"student_id"`
	ClassID   string     `db:"class_id" json:"class_id"`
	Active    bool       `db:"active" json:"active"`
	JoinedAt  time.Time  `db:"joined_at" json:"joined_at"`
	LeftAt    *time.Time `db:"left_at" json:"left_at,omitempty"`
}

// EnrollmentDetail extends an enrollment with display metadata.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	ClassName   string `db:"class_name" json:"class_name"`
}

// EnrollmentFilter scopes enrollment listing queries.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	Active    *bool
	Page      int
	PageSize  int
}
