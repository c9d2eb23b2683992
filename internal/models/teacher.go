package models

import "time"

// Teacher represents a staff member. The phone number is the unique business
// identifier doubling as login id, and grade_id names the single class this
// teacher head-manages.
type Teacher struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	PhoneNumber  string    `db:"phone_number" json:"phone_number"`
	Gender       Gender    `db:"gender" json:"gender"`
	Birthday     time.Time `db:"birthday" json:"birthday"`
	GradeID      string    `db:"grade_id" json:"grade_id"`
	CredentialID string    `db:"credential_id" json:"credential_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TeacherFilter encapsulates search parameters for listing teachers.
type TeacherFilter struct {
	GradeID  string
	Search   string
	Page     int
	PageSize int
}

// TeacherDetail contains teacher information with its grade context.
type TeacherDetail struct {
	Teacher
	GradeName string `db:"grade_name" json:"grade_name"`
}
