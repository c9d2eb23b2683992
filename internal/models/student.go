package models

import "time"

// Gender is the internal two-value gender encoding.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// Spreadsheet cells carry the localized labels instead of the enum values.
const (
	genderLabelMale   = "男"
	genderLabelFemale = "女"
)

// SheetLabel returns the localized spreadsheet label for the gender.
func (g Gender) SheetLabel() string {
	if g == GenderFemale {
		return genderLabelFemale
	}
	return genderLabelMale
}

// GenderFromLabel maps a spreadsheet label back to the internal encoding.
func GenderFromLabel(label string) (Gender, bool) {
	switch label {
	case genderLabelMale:
		return GenderMale, true
	case genderLabelFemale:
		return GenderFemale, true
	}
	return "", false
}

// Student represents a learner. The student number is the globally unique
// business identifier and the source of truth for the linked credential's
// login id.
type Student struct {
	ID            string    `db:"id" json:"id"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	Name          string    `db:"name" json:"name"`
	Gender        Gender    `db:"gender" json:"gender"`
	Birthday      time.Time `db:"birthday" json:"birthday"`
	ContactNumber string    `db:"contact_number" json:"contact_number"`
	Address       string    `db:"address" json:"address"`
	GradeID       string    `db:"grade_id" json:"grade_id"`
	CredentialID  string    `db:"credential_id" json:"credential_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates search parameters for listing students.
type StudentFilter struct {
	GradeID  string
	Search   string
	Page     int
	PageSize int
}

// StudentDetail contains student information with its grade context.
type StudentDetail struct {
	Student
	GradeName string `db:"grade_name" json:"grade_name"`
}
