package models

import "time"

// Score is one exam result row. Student identity is deliberately
// denormalized onto the row (name + number) because scores are frequently
// bulk-imported standalone; the pair is validated against the students table
// at write time instead of carrying a foreign key.
type Score struct {
	ID            string    `db:"id" json:"id"`
	ExamTitle     string    `db:"exam_title" json:"exam_title"`
	StudentName   string    `db:"student_name" json:"student_name"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	GradeID       string    `db:"grade_id" json:"grade_id"`
	ChineseScore  float64   `db:"chinese_score" json:"chinese_score"`
	MathScore     float64   `db:"math_score" json:"math_score"`
	EnglishScore  float64   `db:"english_score" json:"english_score"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ScoreFilter encapsulates search parameters for listing scores. A non-empty
// StudentNumber restricts the listing to that student's own rows.
type ScoreFilter struct {
	GradeID       string
	StudentNumber string
	Search        string
	Page          int
	PageSize      int
}

// ScoreDetail contains a score row with its grade context.
type ScoreDetail struct {
	Score
	GradeName string `db:"grade_name" json:"grade_name"`
}
