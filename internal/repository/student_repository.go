package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lzhao-dev/school-records-api/internal/models"
)

const studentColumns = `s.id, s.student_number, s.name, s.gender, s.birthday, s.contact_number, s.address,
        s.grade_id, s.credential_id, s.created_at, s.updated_at, g.name AS grade_name`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := "FROM students s JOIN grades g ON g.id = s.grade_id"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.GradeID != "" {
		conditions = append(conditions, fmt.Sprintf("s.grade_id = $%d", len(args)+1))
		args = append(args, filter.GradeID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.name) LIKE $%d OR s.student_number LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY s.created_at ASC LIMIT %d OFFSET %d`, studentColumns, base, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// ListByGrade returns every student of a grade (or all students when gradeID
// is empty) in insertion order. Used by spreadsheet export.
func (r *StudentRepository) ListByGrade(ctx context.Context, gradeID string) ([]models.StudentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM students s JOIN grades g ON g.id = s.grade_id`, studentColumns)
	args := []interface{}{}
	if gradeID != "" {
		query += " WHERE s.grade_id = $1"
		args = append(args, gradeID)
	}
	query += " ORDER BY s.created_at ASC"

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list students by grade: %w", err)
	}
	return students, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM students s JOIN grades g ON g.id = s.grade_id WHERE s.id = $1 LIMIT 1`, studentColumns)
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByNumber fetches a student by its unique student number.
func (r *StudentRepository) FindByNumber(ctx context.Context, number string) (*models.Student, error) {
	const query = `SELECT id, student_number, name, gender, birthday, contact_number, address,
        grade_id, credential_id, created_at, updated_at FROM students WHERE student_number = $1 LIMIT 1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, number); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByNumber checks if a student with the given number exists optionally
// excluding an ID. Lookups run through ext so import transactions see their
// own earlier inserts.
func (r *StudentRepository) ExistsByNumber(ctx context.Context, ext sqlx.ExtContext, number string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE student_number = $1"
	args := []interface{}{number}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := sqlx.GetContext(ctx, ext, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student number: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, ext sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, student_number, name, gender, birthday, contact_number, address, grade_id, credential_id, created_at, updated_at)
        VALUES (:id, :student_number, :name, :gender, :birthday, :contact_number, :address, :grade_id, :credential_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student.
func (r *StudentRepository) Update(ctx context.Context, ext sqlx.ExtContext, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET student_number = :student_number, name = :name, gender = :gender, birthday = :birthday,
        contact_number = :contact_number, address = :address, grade_id = :grade_id, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student row.
func (r *StudentRepository) Delete(ctx context.Context, ext sqlx.ExtContext, id string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}

// DeleteByIDs removes a batch of students.
func (r *StudentRepository) DeleteByIDs(ctx context.Context, ext sqlx.ExtContext, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM students WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build student delete: %w", err)
	}
	if _, err := ext.ExecContext(ctx, ext.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete students: %w", err)
	}
	return nil
}

// CredentialIDsByIDs returns the credential ids linked to the given students.
func (r *StudentRepository) CredentialIDsByIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT credential_id FROM students WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build credential lookup: %w", err)
	}
	var credIDs []string
	if err := r.db.SelectContext(ctx, &credIDs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lookup student credentials: %w", err)
	}
	return credIDs, nil
}

// CredentialIDsByGrade returns the credential ids of every student in a grade.
func (r *StudentRepository) CredentialIDsByGrade(ctx context.Context, gradeID string) ([]string, error) {
	var credIDs []string
	if err := r.db.SelectContext(ctx, &credIDs, `SELECT credential_id FROM students WHERE grade_id = $1`, gradeID); err != nil {
		return nil, fmt.Errorf("lookup grade student credentials: %w", err)
	}
	return credIDs, nil
}

// DeleteByGrade removes every student of a grade.
func (r *StudentRepository) DeleteByGrade(ctx context.Context, ext sqlx.ExtContext, gradeID string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM students WHERE grade_id = $1`, gradeID); err != nil {
		return fmt.Errorf("delete grade students: %w", err)
	}
	return nil
}
