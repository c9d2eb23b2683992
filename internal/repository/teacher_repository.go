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

const teacherColumns = `t.id, t.name, t.phone_number, t.gender, t.birthday,
        t.grade_id, t.credential_id, t.created_at, t.updated_at, g.name AS grade_name`

// TeacherRepository manages persistence for teacher records.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// List returns teachers matching the provided filters.
func (r *TeacherRepository) List(ctx context.Context, filter models.TeacherFilter) ([]models.TeacherDetail, int, error) {
	base := "FROM teachers t JOIN grades g ON g.id = t.grade_id"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.GradeID != "" {
		conditions = append(conditions, fmt.Sprintf("t.grade_id = $%d", len(args)+1))
		args = append(args, filter.GradeID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(t.name) LIKE $%d OR t.phone_number LIKE $%d)", len(args)+1, len(args)+1))
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY t.created_at ASC LIMIT %d OFFSET %d`, teacherColumns, base, size, offset)

	var teachers []models.TeacherDetail
	if err := r.db.SelectContext(ctx, &teachers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teachers: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count teachers: %w", err)
	}
	return teachers, total, nil
}

// FindByID fetches a teacher detail by ID.
func (r *TeacherRepository) FindByID(ctx context.Context, id string) (*models.TeacherDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM teachers t JOIN grades g ON g.id = t.grade_id WHERE t.id = $1 LIMIT 1`, teacherColumns)
	var detail models.TeacherDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByPhone fetches a teacher by its unique phone number.
func (r *TeacherRepository) FindByPhone(ctx context.Context, phone string) (*models.Teacher, error) {
	const query = `SELECT id, name, phone_number, gender, birthday, grade_id, credential_id, created_at, updated_at
        FROM teachers WHERE phone_number = $1 LIMIT 1`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, phone); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// ExistsByPhone checks phone uniqueness optionally excluding an ID.
func (r *TeacherRepository) ExistsByPhone(ctx context.Context, phone string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM teachers WHERE phone_number = $1"
	args := []interface{}{phone}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check teacher phone: %w", err)
	}
	return true, nil
}

// ExistsByGrade checks whether another teacher already head-manages the
// grade. The exclusion keeps updates to the same record from tripping over
// themselves, which storage-level uniqueness alone cannot express.
func (r *TeacherRepository) ExistsByGrade(ctx context.Context, gradeID string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM teachers WHERE grade_id = $1"
	args := []interface{}{gradeID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check head teacher: %w", err)
	}
	return true, nil
}

// Create inserts a new teacher record.
func (r *TeacherRepository) Create(ctx context.Context, ext sqlx.ExtContext, teacher *models.Teacher) error {
	if teacher.ID == "" {
		teacher.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if teacher.CreatedAt.IsZero() {
		teacher.CreatedAt = now
	}
	teacher.UpdatedAt = now
	const query = `INSERT INTO teachers (id, name, phone_number, gender, birthday, grade_id, credential_id, created_at, updated_at)
        VALUES (:id, :name, :phone_number, :gender, :birthday, :grade_id, :credential_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, teacher); err != nil {
		return fmt.Errorf("create teacher: %w", err)
	}
	return nil
}

// Update modifies an existing teacher.
func (r *TeacherRepository) Update(ctx context.Context, ext sqlx.ExtContext, teacher *models.Teacher) error {
	teacher.UpdatedAt = time.Now().UTC()
	const query = `UPDATE teachers SET name = :name, phone_number = :phone_number, gender = :gender, birthday = :birthday,
        grade_id = :grade_id, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, teacher); err != nil {
		return fmt.Errorf("update teacher: %w", err)
	}
	return nil
}

// Delete removes a teacher row.
func (r *TeacherRepository) Delete(ctx context.Context, ext sqlx.ExtContext, id string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM teachers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete teacher: %w", err)
	}
	return nil
}

// DeleteByIDs removes a batch of teachers.
func (r *TeacherRepository) DeleteByIDs(ctx context.Context, ext sqlx.ExtContext, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM teachers WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build teacher delete: %w", err)
	}
	if _, err := ext.ExecContext(ctx, ext.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete teachers: %w", err)
	}
	return nil
}

// CredentialIDsByIDs returns the credential ids linked to the given teachers.
func (r *TeacherRepository) CredentialIDsByIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT credential_id FROM teachers WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build credential lookup: %w", err)
	}
	var credIDs []string
	if err := r.db.SelectContext(ctx, &credIDs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lookup teacher credentials: %w", err)
	}
	return credIDs, nil
}

// CredentialIDsByGrade returns the credential ids of the teachers of a grade.
func (r *TeacherRepository) CredentialIDsByGrade(ctx context.Context, gradeID string) ([]string, error) {
	var credIDs []string
	if err := r.db.SelectContext(ctx, &credIDs, `SELECT credential_id FROM teachers WHERE grade_id = $1`, gradeID); err != nil {
		return nil, fmt.Errorf("lookup grade teacher credentials: %w", err)
	}
	return credIDs, nil
}

// DeleteByGrade removes every teacher of a grade.
func (r *TeacherRepository) DeleteByGrade(ctx context.Context, ext sqlx.ExtContext, gradeID string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM teachers WHERE grade_id = $1`, gradeID); err != nil {
		return fmt.Errorf("delete grade teachers: %w", err)
	}
	return nil
}
