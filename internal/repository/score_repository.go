package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lzhao-dev/school-records-api/internal/models"
)

const scoreColumns = `sc.id, sc.exam_title, sc.student_name, sc.student_number, sc.grade_id,
        sc.chinese_score, sc.math_score, sc.english_score, sc.created_at, sc.updated_at, g.name AS grade_name`

// ScoreRepository manages persistence for exam score rows.
type ScoreRepository struct {
	db *sqlx.DB
}

// NewScoreRepository constructs a ScoreRepository.
func NewScoreRepository(db *sqlx.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// List returns scores matching the provided filters.
func (r *ScoreRepository) List(ctx context.Context, filter models.ScoreFilter) ([]models.ScoreDetail, int, error) {
	base := "FROM scores sc JOIN grades g ON g.id = sc.grade_id"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.GradeID != "" {
		conditions = append(conditions, fmt.Sprintf("sc.grade_id = $%d", len(args)+1))
		args = append(args, filter.GradeID)
	}
	if filter.StudentNumber != "" {
		conditions = append(conditions, fmt.Sprintf("sc.student_number = $%d", len(args)+1))
		args = append(args, filter.StudentNumber)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(sc.student_number = $%d OR sc.student_name = $%d)", len(args)+1, len(args)+1))
		args = append(args, filter.Search)
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY sc.created_at ASC LIMIT %d OFFSET %d`, scoreColumns, base, size, offset)

	var scores []models.ScoreDetail
	if err := r.db.SelectContext(ctx, &scores, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list scores: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count scores: %w", err)
	}
	return scores, total, nil
}

// ListByGrade returns every score of a grade (or all scores when gradeID is
// empty) in insertion order. Used by spreadsheet export.
func (r *ScoreRepository) ListByGrade(ctx context.Context, gradeID string) ([]models.ScoreDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM scores sc JOIN grades g ON g.id = sc.grade_id`, scoreColumns)
	args := []interface{}{}
	if gradeID != "" {
		query += " WHERE sc.grade_id = $1"
		args = append(args, gradeID)
	}
	query += " ORDER BY sc.created_at ASC"

	var scores []models.ScoreDetail
	if err := r.db.SelectContext(ctx, &scores, query, args...); err != nil {
		return nil, fmt.Errorf("list scores by grade: %w", err)
	}
	return scores, nil
}

// ListByStudentNumber returns the score rows of one student, newest first.
func (r *ScoreRepository) ListByStudentNumber(ctx context.Context, number string) ([]models.Score, error) {
	const query = `SELECT id, exam_title, student_name, student_number, grade_id, chinese_score, math_score, english_score, created_at, updated_at
        FROM scores WHERE student_number = $1 ORDER BY created_at DESC`
	var scores []models.Score
	if err := r.db.SelectContext(ctx, &scores, query, number); err != nil {
		return nil, fmt.Errorf("list student scores: %w", err)
	}
	return scores, nil
}

// FindByID fetches a score detail by ID.
func (r *ScoreRepository) FindByID(ctx context.Context, id string) (*models.ScoreDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM scores sc JOIN grades g ON g.id = sc.grade_id WHERE sc.id = $1 LIMIT 1`, scoreColumns)
	var detail models.ScoreDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create inserts a new score row.
func (r *ScoreRepository) Create(ctx context.Context, ext sqlx.ExtContext, score *models.Score) error {
	if score.ID == "" {
		score.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if score.CreatedAt.IsZero() {
		score.CreatedAt = now
	}
	score.UpdatedAt = now
	const query = `INSERT INTO scores (id, exam_title, student_name, student_number, grade_id, chinese_score, math_score, english_score, created_at, updated_at)
        VALUES (:id, :exam_title, :student_name, :student_number, :grade_id, :chinese_score, :math_score, :english_score, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, score); err != nil {
		return fmt.Errorf("create score: %w", err)
	}
	return nil
}

// Update modifies an existing score row.
func (r *ScoreRepository) Update(ctx context.Context, score *models.Score) error {
	score.UpdatedAt = time.Now().UTC()
	const query = `UPDATE scores SET exam_title = :exam_title, student_name = :student_name, student_number = :student_number,
        grade_id = :grade_id, chinese_score = :chinese_score, math_score = :math_score, english_score = :english_score,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, score); err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	return nil
}

// Delete removes a score row.
func (r *ScoreRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM scores WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete score: %w", err)
	}
	return nil
}

// DeleteByIDs removes a batch of score rows.
func (r *ScoreRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM scores WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build score delete: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete scores: %w", err)
	}
	return nil
}

// DeleteByGrade removes every score of a grade.
func (r *ScoreRepository) DeleteByGrade(ctx context.Context, ext sqlx.ExtContext, gradeID string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM scores WHERE grade_id = $1`, gradeID); err != nil {
		return fmt.Errorf("delete grade scores: %w", err)
	}
	return nil
}
