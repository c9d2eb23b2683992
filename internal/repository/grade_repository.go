package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lzhao-dev/school-records-api/internal/models"
)

// GradeRepository manages persistence for grade (class) records.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs a GradeRepository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// List returns all grades ordered by their sortable number.
func (r *GradeRepository) List(ctx context.Context) ([]models.Grade, error) {
	const query = `SELECT id, name, number, created_at, updated_at FROM grades ORDER BY number ASC`
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// FindByID fetches a grade by primary key.
func (r *GradeRepository) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	const query = `SELECT id, name, number, created_at, updated_at FROM grades WHERE id = $1 LIMIT 1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, id); err != nil {
		return nil, err
	}
	return &grade, nil
}

// FindByName fetches a grade by its unique name.
func (r *GradeRepository) FindByName(ctx context.Context, name string) (*models.Grade, error) {
	const query = `SELECT id, name, number, created_at, updated_at FROM grades WHERE name = $1 LIMIT 1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, name); err != nil {
		return nil, err
	}
	return &grade, nil
}

// ExistsByName checks name uniqueness optionally excluding an ID.
func (r *GradeRepository) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	return r.exists(ctx, "name", name, excludeID)
}

// ExistsByNumber checks number uniqueness optionally excluding an ID.
func (r *GradeRepository) ExistsByNumber(ctx context.Context, number string, excludeID string) (bool, error) {
	return r.exists(ctx, "number", number, excludeID)
}

func (r *GradeRepository) exists(ctx context.Context, column, value, excludeID string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM grades WHERE %s = $1", column)
	args := []interface{}{value}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check grade %s: %w", column, err)
	}
	return true, nil
}

// Create inserts a new grade record.
func (r *GradeRepository) Create(ctx context.Context, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grade.CreatedAt.IsZero() {
		grade.CreatedAt = now
	}
	grade.UpdatedAt = now
	const query = `INSERT INTO grades (id, name, number, created_at, updated_at)
        VALUES (:id, :name, :number, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("create grade: %w", err)
	}
	return nil
}

// Update modifies an existing grade.
func (r *GradeRepository) Update(ctx context.Context, grade *models.Grade) error {
	grade.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grades SET name = :name, number = :number, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	return nil
}

// Delete removes a grade. Dependent rows are removed by the caller inside
// the same transaction.
func (r *GradeRepository) Delete(ctx context.Context, ext sqlx.ExtContext, id string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM grades WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete grade: %w", err)
	}
	return nil
}
