package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
)

const gradeListCacheKey = "grades:list"

type gradeRepository interface {
	List(ctx context.Context) ([]models.Grade, error)
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	ExistsByNumber(ctx context.Context, number string, excludeID string) (bool, error)
	Create(ctx context.Context, grade *models.Grade) error
	Update(ctx context.Context, grade *models.Grade) error
	Delete(ctx context.Context, ext sqlx.ExtContext, id string) error
}

type gradeStudentCleanup interface {
	CredentialIDsByGrade(ctx context.Context, gradeID string) ([]string, error)
	DeleteByGrade(ctx context.Context, ext sqlx.ExtContext, gradeID string) error
}

type gradeTeacherCleanup interface {
	CredentialIDsByGrade(ctx context.Context, gradeID string) ([]string, error)
	DeleteByGrade(ctx context.Context, ext sqlx.ExtContext, gradeID string) error
}

type gradeScoreCleanup interface {
	DeleteByGrade(ctx context.Context, ext sqlx.ExtContext, gradeID string) error
}

// GradeRequest holds payload for creating or updating grades.
type GradeRequest struct {
	Name   string `json:"name" validate:"required,max=50"`
	Number string `json:"number" validate:"required,max=20"`
}

// GradeService handles grade (class) use-cases.
type GradeService struct {
	db        *sqlx.DB
	repo      gradeRepository
	students  gradeStudentCleanup
	teachers  gradeTeacherCleanup
	scores    gradeScoreCleanup
	linkage   *LinkageService
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradeService constructs the grade service.
func NewGradeService(db *sqlx.DB, repo gradeRepository, students gradeStudentCleanup, teachers gradeTeacherCleanup, scores gradeScoreCleanup, linkage *LinkageService, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{db: db, repo: repo, students: students, teachers: teachers, scores: scores, linkage: linkage, cache: cache, validator: validate, logger: logger}
}

// List returns all grades ordered by number, served from the read-through
// cache when enabled.
func (s *GradeService) List(ctx context.Context) ([]models.Grade, error) {
	var cached []models.Grade
	if hit, _ := s.cache.Get(ctx, gradeListCacheKey, &cached); hit {
		return cached, nil
	}
	grades, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	_ = s.cache.Set(ctx, gradeListCacheKey, grades, 0)
	return grades, nil
}

// Get returns one grade.
func (s *GradeService) Get(ctx context.Context, id string) (*models.Grade, error) {
	grade, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	return grade, nil
}

// Create registers a new grade.
func (s *GradeService) Create(ctx context.Context, req GradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	if err := s.checkUniqueness(ctx, req, ""); err != nil {
		return nil, err
	}
	grade := &models.Grade{Name: req.Name, Number: req.Number}
	if err := s.repo.Create(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grade")
	}
	s.cache.Invalidate(ctx, gradeListCacheKey)
	return grade, nil
}

// Update modifies an existing grade.
func (s *GradeService) Update(ctx context.Context, id string, req GradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	grade, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkUniqueness(ctx, req, id); err != nil {
		return nil, err
	}
	grade.Name = req.Name
	grade.Number = req.Number
	if err := s.repo.Update(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grade")
	}
	s.cache.Invalidate(ctx, gradeListCacheKey)
	return grade, nil
}

// Delete removes a grade and cascades to its students, teachers, scores and
// the credentials linked to the removed people, all in one transaction.
func (s *GradeService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	studentCreds, err := s.students.CredentialIDsByGrade(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect student credentials")
	}
	teacherCreds, err := s.teachers.CredentialIDsByGrade(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect teacher credentials")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.scores.DeleteByGrade(ctx, tx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete grade scores")
	}
	if err := s.students.DeleteByGrade(ctx, tx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete grade students")
	}
	if err := s.teachers.DeleteByGrade(ctx, tx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete grade teachers")
	}
	if err := s.linkage.RemoveCredentials(ctx, tx, append(studentCreds, teacherCreds...)); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete grade")
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit grade delete")
	}
	s.cache.Invalidate(ctx, gradeListCacheKey)
	s.logger.Info("grade deleted", zap.String("grade_id", id))
	return nil
}

func (s *GradeService) checkUniqueness(ctx context.Context, req GradeRequest, excludeID string) error {
	nameTaken, err := s.repo.ExistsByName(ctx, req.Name, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate grade name")
	}
	if nameTaken {
		return appErrors.Clone(appErrors.ErrConflict, "grade name already used")
	}
	numberTaken, err := s.repo.ExistsByNumber(ctx, req.Number, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate grade number")
	}
	if numberTaken {
		return appErrors.Clone(appErrors.ErrConflict, "grade number already used")
	}
	return nil
}
