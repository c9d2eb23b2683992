package service

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
)

type scoreRepository interface {
	List(ctx context.Context, filter models.ScoreFilter) ([]models.ScoreDetail, int, error)
	ListByStudentNumber(ctx context.Context, number string) ([]models.Score, error)
	FindByID(ctx context.Context, id string) (*models.ScoreDetail, error)
	Create(ctx context.Context, ext sqlx.ExtContext, score *models.Score) error
	Update(ctx context.Context, score *models.Score) error
	Delete(ctx context.Context, id string) error
	DeleteByIDs(ctx context.Context, ids []string) error
}

type scoreStudentResolver interface {
	FindByNumber(ctx context.Context, number string) (*models.Student, error)
}

// ScoreRequest holds payload for creating or updating exam results. The
// student is addressed by number and name together; both must match one
// existing student record.
type ScoreRequest struct {
	ExamTitle     string  `json:"exam_title" validate:"required,max=100"`
	StudentNumber string  `json:"student_number" validate:"required,len=8,numeric"`
	StudentName   string  `json:"student_name" validate:"required,max=50"`
	ChineseScore  float64 `json:"chinese_score" validate:"min=0,max=100"`
	MathScore     float64 `json:"math_score" validate:"min=0,max=100"`
	EnglishScore  float64 `json:"english_score" validate:"min=0,max=100"`
}

// ScoreService handles exam result use-cases.
type ScoreService struct {
	db        *sqlx.DB
	repo      scoreRepository
	students  scoreStudentResolver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScoreService constructs the score service.
func NewScoreService(db *sqlx.DB, repo scoreRepository, students scoreStudentResolver, validate *validator.Validate, logger *zap.Logger) *ScoreService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreService{db: db, repo: repo, students: students, validator: validate, logger: logger}
}

// List returns a filtered, paginated page of scores with grade context.
func (s *ScoreService) List(ctx context.Context, filter models.ScoreFilter) ([]models.ScoreDetail, *models.Pagination, error) {
	scores, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list scores")
	}
	return scores, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// ListByStudent returns every result recorded for one student number,
// newest exam first.
func (s *ScoreService) ListByStudent(ctx context.Context, studentNumber string) ([]models.Score, error) {
	scores, err := s.repo.ListByStudentNumber(ctx, studentNumber)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student scores")
	}
	return scores, nil
}

// Get returns one score row with grade context.
func (s *ScoreService) Get(ctx context.Context, id string) (*models.ScoreDetail, error) {
	score, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "score not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load score")
	}
	return score, nil
}

// Create records one exam result after resolving the addressed student.
func (s *ScoreService) Create(ctx context.Context, req ScoreRequest) (*models.Score, error) {
	student, err := s.resolveStudent(ctx, req)
	if err != nil {
		return nil, err
	}

	score := &models.Score{
		ExamTitle:     req.ExamTitle,
		StudentName:   req.StudentName,
		StudentNumber: req.StudentNumber,
		GradeID:       student.GradeID,
		ChineseScore:  roundScore(req.ChineseScore),
		MathScore:     roundScore(req.MathScore),
		EnglishScore:  roundScore(req.EnglishScore),
	}
	if err := s.repo.Create(ctx, s.db, score); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create score")
	}
	return score, nil
}

// Update modifies one exam result, re-resolving the addressed student.
func (s *ScoreService) Update(ctx context.Context, id string, req ScoreRequest) (*models.Score, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	student, err := s.resolveStudent(ctx, req)
	if err != nil {
		return nil, err
	}

	score := &models.Score{
		ID:            id,
		ExamTitle:     req.ExamTitle,
		StudentName:   req.StudentName,
		StudentNumber: req.StudentNumber,
		GradeID:       student.GradeID,
		ChineseScore:  roundScore(req.ChineseScore),
		MathScore:     roundScore(req.MathScore),
		EnglishScore:  roundScore(req.EnglishScore),
	}
	if err := s.repo.Update(ctx, score); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update score")
	}
	return score, nil
}

// Delete removes one exam result.
func (s *ScoreService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete score")
	}
	return nil
}

// BulkDelete removes a batch of exam results. An empty id list is rejected.
func (s *ScoreService) BulkDelete(ctx context.Context, req BulkDeleteRequest) error {
	if len(req.IDs) == 0 {
		return appErrors.Clone(appErrors.ErrInvalidRequest, "no score ids provided")
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk delete payload")
	}
	if err := s.repo.DeleteByIDs(ctx, req.IDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete scores")
	}
	s.logger.Info("scores deleted", zap.Int("count", len(req.IDs)))
	return nil
}

// resolveStudent validates the payload and requires the number and name to
// address the same existing student. The score row inherits that student's
// grade.
func (s *ScoreService) resolveStudent(ctx context.Context, req ScoreRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid score payload")
	}
	student, err := s.students.FindByNumber(ctx, req.StudentNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Name != req.StudentName {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student name does not match the student number")
	}
	return student, nil
}

// roundScore keeps stored results at two fractional digits, the same
// precision spreadsheet imports normalise to.
func roundScore(value float64) float64 {
	return math.Round(value*100) / 100
}
