package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ExistsByNumber(ctx context.Context, ext sqlx.ExtContext, number string, excludeID string) (bool, error)
	Create(ctx context.Context, ext sqlx.ExtContext, student *models.Student) error
	Update(ctx context.Context, ext sqlx.ExtContext, student *models.Student) error
	Delete(ctx context.Context, ext sqlx.ExtContext, id string) error
	DeleteByIDs(ctx context.Context, ext sqlx.ExtContext, ids []string) error
	CredentialIDsByIDs(ctx context.Context, ids []string) ([]string, error)
}

type studentGradeResolver interface {
	FindByID(ctx context.Context, id string) (*models.Grade, error)
}

// StudentRequest holds payload for creating or updating students.
type StudentRequest struct {
	StudentNumber string `json:"student_number" validate:"required,len=8,numeric"`
	Name          string `json:"name" validate:"required,max=50"`
	Gender        string `json:"gender" validate:"required,oneof=M F"`
	Birthday      string `json:"birthday" validate:"required,datetime=2006-01-02"`
	ContactNumber string `json:"contact_number" validate:"required,len=11,numeric"`
	Address       string `json:"address" validate:"max=200"`
	GradeID       string `json:"grade_id" validate:"required"`
}

// BulkDeleteRequest carries the ids for a batch removal.
type BulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// StudentService handles student record use-cases. Every write that touches
// a credential runs inside a single transaction so a student row and its
// login can never drift apart.
type StudentService struct {
	db        *sqlx.DB
	repo      studentRepository
	grades    studentGradeResolver
	linkage   *LinkageService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(db *sqlx.DB, repo studentRepository, grades studentGradeResolver, linkage *LinkageService, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{db: db, repo: repo, grades: grades, linkage: linkage, validator: validate, logger: logger}
}

// List returns a filtered, paginated page of students with grade context.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns one student with grade context.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a student and provisions the linked credential whose
// login id is the student number.
func (s *StudentService) Create(ctx context.Context, req StudentRequest) (*models.Student, error) {
	birthday, err := s.validateRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	taken, err := s.repo.ExistsByNumber(ctx, tx, req.StudentNumber, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student number")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student number already used")
	}

	cred, err := s.linkage.EnsureCredential(ctx, tx, req.StudentNumber)
	if err != nil {
		return nil, err
	}

	student := &models.Student{
		StudentNumber: req.StudentNumber,
		Name:          req.Name,
		Gender:        models.Gender(req.Gender),
		Birthday:      birthday,
		ContactNumber: req.ContactNumber,
		Address:       req.Address,
		GradeID:       req.GradeID,
		CredentialID:  cred.ID,
	}
	if err := s.repo.Create(ctx, tx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit student create")
	}
	s.logger.Info("student created", zap.String("student_number", student.StudentNumber))
	return student, nil
}

// Update modifies a student. When the student number changes the linked
// credential is moved to the new number and its password reset to the new
// default, in the same transaction as the student row update.
func (s *StudentService) Update(ctx context.Context, id string, req StudentRequest) (*models.Student, error) {
	birthday, err := s.validateRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	renumbered := req.StudentNumber != existing.StudentNumber
	if renumbered {
		taken, err := s.repo.ExistsByNumber(ctx, tx, req.StudentNumber, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student number")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student number already used")
		}
	}

	student := &models.Student{
		ID:            id,
		StudentNumber: req.StudentNumber,
		Name:          req.Name,
		Gender:        models.Gender(req.Gender),
		Birthday:      birthday,
		ContactNumber: req.ContactNumber,
		Address:       req.Address,
		GradeID:       req.GradeID,
		CredentialID:  existing.CredentialID,
	}
	if err := s.repo.Update(ctx, tx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	if renumbered {
		if err := s.linkage.Relink(ctx, tx, existing.CredentialID, req.StudentNumber); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit student update")
	}
	return student, nil
}

// Delete removes a student and its linked credential together.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	student, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	if err := s.linkage.RemoveCredential(ctx, tx, student.CredentialID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit student delete")
	}
	s.logger.Info("student deleted", zap.String("student_id", id))
	return nil
}

// BulkDelete removes a batch of students and their credentials in one
// transaction. An empty id list is rejected outright.
func (s *StudentService) BulkDelete(ctx context.Context, req BulkDeleteRequest) error {
	if len(req.IDs) == 0 {
		return appErrors.Clone(appErrors.ErrInvalidRequest, "no student ids provided")
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk delete payload")
	}

	credIDs, err := s.repo.CredentialIDsByIDs(ctx, req.IDs)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect student credentials")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.repo.DeleteByIDs(ctx, tx, req.IDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete students")
	}
	if err := s.linkage.RemoveCredentials(ctx, tx, credIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit bulk delete")
	}
	s.logger.Info("students deleted", zap.Int("count", len(req.IDs)))
	return nil
}

func (s *StudentService) validateRequest(ctx context.Context, req StudentRequest) (time.Time, error) {
	if err := s.validator.Struct(req); err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	birthday, err := time.Parse("2006-01-02", req.Birthday)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "birthday must be formatted YYYY-MM-DD")
	}
	if birthday.After(time.Now()) {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "birthday cannot be in the future")
	}
	if _, err := s.grades.FindByID(ctx, req.GradeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	return birthday, nil
}
