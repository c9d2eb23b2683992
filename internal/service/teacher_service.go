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

type teacherRepository interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.TeacherDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.TeacherDetail, error)
	ExistsByPhone(ctx context.Context, phone string, excludeID string) (bool, error)
	ExistsByGrade(ctx context.Context, gradeID string, excludeID string) (bool, error)
	Create(ctx context.Context, ext sqlx.ExtContext, teacher *models.Teacher) error
	Update(ctx context.Context, ext sqlx.ExtContext, teacher *models.Teacher) error
	Delete(ctx context.Context, ext sqlx.ExtContext, id string) error
	DeleteByIDs(ctx context.Context, ext sqlx.ExtContext, ids []string) error
	CredentialIDsByIDs(ctx context.Context, ids []string) ([]string, error)
}

type teacherGradeResolver interface {
	FindByID(ctx context.Context, id string) (*models.Grade, error)
}

// TeacherRequest holds payload for creating or updating teachers. The phone
// number doubles as the teacher's login id.
type TeacherRequest struct {
	Name        string `json:"name" validate:"required,max=50"`
	PhoneNumber string `json:"phone_number" validate:"required,len=11,numeric"`
	Gender      string `json:"gender" validate:"required,oneof=M F"`
	Birthday    string `json:"birthday" validate:"required,datetime=2006-01-02"`
	GradeID     string `json:"grade_id" validate:"required"`
}

// TeacherService handles head-teacher record use-cases. Credential writes
// share each entity write's transaction, mirroring the student flow.
type TeacherService struct {
	db        *sqlx.DB
	repo      teacherRepository
	grades    teacherGradeResolver
	linkage   *LinkageService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherService constructs the teacher service.
func NewTeacherService(db *sqlx.DB, repo teacherRepository, grades teacherGradeResolver, linkage *LinkageService, validate *validator.Validate, logger *zap.Logger) *TeacherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{db: db, repo: repo, grades: grades, linkage: linkage, validator: validate, logger: logger}
}

// List returns a filtered, paginated page of teachers with grade context.
func (s *TeacherService) List(ctx context.Context, filter models.TeacherFilter) ([]models.TeacherDetail, *models.Pagination, error) {
	teachers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	return teachers, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns one teacher with grade context.
func (s *TeacherService) Get(ctx context.Context, id string) (*models.TeacherDetail, error) {
	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return teacher, nil
}

// Create registers a teacher and provisions the linked credential whose
// login id is the phone number.
func (s *TeacherService) Create(ctx context.Context, req TeacherRequest) (*models.Teacher, error) {
	birthday, err := s.validateRequest(ctx, req, "")
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	cred, err := s.linkage.EnsureCredential(ctx, tx, req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	teacher := &models.Teacher{
		Name:         req.Name,
		PhoneNumber:  req.PhoneNumber,
		Gender:       models.Gender(req.Gender),
		Birthday:     birthday,
		GradeID:      req.GradeID,
		CredentialID: cred.ID,
	}
	if err := s.repo.Create(ctx, tx, teacher); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create teacher")
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit teacher create")
	}
	s.logger.Info("teacher created", zap.String("phone_number", teacher.PhoneNumber))
	return teacher, nil
}

// Update modifies a teacher. A phone number change moves the credential to
// the new number and resets its password, in the same transaction as the
// teacher row update.
func (s *TeacherService) Update(ctx context.Context, id string, req TeacherRequest) (*models.Teacher, error) {
	birthday, err := s.validateRequest(ctx, req, id)
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

	teacher := &models.Teacher{
		ID:           id,
		Name:         req.Name,
		PhoneNumber:  req.PhoneNumber,
		Gender:       models.Gender(req.Gender),
		Birthday:     birthday,
		GradeID:      req.GradeID,
		CredentialID: existing.CredentialID,
	}
	if err := s.repo.Update(ctx, tx, teacher); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update teacher")
	}
	if req.PhoneNumber != existing.PhoneNumber {
		if err := s.linkage.Relink(ctx, tx, existing.CredentialID, req.PhoneNumber); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit teacher update")
	}
	return teacher, nil
}

// Delete removes a teacher and its linked credential together.
func (s *TeacherService) Delete(ctx context.Context, id string) error {
	teacher, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete teacher")
	}
	if err := s.linkage.RemoveCredential(ctx, tx, teacher.CredentialID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit teacher delete")
	}
	s.logger.Info("teacher deleted", zap.String("teacher_id", id))
	return nil
}

// BulkDelete removes a batch of teachers and their credentials in one
// transaction.
func (s *TeacherService) BulkDelete(ctx context.Context, req BulkDeleteRequest) error {
	if len(req.IDs) == 0 {
		return appErrors.Clone(appErrors.ErrInvalidRequest, "no teacher ids provided")
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk delete payload")
	}

	credIDs, err := s.repo.CredentialIDsByIDs(ctx, req.IDs)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect teacher credentials")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.repo.DeleteByIDs(ctx, tx, req.IDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete teachers")
	}
	if err := s.linkage.RemoveCredentials(ctx, tx, credIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit bulk delete")
	}
	s.logger.Info("teachers deleted", zap.Int("count", len(req.IDs)))
	return nil
}

func (s *TeacherService) validateRequest(ctx context.Context, req TeacherRequest, excludeID string) (time.Time, error) {
	if err := s.validator.Struct(req); err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
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

	phoneTaken, err := s.repo.ExistsByPhone(ctx, req.PhoneNumber, excludeID)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate phone number")
	}
	if phoneTaken {
		return time.Time{}, appErrors.Clone(appErrors.ErrConflict, "phone number already used")
	}
	gradeTaken, err := s.repo.ExistsByGrade(ctx, req.GradeID, excludeID)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate grade assignment")
	}
	if gradeTaken {
		return time.Time{}, appErrors.Clone(appErrors.ErrConflict, "grade already has a head teacher")
	}
	return birthday, nil
}
