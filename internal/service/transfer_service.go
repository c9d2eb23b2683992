package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
	"github.com/lzhao-dev/school-records-api/pkg/excel"
)

// Spreadsheet layouts are fixed contracts shared by export and import. The
// exported files round-trip through Import unchanged.
var (
	studentSheetHeaders = []string{"班级", "姓名", "学号", "性别", "出生日期", "联系方式", "地址"}
	scoreSheetHeaders   = []string{"考试名称", "姓名", "班级", "学号", "语文", "数学", "英语"}
)

const (
	StudentExportFilename = "students.xlsx"
	ScoreExportFilename   = "scores.xlsx"
)

type transferGradeResolver interface {
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	FindByName(ctx context.Context, name string) (*models.Grade, error)
}

type transferStudentRepository interface {
	ListByGrade(ctx context.Context, gradeID string) ([]models.StudentDetail, error)
	FindByNumber(ctx context.Context, number string) (*models.Student, error)
	ExistsByNumber(ctx context.Context, ext sqlx.ExtContext, number string, excludeID string) (bool, error)
	Create(ctx context.Context, ext sqlx.ExtContext, student *models.Student) error
}

type transferScoreRepository interface {
	ListByGrade(ctx context.Context, gradeID string) ([]models.ScoreDetail, error)
	Create(ctx context.Context, ext sqlx.ExtContext, score *models.Score) error
}

// TransferService moves student and score records in and out of xlsx
// workbooks. Imports are all-or-nothing: the whole file is applied in one
// transaction and any bad row aborts it, reported with its sheet row number.
type TransferService struct {
	db        *sqlx.DB
	grades    transferGradeResolver
	students  transferStudentRepository
	scores    transferScoreRepository
	linkage   *LinkageService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTransferService constructs the transfer service.
func NewTransferService(db *sqlx.DB, grades transferGradeResolver, students transferStudentRepository, scores transferScoreRepository, linkage *LinkageService, validate *validator.Validate, logger *zap.Logger) *TransferService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferService{db: db, grades: grades, students: students, scores: scores, linkage: linkage, validator: validate, logger: logger}
}

// ExportStudents renders the students of one grade, or of the whole school
// when gradeID is empty, as an xlsx workbook.
func (s *TransferService) ExportStudents(ctx context.Context, gradeID string) ([]byte, error) {
	if err := s.checkGrade(ctx, gradeID); err != nil {
		return nil, err
	}
	students, err := s.students.ListByGrade(ctx, gradeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students for export")
	}
	if len(students) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptyExport, "no students to export")
	}

	sheet := excel.Sheet{Headers: studentSheetHeaders}
	for _, st := range students {
		sheet.Rows = append(sheet.Rows, []interface{}{
			st.GradeName,
			st.Name,
			st.StudentNumber,
			st.Gender.SheetLabel(),
			st.Birthday,
			st.ContactNumber,
			st.Address,
		})
	}
	content, err := excel.Write(sheet)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render student workbook")
	}
	return content, nil
}

// ExportScores renders the scores of one grade, or of the whole school when
// gradeID is empty, as an xlsx workbook.
func (s *TransferService) ExportScores(ctx context.Context, gradeID string) ([]byte, error) {
	if err := s.checkGrade(ctx, gradeID); err != nil {
		return nil, err
	}
	scores, err := s.scores.ListByGrade(ctx, gradeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores for export")
	}
	if len(scores) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptyExport, "no scores to export")
	}

	sheet := excel.Sheet{Headers: scoreSheetHeaders}
	for _, sc := range scores {
		sheet.Rows = append(sheet.Rows, []interface{}{
			sc.ExamTitle,
			sc.StudentName,
			sc.GradeName,
			sc.StudentNumber,
			sc.ChineseScore,
			sc.MathScore,
			sc.EnglishScore,
		})
	}
	content, err := excel.Write(sheet)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render score workbook")
	}
	return content, nil
}

// ImportStudents applies a student workbook. Classes are addressed by name,
// genders by their sheet labels, and every imported student gets a linked
// credential keyed by the student number. Returns the number of rows
// applied.
func (s *TransferService) ImportStudents(ctx context.Context, r io.Reader) (int, error) {
	rows, err := s.readSheet(r, studentSheetHeaders)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	imported := 0
	for i, row := range rows {
		if blankRow(row) {
			continue
		}
		// Header occupies sheet row 1, so data row i is sheet row i+2.
		sheetRow := i + 2

		gradeName, name, number := row[0], row[1], row[2]
		genderLabel, birthdayRaw := row[3], row[4]
		contact, address := row[5], row[6]

		grade, err := s.grades.FindByName(ctx, gradeName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, rowError(sheetRow, fmt.Sprintf("unknown class %q", gradeName))
			}
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve class")
		}
		gender, ok := models.GenderFromLabel(genderLabel)
		if !ok {
			return 0, rowError(sheetRow, fmt.Sprintf("unknown gender %q", genderLabel))
		}
		birthday, err := excel.ParseDate(birthdayRaw)
		if err != nil {
			return 0, rowError(sheetRow, fmt.Sprintf("invalid birthday %q", birthdayRaw))
		}
		if birthday.After(time.Now()) {
			return 0, rowError(sheetRow, "birthday cannot be in the future")
		}

		req := StudentRequest{
			StudentNumber: number,
			Name:          name,
			Gender:        string(gender),
			Birthday:      birthday.Format("2006-01-02"),
			ContactNumber: contact,
			Address:       address,
			GradeID:       grade.ID,
		}
		if err := s.validator.Struct(req); err != nil {
			return 0, rowError(sheetRow, "invalid student data")
		}

		taken, err := s.students.ExistsByNumber(ctx, tx, number, "")
		if err != nil {
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student number")
		}
		if taken {
			return 0, rowError(sheetRow, fmt.Sprintf("student number %s already used", number))
		}

		cred, err := s.linkage.EnsureCredential(ctx, tx, number)
		if err != nil {
			return 0, err
		}
		student := &models.Student{
			StudentNumber: number,
			Name:          name,
			Gender:        gender,
			Birthday:      birthday,
			ContactNumber: contact,
			Address:       address,
			GradeID:       grade.ID,
			CredentialID:  cred.ID,
		}
		if err := s.students.Create(ctx, tx, student); err != nil {
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import student")
		}
		imported++
	}
	if imported == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "workbook contains no student rows")
	}

	if err := tx.Commit(); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit student import")
	}
	s.logger.Info("students imported", zap.Int("count", imported))
	return imported, nil
}

// ImportScores applies a score workbook. Each row must address an existing
// student by number and name, in the named class. Returns the number of
// rows applied.
func (s *TransferService) ImportScores(ctx context.Context, r io.Reader) (int, error) {
	rows, err := s.readSheet(r, scoreSheetHeaders)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	imported := 0
	for i, row := range rows {
		if blankRow(row) {
			continue
		}
		sheetRow := i + 2

		examTitle, name, gradeName, number := row[0], row[1], row[2], row[3]

		if examTitle == "" {
			return 0, rowError(sheetRow, "missing exam title")
		}
		grade, err := s.grades.FindByName(ctx, gradeName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, rowError(sheetRow, fmt.Sprintf("unknown class %q", gradeName))
			}
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve class")
		}
		student, err := s.students.FindByNumber(ctx, number)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, rowError(sheetRow, fmt.Sprintf("unknown student number %s", number))
			}
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
		}
		if student.Name != name || student.GradeID != grade.ID {
			return 0, rowError(sheetRow, fmt.Sprintf("student %s does not match name %q in class %q", number, name, gradeName))
		}

		subjects := make([]float64, 3)
		for j, raw := range row[4:7] {
			value, err := parseSubjectScore(raw)
			if err != nil {
				return 0, rowError(sheetRow, fmt.Sprintf("invalid score %q", raw))
			}
			subjects[j] = value
		}

		score := &models.Score{
			ExamTitle:     examTitle,
			StudentName:   name,
			StudentNumber: number,
			GradeID:       grade.ID,
			ChineseScore:  subjects[0],
			MathScore:     subjects[1],
			EnglishScore:  subjects[2],
		}
		if err := s.scores.Create(ctx, tx, score); err != nil {
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import score")
		}
		imported++
	}
	if imported == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "workbook contains no score rows")
	}

	if err := tx.Commit(); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit score import")
	}
	s.logger.Info("scores imported", zap.Int("count", imported))
	return imported, nil
}

func (s *TransferService) checkGrade(ctx context.Context, gradeID string) error {
	if gradeID == "" {
		return nil
	}
	if _, err := s.grades.FindByID(ctx, gradeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	return nil
}

// readSheet loads the first worksheet and enforces the exact header tuple
// before any row is considered.
func (s *TransferService) readSheet(r io.Reader, headers []string) ([][]string, error) {
	rows, err := excel.Read(r, len(headers))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPreconditionFailed.Code, appErrors.ErrPreconditionFailed.Status, "cannot read workbook")
	}
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "workbook is empty")
	}
	for i, want := range headers {
		if rows[0][i] != want {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "unexpected sheet headers")
		}
	}
	return rows[1:], nil
}

func rowError(sheetRow int, message string) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("row %d: %s", sheetRow, message))
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}

func parseSubjectScore(raw string) (float64, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("score %v out of range", value)
	}
	return math.Round(value*100) / 100, nil
}
