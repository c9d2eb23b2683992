package service

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
	"github.com/lzhao-dev/school-records-api/pkg/excel"
)

type mockTransferGrades struct {
	byID   map[string]*models.Grade
	byName map[string]*models.Grade
}

func (m *mockTransferGrades) FindByID(_ context.Context, id string) (*models.Grade, error) {
	if g, ok := m.byID[id]; ok {
		return g, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTransferGrades) FindByName(_ context.Context, name string) (*models.Grade, error) {
	if g, ok := m.byName[name]; ok {
		return g, nil
	}
	return nil, sql.ErrNoRows
}

type mockTransferStudents struct {
	listed   []models.StudentDetail
	byNumber map[string]*models.Student
	taken    map[string]bool
	created  []*models.Student
}

func (m *mockTransferStudents) ListByGrade(_ context.Context, _ string) ([]models.StudentDetail, error) {
	return m.listed, nil
}

func (m *mockTransferStudents) FindByNumber(_ context.Context, number string) (*models.Student, error) {
	if st, ok := m.byNumber[number]; ok {
		return st, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTransferStudents) ExistsByNumber(_ context.Context, _ sqlx.ExtContext, number string, _ string) (bool, error) {
	if m.taken[number] {
		return true, nil
	}
	for _, st := range m.created {
		if st.StudentNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTransferStudents) Create(_ context.Context, _ sqlx.ExtContext, student *models.Student) error {
	m.created = append(m.created, student)
	return nil
}

type mockTransferScores struct {
	listed  []models.ScoreDetail
	created []*models.Score
}

func (m *mockTransferScores) ListByGrade(_ context.Context, _ string) ([]models.ScoreDetail, error) {
	return m.listed, nil
}

func (m *mockTransferScores) Create(_ context.Context, _ sqlx.ExtContext, score *models.Score) error {
	m.created = append(m.created, score)
	return nil
}

type transferFixture struct {
	svc      *TransferService
	grades   *mockTransferGrades
	students *mockTransferStudents
	scores   *mockTransferScores
	creds    *mockCredentialStore
	mock     sqlmock.Sqlmock
	cleanup  func()
}

func newTransferFixture(t *testing.T) transferFixture {
	t.Helper()
	db, mock, cleanup := newTxDB(t)
	gradeOne := &models.Grade{ID: "grade-1", Name: "一年级1班", Number: "101"}
	grades := &mockTransferGrades{
		byID:   map[string]*models.Grade{"grade-1": gradeOne},
		byName: map[string]*models.Grade{"一年级1班": gradeOne},
	}
	students := &mockTransferStudents{byNumber: map[string]*models.Student{}, taken: map[string]bool{}}
	scores := &mockTransferScores{}
	creds := &mockCredentialStore{}
	linkage := NewLinkageService(creds, zap.NewNop())
	svc := NewTransferService(db, grades, students, scores, linkage, nil, zap.NewNop())
	return transferFixture{svc: svc, grades: grades, students: students, scores: scores, creds: creds, mock: mock, cleanup: cleanup}
}

func TestExportStudentsEmpty(t *testing.T) {
	f := newTransferFixture(t)
	defer f.cleanup()

	_, err := f.svc.ExportStudents(context.Background(), "")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrEmptyExport.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrEmptyExport.Status, appErr.Status)
}

func TestExportStudentsUnknownGrade(t *testing.T) {
	f := newTransferFixture(t)
	defer f.cleanup()

	_, err := f.svc.ExportStudents(context.Background(), "grade-404")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Status, appErrors.FromError(err).Status)
}

func TestStudentExportImportRoundTrip(t *testing.T) {
	source := newTransferFixture(t)
	defer source.cleanup()

	birthday := time.Date(2010, 9, 1, 0, 0, 0, 0, time.UTC)
	source.students.listed = []models.StudentDetail{
		{
			Student: models.Student{
				StudentNumber: "20230001", Name: "张三", Gender: models.GenderMale,
				Birthday: birthday, ContactNumber: "13800138000", Address: "1 School Road",
				GradeID: "grade-1",
			},
			GradeName: "一年级1班",
		},
		{
			Student: models.Student{
				StudentNumber: "20230002", Name: "李四", Gender: models.GenderFemale,
				Birthday: birthday.AddDate(0, 2, 10), ContactNumber: "13900139000", Address: "",
				GradeID: "grade-1",
			},
			GradeName: "一年级1班",
		},
	}

	content, err := source.svc.ExportStudents(context.Background(), "grade-1")
	require.NoError(t, err)

	dest := newTransferFixture(t)
	defer dest.cleanup()
	dest.mock.ExpectBegin()
	dest.mock.ExpectCommit()

	imported, err := dest.svc.ImportStudents(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	require.Len(t, dest.students.created, 2)

	first := dest.students.created[0]
	assert.Equal(t, "20230001", first.StudentNumber)
	assert.Equal(t, "张三", first.Name)
	assert.Equal(t, models.GenderMale, first.Gender)
	assert.Equal(t, birthday.Year(), first.Birthday.Year())
	assert.Equal(t, birthday.Month(), first.Birthday.Month())
	assert.Equal(t, birthday.Day(), first.Birthday.Day())
	assert.Equal(t, "13800138000", first.ContactNumber)
	assert.Equal(t, "1 School Road", first.Address)
	assert.Equal(t, "grade-1", first.GradeID)

	second := dest.students.created[1]
	assert.Equal(t, models.GenderFemale, second.Gender)

	// Every imported student must own a credential keyed by its number.
	cred := dest.creds.byLogin["20230001"]
	require.NotNil(t, cred)
	assert.Equal(t, cred.ID, first.CredentialID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte("230001")))
	require.NoError(t, dest.mock.ExpectationsWereMet())
}

func TestImportStudentsUnknownClassAbortsFile(t *testing.T) {
	f := newTransferFixture(t)
	defer f.cleanup()

	sheet := excel.Sheet{
		Headers: studentSheetHeaders,
		Rows: [][]interface{}{
			{"一年级1班", "张三", "20230001", "男", "2010-09-01", "13800138000", "1 School Road"},
			{"不存在的班级", "李四", "20230002", "女", "2010-11-11", "13900139000", ""},
		},
	}
	content, err := excel.Write(sheet)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err = f.svc.ImportStudents(context.Background(), bytes.NewReader(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 3")
	assert.Zero(t, f.creds.created, "no credential survives an aborted import")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestImportStudentsFutureBirthdayAbortsFile(t *testing.T) {
	f := newTransferFixture(t)
	defer f.cleanup()

	future := time.Now().AddDate(1, 0, 0).Format("2006-01-02")
	sheet := excel.Sheet{
		Headers: studentSheetHeaders,
		Rows: [][]interface{}{
			{"一年级1班", "张三", "20230001", "男", future, "13800138000", ""},
		},
	}
	content, err := excel.Write(sheet)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	imported, err := f.svc.ImportStudents(context.Background(), bytes.NewReader(content))
	require.Error(t, err)
	assert.Zero(t, imported)
	assert.Contains(t, err.Error(), "row 2")
	assert.Contains(t, err.Error(), "birthday cannot be in the future")
	assert.Empty(t, f.students.created)
	assert.Zero(t, f.creds.created)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestImportStudentsDuplicateNumberRejected(t *testing.T) {
	f := newTransferFixture(t)
	defer f.cleanup()

	f.students.taken["20230001"] = true
	sheet := excel.Sheet{
		Headers: studentSheetHeaders,
		Rows: [][]interface{}{
			{"一年级1班", "张三", "20230001", "男", "2010-09-01", "13800138000", ""},
		},
	}
	content, err := excel.Write(sheet)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err = f.svc.ImportStudents(context.Background(), bytes.NewReader(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestImportStudentsHeaderMismatch(t *testing.T) {
	f := newTransferFixture(t)
	defer f.cleanup()

	sheet := excel.Sheet{
		Headers: []string{"班级", "姓名", "学号", "性别", "生日", "联系方式", "地址"},
		Rows: [][]interface{}{
			{"一年级1班", "张三", "20230001", "男", "2010-09-01", "13800138000", ""},
		},
	}
	content, err := excel.Write(sheet)
	require.NoError(t, err)

	_, err = f.svc.ImportStudents(context.Background(), bytes.NewReader(content))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Status, appErr.Status)
}

func TestScoreExportImportRoundTrip(t *testing.T) {
	source := newTransferFixture(t)
	defer source.cleanup()

	source.scores.listed = []models.ScoreDetail{
		{
			Score: models.Score{
				ExamTitle: "期中考试", StudentName: "张三", StudentNumber: "20230001",
				GradeID: "grade-1", ChineseScore: 88.5, MathScore: 92, EnglishScore: 79,
			},
			GradeName: "一年级1班",
		},
	}

	content, err := source.svc.ExportScores(context.Background(), "grade-1")
	require.NoError(t, err)

	dest := newTransferFixture(t)
	defer dest.cleanup()
	dest.students.byNumber["20230001"] = &models.Student{
		ID: "stu-1", StudentNumber: "20230001", Name: "张三", GradeID: "grade-1",
	}
	dest.mock.ExpectBegin()
	dest.mock.ExpectCommit()

	imported, err := dest.svc.ImportScores(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	require.Len(t, dest.scores.created, 1)

	sc := dest.scores.created[0]
	assert.Equal(t, "期中考试", sc.ExamTitle)
	assert.Equal(t, "grade-1", sc.GradeID)
	assert.Equal(t, 88.5, sc.ChineseScore)
	assert.Equal(t, 92.0, sc.MathScore)
	assert.Equal(t, 79.0, sc.EnglishScore)
	require.NoError(t, dest.mock.ExpectationsWereMet())
}

func TestImportScoresStudentMismatchAbortsFile(t *testing.T) {
	f := newTransferFixture(t)
	defer f.cleanup()

	f.students.byNumber["20230001"] = &models.Student{
		ID: "stu-1", StudentNumber: "20230001", Name: "张三", GradeID: "grade-1",
	}
	sheet := excel.Sheet{
		Headers: scoreSheetHeaders,
		Rows: [][]interface{}{
			{"期中考试", "李四", "一年级1班", "20230001", 88.5, 92, 79},
		},
	}
	content, err := excel.Write(sheet)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err = f.svc.ImportScores(context.Background(), bytes.NewReader(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
	assert.Empty(t, f.scores.created)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestImportScoresOutOfRangeValue(t *testing.T) {
	f := newTransferFixture(t)
	defer f.cleanup()

	f.students.byNumber["20230001"] = &models.Student{
		ID: "stu-1", StudentNumber: "20230001", Name: "张三", GradeID: "grade-1",
	}
	sheet := excel.Sheet{
		Headers: scoreSheetHeaders,
		Rows: [][]interface{}{
			{"期中考试", "张三", "一年级1班", "20230001", 105, 92, 79},
		},
	}
	content, err := excel.Write(sheet)
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err = f.svc.ImportScores(context.Background(), bytes.NewReader(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid score")
	require.NoError(t, f.mock.ExpectationsWereMet())
}
