package service

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
)

// newTxDB backs service transactions with sqlmock; the repositories under
// the service are struct mocks, so only Begin/Commit reach the driver.
func newTxDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

type mockStudentRepo struct {
	byID         map[string]*models.StudentDetail
	takenNumbers map[string]bool
	created      *models.Student
	updated      *models.Student
	deletedID    string
	deletedIDs   []string
	credIDs      []string
}

func (m *mockStudentRepo) List(_ context.Context, _ models.StudentFilter) ([]models.StudentDetail, int, error) {
	var out []models.StudentDetail
	for _, st := range m.byID {
		out = append(out, *st)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) FindByID(_ context.Context, id string) (*models.StudentDetail, error) {
	if st, ok := m.byID[id]; ok {
		return st, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByNumber(_ context.Context, _ sqlx.ExtContext, number string, excludeID string) (bool, error) {
	if m.takenNumbers[number] {
		for _, st := range m.byID {
			if st.StudentNumber == number && st.ID == excludeID {
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}

func (m *mockStudentRepo) Create(_ context.Context, _ sqlx.ExtContext, student *models.Student) error {
	student.ID = "stu-new"
	m.created = student
	return nil
}

func (m *mockStudentRepo) Update(_ context.Context, _ sqlx.ExtContext, student *models.Student) error {
	m.updated = student
	return nil
}

func (m *mockStudentRepo) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	m.deletedID = id
	return nil
}

func (m *mockStudentRepo) DeleteByIDs(_ context.Context, _ sqlx.ExtContext, ids []string) error {
	m.deletedIDs = ids
	return nil
}

func (m *mockStudentRepo) CredentialIDsByIDs(_ context.Context, _ []string) ([]string, error) {
	return m.credIDs, nil
}

type mockGradeResolver struct {
	grades map[string]*models.Grade
}

func (m *mockGradeResolver) FindByID(_ context.Context, id string) (*models.Grade, error) {
	if g, ok := m.grades[id]; ok {
		return g, nil
	}
	return nil, sql.ErrNoRows
}

func newStudentFixture(t *testing.T) (*StudentService, *mockStudentRepo, *mockCredentialStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, cleanup := newTxDB(t)
	repo := &mockStudentRepo{byID: map[string]*models.StudentDetail{}, takenNumbers: map[string]bool{}}
	creds := &mockCredentialStore{}
	grades := &mockGradeResolver{grades: map[string]*models.Grade{
		"grade-1": {ID: "grade-1", Name: "一年级1班", Number: "101"},
	}}
	linkage := NewLinkageService(creds, zap.NewNop())
	svc := NewStudentService(db, repo, grades, linkage, nil, zap.NewNop())
	return svc, repo, creds, mock, cleanup
}

func validStudentRequest() StudentRequest {
	return StudentRequest{
		StudentNumber: "20230001",
		Name:          "张三",
		Gender:        "M",
		Birthday:      "2010-09-01",
		ContactNumber: "13800138000",
		Address:       "1 School Road",
		GradeID:       "grade-1",
	}
}

func TestStudentCreateProvisionsCredential(t *testing.T) {
	svc, repo, creds, mock, cleanup := newStudentFixture(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectCommit()

	student, err := svc.Create(context.Background(), validStudentRequest())
	require.NoError(t, err)

	require.NotNil(t, repo.created)
	assert.Equal(t, "20230001", student.StudentNumber)

	cred := creds.byLogin["20230001"]
	require.NotNil(t, cred, "credential must be created with login == student number")
	assert.Equal(t, cred.ID, student.CredentialID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte("230001")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentCreateDuplicateNumber(t *testing.T) {
	svc, repo, creds, mock, cleanup := newStudentFixture(t)
	defer cleanup()

	repo.takenNumbers["20230001"] = true
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), validStudentRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Status, appErrors.FromError(err).Status)
	assert.Zero(t, creds.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentCreateRejectsBadNumber(t *testing.T) {
	svc, _, _, _, cleanup := newStudentFixture(t)
	defer cleanup()

	req := validStudentRequest()
	req.StudentNumber = "123"
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Status, appErrors.FromError(err).Status)
}

func TestStudentCreateRejectsUnknownGrade(t *testing.T) {
	svc, _, _, _, cleanup := newStudentFixture(t)
	defer cleanup()

	req := validStudentRequest()
	req.GradeID = "grade-404"
	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Status, appErrors.FromError(err).Status)
}

func TestStudentRenumberRelinksCredential(t *testing.T) {
	svc, repo, creds, mock, cleanup := newStudentFixture(t)
	defer cleanup()

	repo.byID["stu-1"] = &models.StudentDetail{Student: models.Student{
		ID: "stu-1", StudentNumber: "20230001", Name: "张三", Gender: models.GenderMale,
		ContactNumber: "13800138000", GradeID: "grade-1", CredentialID: "cred-1",
	}}

	mock.ExpectBegin()
	mock.ExpectCommit()

	req := validStudentRequest()
	req.StudentNumber = "20239999"
	student, err := svc.Update(context.Background(), "stu-1", req)
	require.NoError(t, err)

	assert.Equal(t, "20239999", student.StudentNumber)
	assert.Equal(t, "cred-1", creds.relinkID)
	assert.Equal(t, "20239999", creds.relinkLogin)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(creds.relinkHash), []byte("239999")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentUpdateWithoutRenumberKeepsCredential(t *testing.T) {
	svc, repo, creds, mock, cleanup := newStudentFixture(t)
	defer cleanup()

	repo.byID["stu-1"] = &models.StudentDetail{Student: models.Student{
		ID: "stu-1", StudentNumber: "20230001", Name: "张三", Gender: models.GenderMale,
		ContactNumber: "13800138000", GradeID: "grade-1", CredentialID: "cred-1",
	}}

	mock.ExpectBegin()
	mock.ExpectCommit()

	req := validStudentRequest()
	req.Name = "张三三"
	_, err := svc.Update(context.Background(), "stu-1", req)
	require.NoError(t, err)
	assert.Empty(t, creds.relinkID, "credential must not move when the number is unchanged")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentDeleteRemovesCredential(t *testing.T) {
	svc, repo, creds, mock, cleanup := newStudentFixture(t)
	defer cleanup()

	repo.byID["stu-1"] = &models.StudentDetail{Student: models.Student{
		ID: "stu-1", StudentNumber: "20230001", CredentialID: "cred-1",
	}}

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, svc.Delete(context.Background(), "stu-1"))
	assert.Equal(t, "stu-1", repo.deletedID)
	assert.Equal(t, []string{"cred-1"}, creds.deletedIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentBulkDeleteEmptyListRejected(t *testing.T) {
	svc, _, _, _, cleanup := newStudentFixture(t)
	defer cleanup()

	err := svc.BulkDelete(context.Background(), BulkDeleteRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRequest.Status, appErrors.FromError(err).Status)
}

func TestStudentBulkDeleteRemovesCredentials(t *testing.T) {
	svc, repo, creds, mock, cleanup := newStudentFixture(t)
	defer cleanup()

	repo.credIDs = []string{"cred-1", "cred-2"}
	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, svc.BulkDelete(context.Background(), BulkDeleteRequest{IDs: []string{"stu-1", "stu-2"}}))
	assert.Equal(t, []string{"stu-1", "stu-2"}, repo.deletedIDs)
	assert.Equal(t, []string{"cred-1", "cred-2"}, creds.deletedIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}
