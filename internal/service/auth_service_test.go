package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
)

type stubCache struct {
	store map[string][]byte
}

func (s *stubCache) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCache) Delete(_ context.Context, key string) error {
	delete(s.store, key)
	return nil
}

func (s *stubCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.store[key]
	return ok, nil
}

type mockAuthCreds struct {
	byLogin     map[string]*models.Credential
	byID        map[string]*models.Credential
	updatedHash string
}

func (m *mockAuthCreds) FindByID(_ context.Context, id string) (*models.Credential, error) {
	if cred, ok := m.byID[id]; ok {
		return cred, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthCreds) FindByLoginID(_ context.Context, loginID string) (*models.Credential, error) {
	if cred, ok := m.byLogin[loginID]; ok {
		return cred, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthCreds) UpdatePassword(_ context.Context, _, passwordHash string) error {
	m.updatedHash = passwordHash
	return nil
}

type mockStudentResolver struct {
	students map[string]*models.Student
}

func (m *mockStudentResolver) FindByNumber(_ context.Context, number string) (*models.Student, error) {
	if st, ok := m.students[number]; ok {
		return st, nil
	}
	return nil, sql.ErrNoRows
}

type mockTeacherResolver struct {
	teachers map[string]*models.Teacher
}

func (m *mockTeacherResolver) FindByPhone(_ context.Context, phone string) (*models.Teacher, error) {
	if te, ok := m.teachers[phone]; ok {
		return te, nil
	}
	return nil, sql.ErrNoRows
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestAuthService(creds *mockAuthCreds, students *mockStudentResolver, teachers *mockTeacherResolver) *AuthService {
	cacheSvc := NewCacheService(&stubCache{}, nil, time.Minute, zap.NewNop(), true)
	return NewAuthService(creds, students, teachers, cacheSvc, nil, zap.NewNop(), AuthConfig{
		Secret:     "test-secret",
		Expiration: time.Hour,
		Issuer:     "school-records-api",
	})
}

func TestLoginStudentSuccess(t *testing.T) {
	creds := &mockAuthCreds{byLogin: map[string]*models.Credential{
		"20230001": {ID: "cred-1", LoginID: "20230001", PasswordHash: hashOf(t, "230001"), IsActive: true},
	}}
	students := &mockStudentResolver{students: map[string]*models.Student{
		"20230001": {ID: "stu-1", StudentNumber: "20230001", Name: "张三"},
	}}
	svc := newTestAuthService(creds, students, &mockTeacherResolver{})

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "20230001", Password: "230001", Role: models.RoleStudent,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, resp.Role)
	assert.Equal(t, "张三", resp.DisplayName)
	assert.NotEmpty(t, resp.AccessToken)

	claims, err := svc.ValidateToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "cred-1", claims.CredentialID)
	assert.Equal(t, "20230001", claims.LoginID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestLoginStudentRecordMissingIsNotFound(t *testing.T) {
	creds := &mockAuthCreds{byLogin: map[string]*models.Credential{
		"20230001": {ID: "cred-1", LoginID: "20230001", PasswordHash: hashOf(t, "230001"), IsActive: true},
	}}
	svc := newTestAuthService(creds, &mockStudentResolver{}, &mockTeacherResolver{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "20230001", Password: "230001", Role: models.RoleStudent,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Status, appErr.Status)
}

func TestLoginDisabledAccountIsForbidden(t *testing.T) {
	creds := &mockAuthCreds{byLogin: map[string]*models.Credential{
		"13800138000": {ID: "cred-2", LoginID: "13800138000", PasswordHash: hashOf(t, "138000"), IsActive: false},
	}}
	teachers := &mockTeacherResolver{teachers: map[string]*models.Teacher{
		"13800138000": {ID: "tea-1", PhoneNumber: "13800138000", Name: "李老师"},
	}}
	svc := newTestAuthService(creds, &mockStudentResolver{}, teachers)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "13800138000", Password: "138000", Role: models.RoleTeacher,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrInactiveAccount.Status, appErr.Status)
}

func TestLoginWrongPasswordIsNotFound(t *testing.T) {
	creds := &mockAuthCreds{byLogin: map[string]*models.Credential{
		"20230001": {ID: "cred-1", LoginID: "20230001", PasswordHash: hashOf(t, "230001"), IsActive: true},
	}}
	students := &mockStudentResolver{students: map[string]*models.Student{
		"20230001": {ID: "stu-1", StudentNumber: "20230001", Name: "张三"},
	}}
	svc := newTestAuthService(creds, students, &mockTeacherResolver{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "20230001", Password: "wrong", Role: models.RoleStudent,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Status, appErrors.FromError(err).Status)
}

func TestLoginAdminRequiresSuperuser(t *testing.T) {
	creds := &mockAuthCreds{byLogin: map[string]*models.Credential{
		"admin": {ID: "cred-9", LoginID: "admin", PasswordHash: hashOf(t, "secret"), IsActive: true},
	}}
	svc := newTestAuthService(creds, &mockStudentResolver{}, &mockTeacherResolver{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "admin", Password: "secret", Role: models.RoleAdmin,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Status, appErrors.FromError(err).Status)

	creds.byLogin["admin"].IsSuperuser = true
	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "admin", Password: "secret", Role: models.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, resp.Role)

	claims, err := svc.ValidateToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.IsSuperuser)
}

func TestLogoutRevokesToken(t *testing.T) {
	creds := &mockAuthCreds{byLogin: map[string]*models.Credential{
		"20230001": {ID: "cred-1", LoginID: "20230001", PasswordHash: hashOf(t, "230001"), IsActive: true},
	}}
	students := &mockStudentResolver{students: map[string]*models.Student{
		"20230001": {ID: "stu-1", StudentNumber: "20230001", Name: "张三"},
	}}
	svc := newTestAuthService(creds, students, &mockTeacherResolver{})

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "20230001", Password: "230001", Role: models.RoleStudent,
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(context.Background(), claims))

	_, err = svc.ValidateToken(context.Background(), resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Status, appErrors.FromError(err).Status)
}

func TestChangePassword(t *testing.T) {
	creds := &mockAuthCreds{byID: map[string]*models.Credential{
		"cred-1": {ID: "cred-1", LoginID: "20230001", PasswordHash: hashOf(t, "230001"), IsActive: true},
	}}
	svc := newTestAuthService(creds, &mockStudentResolver{}, &mockTeacherResolver{})

	err := svc.ChangePassword(context.Background(), "cred-1", models.ChangePasswordRequest{
		OldPassword: "wrong", NewPassword: "brand-new",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Status, appErrors.FromError(err).Status)

	err = svc.ChangePassword(context.Background(), "cred-1", models.ChangePasswordRequest{
		OldPassword: "230001", NewPassword: "brand-new",
	})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(creds.updatedHash), []byte("brand-new")))
}

func TestChangePasswordTooShort(t *testing.T) {
	creds := &mockAuthCreds{byID: map[string]*models.Credential{
		"cred-1": {ID: "cred-1", LoginID: "20230001", PasswordHash: hashOf(t, "230001"), IsActive: true},
	}}
	svc := newTestAuthService(creds, &mockStudentResolver{}, &mockTeacherResolver{})

	err := svc.ChangePassword(context.Background(), "cred-1", models.ChangePasswordRequest{
		OldPassword: "230001", NewPassword: "tiny",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Status, appErrors.FromError(err).Status)
}
