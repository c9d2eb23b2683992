package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lzhao-dev/school-records-api/internal/models"
)

type mockCredentialStore struct {
	byLogin      map[string]*models.Credential
	created      int
	relinkID     string
	relinkLogin  string
	relinkHash   string
	deletedIDs   []string
	relinkNoRows bool
}

func (m *mockCredentialStore) FindByLogin(_ context.Context, _ sqlx.ExtContext, loginID string) (*models.Credential, error) {
	if cred, ok := m.byLogin[loginID]; ok {
		return cred, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCredentialStore) Create(_ context.Context, _ sqlx.ExtContext, cred *models.Credential) error {
	m.created++
	cred.ID = fmt.Sprintf("cred-%d", m.created)
	if m.byLogin == nil {
		m.byLogin = make(map[string]*models.Credential)
	}
	m.byLogin[cred.LoginID] = cred
	return nil
}

func (m *mockCredentialStore) UpdateLogin(_ context.Context, _ sqlx.ExtContext, id, loginID, passwordHash string) error {
	if m.relinkNoRows {
		return sql.ErrNoRows
	}
	m.relinkID = id
	m.relinkLogin = loginID
	m.relinkHash = passwordHash
	return nil
}

func (m *mockCredentialStore) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func (m *mockCredentialStore) DeleteByIDs(_ context.Context, _ sqlx.ExtContext, ids []string) error {
	m.deletedIDs = append(m.deletedIDs, ids...)
	return nil
}

func TestDefaultPassword(t *testing.T) {
	assert.Equal(t, "230001", DefaultPassword("20230001"))
	assert.Equal(t, "345", DefaultPassword("345"))
	assert.Equal(t, "13800138000"[5:], DefaultPassword("13800138000"))
}

func TestEnsureCredentialCreatesWithDerivedDefault(t *testing.T) {
	store := &mockCredentialStore{}
	svc := NewLinkageService(store, zap.NewNop())

	cred, err := svc.EnsureCredential(context.Background(), nil, "20230001")
	require.NoError(t, err)
	assert.Equal(t, "20230001", cred.LoginID)
	assert.True(t, cred.IsActive)
	assert.False(t, cred.IsSuperuser)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte("230001")))
}

func TestEnsureCredentialIdempotent(t *testing.T) {
	store := &mockCredentialStore{}
	svc := NewLinkageService(store, zap.NewNop())

	first, err := svc.EnsureCredential(context.Background(), nil, "20230001")
	require.NoError(t, err)
	second, err := svc.EnsureCredential(context.Background(), nil, "20230001")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.created)
}

func TestRelinkResetsPasswordToNewDefault(t *testing.T) {
	store := &mockCredentialStore{}
	svc := NewLinkageService(store, zap.NewNop())

	require.NoError(t, svc.Relink(context.Background(), nil, "cred-1", "20239999"))
	assert.Equal(t, "cred-1", store.relinkID)
	assert.Equal(t, "20239999", store.relinkLogin)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(store.relinkHash), []byte("239999")))
}

func TestRelinkMissingCredential(t *testing.T) {
	store := &mockCredentialStore{relinkNoRows: true}
	svc := NewLinkageService(store, zap.NewNop())

	err := svc.Relink(context.Background(), nil, "cred-404", "20239999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linked credential not found")
}

func TestRemoveCredentialsEmptyIsNoOp(t *testing.T) {
	store := &mockCredentialStore{}
	svc := NewLinkageService(store, zap.NewNop())

	require.NoError(t, svc.RemoveCredentials(context.Background(), nil, nil))
	assert.Empty(t, store.deletedIDs)
}

func TestRemoveCredentialsDeletesBatch(t *testing.T) {
	store := &mockCredentialStore{}
	svc := NewLinkageService(store, zap.NewNop())

	require.NoError(t, svc.RemoveCredentials(context.Background(), nil, []string{"cred-1", "cred-2"}))
	assert.Equal(t, []string{"cred-1", "cred-2"}, store.deletedIDs)
}
