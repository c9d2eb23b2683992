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

// CredentialRepository manages persistence for login credentials.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository constructs a CredentialRepository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByID fetches a credential by primary key.
func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*models.Credential, error) {
	const query = `SELECT id, login_id, password_hash, is_active, is_superuser, created_at, updated_at
        FROM credentials WHERE id = $1 LIMIT 1`
	var cred models.Credential
	if err := r.db.GetContext(ctx, &cred, query, id); err != nil {
		return nil, err
	}
	return &cred, nil
}

// FindByLoginID fetches a credential by its login identifier.
func (r *CredentialRepository) FindByLoginID(ctx context.Context, loginID string) (*models.Credential, error) {
	const query = `SELECT id, login_id, password_hash, is_active, is_superuser, created_at, updated_at
        FROM credentials WHERE login_id = $1 LIMIT 1`
	var cred models.Credential
	if err := r.db.GetContext(ctx, &cred, query, loginID); err != nil {
		return nil, err
	}
	return &cred, nil
}

// FindByLogin resolves a credential through the provided executor so
// lookups inside a transaction observe rows written earlier in it.
func (r *CredentialRepository) FindByLogin(ctx context.Context, ext sqlx.ExtContext, loginID string) (*models.Credential, error) {
	const query = `SELECT id, login_id, password_hash, is_active, is_superuser, created_at, updated_at
        FROM credentials WHERE login_id = $1 LIMIT 1`
	var cred models.Credential
	if err := sqlx.GetContext(ctx, ext, &cred, query, loginID); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Create inserts a new credential.
func (r *CredentialRepository) Create(ctx context.Context, ext sqlx.ExtContext, cred *models.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	const query = `INSERT INTO credentials (id, login_id, password_hash, is_active, is_superuser, created_at, updated_at)
        VALUES (:id, :login_id, :password_hash, :is_active, :is_superuser, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, cred); err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// UpdateLogin rewrites the login identifier and password hash in one step.
func (r *CredentialRepository) UpdateLogin(ctx context.Context, ext sqlx.ExtContext, id, loginID, passwordHash string) error {
	const query = `UPDATE credentials SET login_id = $2, password_hash = $3, updated_at = $4 WHERE id = $1`
	res, err := ext.ExecContext(ctx, query, id, loginID, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("relink credential: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *CredentialRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE credentials SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("update credential password: %w", err)
	}
	return nil
}

// Delete removes a credential.
func (r *CredentialRepository) Delete(ctx context.Context, ext sqlx.ExtContext, id string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// DeleteByIDs removes a batch of credentials.
func (r *CredentialRepository) DeleteByIDs(ctx context.Context, ext sqlx.ExtContext, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM credentials WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build credential delete: %w", err)
	}
	if _, err := ext.ExecContext(ctx, ext.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}
