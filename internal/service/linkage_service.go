package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
)

type linkageCredentialRepository interface {
	FindByLogin(ctx context.Context, ext sqlx.ExtContext, loginID string) (*models.Credential, error)
	Create(ctx context.Context, ext sqlx.ExtContext, cred *models.Credential) error
	UpdateLogin(ctx context.Context, ext sqlx.ExtContext, id, loginID, passwordHash string) error
	Delete(ctx context.Context, ext sqlx.ExtContext, id string) error
	DeleteByIDs(ctx context.Context, ext sqlx.ExtContext, ids []string) error
}

// LinkageService keeps each student/teacher record backed by exactly one
// credential keyed by the entity's business identifier. Every method takes
// the caller's executor so linkage writes share the transaction of the
// owning entity write.
type LinkageService struct {
	creds  linkageCredentialRepository
	logger *zap.Logger
}

// NewLinkageService constructs the linkage service.
func NewLinkageService(creds linkageCredentialRepository, logger *zap.Logger) *LinkageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkageService{creds: creds, logger: logger}
}

// DefaultPassword derives the initial password from a business identifier:
// its last six characters. A known-weak default the UI prompts users to
// change on first login.
func DefaultPassword(businessID string) string {
	if len(businessID) <= 6 {
		return businessID
	}
	return businessID[len(businessID)-6:]
}

// EnsureCredential returns the credential whose login id equals the business
// identifier, creating it with the derived default password when absent.
// Idempotent: calling twice with the same id yields the same credential.
func (s *LinkageService) EnsureCredential(ctx context.Context, ext sqlx.ExtContext, businessID string) (*models.Credential, error) {
	cred, err := s.creds.FindByLogin(ctx, ext, businessID)
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up credential")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword(businessID)), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash default password")
	}

	cred = &models.Credential{
		LoginID:      businessID,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.creds.Create(ctx, ext, cred); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create credential")
	}
	s.logger.Info("credential created", zap.String("login_id", businessID))
	return cred, nil
}

// Relink moves a credential to a new business identifier and resets its
// password to the derived default for the new id. Runs on the caller's
// executor so it commits or rolls back with the entity update.
func (s *LinkageService) Relink(ctx context.Context, ext sqlx.ExtContext, credentialID, newBusinessID string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword(newBusinessID)), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash default password")
	}
	if err := s.creds.UpdateLogin(ctx, ext, credentialID, newBusinessID, string(hash)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "linked credential not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to relink credential")
	}
	s.logger.Info("credential relinked", zap.String("login_id", newBusinessID))
	return nil
}

// RemoveCredential deletes the credential linked to a removed entity.
func (s *LinkageService) RemoveCredential(ctx context.Context, ext sqlx.ExtContext, credentialID string) error {
	if err := s.creds.Delete(ctx, ext, credentialID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete credential")
	}
	return nil
}

// RemoveCredentials deletes the credentials linked to a batch of removed
// entities.
func (s *LinkageService) RemoveCredentials(ctx context.Context, ext sqlx.ExtContext, credentialIDs []string) error {
	if len(credentialIDs) == 0 {
		return nil
	}
	if err := s.creds.DeleteByIDs(ctx, ext, credentialIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete credentials")
	}
	return nil
}
