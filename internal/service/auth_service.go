package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lzhao-dev/school-records-api/internal/models"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
)

type authCredentialRepository interface {
	FindByID(ctx context.Context, id string) (*models.Credential, error)
	FindByLoginID(ctx context.Context, loginID string) (*models.Credential, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

type authStudentResolver interface {
	FindByNumber(ctx context.Context, number string) (*models.Student, error)
}

type authTeacherResolver interface {
	FindByPhone(ctx context.Context, phone string) (*models.Teacher, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// roleLookup resolves the role-specific entity behind a username and returns
// its display name. One strategy per selectable role replaces branching on
// the role at every call site.
type roleLookup func(ctx context.Context, username string) (string, error)

// AuthService provides login, logout and password flows.
type AuthService struct {
	creds     authCredentialRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	lookups   map[models.Role]roleLookup
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(creds authCredentialRepository, students authStudentResolver, teachers authTeacherResolver, cache *CacheService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	s := &AuthService{creds: creds, cache: cache, validator: validate, logger: logger, config: config}
	s.lookups = map[models.Role]roleLookup{
		models.RoleStudent: func(ctx context.Context, username string) (string, error) {
			student, err := students.FindByNumber(ctx, username)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return "", appErrors.Clone(appErrors.ErrInvalidCredentials, "student record not found")
				}
				return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
			}
			return student.Name, nil
		},
		models.RoleTeacher: func(ctx context.Context, username string) (string, error) {
			teacher, err := teachers.FindByPhone(ctx, username)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return "", appErrors.Clone(appErrors.ErrInvalidCredentials, "teacher record not found")
				}
				return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve teacher")
			}
			return teacher.Name, nil
		},
		models.RoleAdmin: func(ctx context.Context, username string) (string, error) {
			return username, nil
		},
	}
	return s
}

// Login authenticates a credential against the role-specific entity table
// and issues an access token carrying the selected role.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	lookup, ok := s.lookups[req.Role]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	displayName, err := lookup(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	cred, err := s.creds.FindByLoginID(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch credential")
	}

	if !cred.IsActive {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is disabled")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
	}

	// The admin role grants the widest operation set, so it is reserved for
	// superuser credentials instead of being free to select.
	if req.Role == models.RoleAdmin && !cred.IsSuperuser {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admin role requires a superuser account")
	}

	token, expiresAt, err := s.generateAccessToken(cred, req.Role, displayName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	s.logger.Info("login succeeded", zap.String("login_id", cred.LoginID), zap.String("role", string(req.Role)))

	return &models.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
		Role:        req.Role,
		DisplayName: displayName,
		IssuedAt:    time.Now().UTC(),
	}, nil
}

// Logout revokes the presented token until its natural expiry.
func (s *AuthService) Logout(ctx context.Context, claims *models.JWTClaims) error {
	if claims == nil || claims.ID == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "no session to revoke")
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.cache.Set(ctx, revocationKey(claims.ID), true, ttl); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
	}
	return nil
}

// ChangePassword verifies the old password and stores a hash of the new one.
func (s *AuthService) ChangePassword(ctx context.Context, credentialID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	cred, err := s.creds.FindByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credential")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.creds.UpdatePassword(ctx, credentialID, string(newHash)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
// Revoked tokens are rejected even before expiry.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	if claims.ID != "" {
		revoked, err := s.cache.Exists(ctx, revocationKey(claims.ID))
		if err != nil {
			s.logger.Warn("revocation check failed", zap.Error(err))
		} else if revoked {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session has been revoked")
		}
	}

	return claims, nil
}

func (s *AuthService) generateAccessToken(cred *models.Credential, role models.Role, displayName string) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.Expiration)
	claims := &models.JWTClaims{
		CredentialID: cred.ID,
		LoginID:      cred.LoginID,
		DisplayName:  displayName,
		Role:         role,
		IsSuperuser:  cred.IsSuperuser,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   cred.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func revocationKey(tokenID string) string {
	return "auth:revoked:" + tokenID
}
