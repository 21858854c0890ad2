package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyforge/keyforge/internal/store"
)

// DefaultSessionTTL is how long a dashboard session stays valid.
const DefaultSessionTTL = 24 * time.Hour

const sessionIssuer = "keyforge"

// dummyHash is compared against when a username is unknown so that failed
// logins take the same time either way.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("keyforge-dummy-password"), bcrypt.DefaultCost)

// AuthConfig holds the administrator credentials and session settings.
type AuthConfig struct {
	AdminUsername string
	AdminPassword string
	SessionSecret string
	SessionTTL    time.Duration
}

// AuthService authenticates dashboard users and issues signed session
// tokens carrying their Identity.
type AuthService struct {
	store         *store.Store
	adminUsername string
	adminPassword string
	secret        []byte
	ttl           time.Duration
	revoker       Revoker
	logger        *slog.Logger
}

// NewAuthService creates an AuthService. revoker may be nil, in which case
// logout only clears the client's cookie.
func NewAuthService(s *store.Store, cfg AuthConfig, revoker Revoker, logger *slog.Logger) *AuthService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:         s,
		adminUsername: cfg.AdminUsername,
		adminPassword: cfg.AdminPassword,
		secret:        []byte(cfg.SessionSecret),
		ttl:           cfg.SessionTTL,
		revoker:       revoker,
		logger:        logger,
	}
}

// SessionTTL returns the lifetime of issued sessions.
func (s *AuthService) SessionTTL() time.Duration {
	return s.ttl
}

// Login checks credentials against the configured administrator and then
// against stored moderator accounts.
func (s *AuthService) Login(ctx context.Context, username, password string) (Identity, error) {
	if username == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}

	if s.adminPassword != "" && secureEqual(username, s.adminUsername) {
		if secureEqual(password, s.adminPassword) {
			return AdminIdentity(s.adminUsername), nil
		}
		return Identity{}, ErrInvalidCredentials
	}

	m, err := s.store.GetModeratorByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("look up moderator: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return ModeratorIdentity(m.ID, m.Username), nil
}

// IssueSession signs a session token for id.
func (s *AuthService) IssueSession(ctx context.Context, id Identity) (string, time.Time, error) {
	return s.issue(id, s.ttl)
}

func (s *AuthService) issue(id Identity, ttl time.Duration) (string, time.Time, error) {
	jti, err := uuid.NewRandom()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}
	now := time.Now()
	expires := now.Add(ttl)
	claims := sessionClaims{
		Role:      id.Role,
		Username:  id.Username,
		AccountID: id.AccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    sessionIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expires, nil
}

// ValidateSession verifies a session token and returns its Identity.
// Expired, tampered and revoked tokens, and tokens of deleted moderators,
// yield ErrInvalidCredentials.
func (s *AuthService) ValidateSession(ctx context.Context, tokenStr string) (Identity, error) {
	claims, err := s.parse(tokenStr)
	if err != nil {
		return Identity{}, err
	}

	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Error("session revocation check failed", "error", err)
			return Identity{}, ErrUnavailable
		}
		if revoked {
			return Identity{}, ErrInvalidCredentials
		}
	}

	switch claims.Role {
	case RoleAdmin:
		if claims.Username != s.adminUsername {
			return Identity{}, ErrInvalidCredentials
		}
		return AdminIdentity(claims.Username), nil
	case RoleModerator:
		m, err := s.store.GetModerator(ctx, claims.AccountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Identity{}, ErrInvalidCredentials
			}
			return Identity{}, fmt.Errorf("look up moderator: %w", err)
		}
		return ModeratorIdentity(m.ID, m.Username), nil
	default:
		return Identity{}, ErrInvalidCredentials
	}
}

// Logout revokes a session token until its natural expiry. Invalid tokens
// are ignored.
func (s *AuthService) Logout(ctx context.Context, tokenStr string) error {
	if s.revoker == nil || tokenStr == "" {
		return nil
	}
	claims, err := s.parse(tokenStr)
	if err != nil {
		return nil
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *AuthService) parse(tokenStr string) (*sessionClaims, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

type sessionClaims struct {
	Role      Role   `json:"role"`
	Username  string `json:"username"`
	AccountID string `json:"account_id,omitempty"`
	jwt.RegisteredClaims
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
