package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrNotAuthenticated signals a missing, expired or revoked session.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
)

// DefaultTokenTTL is used when NewService receives a non-positive ttl.
const DefaultTokenTTL = 24 * time.Hour

// Service handles sign-in and token issuance.
type Service struct {
	repo      Repository
	jwtSecret []byte
	ttl       time.Duration

	now   func() time.Time
	idGen func() string
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
		idGen:     uuid.NewString,
	}
}

// Register creates an email/password credential. Role assignment is a
// separate step owned by the profile package.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Identity, error) {
	if len(req.Password) < 8 {
		return Identity{}, ErrWeakPassword
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Identity{}, fmt.Errorf("auth: a valid email is required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: hash password: %w", err)
	}

	cred := Credential{
		UID:          s.idGen(),
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: string(passwordHash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateCredential(ctx, cred); err != nil {
		return Identity{}, err
	}
	return cred.Identity(), nil
}

// SignInAnonymous mints a fresh anonymous identity.
func (s *Service) SignInAnonymous() Identity {
	return Identity{UID: s.idGen(), Anonymous: true}
}

// SignInWithPassword checks an email/password pair.
func (s *Service) SignInWithPassword(ctx context.Context, req LoginRequest) (Identity, error) {
	cred, err := s.repo.GetCredentialByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.Password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return cred.Identity(), nil
}

// IssueToken signs a session token for identity.
func (s *Service) IssueToken(identity Identity, sessionID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":       identity.UID,
		"jti":       sessionID,
		"email":     identity.Email,
		"name":      identity.DisplayName,
		"anonymous": identity.Anonymous,
		"iat":       now.Unix(),
		"exp":       now.Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a session token. Every failure wraps ErrNotAuthenticated.
func (s *Service) VerifyToken(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, ErrNotAuthenticated
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrNotAuthenticated
	}
	uid, _ := claims["sub"].(string)
	sessionID, _ := claims["jti"].(string)
	if uid == "" || sessionID == "" {
		return Claims{}, fmt.Errorf("%w: token missing subject or id", ErrNotAuthenticated)
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	anonymous, _ := claims["anonymous"].(bool)

	out := Claims{
		Identity:  Identity{UID: uid, Email: email, DisplayName: name, Anonymous: anonymous},
		SessionID: sessionID,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
