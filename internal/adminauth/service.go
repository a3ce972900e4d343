// Package adminauth provides Bearer session authentication for the Gruxi
// admin API. There is no end-user authentication in scope (spec Non-goals);
// this service only guards the admin surface named in §6.
package adminauth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iSundram/gruxi/pkg/config"
	"github.com/iSundram/gruxi/pkg/models"
	"github.com/iSundram/gruxi/pkg/utils"
)

// Service issues and validates admin session tokens.
type Service struct {
	cfg      *config.Config
	mu       sync.RWMutex
	admins   map[string]*models.AdminUser // id -> user
	byName   map[string]*models.AdminUser // username -> user
	sessions map[string]*models.AdminSession
}

// claims are the JWT payload for an admin session token.
type claims struct {
	AdminUserID string `json:"admin_user_id"`
	jwt.RegisteredClaims
}

// NewService creates an auth service and, if GRUXI_BOOTSTRAP_PASSWORD is
// set, seeds a first admin account so a fresh deployment is never unusable.
func NewService(cfg *config.Config) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		admins:   make(map[string]*models.AdminUser),
		byName:   make(map[string]*models.AdminUser),
		sessions: make(map[string]*models.AdminSession),
	}
	if cfg.Auth.BootstrapPass != "" {
		if _, err := s.CreateAdmin(cfg.Auth.BootstrapUser, cfg.Auth.BootstrapPass); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateAdmin registers a new admin account.
func (s *Service) CreateAdmin(username, password string) (*models.AdminUser, error) {
	if !utils.IsValidUsername(username) {
		return nil, errors.New("admin username must be 3-32 characters, starting with a letter")
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return nil, errors.New("admin user already exists")
	}

	user := &models.AdminUser{
		ID:           utils.GenerateID("admin"),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	s.admins[user.ID] = user
	s.byName[username] = user
	return user, nil
}

// Login validates credentials and issues a session token.
func (s *Service) Login(username, password string) (string, *models.AdminUser, error) {
	s.mu.RLock()
	user, exists := s.byName[username]
	s.mu.RUnlock()

	if !exists || !utils.CheckPassword(password, user.PasswordHash) {
		return "", nil, errors.New("invalid username or password")
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.Auth.SessionExpiry)

	c := &claims{
		AdminUserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "gruxi",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(s.cfg.Auth.JWTSecret))
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	s.sessions[signed] = &models.AdminSession{
		Token:       signed,
		AdminUserID: user.ID,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}
	s.mu.Unlock()

	return signed, user, nil
}

// Logout invalidates a session token.
func (s *Service) Logout(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[token]; !exists {
		return errors.New("session not found")
	}
	delete(s.sessions, token)
	return nil
}

// ValidateSession checks a bearer token's signature, expiry, and revocation state.
func (s *Service) ValidateSession(token string) (*models.AdminSession, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.Auth.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.New("invalid token")
	}

	s.mu.RLock()
	session, exists := s.sessions[token]
	s.mu.RUnlock()
	if !exists {
		return nil, errors.New("session revoked")
	}
	if time.Now().After(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, errors.New("session expired")
	}
	return session, nil
}
