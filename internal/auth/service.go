package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/wiresync/internal/utils"
)

var (
	// ErrInvalidUsername is returned when a display name doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidToken is returned when a token fails validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Service issues and checks guest tokens.
type Service struct {
	jwtConfig *JWTConfig
	now       func() time.Time
}

// NewService creates a new authentication service.
func NewService(jwtConfig *JWTConfig) *Service {
	return &Service{
		jwtConfig: jwtConfig,
		now:       time.Now,
	}
}

// GuestLogin issues a token for a fresh guest identity. It returns the token and the
// generated user id.
func (s *Service) GuestLogin(userName string) (string, string, error) {
	userName = strings.TrimSpace(userName)
	if len(userName) < 1 || len(userName) > 32 {
		return "", "", ErrInvalidUsername
	}

	userID := "guest_" + utils.NewUUID()
	token, err := GenerateToken(s.jwtConfig, userID, userName, true, s.now())
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	return token, userID, nil
}

// ValidateToken checks a token and returns its claims.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
