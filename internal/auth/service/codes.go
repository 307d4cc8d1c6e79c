package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
)

// DefaultCodeTTL bounds the time between authorization and code redemption.
const DefaultCodeTTL = 5 * time.Minute

// CodeChallenge is the PKCE challenge bound to a code.
type CodeChallenge struct {
	Challenge string
	Method    string
}

// AuthorizationCodeServices issues and redeems single use authorization codes.
type AuthorizationCodeServices struct {
	Codes store.AuthorizationCodes
	TTL   time.Duration
	Now   func() time.Time
}

func (s *AuthorizationCodeServices) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateCode stores auth under a new code and returns the code.
func (s *AuthorizationCodeServices) CreateCode(ctx context.Context, auth domain.OAuth2Authentication, pkce CodeChallenge) (string, error) {
	value, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", err
	}

	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	now := s.now()

	err = s.Codes.CreateCode(ctx, domain.AuthorizationCode{
		Code:                value,
		Authentication:      auth,
		CodeChallenge:       pkce.Challenge,
		CodeChallengeMethod: pkce.Method,
		ExpiresAt:           now.Add(ttl),
		CreatedAt:           now,
	})
	if err != nil {
		return "", fmt.Errorf("store authorization code: %w", err)
	}
	return value, nil
}

// ConsumeCode redeems a code. A code is gone after the first call whether
// or not it was still valid.
func (s *AuthorizationCodeServices) ConsumeCode(ctx context.Context, value string) (domain.AuthorizationCode, error) {
	code, err := s.Codes.ConsumeCode(ctx, value)
	if errors.Is(err, store.ErrNotFound) {
		return domain.AuthorizationCode{}, grantError(ErrInvalidGrant, "invalid authorization code")
	}
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	if code.IsExpired(s.now()) {
		return domain.AuthorizationCode{}, grantError(ErrInvalidGrant, "authorization code expired")
	}
	return code, nil
}
