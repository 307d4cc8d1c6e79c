package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrUserNotFound is returned by UserDetailsService implementations.
var ErrUserNotFound = errors.New("user not found")

// UserDetails is what a provider needs to know about a principal.
type UserDetails struct {
	Username     string
	PasswordHash string
	Authorities  []string
	Enabled      bool
	Locked       bool
	// OTPSecret enables a TOTP second factor when set.
	OTPSecret string
}

// UserDetailsService loads principals by name.
type UserDetailsService interface {
	LoadUserByUsername(ctx context.Context, username string) (*UserDetails, error)
}

// PasswordEncoder hashes and verifies secrets.
type PasswordEncoder interface {
	Encode(raw string) (string, error)
	Matches(raw, encoded string) bool
}

// Argon2PasswordEncoder uses the peppered argon2id hashes of cryptox.
type Argon2PasswordEncoder struct{}

func (Argon2PasswordEncoder) Encode(raw string) (string, error) {
	return cryptox.HashPassword(raw)
}

func (Argon2PasswordEncoder) Matches(raw, encoded string) bool {
	return cryptox.VerifyPassword(raw, encoded) == nil
}

// DaoAuthenticationProvider verifies username and password credentials
// against a UserDetailsService.
type DaoAuthenticationProvider struct {
	Users   UserDetailsService
	Encoder PasswordEncoder
	// AllowPartial yields a partial authentication instead of
	// ErrOTPRequired when a second factor is due but missing.
	AllowPartial bool
	Now          func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func (p *DaoAuthenticationProvider) Supports(creds Credentials) bool {
	_, ok := creds.(UsernamePasswordCredentials)
	return ok
}

func (p *DaoAuthenticationProvider) encoder() PasswordEncoder {
	if p.Encoder == nil {
		return Argon2PasswordEncoder{}
	}
	return p.Encoder
}

// spendHash keeps unknown-user failures as slow as wrong-password ones.
func (p *DaoAuthenticationProvider) spendHash(raw string) {
	p.dummyOnce.Do(func() {
		p.dummyHash, _ = p.encoder().Encode("unused-password")
	})
	if p.dummyHash != "" {
		p.encoder().Matches(raw, p.dummyHash)
	}
}

func (p *DaoAuthenticationProvider) Authenticate(ctx context.Context, creds Credentials) (*Authentication, error) {
	up, ok := creds.(UsernamePasswordCredentials)
	if !ok {
		return nil, nil
	}
	if up.Username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrBadCredentials)
	}

	user, err := p.Users.LoadUserByUsername(ctx, up.Username)
	if errors.Is(err, ErrUserNotFound) {
		p.spendHash(up.Password)
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if user.Locked {
		return nil, ErrAccountLocked
	}
	if !user.Enabled {
		return nil, ErrAccountDisabled
	}
	if !p.encoder().Matches(up.Password, user.PasswordHash) {
		return nil, ErrBadCredentials
	}

	state := StateFull
	if user.OTPSecret != "" {
		switch {
		case up.OTP == "" && p.AllowPartial:
			state = StatePartial
		case up.OTP == "":
			return nil, ErrOTPRequired
		case !p.validateOTP(up.OTP, user.OTPSecret):
			return nil, fmt.Errorf("%w: invalid one-time password", ErrBadCredentials)
		}
	}

	return &Authentication{
		Principal:   user.Username,
		Authorities: user.Authorities,
		State:       state,
	}, nil
}

func (p *DaoAuthenticationProvider) validateOTP(code, secret string) bool {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	ok, err := totp.ValidateCustom(code, secret, now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// PreAuthenticatedProvider trusts an identity asserted upstream. With Users
// set the principal must exist and be usable, and its stored authorities win.
type PreAuthenticatedProvider struct {
	Users UserDetailsService
}

func (p *PreAuthenticatedProvider) Supports(creds Credentials) bool {
	_, ok := creds.(PreAuthenticatedCredentials)
	return ok
}

func (p *PreAuthenticatedProvider) Authenticate(ctx context.Context, creds Credentials) (*Authentication, error) {
	pre, ok := creds.(PreAuthenticatedCredentials)
	if !ok {
		return nil, nil
	}
	if pre.Principal == "" {
		return nil, fmt.Errorf("%w: no pre-authenticated principal", ErrBadCredentials)
	}
	if p.Users == nil {
		return &Authentication{Principal: pre.Principal, Authorities: pre.Authorities, State: StateFull}, nil
	}

	user, err := p.Users.LoadUserByUsername(ctx, pre.Principal)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Locked {
		return nil, ErrAccountLocked
	}
	if !user.Enabled {
		return nil, ErrAccountDisabled
	}
	return &Authentication{Principal: user.Username, Authorities: user.Authorities, State: StateFull}, nil
}
