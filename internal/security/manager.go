package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// AuthenticationManager turns credentials into an authentication.
type AuthenticationManager interface {
	Authenticate(ctx context.Context, creds Credentials) (*Authentication, error)
}

// AuthenticationProvider verifies one kind of credentials. Returning a nil
// authentication and a nil error abstains.
type AuthenticationProvider interface {
	Supports(creds Credentials) bool
	Authenticate(ctx context.Context, creds Credentials) (*Authentication, error)
}

// ProviderManager asks its providers in order. The first one that supports
// the credentials and answers decides.
type ProviderManager struct {
	providers []AuthenticationProvider
}

func NewProviderManager(providers ...AuthenticationProvider) *ProviderManager {
	return &ProviderManager{providers: providers}
}

func (m *ProviderManager) Authenticate(ctx context.Context, creds Credentials) (*Authentication, error) {
	for _, p := range m.providers {
		if !p.Supports(creds) {
			continue
		}
		auth, err := p.Authenticate(ctx, creds)
		if err != nil {
			return nil, err
		}
		if auth != nil {
			return auth, nil
		}
	}
	return nil, fmt.Errorf("%w: %T", ErrProviderNotFound, creds)
}

// ManagerFunc adapts a function to AuthenticationManager.
type ManagerFunc func(ctx context.Context, creds Credentials) (*Authentication, error)

func (f ManagerFunc) Authenticate(ctx context.Context, creds Credentials) (*Authentication, error) {
	return f(ctx, creds)
}

type managerRef struct {
	AuthenticationManager
}

// LazyManager builds its delegate on first use. Concurrent first calls
// build once; a failed build is retried by the next call.
type LazyManager struct {
	build func() (AuthenticationManager, error)

	mu       sync.Mutex
	delegate atomic.Pointer[managerRef]
}

func NewLazyManager(build func() (AuthenticationManager, error)) *LazyManager {
	return &LazyManager{build: build}
}

func (l *LazyManager) resolve() (AuthenticationManager, error) {
	if ref := l.delegate.Load(); ref != nil {
		return ref.AuthenticationManager, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ref := l.delegate.Load(); ref != nil {
		return ref.AuthenticationManager, nil
	}
	m, err := l.build()
	if err != nil {
		return nil, fmt.Errorf("%w: build authentication manager: %w", ErrConfiguration, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: authentication manager builder returned nil", ErrConfiguration)
	}
	l.delegate.Store(&managerRef{m})
	return m, nil
}

func (l *LazyManager) Authenticate(ctx context.Context, creds Credentials) (*Authentication, error) {
	m, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return m.Authenticate(ctx, creds)
}

// Init builds the delegate now so that a broken builder fails startup
// rather than the first login.
func (l *LazyManager) Init() error {
	_, err := l.resolve()
	return err
}

// Built reports whether the delegate exists yet.
func (l *LazyManager) Built() bool {
	return l.delegate.Load() != nil
}

// failureMessage gives the error code used on redirects and logs.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrOTPRequired):
		return "otp_required"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrBadCredentials), errors.Is(err, ErrProviderNotFound):
		return "bad_credentials"
	default:
		return "authentication_failed"
	}
}
