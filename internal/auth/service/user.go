package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/aussiebroadwan/bastion/pkg/idx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

var (
	ErrUsernameTaken   = errors.New("username already taken")
	ErrInvalidUsername = errors.New("username must be 3-32 characters of letters, digits, _ or -")
	ErrInvalidPassword = errors.New("password must be 8-128 characters")
)

// RoleUser and RoleAdmin are the authorities handed out by this server.
const (
	RoleUser  = security.RolePrefix + "USER"
	RoleAdmin = security.RolePrefix + "ADMIN"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

type UserService struct {
	Users store.Users
}

// ValidateCredentials checks the shape of a new username and password.
func ValidateCredentials(username, password string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	if n := len(password); n < 8 || n > 128 {
		return ErrInvalidPassword
	}
	return nil
}

// CreateUser registers an enabled user. Authorities default to ROLE_USER.
func (s *UserService) CreateUser(ctx context.Context, username, password string, authorities ...string) (domain.User, error) {
	l := slogx.FromContext(ctx)

	if err := ValidateCredentials(username, password); err != nil {
		return domain.User{}, err
	}
	if len(authorities) == 0 {
		authorities = []string{RoleUser}
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		PasswordHash: hash,
		Authorities:  authorities,
		Enabled:      true,
	}
	if err := s.Users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrUsernameTaken
		}
		l.Error("failed to create user", slog.Any("error", err))
		return domain.User{}, err
	}

	l.Info("user created", slog.String("user_id", u.ID), slog.String("username", username))
	return u, nil
}

// GetUserByUsername fetches a user by name.
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.Users.GetUserByUsername(ctx, username)
}
