package domain

import "time"

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "bearer"

// AccessToken is an issued access token. Value is only known at issuance
// and to callers presenting the token; stores keep a fingerprint.
type AccessToken struct {
	Value     string
	TokenType string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// RefreshToken is set when one was issued or reused alongside.
	RefreshToken *RefreshToken
}

// IsExpired reports whether the token is expired at now.
func (t AccessToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// ExpiresIn is the remaining lifetime in whole seconds.
func (t AccessToken) ExpiresIn(now time.Time) int64 {
	if t.ExpiresAt.IsZero() {
		return 0
	}
	return max(int64(t.ExpiresAt.Sub(now).Seconds()), 0)
}

// RefreshToken is an issued refresh token. A zero ExpiresAt never expires.
type RefreshToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}
