package domain

import "time"

// AuthorizationCode is a one-time code issued by the authorize endpoint.
// Code holds the raw value at issuance only.
type AuthorizationCode struct {
	Code                string
	Authentication      OAuth2Authentication
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

func (c AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
