package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
)

type codesRepo struct {
	q DBTX
}

func (r *codesRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	auth, err := json.Marshal(code.Authentication)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO authorization_codes
		 (code_hash, client_id, authentication, code_challenge, code_challenge_method, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cryptox.FingerprintToken(code.Code), code.Authentication.Request.ClientID, string(auth),
		code.CodeChallenge, code.CodeChallengeMethod, millis(code.ExpiresAt), millis(code.CreatedAt),
	)
	return mapConstraint(err)
}

// ConsumeCode deletes and returns the row in one statement.
func (r *codesRepo) ConsumeCode(ctx context.Context, value string) (domain.AuthorizationCode, error) {
	var (
		code                 = domain.AuthorizationCode{Code: value}
		auth                 string
		expiresAt, createdAt int64
	)
	err := r.q.QueryRowContext(ctx,
		`DELETE FROM authorization_codes WHERE code_hash = ?
		 RETURNING authentication, code_challenge, code_challenge_method, expires_at, created_at`,
		cryptox.FingerprintToken(value),
	).Scan(&auth, &code.CodeChallenge, &code.CodeChallengeMethod, &expiresAt, &createdAt)
	if err != nil {
		return domain.AuthorizationCode{}, mapNotFound(err)
	}
	if err := json.Unmarshal([]byte(auth), &code.Authentication); err != nil {
		return domain.AuthorizationCode{}, err
	}
	code.ExpiresAt = fromMillis(expiresAt)
	code.CreatedAt = fromMillis(createdAt)
	return code, nil
}

func (r *codesRepo) DeleteExpiredCodes(ctx context.Context, now time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM authorization_codes WHERE expires_at <= ?`, millis(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
