package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
)

type tokensRepo struct {
	s *Store
}

func (r *tokensRepo) StoreAccessToken(ctx context.Context, token domain.AccessToken, auth domain.OAuth2Authentication) error {
	body, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	var refreshHash string
	if token.RefreshToken != nil {
		refreshHash = cryptox.FingerprintToken(token.RefreshToken.Value)
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO access_tokens
		 (token_hash, refresh_hash, client_id, token_type, scopes, authentication, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cryptox.FingerprintToken(token.Value), refreshHash, auth.Request.ClientID, token.TokenType,
		joinList(token.Scopes), string(body), millis(token.IssuedAt), millis(token.ExpiresAt),
	)
	return err
}

func (r *tokensRepo) ReadAccessToken(ctx context.Context, value string) (domain.AccessToken, error) {
	var (
		token               = domain.AccessToken{Value: value}
		scopes              string
		issuedAt, expiresAt int64
	)
	err := r.s.db.QueryRowContext(ctx,
		`SELECT token_type, scopes, issued_at, expires_at FROM access_tokens WHERE token_hash = ?`,
		cryptox.FingerprintToken(value),
	).Scan(&token.TokenType, &scopes, &issuedAt, &expiresAt)
	if err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}
	token.Scopes = splitAndFilter(scopes)
	token.IssuedAt = fromMillis(issuedAt)
	token.ExpiresAt = fromMillis(expiresAt)
	return token, nil
}

func (r *tokensRepo) readAuthentication(ctx context.Context, query, value string) (domain.OAuth2Authentication, error) {
	var body string
	if err := r.s.db.QueryRowContext(ctx, query, cryptox.FingerprintToken(value)).Scan(&body); err != nil {
		return domain.OAuth2Authentication{}, mapNotFound(err)
	}
	var auth domain.OAuth2Authentication
	if err := json.Unmarshal([]byte(body), &auth); err != nil {
		return domain.OAuth2Authentication{}, err
	}
	return auth, nil
}

func (r *tokensRepo) ReadAuthentication(ctx context.Context, value string) (domain.OAuth2Authentication, error) {
	return r.readAuthentication(ctx, `SELECT authentication FROM access_tokens WHERE token_hash = ?`, value)
}

func (r *tokensRepo) RemoveAccessToken(ctx context.Context, value string) error {
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE token_hash = ?`, cryptox.FingerprintToken(value))
	return err
}

func (r *tokensRepo) StoreRefreshToken(ctx context.Context, token domain.RefreshToken, auth domain.OAuth2Authentication) error {
	body, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO refresh_tokens (token_hash, client_id, authentication, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		cryptox.FingerprintToken(token.Value), auth.Request.ClientID, string(body),
		millis(token.IssuedAt), millis(token.ExpiresAt),
	)
	return err
}

func (r *tokensRepo) ReadRefreshToken(ctx context.Context, value string) (domain.RefreshToken, error) {
	var issuedAt, expiresAt int64
	err := r.s.db.QueryRowContext(ctx,
		`SELECT issued_at, expires_at FROM refresh_tokens WHERE token_hash = ?`,
		cryptox.FingerprintToken(value),
	).Scan(&issuedAt, &expiresAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	return domain.RefreshToken{Value: value, IssuedAt: fromMillis(issuedAt), ExpiresAt: fromMillis(expiresAt)}, nil
}

func (r *tokensRepo) ReadAuthenticationForRefreshToken(ctx context.Context, value string) (domain.OAuth2Authentication, error) {
	return r.readAuthentication(ctx, `SELECT authentication FROM refresh_tokens WHERE token_hash = ?`, value)
}

func (r *tokensRepo) RemoveRefreshToken(ctx context.Context, value string) error {
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = ?`, cryptox.FingerprintToken(value))
	return err
}

func (r *tokensRepo) ConsumeRefreshToken(ctx context.Context, value string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = ?`, cryptox.FingerprintToken(value))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *tokensRepo) RemoveAccessTokenUsingRefreshToken(ctx context.Context, refreshValue string) error {
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE refresh_hash = ?`, cryptox.FingerprintToken(refreshValue))
	return err
}

func (r *tokensRepo) RemoveTokensByClientID(ctx context.Context, clientID string) (int, error) {
	var total int64
	err := r.s.withTx(ctx, func(q DBTX) error {
		for _, query := range []string{
			`DELETE FROM access_tokens WHERE client_id = ?`,
			`DELETE FROM refresh_tokens WHERE client_id = ?`,
		} {
			res, err := q.ExecContext(ctx, query, clientID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return int(total), err
}

func (r *tokensRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	var total int64
	err := r.s.withTx(ctx, func(q DBTX) error {
		for _, query := range []string{
			`DELETE FROM access_tokens WHERE expires_at != 0 AND expires_at <= ?`,
			`DELETE FROM refresh_tokens WHERE expires_at != 0 AND expires_at <= ?`,
		} {
			res, err := q.ExecContext(ctx, query, millis(now))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return int(total), err
}
