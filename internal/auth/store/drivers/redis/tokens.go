package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	goredis "github.com/redis/go-redis/v9"
)

const tokenIndex = "tokens"

type accessRecord struct {
	TokenType string                      `json:"token_type"`
	Scopes    []string                    `json:"scope,omitempty"`
	IssuedAt  time.Time                   `json:"issued_at"`
	ExpiresAt time.Time                   `json:"expires_at"`
	Refresh   string                      `json:"refresh,omitempty"`
	Auth      domain.OAuth2Authentication `json:"authentication"`
}

type refreshRecord struct {
	IssuedAt  time.Time                   `json:"issued_at"`
	ExpiresAt time.Time                   `json:"expires_at"`
	Auth      domain.OAuth2Authentication `json:"authentication"`
}

type tokensRepo Backend

func (r *tokensRepo) b() *Backend { return (*Backend)(r) }

func (r *tokensRepo) StoreAccessToken(ctx context.Context, token domain.AccessToken, auth domain.OAuth2Authentication) error {
	rec := accessRecord{
		TokenType: token.TokenType,
		Scopes:    token.Scopes,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
		Auth:      auth,
	}
	if token.RefreshToken != nil {
		rec.Refresh = cryptox.FingerprintToken(token.RefreshToken.Value)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	b := r.b()
	key := b.key("access", cryptox.FingerprintToken(token.Value))
	_, err = b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, body, 0)
		b.expire(ctx, pipe, tokenIndex, key, token.ExpiresAt)
		pipe.SAdd(ctx, b.key("client", auth.Request.ClientID), key)
		if rec.Refresh != "" {
			pipe.SAdd(ctx, b.key("refresh_access", rec.Refresh), key)
		}
		return nil
	})
	return err
}

func (r *tokensRepo) readAccess(ctx context.Context, value string) (accessRecord, error) {
	body, err := r.rdb.Get(ctx, r.b().key("access", cryptox.FingerprintToken(value))).Bytes()
	if err != nil {
		return accessRecord{}, mapNotFound(err)
	}
	var rec accessRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return accessRecord{}, err
	}
	return rec, nil
}

func (r *tokensRepo) ReadAccessToken(ctx context.Context, value string) (domain.AccessToken, error) {
	rec, err := r.readAccess(ctx, value)
	if err != nil {
		return domain.AccessToken{}, err
	}
	return domain.AccessToken{
		Value:     value,
		TokenType: rec.TokenType,
		Scopes:    rec.Scopes,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (r *tokensRepo) ReadAuthentication(ctx context.Context, value string) (domain.OAuth2Authentication, error) {
	rec, err := r.readAccess(ctx, value)
	if err != nil {
		return domain.OAuth2Authentication{}, err
	}
	return rec.Auth, nil
}

func (r *tokensRepo) RemoveAccessToken(ctx context.Context, value string) error {
	b := r.b()
	_, err := b.deleteKeys(ctx, tokenIndex, b.key("access", cryptox.FingerprintToken(value)))
	return err
}

func (r *tokensRepo) StoreRefreshToken(ctx context.Context, token domain.RefreshToken, auth domain.OAuth2Authentication) error {
	body, err := json.Marshal(refreshRecord{IssuedAt: token.IssuedAt, ExpiresAt: token.ExpiresAt, Auth: auth})
	if err != nil {
		return err
	}

	b := r.b()
	key := b.key("refresh", cryptox.FingerprintToken(token.Value))
	_, err = b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, body, 0)
		b.expire(ctx, pipe, tokenIndex, key, token.ExpiresAt)
		pipe.SAdd(ctx, b.key("client", auth.Request.ClientID), key)
		return nil
	})
	return err
}

func (r *tokensRepo) readRefresh(ctx context.Context, value string) (refreshRecord, error) {
	body, err := r.rdb.Get(ctx, r.b().key("refresh", cryptox.FingerprintToken(value))).Bytes()
	if err != nil {
		return refreshRecord{}, mapNotFound(err)
	}
	var rec refreshRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return refreshRecord{}, err
	}
	return rec, nil
}

func (r *tokensRepo) ReadRefreshToken(ctx context.Context, value string) (domain.RefreshToken, error) {
	rec, err := r.readRefresh(ctx, value)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	return domain.RefreshToken{Value: value, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt}, nil
}

func (r *tokensRepo) ReadAuthenticationForRefreshToken(ctx context.Context, value string) (domain.OAuth2Authentication, error) {
	rec, err := r.readRefresh(ctx, value)
	if err != nil {
		return domain.OAuth2Authentication{}, err
	}
	return rec.Auth, nil
}

func (r *tokensRepo) RemoveRefreshToken(ctx context.Context, value string) error {
	b := r.b()
	_, err := b.deleteKeys(ctx, tokenIndex, b.key("refresh", cryptox.FingerprintToken(value)))
	return err
}

// ConsumeRefreshToken relies on DEL reporting how many keys it removed; of
// two concurrent calls only one sees a count of one.
func (r *tokensRepo) ConsumeRefreshToken(ctx context.Context, value string) error {
	b := r.b()
	n, err := b.deleteKeys(ctx, tokenIndex, b.key("refresh", cryptox.FingerprintToken(value)))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *tokensRepo) RemoveAccessTokenUsingRefreshToken(ctx context.Context, refreshValue string) error {
	b := r.b()
	index := b.key("refresh_access", cryptox.FingerprintToken(refreshValue))
	keys, err := b.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	if _, err := b.deleteKeys(ctx, tokenIndex, keys...); err != nil {
		return err
	}
	return b.rdb.Del(ctx, index).Err()
}

func (r *tokensRepo) RemoveTokensByClientID(ctx context.Context, clientID string) (int, error) {
	b := r.b()
	index := b.key("client", clientID)
	keys, err := b.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return 0, err
	}
	n, err := b.deleteKeys(ctx, tokenIndex, keys...)
	if err != nil {
		return 0, err
	}
	return n, b.rdb.Del(ctx, index).Err()
}

// DeleteExpiredTokens sweeps the expiry index. Redis usually got there first
// through EXPIREAT; those keys are not counted.
func (r *tokensRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	return r.b().sweep(ctx, tokenIndex, now)
}
