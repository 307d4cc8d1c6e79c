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

const codeIndex = "codes"

type codeRecord struct {
	Authentication      domain.OAuth2Authentication `json:"authentication"`
	CodeChallenge       string                      `json:"code_challenge,omitempty"`
	CodeChallengeMethod string                      `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time                   `json:"expires_at"`
	CreatedAt           time.Time                   `json:"created_at"`
}

type codesRepo Backend

func (r *codesRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	body, err := json.Marshal(codeRecord{
		Authentication:      code.Authentication,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		ExpiresAt:           code.ExpiresAt,
		CreatedAt:           code.CreatedAt,
	})
	if err != nil {
		return err
	}

	b := (*Backend)(r)
	key := b.key("code", cryptox.FingerprintToken(code.Code))
	created, err := b.rdb.SetNX(ctx, key, body, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return store.ErrAlreadyExists
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		b.expire(ctx, pipe, codeIndex, key, code.ExpiresAt)
		return nil
	})
	return err
}

// ConsumeCode uses GETDEL so two concurrent redemptions cannot both succeed.
func (r *codesRepo) ConsumeCode(ctx context.Context, value string) (domain.AuthorizationCode, error) {
	b := (*Backend)(r)
	key := b.key("code", cryptox.FingerprintToken(value))
	body, err := b.rdb.GetDel(ctx, key).Bytes()
	if err != nil {
		return domain.AuthorizationCode{}, mapNotFound(err)
	}
	if err := b.rdb.ZRem(ctx, b.key("expiry", codeIndex), key).Err(); err != nil {
		return domain.AuthorizationCode{}, err
	}

	var rec codeRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return domain.AuthorizationCode{}, err
	}
	return domain.AuthorizationCode{
		Code:                value,
		Authentication:      rec.Authentication,
		CodeChallenge:       rec.CodeChallenge,
		CodeChallengeMethod: rec.CodeChallengeMethod,
		ExpiresAt:           rec.ExpiresAt,
		CreatedAt:           rec.CreatedAt,
	}, nil
}

func (r *codesRepo) DeleteExpiredCodes(ctx context.Context, now time.Time) (int, error) {
	return (*Backend)(r).sweep(ctx, codeIndex, now)
}
