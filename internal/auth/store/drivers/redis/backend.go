// Package redis keeps tokens and authorization codes in redis so several
// server instances can share them. Users, clients and signing keys stay in
// the primary store; see store.WithTokenBackend.
//
// Layout under the key prefix:
//
//	access:<fp>          JSON access token record, EXPIREAT its expiry
//	refresh:<fp>         JSON refresh token record
//	refresh_access:<fp>  set of access keys issued with a refresh token
//	client:<id>          set of token keys issued to a client
//	code:<fp>            JSON authorization code
//	expiry:tokens        zset of token keys scored by expiry (unix ms)
//	expiry:codes         zset of code keys scored by expiry (unix ms)
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/store"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the backend.
const DefaultPrefix = "bastion:"

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type Backend struct {
	rdb    goredis.UniversalClient
	prefix string
}

// New connects to a single redis server.
func New(opts Options) *Backend {
	return NewBackend(goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), opts.Prefix)
}

// NewBackend wraps an existing client. An empty prefix uses DefaultPrefix.
func NewBackend(rdb goredis.UniversalClient, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{rdb: rdb, prefix: prefix}
}

var _ store.TokenBackend = (*Backend)(nil)

func (b *Backend) Tokens() store.TokenStore                     { return (*tokensRepo)(b) }
func (b *Backend) AuthorizationCodes() store.AuthorizationCodes { return (*codesRepo)(b) }

func (b *Backend) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }
func (b *Backend) Close() error                   { return b.rdb.Close() }

func (b *Backend) key(kind, id string) string {
	return b.prefix + kind + ":" + id
}

func mapNotFound(err error) error {
	if errors.Is(err, goredis.Nil) {
		return store.ErrNotFound
	}
	return err
}

// expire schedules key for removal at t, both by redis itself and by the
// housekeeping sweep over the expiry index.
func (b *Backend) expire(ctx context.Context, pipe goredis.Pipeliner, index, key string, t time.Time) {
	if t.IsZero() {
		return
	}
	pipe.ExpireAt(ctx, key, t)
	pipe.ZAdd(ctx, b.key("expiry", index), goredis.Z{Score: float64(t.UnixMilli()), Member: key})
}

// deleteKeys removes keys and their expiry entries and reports how many
// keys still existed.
func (b *Backend) deleteKeys(ctx context.Context, index string, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}

	var del *goredis.IntCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, b.key("expiry", index), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(del.Val()), nil
}

// sweep deletes every key of index that expires at or before now.
func (b *Backend) sweep(ctx context.Context, index string, now time.Time) (int, error) {
	keys, err := b.rdb.ZRangeByScore(ctx, b.key("expiry", index), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	return b.deleteKeys(ctx, index, keys...)
}
