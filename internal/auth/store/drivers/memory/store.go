// Package memory is the default store: everything lives in maps guarded by
// one RWMutex and is lost on restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
)

type accessRecord struct {
	token   domain.AccessToken
	refresh string // fingerprint of the linked refresh token
	auth    domain.OAuth2Authentication
}

type refreshRecord struct {
	token domain.RefreshToken
	auth  domain.OAuth2Authentication
}

type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	users   map[string]domain.User // by id
	clients map[string]domain.Client
	codes   map[string]domain.AuthorizationCode // by fingerprint
	access  map[string]accessRecord             // by fingerprint
	refresh map[string]refreshRecord            // by fingerprint
	keys    map[string]domain.SigningKey
}

func NewStore() *Store {
	return &Store{
		now:     time.Now,
		users:   make(map[string]domain.User),
		clients: make(map[string]domain.Client),
		codes:   make(map[string]domain.AuthorizationCode),
		access:  make(map[string]accessRecord),
		refresh: make(map[string]refreshRecord),
		keys:    make(map[string]domain.SigningKey),
	}
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.TokenBackend = (*Store)(nil)
)

func (s *Store) Users() store.Users                           { return (*usersRepo)(s) }
func (s *Store) Clients() store.Clients                       { return (*clientsRepo)(s) }
func (s *Store) AuthorizationCodes() store.AuthorizationCodes { return (*codesRepo)(s) }
func (s *Store) Tokens() store.TokenStore                     { return (*tokensRepo)(s) }
func (s *Store) SigningKeys() store.SigningKeys               { return (*signingKeysRepo)(s) }

func (s *Store) ApplyMigrations() error         { return nil }
func (s *Store) Close() error                   { return nil }
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

type usersRepo Store

func (r *usersRepo) GetUserByID(_ context.Context, id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *usersRepo) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return domain.User{}, store.ErrNotFound
}

func (r *usersRepo) CreateUser(_ context.Context, u domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		return store.ErrAlreadyExists
	}
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return store.ErrAlreadyExists
		}
	}
	now := r.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.users[u.ID] = cloneUser(u)
	return nil
}

func (r *usersRepo) update(id string, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = r.now().UTC()
	r.users[id] = u
	return nil
}

func (r *usersRepo) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	return r.update(userID, func(u *domain.User) { u.PasswordHash = newHash })
}

func (r *usersRepo) UpdateUserStatus(_ context.Context, userID string, enabled, locked bool) error {
	return r.update(userID, func(u *domain.User) { u.Enabled, u.Locked = enabled, locked })
}

func (r *usersRepo) UpdateMFASecret(_ context.Context, userID string, secret *string) error {
	return r.update(userID, func(u *domain.User) {
		u.MFASecret = nil
		if secret != nil {
			s := *secret
			u.MFASecret = &s
		}
	})
}

func (r *usersRepo) DeleteUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	return nil
}

func (r *usersRepo) IsEmpty(context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users) == 0, nil
}

type clientsRepo Store

func (r *clientsRepo) GetClientByID(_ context.Context, id string) (domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return domain.Client{}, store.ErrNotFound
	}
	return cloneClient(c), nil
}

func (r *clientsRepo) ListClients(context.Context) ([]domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, cloneClient(c))
	}
	slices.SortFunc(out, func(a, b domain.Client) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *clientsRepo) CreateClient(_ context.Context, c domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID]; ok {
		return store.ErrAlreadyExists
	}
	now := r.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.clients[c.ID] = cloneClient(c)
	return nil
}

func (r *clientsRepo) update(id string, fn func(*domain.Client)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = r.now().UTC()
	r.clients[id] = c
	return nil
}

func (r *clientsRepo) UpdateClientSecretHash(_ context.Context, clientID, secretHash string) error {
	return r.update(clientID, func(c *domain.Client) { c.SecretHash = secretHash })
}

func (r *clientsRepo) UpdateClientScopes(_ context.Context, clientID string, scopes []string) error {
	return r.update(clientID, func(c *domain.Client) { c.Scopes = slices.Clone(scopes) })
}

func (r *clientsRepo) DeleteClient(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
	return nil
}

func (r *clientsRepo) IsEmpty(context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) == 0, nil
}

type codesRepo Store

func (r *codesRepo) CreateCode(_ context.Context, code domain.AuthorizationCode) error {
	fp := cryptox.FingerprintToken(code.Code)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[fp]; ok {
		return store.ErrAlreadyExists
	}
	code.Code = ""
	r.codes[fp] = code
	return nil
}

func (r *codesRepo) ConsumeCode(_ context.Context, value string) (domain.AuthorizationCode, error) {
	fp := cryptox.FingerprintToken(value)
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[fp]
	if !ok {
		return domain.AuthorizationCode{}, store.ErrNotFound
	}
	delete(r.codes, fp)
	code.Code = value
	return code, nil
}

func (r *codesRepo) DeleteExpiredCodes(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for fp, code := range r.codes {
		if code.IsExpired(now) {
			delete(r.codes, fp)
			n++
		}
	}
	return n, nil
}

type signingKeysRepo Store

func (r *signingKeysRepo) CreateSigningKey(_ context.Context, key domain.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key.Kid]; ok {
		return store.ErrAlreadyExists
	}
	key.PrivateKeySealed = slices.Clone(key.PrivateKeySealed)
	r.keys[key.Kid] = key
	return nil
}

func (r *signingKeysRepo) ListSigningKeys(context.Context) ([]domain.SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SigningKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b domain.SigningKey) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Kid, a.Kid)
	})
	return out, nil
}

func (r *signingKeysRepo) RetireSigningKey(_ context.Context, kid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[kid]
	if !ok {
		return store.ErrNotFound
	}
	k.RetiredAt = &at
	r.keys[kid] = k
	return nil
}

func (r *signingKeysRepo) DeleteRetiredSigningKeys(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for kid, k := range r.keys {
		if k.RetiredAt != nil && k.RetiredAt.Before(cutoff) {
			delete(r.keys, kid)
			n++
		}
	}
	return n, nil
}

func cloneUser(u domain.User) domain.User {
	u.Authorities = slices.Clone(u.Authorities)
	if u.MFASecret != nil {
		s := *u.MFASecret
		u.MFASecret = &s
	}
	return u
}

func cloneClient(c domain.Client) domain.Client {
	c.Scopes = slices.Clone(c.Scopes)
	c.GrantTypes = slices.Clone(c.GrantTypes)
	c.RedirectURIs = slices.Clone(c.RedirectURIs)
	c.Authorities = slices.Clone(c.Authorities)
	c.ResourceIDs = slices.Clone(c.ResourceIDs)
	return c
}
