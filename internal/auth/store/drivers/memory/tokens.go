package memory

import (
	"context"
	"slices"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
)

type tokensRepo Store

func (r *tokensRepo) StoreAccessToken(_ context.Context, token domain.AccessToken, auth domain.OAuth2Authentication) error {
	rec := accessRecord{token: token, auth: cloneAuth(auth)}
	if token.RefreshToken != nil {
		rec.refresh = cryptox.FingerprintToken(token.RefreshToken.Value)
	}
	rec.token.Value = ""
	rec.token.RefreshToken = nil
	rec.token.Scopes = slices.Clone(token.Scopes)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.access[cryptox.FingerprintToken(token.Value)] = rec
	return nil
}

func (r *tokensRepo) ReadAccessToken(_ context.Context, value string) (domain.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.access[cryptox.FingerprintToken(value)]
	if !ok {
		return domain.AccessToken{}, store.ErrNotFound
	}
	token := rec.token
	token.Value = value
	token.Scopes = slices.Clone(token.Scopes)
	return token, nil
}

func (r *tokensRepo) ReadAuthentication(_ context.Context, value string) (domain.OAuth2Authentication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.access[cryptox.FingerprintToken(value)]
	if !ok {
		return domain.OAuth2Authentication{}, store.ErrNotFound
	}
	return cloneAuth(rec.auth), nil
}

func (r *tokensRepo) RemoveAccessToken(_ context.Context, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.access, cryptox.FingerprintToken(value))
	return nil
}

func (r *tokensRepo) StoreRefreshToken(_ context.Context, token domain.RefreshToken, auth domain.OAuth2Authentication) error {
	fp := cryptox.FingerprintToken(token.Value)
	token.Value = ""

	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh[fp] = refreshRecord{token: token, auth: cloneAuth(auth)}
	return nil
}

func (r *tokensRepo) ReadRefreshToken(_ context.Context, value string) (domain.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.refresh[cryptox.FingerprintToken(value)]
	if !ok {
		return domain.RefreshToken{}, store.ErrNotFound
	}
	token := rec.token
	token.Value = value
	return token, nil
}

func (r *tokensRepo) ReadAuthenticationForRefreshToken(_ context.Context, value string) (domain.OAuth2Authentication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.refresh[cryptox.FingerprintToken(value)]
	if !ok {
		return domain.OAuth2Authentication{}, store.ErrNotFound
	}
	return cloneAuth(rec.auth), nil
}

func (r *tokensRepo) RemoveRefreshToken(_ context.Context, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refresh, cryptox.FingerprintToken(value))
	return nil
}

func (r *tokensRepo) ConsumeRefreshToken(_ context.Context, value string) error {
	fp := cryptox.FingerprintToken(value)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refresh[fp]; !ok {
		return store.ErrNotFound
	}
	delete(r.refresh, fp)
	return nil
}

func (r *tokensRepo) RemoveAccessTokenUsingRefreshToken(_ context.Context, refreshValue string) error {
	fp := cryptox.FingerprintToken(refreshValue)
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rec := range r.access {
		if rec.refresh == fp {
			delete(r.access, key)
		}
	}
	return nil
}

func (r *tokensRepo) RemoveTokensByClientID(_ context.Context, clientID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, rec := range r.access {
		if rec.auth.Request.ClientID == clientID {
			delete(r.access, key)
			n++
		}
	}
	for key, rec := range r.refresh {
		if rec.auth.Request.ClientID == clientID {
			delete(r.refresh, key)
			n++
		}
	}
	return n, nil
}

func (r *tokensRepo) DeleteExpiredTokens(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, rec := range r.access {
		if rec.token.IsExpired(now) {
			delete(r.access, key)
			n++
		}
	}
	for key, rec := range r.refresh {
		if rec.token.IsExpired(now) {
			delete(r.refresh, key)
			n++
		}
	}
	return n, nil
}

func cloneAuth(a domain.OAuth2Authentication) domain.OAuth2Authentication {
	a.Request.Scopes = slices.Clone(a.Request.Scopes)
	a.Request.ResourceIDs = slices.Clone(a.Request.ResourceIDs)
	a.Request.Authorities = slices.Clone(a.Request.Authorities)
	if a.User != nil {
		u := *a.User
		u.Authorities = slices.Clone(u.Authorities)
		a.User = &u
	}
	return a
}
