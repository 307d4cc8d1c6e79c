package store

import (
	"context"
	"errors"
)

// TokenBackend stores tokens and codes apart from users and clients, e.g. in
// redis so several server instances share them.
type TokenBackend interface {
	Tokens() TokenStore
	AuthorizationCodes() AuthorizationCodes
	Ping(ctx context.Context) error
	Close() error
}

type overlay struct {
	Store
	backend TokenBackend
}

// WithTokenBackend returns a Store that reads and writes tokens and codes
// through backend and everything else through base.
func WithTokenBackend(base Store, backend TokenBackend) Store {
	return &overlay{Store: base, backend: backend}
}

func (o *overlay) Tokens() TokenStore                     { return o.backend.Tokens() }
func (o *overlay) AuthorizationCodes() AuthorizationCodes { return o.backend.AuthorizationCodes() }

func (o *overlay) Ping(ctx context.Context) error {
	if err := o.Store.Ping(ctx); err != nil {
		return err
	}
	return o.backend.Ping(ctx)
}

func (o *overlay) Close() error {
	return errors.Join(o.backend.Close(), o.Store.Close())
}
