package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
)

const clientColumns = `id, name, secret_hash, scopes, grant_types, redirect_uris, authorities, resource_ids,
	access_token_ttl, refresh_token_ttl, auto_approve, protected, created_at, updated_at`

type clientsRepo struct {
	q   DBTX
	now func() time.Time
}

func scanClient(row interface{ Scan(...any) error }) (domain.Client, error) {
	var (
		c                                                          domain.Client
		secretHash                                                 sql.NullString
		scopes, grantTypes, redirectURIs, authorities, resourceIDs string
		accessTTL, refreshTTL                                      int64
		createdAt, updatedAt                                       int64
	)
	err := row.Scan(&c.ID, &c.Name, &secretHash, &scopes, &grantTypes, &redirectURIs, &authorities, &resourceIDs,
		&accessTTL, &refreshTTL, &c.AutoApprove, &c.Protected, &createdAt, &updatedAt)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	c.SecretHash = mapNullString(secretHash)
	c.Scopes = splitAndFilter(scopes)
	c.GrantTypes = splitAndFilter(grantTypes)
	c.RedirectURIs = splitAndFilter(redirectURIs)
	c.Authorities = splitAndFilter(authorities)
	c.ResourceIDs = splitAndFilter(resourceIDs)
	c.AccessTokenTTL = time.Duration(accessTTL) * time.Second
	c.RefreshTokenTTL = time.Duration(refreshTTL) * time.Second
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	return scanClient(r.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	now := millis(r.now())
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, mapStringNull(c.SecretHash),
		joinList(c.Scopes), joinList(c.GrantTypes), joinList(c.RedirectURIs), joinList(c.Authorities), joinList(c.ResourceIDs),
		int64(c.AccessTokenTTL/time.Second), int64(c.RefreshTokenTTL/time.Second),
		c.AutoApprove, c.Protected, now, now,
	)
	return mapConstraint(err)
}

func (r *clientsRepo) UpdateClientSecretHash(ctx context.Context, clientID, secretHash string) error {
	return expectRow(r.q.ExecContext(ctx,
		`UPDATE clients SET secret_hash = ?, updated_at = ? WHERE id = ?`,
		mapStringNull(secretHash), millis(r.now()), clientID,
	))
}

func (r *clientsRepo) UpdateClientScopes(ctx context.Context, clientID string, scopes []string) error {
	return expectRow(r.q.ExecContext(ctx,
		`UPDATE clients SET scopes = ?, updated_at = ? WHERE id = ?`,
		joinList(scopes), millis(r.now()), clientID,
	))
}

func (r *clientsRepo) DeleteClient(ctx context.Context, clientID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID)
	return err
}

func (r *clientsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
