package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
)

const userColumns = `id, username, password_hash, authorities, enabled, locked, mfa_secret, created_at, updated_at`

type usersRepo struct {
	q   DBTX
	now func() time.Time
}

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u                    domain.User
		authorities          string
		mfaSecret            sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &authorities, &u.Enabled, &u.Locked, &mfaSecret, &createdAt, &updatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.Authorities = splitAndFilter(authorities)
	u.MFASecret = mapNullStringPtr(mfaSecret)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := millis(r.now())
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, joinList(u.Authorities), u.Enabled, u.Locked,
		mapOptionalString(u.MFASecret), now, now,
	)
	return mapConstraint(err)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return expectRow(r.q.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, millis(r.now()), userID,
	))
}

func (r *usersRepo) UpdateUserStatus(ctx context.Context, userID string, enabled, locked bool) error {
	return expectRow(r.q.ExecContext(ctx,
		`UPDATE users SET enabled = ?, locked = ?, updated_at = ? WHERE id = ?`,
		enabled, locked, millis(r.now()), userID,
	))
}

func (r *usersRepo) UpdateMFASecret(ctx context.Context, userID string, secret *string) error {
	return expectRow(r.q.ExecContext(ctx,
		`UPDATE users SET mfa_secret = ?, updated_at = ? WHERE id = ?`,
		mapOptionalString(secret), millis(r.now()), userID,
	))
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	return err
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
