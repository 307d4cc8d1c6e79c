package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
)

type signingKeysRepo struct {
	q DBTX
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	var retiredAt sql.NullInt64
	if key.RetiredAt != nil {
		retiredAt = sql.NullInt64{Int64: millis(*key.RetiredAt), Valid: true}
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO signing_keys (kid, algorithm, private_key_sealed, created_at, retired_at) VALUES (?, ?, ?, ?, ?)`,
		key.Kid, key.Algorithm, key.PrivateKeySealed, millis(key.CreatedAt), retiredAt,
	)
	return mapConstraint(err)
}

func (r *signingKeysRepo) ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT kid, algorithm, private_key_sealed, created_at, retired_at FROM signing_keys
		 ORDER BY created_at DESC, kid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		var (
			key       domain.SigningKey
			createdAt int64
			retiredAt sql.NullInt64
		)
		if err := rows.Scan(&key.Kid, &key.Algorithm, &key.PrivateKeySealed, &createdAt, &retiredAt); err != nil {
			return nil, err
		}
		key.CreatedAt = fromMillis(createdAt)
		key.RetiredAt = mapNullTimePtr(retiredAt)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string, at time.Time) error {
	return expectRow(r.q.ExecContext(ctx, `UPDATE signing_keys SET retired_at = ? WHERE kid = ?`, millis(at), kid))
}

func (r *signingKeysRepo) DeleteRetiredSigningKeys(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM signing_keys WHERE retired_at IS NOT NULL AND retired_at < ?`, millis(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
