package tenantcfg

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGReader reads office_config rows. It deliberately carries no cache: each
// call sees the current stored value, matching the rest of the engine's
// fresh-read policy.
type PGReader struct {
	pool *pgxpool.Pool
}

func NewPGReader(pool *pgxpool.Pool) *PGReader {
	return &PGReader{pool: pool}
}

func (r *PGReader) Get(ctx context.Context, tenantID uuid.UUID, name string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `
		SELECT value
		FROM office_config
		WHERE tenant_id = $1 AND name = $2
	`, tenantID, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}
