package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgDirectory resolves patient/specialist/specialty references and the
// tenant's administrative user against the shared database.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) PatientExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	return d.exists(ctx, "patients", tenantID, id)
}

func (d *PgDirectory) SpecialistExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	return d.exists(ctx, "specialists", tenantID, id)
}

func (d *PgDirectory) SpecialtyExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	return d.exists(ctx, "specialties", tenantID, id)
}

func (d *PgDirectory) AdminUser(ctx context.Context, tenantID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := d.pool.QueryRow(ctx, `
		SELECT admin_user_id
		FROM tenants
		WHERE id = $1 AND admin_user_id IS NOT NULL
	`, tenantID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrAdminNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (d *PgDirectory) exists(ctx context.Context, table string, tenantID, id uuid.UUID) (bool, error) {
	var found bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE tenant_id = $1 AND id = $2)`,
		tenantID, id).Scan(&found)
	if err != nil {
		return false, err
	}
	return found, nil
}
