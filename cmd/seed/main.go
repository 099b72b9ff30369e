package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinsched/appointment-engine/internal/appointment"
	"github.com/clinsched/appointment-engine/internal/db"
	"github.com/clinsched/appointment-engine/internal/tenantcfg"
)

var stateCatalog = []struct {
	name        appointment.Status
	description string
}{
	{appointment.StatusPending, "waiting for confirmation"},
	{appointment.StatusConfirmed, "confirmed by the specialist"},
	{appointment.StatusCanceled, "canceled by patient, specialist or sweep"},
	{appointment.StatusAttended, "appointment took place"},
}

var officeDefaults = map[string]string{
	tenantcfg.KeyAppointmentDuration: "45",
	tenantcfg.KeyAutoConfirm:         "0",
	tenantcfg.KeyAutoCancelEnabled:   "1",
	tenantcfg.KeyOfficeTimezone:      "America/La_Paz",
}

var specialtyNames = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("apply schema")
	}

	gofakeit.Seed(time.Now().UnixNano())

	tenantID, err := seedTenant(context.Background(), pool, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed tenant")
	}
	if err := seedSpecialists(context.Background(), pool, tenantID, 25); err != nil {
		log.Fatal().Err(err).Msg("seed specialists")
	}
	if err := seedPatients(context.Background(), pool, tenantID, 2000); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Str("tenant_id", tenantID.String()).Msg("seed complete")
}

// seedTenant creates the demo office with its admin user, state catalog
// and office configuration.
func seedTenant(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) (uuid.UUID, error) {
	tenantID := uuid.New()
	adminID := uuid.New()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tenants (id, name, admin_user_id, created_at)
		VALUES ($1, $2, $3, now())
	`, tenantID, gofakeit.Company()+" Clinic", adminID)
	if err != nil {
		return uuid.Nil, err
	}

	for _, st := range stateCatalog {
		_, err = tx.Exec(ctx, `
			INSERT INTO appointment_states (id, tenant_id, name, description)
			VALUES ($1, $2, $3, $4)
		`, uuid.New(), tenantID, st.name, st.description)
		if err != nil {
			return uuid.Nil, err
		}
	}

	for name, value := range officeDefaults {
		_, err = tx.Exec(ctx, `
			INSERT INTO office_config (tenant_id, name, value)
			VALUES ($1, $2, $3)
		`, tenantID, name, value)
		if err != nil {
			return uuid.Nil, err
		}
	}

	for _, name := range specialtyNames {
		_, err = tx.Exec(ctx, `
			INSERT INTO specialties (id, tenant_id, name)
			VALUES ($1, $2, $3)
		`, uuid.New(), tenantID, name)
		if err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Str("admin_user_id", adminID.String()).
		Msg("tenant seeded")
	return tenantID, nil
}

func seedSpecialists(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, count int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO specialists (id, tenant_id, name, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, uuid.New(), tenantID, "Dr. "+gofakeit.Name(), gofakeit.Phone())
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, tenant_id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), tenantID, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	return nil
}
