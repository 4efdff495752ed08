package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicbase/scheduling/internal/db"
	"github.com/clinicbase/scheduling/internal/scheduling"
)

// Replaces the old migration-hook bootstrap: run explicitly at deploy
// time, safe to run repeatedly. --doctors/--patients add a fake roster
// on top of the baseline specialties.
func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "seed").Logger()

	doctorCount := flag.Int("doctors", 0, "number of fake doctors to create")
	patientCount := flag.Int("patients", 0, "number of fake patients to create")
	flag.Parse()

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

	gofakeit.Seed(time.Now().UnixNano())

	if err := bootstrapSpecialties(context.Background(), pool, log); err != nil {
		log.Fatal().Err(err).Msg("bootstrap specialties")
	}

	if *doctorCount > 0 {
		if err := seedDoctors(context.Background(), pool, log, *doctorCount); err != nil {
			log.Fatal().Err(err).Msg("seed doctors")
		}
	}
	if *patientCount > 0 {
		if err := seedPatients(context.Background(), pool, log, *patientCount); err != nil {
			log.Fatal().Err(err).Msg("seed patients")
		}
	}

	log.Info().Msg("seed complete")
}

var baselineSpecialties = []string{
	"Clínica Geral",
	"Cardiologia",
	"Dermatologia",
	"Endocrinologia",
	"Neurologia",
	"Ortopedia",
	"Pediatria",
	"Psiquiatria",
	"Oftalmologia",
	"Otorrinolaringologia",
}

// bootstrapSpecialties upserts the clinic's specialty list by name.
func bootstrapSpecialties(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, name := range baselineSpecialties {
		_, err := tx.Exec(ctx, `
			INSERT INTO specialties (id, name)
			VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
		`, uuid.New(), name)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("count", len(baselineSpecialties)).Msg("specialties bootstrapped")
	return nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) error {
	log.Info().Int("count", count).Msg("seeding doctors")

	rows, err := pool.Query(ctx, `SELECT id FROM specialties`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var specialtyIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		specialtyIDs = append(specialtyIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()

		var specialtyID *uuid.UUID
		if len(specialtyIDs) > 0 {
			specialtyID = &specialtyIDs[gofakeit.Number(0, len(specialtyIDs)-1)]
		}

		// Roughly a third keep the clinic default window.
		var workStart, workEnd *int
		if gofakeit.Number(0, 2) > 0 {
			ws := scheduling.DefaultWorkStart + 60*gofakeit.Number(-1, 2)
			we := ws + 60*gofakeit.Number(4, 8)
			workStart, workEnd = &ws, &we
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, full_name, specialty_id, work_start, work_end, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, id, name, specialtyID, workStart, workEnd)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

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
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, full_name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded batch")
	}

	log.Info().Msg("patients seeded")
	return nil
}
