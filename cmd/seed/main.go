package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/appointment-lifecycle-engine/internal/db"
	"github.com/hackgods/appointment-lifecycle-engine/internal/seeddata"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 4})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(context.Background(), pool, faker, envInt("SEED_DOCTORS", 50)); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, faker, envInt("SEED_PATIENTS", 2000)); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		if err := printSampleTokens(context.Background(), pool, secret); err != nil {
			log.Printf("sample tokens skipped: %v", err)
		}
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, d := range seeddata.Doctors(faker, count, time.Now().UTC()) {
		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, email, phone, specialization, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, d.ID, d.Name, d.Email, d.Phone, d.Specialization, d.Active, d.CreatedAt)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

// seedPatients streams rows with COPY in batches; one batch failing leaves earlier ones in place.
func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500
	columns := []string{"id", "name", "email", "phone", "created_at", "updated_at"}

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := seeddata.Patients(faker, end-offset, time.Now().UTC())
		rows := make([][]any, 0, len(batch))
		for _, p := range batch {
			rows = append(rows, []any{p.ID, p.Name, p.Email, p.Phone, p.CreatedAt, p.UpdatedAt})
		}

		n, err := pool.CopyFrom(ctx, pgx.Identifier{"patients"}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy patients %d-%d: %w", offset, end, err)
		}

		log.Printf("patients seeded: %d/%d (batch %d)", end, count, n)
	}

	return nil
}

func printSampleTokens(ctx context.Context, pool *pgxpool.Pool, secret string) error {
	var doctorID, patientID uuid.UUID
	if err := pool.QueryRow(ctx, `SELECT id FROM doctors WHERE active ORDER BY created_at LIMIT 1`).Scan(&doctorID); err != nil {
		return fmt.Errorf("pick doctor: %w", err)
	}
	if err := pool.QueryRow(ctx, `SELECT id FROM patients ORDER BY created_at LIMIT 1`).Scan(&patientID); err != nil {
		return fmt.Errorf("pick patient: %w", err)
	}
	return seeddata.LogSampleTokens(secret, doctorID, patientID)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
