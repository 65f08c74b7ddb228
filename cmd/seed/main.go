package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/internal/db"
	"github.com/hackgods/panchakarma-booking/internal/directory"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

var centers = []directory.Center{
	{Name: "Ayurveda Wellness Center", Address: "123 Wellness Lane, Connaught Place, New Delhi", City: "Delhi", Phone: "+91 98765 43210",
		Latitude: 28.6324, Longitude: 77.2187, Specialties: []string{"Panchakarma", "Detox"}, Timings: "9 AM - 7 PM", Rating: 4.8, Reviews: 120, Certified: true},
	{Name: "Traditional Ayurveda Clinic", Address: "45 Lotus Rd, Lajpat Nagar, New Delhi", City: "Delhi", Phone: "+91 91234 56789",
		Latitude: 28.5677, Longitude: 77.2421, Specialties: []string{"Herbal Medicine"}, Timings: "10 AM - 8 PM", Rating: 4.7, Reviews: 95, Certified: true},
	{Name: "Panchakarma Healing Sanctuary", Address: "78 Serenity Blvd, Bandra, Mumbai", City: "Mumbai", Phone: "+91 88877 66554",
		Latitude: 19.0596, Longitude: 72.8407, Specialties: []string{"Rejuvenation", "Stress Relief"}, Timings: "8 AM - 6 PM", Rating: 4.9, Reviews: 150, Certified: true},
	{Name: "Vedic Wellness Hyderabad", Address: "Banjara Hills, Road No. 1, Hyderabad", City: "Hyderabad", Phone: "+91 77766 55443",
		Latitude: 17.4124, Longitude: 78.4485, Specialties: []string{"Panchakarma", "Yoga"}, Timings: "7 AM - 5 PM", Rating: 4.9, Reviews: 210, Certified: true},
}

var specialities = []string{
	"Panchakarma",
	"Kayachikitsa",
	"Shalakya Tantra",
	"Rasayana",
	"Manas Roga",
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "seed")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{}, logger)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	centerIDs, err := seedCenters(ctx, pool)
	if err != nil {
		logger.Error("seed centers", "error", err)
		os.Exit(1)
	}
	logger.Info("centers seeded", "count", len(centerIDs))

	doctors, err := seedPractitioners(ctx, pool, faker, centerIDs, 3, cfg.DefaultSlotTimes)
	if err != nil {
		logger.Error("seed practitioners", "error", err)
		os.Exit(1)
	}
	logger.Info("practitioners seeded", "count", len(doctors))

	patients, err := seedProfiles(ctx, pool, faker, auth.RolePatient, 200)
	if err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}
	admins, err := seedProfiles(ctx, pool, faker, auth.RoleAdmin, 1)
	if err != nil {
		logger.Error("seed admin", "error", err)
		os.Exit(1)
	}
	logger.Info("profiles seeded", "patients", len(patients), "admins", len(admins))

	if cfg.AuthJWTSecret != "" {
		printToken(logger, cfg.AuthJWTSecret, patients[0], auth.RolePatient)
		printToken(logger, cfg.AuthJWTSecret, doctors[0], auth.RoleDoctor)
		printToken(logger, cfg.AuthJWTSecret, admins[0], auth.RoleAdmin)
	}
	logger.Info("seed complete")
}

func seedCenters(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	batch := &pgx.Batch{}
	ids := make([]uuid.UUID, len(centers))
	for i, c := range centers {
		ids[i] = uuid.New()
		batch.Queue(`
			INSERT INTO centers (id, name, address, city, phone, latitude, longitude, specialties, timings, rating, reviews, certified)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, ids[i], c.Name, c.Address, c.City, c.Phone, c.Latitude, c.Longitude, c.Specialties, c.Timings, c.Rating, c.Reviews, c.Certified)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedProfiles(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role auth.Role, count int) ([]uuid.UUID, error) {
	const batchSize = 100

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			id := uuid.New()
			ids = append(ids, id)
			batch.Queue(`
				INSERT INTO profiles (id, full_name, role, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, id, faker.Name(), string(role), faker.Email(), "9"+faker.Numerify("#########"))
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// seedPractitioners creates perCenter doctors at every center. Every other
// doctor also practices at the next center so the association is many-to-many.
func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, centerIDs []uuid.UUID, perCenter int, slots []string) ([]uuid.UUID, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ids []uuid.UUID
	for ci, centerID := range centerIDs {
		for range perCenter {
			id := uuid.New()
			name := "Dr. " + faker.Name()
			if _, err := tx.Exec(ctx, `
				INSERT INTO profiles (id, full_name, role, email, phone, created_at, updated_at)
				VALUES ($1, $2, 'doctor', $3, $4, now(), now())
			`, id, name, faker.Email(), "9"+faker.Numerify("#########")); err != nil {
				return nil, err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO practitioners (id, name, speciality, experience_years, rating, slot_times)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, id, name, specialities[faker.Number(0, len(specialities)-1)], faker.Number(3, 30),
				faker.Float64Range(4.0, 5.0), slots); err != nil {
				return nil, err
			}

			links := []uuid.UUID{centerID}
			if len(ids)%2 == 1 && len(centerIDs) > 1 {
				links = append(links, centerIDs[(ci+1)%len(centerIDs)])
			}
			for _, c := range links {
				if _, err := tx.Exec(ctx, `
					INSERT INTO practitioner_centers (practitioner_id, center_id) VALUES ($1, $2)
				`, id, c); err != nil {
					return nil, err
				}
			}
			ids = append(ids, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func printToken(logger *logging.Logger, secret string, id uuid.UUID, role auth.Role) {
	tok, err := auth.IssueToken(secret, auth.Session{UserID: id}, role, 24*time.Hour)
	if err != nil {
		logger.Warn("issue token", "role", role, "error", err)
		return
	}
	logger.Info("sample token", "role", role, "user_id", id, "token", tok)
}
