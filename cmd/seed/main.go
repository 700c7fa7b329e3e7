package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/config"
	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/logger"
	"github.com/hackgods/vet-telehealth/internal/slot"
	"github.com/hackgods/vet-telehealth/internal/subscription"
)

const batchSize = 200

var (
	specialties = []string{
		"General Practice",
		"Dermatology",
		"Cardiology",
		"Dentistry",
		"Behavior",
		"Nutrition",
		"Exotics",
		"Surgery",
	}
	species = []string{"dog", "cat", "rabbit", "bird", "ferret"}
	zones   = []string{"America/New_York", "America/Chicago", "America/Los_Angeles", "Europe/London", "Asia/Kolkata"}
)

type seeder struct {
	dir    *appointment.PgRepository
	slots  *slot.PgStore
	ledger *subscription.Ledger
	tx     db.Transactor
	faker  *gofakeit.Faker
	log    zerolog.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, cfg.LogLevel, "seed")
	log.Info().Msg("seed starting")

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	tx := db.NewTxManager(pool)
	s := &seeder{
		dir:    appointment.NewPgRepository(pool),
		slots:  slot.NewPgStore(pool),
		ledger: subscription.NewLedger(subscription.NewPgRepository(pool), tx, cfg.Policy, log),
		tx:     tx,
		faker:  gofakeit.New(time.Now().UnixNano()),
		log:    log,
	}

	vets, err := s.seedVets(ctx, getInt("SEED_VETS", 25))
	if err != nil {
		log.Fatal().Err(err).Msg("seed vets")
	}
	if err := s.seedSlots(ctx, vets, getInt("SEED_DAYS", 14)); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}
	if err := s.seedParents(ctx, getInt("SEED_PARENTS", 1000)); err != nil {
		log.Fatal().Err(err).Msg("seed pet parents")
	}

	log.Info().Msg("seed complete")
}

func (s *seeder) seedVets(ctx context.Context, count int) ([]appointment.Vet, error) {
	s.log.Info().Int("count", count).Msg("seeding vets")

	vets := make([]appointment.Vet, 0, count)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for i := 0; i < count; i++ {
			v, err := s.dir.CreateVet(ctx, appointment.Vet{
				UserID:    uuid.New(),
				Name:      "Dr. " + s.faker.Name(),
				Email:     s.faker.Email(),
				Phone:     s.faker.Phone(),
				Specialty: specialties[s.faker.Number(0, len(specialties)-1)],
			})
			if err != nil {
				return err
			}
			vets = append(vets, *v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("count", len(vets)).Msg("vets seeded")
	return vets, nil
}

// seedSlots gives each vet half-hour slots from 09:00 to 17:00 in one zone.
func (s *seeder) seedSlots(ctx context.Context, vets []appointment.Vet, days int) error {
	start := time.Now().UTC().AddDate(0, 0, 1)
	total := 0

	for _, v := range vets {
		tz := zones[s.faker.Number(0, len(zones)-1)]
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			for d := 0; d < days; d++ {
				date := start.AddDate(0, 0, d).Format("2006-01-02")
				for minute := 9 * 60; minute < 17*60; minute += 30 {
					_, err := s.slots.Create(ctx, slot.Slot{
						ProviderID: v.ID,
						Date:       date,
						StartTime:  clock(minute),
						EndTime:    clock(minute + 30),
						Timezone:   tz,
					})
					if err != nil {
						return err
					}
					total++
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("slots for vet %s: %w", v.ID, err)
		}
	}

	s.log.Info().Int("count", total).Msg("slots seeded")
	return nil
}

// seedParents creates parents with one to three pets. Roughly a third get a
// subscription for the current year.
func (s *seeder) seedParents(ctx context.Context, count int) error {
	s.log.Info().Int("count", count).Msg("seeding pet parents")

	subscribed := 0
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			for i := offset; i < end; i++ {
				p, err := s.dir.CreatePetParent(ctx, appointment.PetParent{
					UserID: uuid.New(),
					Name:   s.faker.Name(),
					Email:  s.faker.Email(),
					Phone:  s.faker.Phone(),
				})
				if err != nil {
					return err
				}
				for n := s.faker.Number(1, 3); n > 0; n-- {
					_, err := s.dir.CreatePet(ctx, appointment.Pet{
						OwnerID: p.ID,
						Name:    s.faker.PetName(),
						Species: species[s.faker.Number(0, len(species)-1)],
						Breed:   s.faker.Animal(),
					})
					if err != nil {
						return err
					}
				}
				if s.faker.Number(0, 2) == 0 {
					_, err := s.ledger.Create(ctx, subscription.CreateInput{
						PetParentID: p.ID,
						ExternalID:  "seed_" + s.faker.LetterN(12),
						StartDate:   time.Now().UTC(),
					})
					if err != nil {
						return err
					}
					subscribed++
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.log.Info().Int("seeded", end).Int("total", count).Msg("pet parents progress")
	}

	s.log.Info().Int("count", count).Int("subscribed", subscribed).Msg("pet parents seeded")
	return nil
}

func clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", (minute/60)%24, minute%60)
}

func getInt(key string, def int) int {
	var n int
	if v := os.Getenv(key); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}
