package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
	"github.com/hackgods/resource-scheduling-engine/internal/bootstrap"
	"github.com/hackgods/resource-scheduling-engine/internal/config"
	"github.com/hackgods/resource-scheduling-engine/internal/db"
)

const (
	resourceCount = 40
	scheduleDays  = 14
	waitlistCount = 200
)

var specialties = []string{
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
	cfg, err := config.Load()
	if err != nil {
		fallback := bootstrap.NewLogger(config.Config{}, "seed")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := bootstrap.NewLogger(cfg, "seed")
	logger.Info().Msg("seed starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("dependency setup error")
	}
	defer deps.Close()

	if deps.PgPool != nil {
		if err := db.Migrate(ctx, deps.PgPool); err != nil {
			logger.Fatal().Err(err).Msg("schema migration error")
		}
	}

	faker := gofakeit.New(0)
	start := appointment.DateOf(time.Now()).AddDate(0, 0, 1)

	resources, err := seedSchedules(ctx, deps.Service, faker, start, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed schedules")
	}
	if err := seedWaitlist(ctx, deps.Service, faker, resources, start, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed waitlist")
	}

	logger.Info().Msg("seed complete")
}

func seedSchedules(ctx context.Context, svc *appointment.Service, faker *gofakeit.Faker, start time.Time, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("resources", resourceCount).Int("days", scheduleDays).Msg("seeding resource schedules")

	resources := make([]uuid.UUID, 0, resourceCount)
	for i := 0; i < resourceCount; i++ {
		id := uuid.New()
		resources = append(resources, id)

		spec := faker.RandomString(specialties)
		location := faker.City() + " Clinic"
		room := uuid.New()
		openHour := faker.Number(7, 9)
		closeHour := faker.Number(16, 18)

		for day := 0; day < scheduleDays; day++ {
			date := start.AddDate(0, 0, day)
			sched := &appointment.ResourceSchedule{
				ResourceID:    id,
				Date:          date,
				WorkStart:     fmt.Sprintf("%02d:00", openHour),
				WorkEnd:       fmt.Sprintf("%02d:00", closeHour),
				BreakStart:    "12:00",
				BreakEnd:      "13:00",
				SlotMinutes:   faker.RandomInt([]int{15, 20, 30}),
				MaxConcurrent: 1,
				Available:     date.Weekday() != time.Sunday && faker.Float64() > 0.05,
				Specialty:     spec,
				Location:      location,
				RoomID:        &room,
			}
			if !sched.Available {
				sched.UnavailableReason = faker.RandomString([]string{"leave", "training", "public holiday"})
			}
			if err := svc.PutSchedule(ctx, sched); err != nil {
				return nil, fmt.Errorf("resource %s on %s: %w", id, date.Format(appointment.DateLayout), err)
			}
		}
	}

	logger.Info().Msg("resource schedules seeded")
	return resources, nil
}

func seedWaitlist(ctx context.Context, svc *appointment.Service, faker *gofakeit.Faker, resources []uuid.UUID, start time.Time, logger zerolog.Logger) error {
	logger.Info().Int("entries", waitlistCount).Msg("seeding waitlist")

	for i := 0; i < waitlistCount; i++ {
		entry := &appointment.WaitlistEntry{
			SubjectID:     uuid.New(),
			PriorityScore: faker.Number(1, 10),
			Notes:         "referred by " + faker.Name(),
		}
		if faker.Bool() {
			res := resources[faker.Number(0, len(resources)-1)]
			entry.ResourceID = &res
		}
		for n := faker.Number(1, 3); n > 0; n-- {
			entry.PreferredDates = append(entry.PreferredDates, start.AddDate(0, 0, faker.Number(0, scheduleDays-1)))
		}
		if faker.Bool() {
			entry.PreferredTimes = []string{fmt.Sprintf("%02d:00", faker.Number(9, 16))}
		}
		if err := svc.Waitlist().Enqueue(ctx, entry); err != nil {
			return fmt.Errorf("waitlist entry %d: %w", i, err)
		}
	}

	logger.Info().Msg("waitlist seeded")
	return nil
}
