package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
	"github.com/hackgods/resource-scheduling-engine/internal/bootstrap"
	"github.com/hackgods/resource-scheduling-engine/internal/config"
	"github.com/hackgods/resource-scheduling-engine/internal/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Administer resource schedules and the waitlist",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(waitlistCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withDeps loads config, opens the backends and runs fn with a signal-aware context.
func withDeps(fn func(ctx context.Context, deps *bootstrap.Deps, logger zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := bootstrap.NewLogger(cfg, "schedctl")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	return fn(ctx, deps, logger)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, deps *bootstrap.Deps, logger zerolog.Logger) error {
				if deps.PgPool == nil {
					return errors.New("migrate requires STORE_BACKEND=postgres")
				}
				if err := db.Migrate(ctx, deps.PgPool); err != nil {
					return err
				}
				logger.Info().Msg("schema applied")
				return nil
			})
		},
	}
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage per-day resource schedules",
	}

	putCmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace a resource schedule for one date",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := scheduleFromFlags(cmd)
			if err != nil {
				return err
			}
			return withDeps(func(ctx context.Context, deps *bootstrap.Deps, _ zerolog.Logger) error {
				if err := deps.Service.PutSchedule(ctx, sched); err != nil {
					return err
				}
				return printJSON(sched)
			})
		},
	}
	putCmd.Flags().String("resource", "", "Resource ID (UUID)")
	putCmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	putCmd.Flags().String("start", "09:00", "Working hours start (HH:MM)")
	putCmd.Flags().String("end", "17:00", "Working hours end (HH:MM)")
	putCmd.Flags().String("break-start", "", "Break start (HH:MM)")
	putCmd.Flags().String("break-end", "", "Break end (HH:MM)")
	putCmd.Flags().Int("slot", 15, "Slot granularity in minutes")
	putCmd.Flags().Int("capacity", 1, "Maximum concurrent appointments")
	putCmd.Flags().Bool("available", true, "Whether the resource accepts bookings that day")
	putCmd.Flags().String("reason", "", "Reason when unavailable")
	putCmd.Flags().String("specialty", "", "Specialty offered")
	putCmd.Flags().String("location", "", "Location")
	putCmd.Flags().String("room", "", "Default room ID (UUID)")
	_ = putCmd.MarkFlagRequired("resource")
	_ = putCmd.MarkFlagRequired("date")
	cmd.AddCommand(putCmd)

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show a resource schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceID, date, err := resourceAndDate(cmd)
			if err != nil {
				return err
			}
			return withDeps(func(ctx context.Context, deps *bootstrap.Deps, _ zerolog.Logger) error {
				sched, err := deps.Service.GetSchedule(ctx, resourceID, date)
				if err != nil {
					return err
				}
				return printJSON(sched)
			})
		},
	}
	getCmd.Flags().String("resource", "", "Resource ID (UUID)")
	getCmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	_ = getCmd.MarkFlagRequired("resource")
	_ = getCmd.MarkFlagRequired("date")
	cmd.AddCommand(getCmd)

	return cmd
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List open slots for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("date")
			date, err := appointment.ParseDate(raw)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
			q := appointment.SlotQuery{Date: date}
			q.Specialty, _ = cmd.Flags().GetString("specialty")
			q.DurationMinutes, _ = cmd.Flags().GetInt("duration")
			if res, _ := cmd.Flags().GetString("resource"); res != "" {
				id, err := uuid.Parse(res)
				if err != nil {
					return fmt.Errorf("invalid --resource: %w", err)
				}
				q.ResourceID = &id
			}

			return withDeps(func(ctx context.Context, deps *bootstrap.Deps, _ zerolog.Logger) error {
				slots, err := deps.Service.Slots().Find(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(slots)
			})
		},
	}
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().String("resource", "", "Restrict to one resource (UUID)")
	cmd.Flags().String("specialty", "", "Restrict to a specialty")
	cmd.Flags().Int("duration", 30, "Appointment length in minutes")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func waitlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waitlist",
		Short: "Run waitlist maintenance",
	}

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Offer open slots of one resource and date to waiting entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceID, date, err := resourceAndDate(cmd)
			if err != nil {
				return err
			}
			return withDeps(func(ctx context.Context, deps *bootstrap.Deps, logger zerolog.Logger) error {
				matches, err := deps.Service.Waitlist().Process(ctx, resourceID, date)
				if err != nil {
					return err
				}
				logger.Info().Int("offers", len(matches)).Msg("waitlist processed")
				return printJSON(matches)
			})
		},
	}
	processCmd.Flags().String("resource", "", "Resource ID (UUID)")
	processCmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	_ = processCmd.MarkFlagRequired("resource")
	_ = processCmd.MarkFlagRequired("date")
	cmd.AddCommand(processCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Expire entries whose preferred dates have all passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, deps *bootstrap.Deps, logger zerolog.Logger) error {
				n, err := deps.Service.Waitlist().Expire(ctx)
				if err != nil {
					return err
				}
				logger.Info().Int("expired", n).Msg("waitlist expired")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rematch",
		Short: "Offer open slots on every upcoming preferred date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, deps *bootstrap.Deps, logger zerolog.Logger) error {
				matches, err := deps.Service.Waitlist().Rematch(ctx)
				if err != nil {
					return err
				}
				logger.Info().Int("offers", len(matches)).Msg("waitlist rematched")
				return printJSON(matches)
			})
		},
	})

	return cmd
}

func scheduleFromFlags(cmd *cobra.Command) (*appointment.ResourceSchedule, error) {
	resourceID, date, err := resourceAndDate(cmd)
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	s := &appointment.ResourceSchedule{ResourceID: resourceID, Date: date}
	s.WorkStart, _ = f.GetString("start")
	s.WorkEnd, _ = f.GetString("end")
	s.BreakStart, _ = f.GetString("break-start")
	s.BreakEnd, _ = f.GetString("break-end")
	s.SlotMinutes, _ = f.GetInt("slot")
	s.MaxConcurrent, _ = f.GetInt("capacity")
	s.Available, _ = f.GetBool("available")
	s.UnavailableReason, _ = f.GetString("reason")
	s.Specialty, _ = f.GetString("specialty")
	s.Location, _ = f.GetString("location")
	if room, _ := f.GetString("room"); room != "" {
		id, err := uuid.Parse(room)
		if err != nil {
			return nil, fmt.Errorf("invalid --room: %w", err)
		}
		s.RoomID = &id
	}
	return s, nil
}

func resourceAndDate(cmd *cobra.Command) (uuid.UUID, time.Time, error) {
	rawID, _ := cmd.Flags().GetString("resource")
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("invalid --resource: %w", err)
	}
	rawDate, _ := cmd.Flags().GetString("date")
	date, err := appointment.ParseDate(rawDate)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("invalid --date: %w", err)
	}
	return id, date, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
