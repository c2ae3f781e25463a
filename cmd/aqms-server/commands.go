package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aqms/aqms/internal/config"
	"github.com/aqms/aqms/internal/domain/appointment"
	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/internal/platform/db"
	"github.com/aqms/aqms/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					state, at := "pending", ""
					if s.Applied {
						state = "applied"
					}
					if s.AppliedAt != nil {
						at = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
				}
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	ctx := cmd.Context()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrationsFS(cfg)))
}

// migrationsFS prefers MIGRATIONS_DIR over the embedded files.
func migrationsFS(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.FS
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage materialized slots",
	}

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate slots for a clinic over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinicRaw, _ := cmd.Flags().GetString("clinic")
			fromRaw, _ := cmd.Flags().GetString("from")
			toRaw, _ := cmd.Flags().GetString("to")
			mode, _ := cmd.Flags().GetString("mode")

			clinicID, err := uuid.Parse(clinicRaw)
			if err != nil {
				return fmt.Errorf("--clinic must be a UUID: %w", err)
			}
			from, to, err := parseRange(fromRaw, toRaw)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.generator.GenerateRange(ctx, clinicID, from, to, appointment.Mode(mode))
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			})
		},
	}
	gen.Flags().String("clinic", "", "Clinic id")
	gen.Flags().String("from", "", "First date (YYYY-MM-DD)")
	gen.Flags().String("to", "", "Last date (YYYY-MM-DD), defaults to --from")
	gen.Flags().String("mode", string(appointment.ModeSkip), "REPLACE or SKIP")
	_ = gen.MarkFlagRequired("clinic")
	_ = gen.MarkFlagRequired("from")
	cmd.AddCommand(gen)
	return cmd
}

func parseRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from, err := calendar.ParseDate(fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be YYYY-MM-DD")
	}
	if toRaw == "" {
		return from, from, nil
	}
	to, err := calendar.ParseDate(toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must be YYYY-MM-DD")
	}
	return from, to, nil
}

func noShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "noshow",
		Short: "No-show maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Mark bookings that ended without a check-in as NO_SHOW",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.appointments.SweepNoShows(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Marked %d booking(s) as no-show.\n", n)
				return nil
			})
		},
	})
	return cmd
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Logger = newLogger(cfg)
	if cfg.Store == config.StoreMemory {
		log.Warn().Msg("memory store: changes are discarded when the command exits")
	}
	a, err := newApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
