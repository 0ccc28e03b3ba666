package main

//go:generate swag init --dir ../../ --generalInfo cmd/api/main.go --output ../../api/swagger --parseInternal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"snapclaim/internal/database"
	"snapclaim/internal/events"
	"snapclaim/pkg/config"
	"snapclaim/pkg/logger"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// @title           SnapClaim API
// @version         1.0
// @description     Invoice assignment, delivery routes and photo reconciliation for logistics teams.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every command needs once configuration has loaded.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "snapclaim",
		Short:         "SnapClaim logistics API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			a.log = logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			a.log.Info().Msg("schema migrated")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Seed roles, permissions and the first administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.seed(cmd.Context())
		},
	})

	return cmd
}

func (a *app) openDB() (*gorm.DB, error) {
	db, err := database.NewConnection(a.cfg.DB.ConnectionString(), a.log.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}

func (a *app) seed(ctx context.Context) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	deps, err := a.build(db, events.Nop{})
	if err != nil {
		return err
	}
	defer deps.close()

	if err := deps.roleService.SeedDefaultRolesAndPermissions(ctx); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	a.log.Info().Msg("roles and permissions seeded")

	if a.cfg.Seed.AdminPassword == "" {
		a.log.Warn().Msg("SEED_ADMIN_PASSWORD not set, skipping administrator")
		return nil
	}
	created, err := deps.userService.EnsureAdmin(ctx, adminRequest(a.cfg.Seed))
	if err != nil {
		return fmt.Errorf("seed administrator: %w", err)
	}
	a.log.Info().Bool("created", created).Str("email", a.cfg.Seed.AdminEmail).Msg("administrator ensured")
	return nil
}
