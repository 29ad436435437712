package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fhir-core/server/internal/bundleproc"
	"github.com/fhir-core/server/internal/config"
	"github.com/fhir-core/server/internal/guard"
	"github.com/fhir-core/server/internal/httpapi"
	"github.com/fhir-core/server/internal/platform/db"
	"github.com/fhir-core/server/internal/platform/middleware"
	"github.com/fhir-core/server/internal/platform/notifier"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/searchengine"
	"github.com/fhir-core/server/internal/service"
	"github.com/fhir-core/server/internal/store"
	"github.com/fhir-core/server/internal/tenant"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhir-server",
		Short: "Multi-tenant FHIR R4B/R5 server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations against the server's shared schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or hand-write a compensating migration instead.")
			return nil
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Insert a new tenant row",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			internalID, _ := cmd.Flags().GetString("internal-id")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if internalID == "" {
				return fmt.Errorf("--internal-id is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			tenantStore := tenant.NewPGStore(pool)
			t := tenant.Tenant{
				ExternalID: uuid.New(),
				InternalID: internalID,
				Name:       name,
				Enabled:    true,
			}
			if err := tenantStore.Create(ctx, t); err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}

			fmt.Printf("Tenant created. externalId=%s internalId=%s\n", t.ExternalID, t.InternalID)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant display name")
	createCmd.Flags().String("internal-id", "", "Short internal identifier used to scope stored rows")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg, err := registry.Load(cfg.ConfigBasePath, cfg.RegistryConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load resource registry")
	}

	g := guard.New(reg)
	st := store.NewPGStore()
	engine := searchengine.New(reg)
	svc := service.New(reg, g, st, engine, nil, time.Now)
	proc := bundleproc.New(reg, svc)

	tenantStore := tenant.NewPGStore(pool)
	resolver := tenant.NewResolver(tenantStore, cfg.TenantEnabled, cfg.TenantDefaultID)
	if cfg.TenantCacheTTLSecs > 0 {
		resolver.SetTTL(time.Duration(cfg.TenantCacheTTLSecs) * time.Second)
	}

	hub := notifier.NewHub()

	e := httpapi.NewRouter(httpapi.Deps{
		Registry:                 reg,
		Tenant:                   resolver,
		Service:                  svc,
		Bundle:                   proc,
		Pool:                     pool,
		Logger:                   logger,
		Notifier:                 hub,
		ServerBasePath:           cfg.ServerBasePath,
		TenantHeaderName:         cfg.TenantHeaderName,
		ServerDescription:        "Multi-tenant FHIR R4B/R5 server",
		CORSOrigins:              cfg.CORSOrigins,
		RateLimitEnabled:         cfg.RateLimitRPS > 0,
		RateLimit:                middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst},
		FailOnUnknownSearchParam: cfg.ValidationFailOnUnknownSearch,
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var serveErr error
		if cfg.TLSEnabled {
			serveErr = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			serveErr = e.Start(addr)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatal().Err(serveErr).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
