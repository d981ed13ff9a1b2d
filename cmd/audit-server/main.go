package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/audit/internal/config"
	"github.com/ehr/audit/internal/domain/audit"
	"github.com/ehr/audit/internal/platform/auth"
	"github.com/ehr/audit/internal/platform/db"
	"github.com/ehr/audit/internal/platform/middleware"
)

// violationRecorder adapts the audit service to the auth.ViolationRecorder
// interface, avoiding an import cycle between the auth and audit packages.
type violationRecorder struct {
	svc *audit.Service
}

func (r *violationRecorder) RecordViolation(ctx context.Context, v auth.Violation) {
	r.svc.Log(ctx, audit.Entry{
		OrgID:        v.OrgID,
		ActorUserID:  v.UserID,
		Action:       audit.ActionOrgIsolation,
		TargetType:   "Organization",
		TargetID:     v.RequestedOrgID,
		TargetName:   v.RequestedOrgID,
		Category:     audit.CategorySecurity,
		Status:       audit.StatusFailure,
		ErrorMessage: "cross-tenant access denied",
		Metadata: map[string]interface{}{
			"method":           v.Method,
			"path":             v.Path,
			"requested_org_id": v.RequestedOrgID,
		},
		IPAddress: v.IPAddress,
		UserAgent: v.UserAgent,
		SessionID: v.SessionID,
		RequestID: v.RequestID,
		Bypass:    true,
	})
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "audit-server",
		Short: "Multi-tenant audit logging API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(retentionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the audit API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied " + s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%3d %-40s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	})

	return cmd
}

func retentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Retention policy maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete events past each org-category's retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := newAuditService(pool, logger)
			removed, err := svc.SweepRetention(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d event(s)\n", removed)
			return nil
		},
	})

	return cmd
}

func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, cfg.MigrationsDir))
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return nil, logger, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("validate config: %w", err)
	}
	return cfg, logger, nil
}

func newAuditService(pool *pgxpool.Pool, logger zerolog.Logger) *audit.Service {
	repo := audit.NewRepoPG(pool)
	cache := audit.NewSettingsCache(repo, audit.SettingsTTL, nil)
	runTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, pool, fn)
	}
	return audit.NewService(repo, repo, cache, runTx, logger)
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	svc := newAuditService(pool, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	e.Use(audit.Middleware(svc, logger, cfg.AuditSkipPaths...))

	e.GET("/health", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "down"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	guarded := e.Group("", auth.RequireOrgContext(logger, []byte(cfg.AuthSigningKey), &violationRecorder{svc: svc}))
	audit.NewHandler(svc, logger).RegisterRoutes(guarded)

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("port", cfg.Port).Msg("starting audit server")
	if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}
