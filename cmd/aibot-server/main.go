package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/aibot/internal/analysis"
	"github.com/ehr/aibot/internal/config"
	"github.com/ehr/aibot/internal/emr"
	"github.com/ehr/aibot/internal/platform/auth"
	"github.com/ehr/aibot/internal/platform/cache"
	"github.com/ehr/aibot/internal/platform/db"
	"github.com/ehr/aibot/internal/platform/metrics"
	"github.com/ehr/aibot/internal/platform/middleware"
	"github.com/ehr/aibot/internal/report"
	"github.com/ehr/aibot/internal/summarizer"
	"github.com/ehr/aibot/internal/vocab"
	"github.com/ehr/aibot/migrations"
)

const version = "0.1.0"

// memoryArchiveCapacity bounds the in-process archive used without a database.
const memoryArchiveCapacity = 500

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "aibot-server",
		Short:        "EMR normalization and clinical report API",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(normalizeCmd())
	root.AddCommand(tokenCmd())
	return root
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			autoMigrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(autoMigrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending archive migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run archive database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			migrator, pool, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			migrator, pool, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := migrator.Status(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(ctx context.Context, dir string) (*db.Migrator, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.ArchiveEnabled() {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrationSource(dir)), pool, nil
}

// migrationSource prefers an on-disk directory and falls back to the
// migrations compiled into the binary.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}

func normalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize an EMR JSON file offline and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			withReport, _ := cmd.Flags().GetBool("report")
			vocabFile, _ := cmd.Flags().GetString("vocabulary")

			body, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			req, err := analysis.ParseRequest(body, false)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			v, err := vocab.Load(vocabFile)
			if err != nil {
				return err
			}

			normalizer := emr.NewNormalizer(emr.Config{ForbiddenTerms: v.ForbiddenTerms})
			var out interface{}
			if withReport {
				svc := analysis.NewService(normalizer, report.NewGenerator(v), v.Version)
				if out, err = svc.Analyze(cmd.Context(), req, ""); err != nil {
					return err
				}
			} else {
				out = normalizer.Normalize(req.EMR)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("file", "", "Path to an EMR JSON file (request envelope or bare EMR)")
	cmd.Flags().Bool("report", false, "Print the full response envelope instead of the normalized payload")
	cmd.Flags().String("vocabulary", "", "Vocabulary YAML file (defaults to the built-in tables)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			token, err := auth.IssueToken(jwtConfig(cfg), subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Token subject")
	cmd.Flags().StringSlice("roles", []string{auth.RoleClinician}, "Roles claim")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
}

// deps are the optional collaborators opened for serving.
type deps struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

func (d deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

func runServer(autoMigrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	svc, d, err := buildService(ctx, cfg, logger, autoMigrate)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return err
	}
	defer d.Close()

	e := newServer(cfg, logger, svc, healthChecks(d))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildService wires the pipeline with whichever collaborators cfg enables.
func buildService(ctx context.Context, cfg *config.Config, logger zerolog.Logger, autoMigrate bool) (*analysis.Service, deps, error) {
	var d deps

	v, err := vocab.Load(cfg.VocabularyFile)
	if err != nil {
		return nil, d, err
	}
	normalizer := emr.NewNormalizer(emr.Config{
		ForbiddenTerms: v.ForbiddenTerms,
		MaxScanDepth:   cfg.MaxScanDepth,
	})
	opts := []analysis.Option{
		analysis.WithLogger(logger),
		analysis.WithFontPath(cfg.PDFFontPath),
	}

	if cfg.ArchiveEnabled() {
		d.pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, d, err
		}
		logger.Info().Msg("connected to database")
		if autoMigrate {
			n, err := db.NewMigrator(d.pool, migrationSource(cfg.MigrationsDir)).Up(ctx, db.DefaultSchema)
			if err != nil {
				d.Close()
				return nil, deps{}, fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Int("applied", n).Msg("archive migrations applied")
		}
		opts = append(opts, analysis.WithArchive(analysis.NewArchivePG(d.pool)))
	} else {
		logger.Warn().Int("capacity", memoryArchiveCapacity).Msg("DATABASE_URL not set, archiving analyses in memory")
		opts = append(opts, analysis.WithArchive(analysis.NewMemoryArchive(memoryArchiveCapacity)))
	}

	if cfg.CacheEnabled() {
		d.redis, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			d.Close()
			return nil, deps{}, err
		}
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("response cache enabled")
		opts = append(opts, analysis.WithCache(cache.New(cache.NewRedisStore(d.redis), "aibot:analysis", cfg.CacheTTL)))
	}

	if cfg.SummarizerProvider != config.ProviderNone {
		sum, err := summarizer.New(summarizer.Options{
			Provider:   cfg.SummarizerProvider,
			APIKey:     cfg.SummarizerAPIKey,
			Model:      cfg.SummarizerModel,
			BaseURL:    cfg.SummarizerBaseURL,
			Timeout:    cfg.SummarizerTimeout,
			RetryCount: 1,
		})
		if err != nil {
			d.Close()
			return nil, deps{}, err
		}
		logger.Info().Str("provider", sum.Provider()).Msg("narrative summaries enabled")
		opts = append(opts, analysis.WithSummarizer(sum))
	}

	logger.Info().Str("vocabulary", v.Version).Int("forbidden_terms", len(v.ForbiddenTerms)).Msg("vocabulary loaded")
	return analysis.NewService(normalizer, report.NewGenerator(v), v.Version, opts...), d, nil
}

// healthCheck reports the state of one dependency.
type healthCheck struct {
	name  string
	check func(ctx context.Context) (interface{}, error)
}

func healthChecks(d deps) []healthCheck {
	var checks []healthCheck
	if d.pool != nil {
		checks = append(checks, healthCheck{name: "database", check: func(ctx context.Context) (interface{}, error) {
			stats, err := db.Check(ctx, d.pool)
			metrics.RecordDBConnections(stats.AcquiredConns)
			return stats, err
		}})
	}
	if d.redis != nil {
		checks = append(checks, healthCheck{name: "cache", check: func(ctx context.Context) (interface{}, error) {
			return nil, d.redis.Ping(ctx).Err()
		}})
	}
	return checks
}

func healthHandler(checks []healthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := http.StatusOK
		body := map[string]interface{}{"status": "ok", "version": version}
		for _, hc := range checks {
			detail, err := hc.check(c.Request().Context())
			entry := map[string]interface{}{"status": "ok"}
			if detail != nil {
				entry["details"] = detail
			}
			if err != nil {
				entry["status"] = "unavailable"
				entry["error"] = err.Error()
				body["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
			body[hc.name] = entry
		}
		return c.JSON(status, body)
	}
}

// newServer builds the echo instance with the full middleware stack and
// routes.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *analysis.Service, checks []healthCheck) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(metrics.Middleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger, nil))

	// Rate limiting middleware
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	limiter := middleware.RateLimit(rateLimitCfg)

	apiV1 := e.Group("/api/v1", limiter)
	legacy := e.Group("/ai_bot", limiter)
	analysis.NewHandler(svc, cfg.UseSampleFallback()).RegisterRoutes(apiV1, legacy)

	e.GET("/health", healthHandler(checks))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return e
}

// errorHandler renders every error as {"error": message}.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
			if he.Internal != nil && code >= http.StatusInternalServerError {
				logger.Error().Err(he.Internal).Str("request_id", middleware.GetRequestID(c)).Msg("request failed")
			}
		} else {
			logger.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("unhandled error")
		}
		msg = strings.TrimSpace(msg)

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, map[string]string{"error": msg})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}
