package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/emr-dashboard/internal/config"
	"github.com/ehr/emr-dashboard/internal/domain/audit"
	"github.com/ehr/emr-dashboard/internal/domain/bed"
	"github.com/ehr/emr-dashboard/internal/domain/clinical"
	"github.com/ehr/emr-dashboard/internal/domain/dashboard"
	"github.com/ehr/emr-dashboard/internal/domain/effects"
	"github.com/ehr/emr-dashboard/internal/domain/notification"
	"github.com/ehr/emr-dashboard/internal/domain/pharmacy"
	"github.com/ehr/emr-dashboard/internal/domain/queue"
	"github.com/ehr/emr-dashboard/internal/domain/seed"
	"github.com/ehr/emr-dashboard/internal/platform/auth"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore/s3"
	"github.com/ehr/emr-dashboard/internal/platform/metrics"
	"github.com/ehr/emr-dashboard/internal/platform/middleware"
	"github.com/ehr/emr-dashboard/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "emr-server",
		Short: "EMR dashboard API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the EMR dashboard API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the persisted audit log",
	}

	var module string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print persisted audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openAudit(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			res := store.Search(audit.Filter{Module: audit.Module(module), Limit: limit})
			return printEntries(cmd.OutOrStdout(), res.Entries, res.Total)
		},
	}
	listCmd.Flags().StringVar(&module, "module", "", "only entries of this module")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to print")

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the audit log without --yes")
			}
			store, closeFn, err := openAudit(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			n := store.Len()
			store.ClearLogs(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d audit entries\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}

func openAudit(ctx context.Context) (*audit.Store, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stderr)
	kv, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store := audit.NewStore(audit.Options{Retention: cfg.AuditRetention, KV: kv, Logger: logger})
	if err := store.Load(ctx); err != nil {
		kv.Close()
		return nil, nil, err
	}
	return store, func() { kv.Close() }, nil
}

func printEntries(out io.Writer, entries []audit.Entry, total int) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tUSER\tROLE\tMODULE\tACTION\tPATIENT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.UserName, e.UserRole, e.Module, e.Action, e.PatientID)
	}
	fmt.Fprintf(w, "\n%d of %d entries\n", len(entries), total)
	return w.Flush()
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Logger()
}

func openStorage(ctx context.Context, cfg *config.Config) (kvstore.Store, error) {
	kv, err := kvstore.Open(ctx, kvstore.Options{
		Driver:      cfg.StorageDriver,
		Path:        cfg.StoragePath,
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		S3: s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageDriver, err)
	}
	return kv, nil
}

// app holds every wired component of a running server.
type app struct {
	echo      *echo.Echo
	kv        kvstore.Store
	hub       *websocket.Hub
	collector *metrics.Collector
	audit     *audit.Store
	beds      *bed.Store
	clinical  *clinical.Store
	pharmacy  *pharmacy.Store
	queue     *queue.Store
	seeder    *seed.Seeder
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, kv kvstore.Store) (*app, error) {
	collector := metrics.NewCollector()

	hub := websocket.NewHub(logger)
	hub.OnClientsChanged = collector.SetWebsocketClients

	auditStore := audit.NewStore(audit.Options{
		Retention: cfg.AuditRetention,
		KV:        kv,
		Logger:    logger,
		Metrics:   collector,
	})
	if err := auditStore.Load(ctx); err != nil {
		return nil, err
	}

	notes := notification.NewStore(hub, logger)
	templates := notification.NewTemplateEngine()
	fx := effects.NewEmitter(effects.Deps{
		Audit:         auditStore,
		Notifications: notes,
		Templates:     templates,
		Toaster:       notification.NewFeedToaster(hub, logger),
		Publisher:     hub,
		Metrics:       collector,
		Logger:        logger,
	})

	beds := bed.NewStore(fx)
	med := clinical.NewStore(fx)
	rx := pharmacy.NewStore(fx)
	reqs := queue.NewStore(fx, beds)
	dash := dashboard.NewService(dashboard.Deps{
		Beds:          beds,
		Clinical:      med,
		Pharmacy:      rx,
		Queue:         reqs,
		Notifications: notes,
	})
	seeder := seed.NewSeeder(seed.Stores{Beds: beds, Clinical: med, Pharmacy: rx, Queue: reqs})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(collector.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	// Recovery sits inside the timeout so it runs on the handler goroutine.
	e.Use(middleware.Recovery(logger, collector))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", kvstore.HealthHandler(kv))
	e.GET("/metrics", collector.Handler())

	revocations := auth.NewRevocations()
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:      cfg.AuthIssuer,
			Audience:    cfg.AuthAudience,
			SigningKey:  []byte(cfg.AuthSigningKey),
			Revocations: revocations,
		})
	}

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
		rl.BurstSize = cfg.RateLimitBurst
	}
	rl.OnLimited = collector.RecordRateLimited

	e.GET("/ws", websocket.NewHandler(hub).HandleConnect, authMW)

	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rl))
	auth.RegisterRevocationRoutes(apiV1, revocations)
	audit.NewHandler(auditStore).RegisterRoutes(apiV1)
	notification.NewHandler(notes, templates).RegisterRoutes(apiV1)
	bed.NewHandler(beds).RegisterRoutes(apiV1)
	clinical.NewHandler(med).RegisterRoutes(apiV1)
	pharmacy.NewHandler(rx).RegisterRoutes(apiV1)
	queue.NewHandler(reqs).RegisterRoutes(apiV1)
	dashboard.NewHandler(dash).RegisterRoutes(apiV1)
	seed.NewHandler(seeder).RegisterRoutes(apiV1)

	return &app{
		echo:      e,
		kv:        kv,
		hub:       hub,
		collector: collector,
		audit:     auditStore,
		beds:      beds,
		clinical:  med,
		pharmacy:  rx,
		queue:     reqs,
		seeder:    seeder,
	}, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token act as the built-in admin")
	}

	ctx := context.Background()
	kv, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer kv.Close()
	logger.Info().Str("driver", string(kv.Driver())).Msg("storage ready")

	a, err := buildApp(ctx, cfg, logger, kv)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}

	if cfg.SeedDemoData {
		res, err := a.seeder.Seed(ctx, seed.DefaultConfig())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to seed demo data")
		}
		logger.Info().
			Int("wards", res.Wards).
			Int("beds", res.Beds).
			Int("prescriptions", res.Prescriptions).
			Int("requests", res.Requests).
			Bool("skipped", res.Skipped).
			Msg("demo data seeded")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
