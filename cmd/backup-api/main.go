package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/spoolvault/internal/api"
	"github.com/edvin/spoolvault/internal/config"
	"github.com/edvin/spoolvault/internal/core"
	"github.com/edvin/spoolvault/internal/db"
	"github.com/edvin/spoolvault/internal/destination"
	"github.com/edvin/spoolvault/internal/logging"
	"github.com/edvin/spoolvault/internal/metrics"
	"github.com/edvin/spoolvault/internal/model"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-admin" {
		createAdmin(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("backup-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	registry := newRegistry(logger, cfg)

	services, err := core.NewServices(pool, pool, registry, core.Options{
		SecretsKeyHex:  cfg.SecretsKeyHex,
		AssetsDir:      cfg.AssetsDir,
		AdapterTimeout: cfg.AdapterTimeout,
		HistoryLimit:   cfg.HistoryLimit,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	go sweepOAuthStates(ctx, services, logger)

	srv := api.NewServer(logger, pool, services, registry)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting backup API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// newRegistry wires every destination this deployment serves. OAuth
// providers without a client registration are left out so the consent
// flow fails fast with an unsupported-destination error.
func newRegistry(logger zerolog.Logger, cfg *config.Config) *destination.Registry {
	adapters := []destination.Adapter{
		destination.NewS3(logger),
		destination.NewWebDAV(logger),
		destination.NewLocal(logger, cfg.LocalBackupDir),
	}
	if cfg.GoogleClientID != "" {
		adapters = append(adapters, destination.NewGoogleDrive(logger, destination.OAuthApp{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
		}))
	}
	if cfg.DropboxClientID != "" {
		adapters = append(adapters, destination.NewDropbox(logger, destination.OAuthApp{
			ClientID:     cfg.DropboxClientID,
			ClientSecret: cfg.DropboxClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
		}))
	}
	if cfg.OneDriveClientID != "" {
		adapters = append(adapters, destination.NewOneDrive(logger, destination.OAuthApp{
			ClientID:     cfg.OneDriveClientID,
			ClientSecret: cfg.OneDriveClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
		}))
	}
	return destination.NewRegistry(adapters...)
}

// sweepOAuthStates clears abandoned consent flows past their deadline.
func sweepOAuthStates(ctx context.Context, services *core.Services, logger zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := services.OAuthState.ExpireStale(ctx); err != nil {
				logger.Warn().Err(err).Msg("expire oauth states")
			}
		}
	}
}

func createAdmin(args []string) {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	username := fs.String("username", "", "Username for the admin account (required)")
	email := fs.String("email", "", "Email for the admin account (required)")
	password := fs.String("password", "", "Password for the admin account (required)")
	fs.Parse(args)

	if *username == "" || *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "error: --username, --email and --password are required")
		fmt.Fprintln(os.Stderr, "usage: backup-api create-admin --username <name> --email <addr> --password <pw>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := core.NewUserService(pool)
	user, err := svc.Create(ctx, *username, *email, *password, model.RoleAdmin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create admin: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Admin account created.\n\n")
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  ID:       %s\n", user.ID)
}
