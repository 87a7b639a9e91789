package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"virtual-lab-service/internal/app"
	"virtual-lab-service/internal/config"
	"virtual-lab-service/internal/domain"
	"virtual-lab-service/internal/infra/identity"
	"virtual-lab-service/internal/infra/memory"
	"virtual-lab-service/internal/infra/postgres"
	infraredis "virtual-lab-service/internal/infra/redis"
	"virtual-lab-service/internal/infra/sqlite"
	"virtual-lab-service/internal/localstore"
	"virtual-lab-service/internal/logging"
	transport "virtual-lab-service/internal/transport/http"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the virtual lab server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	kv, closeKV, err := openLocalKV(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeKV()
	local := localstore.New(kv, log.With("component", "localstore"))

	var (
		users       app.UserTable
		submissions app.SubmissionTable
		loader      memory.CatalogLoader = memory.NewFileCatalogLoader(cfg.Catalog.Path)
	)
	if cfg.Postgres.URL != "" {
		db := postgres.Open(cfg.Postgres.URL)
		defer db.Close()
		users = postgres.NewUserTable(db)
		submissions = postgres.NewSubmissionTable(db, cfg.Postgres.AtomicUpsert)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewCatalogLoader(pool)
	} else {
		log.Warn("postgres not configured, remote tables are in-memory")
		tables := memory.NewTables(true)
		users, submissions = tables, tables
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog app.Catalog
	if redisClient != nil {
		catalog = infraredis.NewCatalog(redisClient, loader, catalogTTL)
	} else {
		catalog = memory.NewCatalog(loader, catalogTTL)
	}

	var (
		idp       app.Identity
		completer transport.SignInCompleter
	)
	switch cfg.Auth.Provider {
	case config.ProviderDev:
		devUser := domain.RemoteUser{
			ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+cfg.Auth.DevEmail)).String(),
			Email:    cfg.Auth.DevEmail,
			FullName: cfg.Auth.DevName,
		}
		idp = memory.NewIdentity(&devUser, 12*time.Hour)
		log.Warn("development sign-in enabled", "email", cfg.Auth.DevEmail)
	default:
		google := identity.NewGoogle(identity.GoogleConfig{
			ClientID:     cfg.Auth.Google.ClientID,
			ClientSecret: cfg.Auth.Google.ClientSecret,
			CallbackURL:  cfg.Auth.Google.CallbackURL,
		}, log.With("component", "identity"))
		idp, completer = google, google
	}

	policy := app.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff: app.CappedExponential(
			config.TTLDuration(cfg.Retry.BaseDelay, time.Second),
			config.TTLDuration(cfg.Retry.MaxDelay, 5*time.Second),
		),
	}

	profiles := app.NewProfileStore(local)
	recorder := app.NewRecorder(idp, submissions, local, profiles, policy, log.With("component", "recorder"))
	reconciler := app.NewReconciler(app.ReconcilerConfig{
		AllowedDomain: cfg.Auth.AllowedDomain,
		RedirectTo:    cfg.Auth.RedirectURL,
		Provider:      identityProvider(cfg),
	}, idp, users, submissions, local, profiles, recorder, log.With("component", "reconciler"))
	attempts := app.NewAttempts(catalog, local, recorder, log.With("component", "attempts"))
	api := transport.NewAPI(reconciler, profiles, attempts, catalog, completer, log.With("component", "http"))

	reconciler.Bootstrap(ctx)
	unsubscribe := reconciler.Start(ctx)
	defer unsubscribe()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	shutdownTimeout := config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting virtual lab service", "port", finalPort, "allowed_domain", cfg.Auth.AllowedDomain)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openLocalKV(cfg config.Config, client *redis.Client) (localstore.KV, func(), error) {
	switch cfg.Local.Driver {
	case config.LocalMemory:
		return memory.NewKV(), func() {}, nil
	case config.LocalRedis:
		return infraredis.NewKV(client, cfg.Redis.Namespace), func() {}, nil
	default:
		kv, err := sqlite.NewKV(cfg.Local.Path)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { _ = kv.Close() }, nil
	}
}

// identityProvider is the provider name passed to SignInWithOAuth.
func identityProvider(cfg config.Config) string {
	if cfg.Auth.Provider == config.ProviderDev {
		return config.ProviderDev
	}
	return identity.ProviderGoogle
}
