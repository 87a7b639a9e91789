package cli

import (
	"context"
	"fmt"

	"virtual-lab-service/internal/config"
	"virtual-lab-service/internal/infra/memory"
	"virtual-lab-service/internal/infra/postgres"
	infraredis "virtual-lab-service/internal/infra/redis"
	"virtual-lab-service/internal/logging"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewImportCatalogCmd loads a YAML catalog into Postgres.
func NewImportCatalogCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import-catalog",
		Short: "Import challenges from a YAML file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Catalog.Path
			}
			return importCatalog(cmd.Context(), cfg, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML (defaults to catalog.path)")
	return cmd
}

func importCatalog(ctx context.Context, cfg config.Config, file string) error {
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	challenges, err := memory.ReadCatalogFile(file)
	if err != nil {
		return err
	}
	if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.ImportChallenges(ctx, pool, challenges); err != nil {
		return err
	}
	log.Info("catalog imported", "file", file, "challenges", len(challenges))

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := infraredis.NewCatalog(client, nil, 0).Invalidate(ctx); err != nil {
			log.Warn("failed to invalidate cached catalog", "error", err)
		}
	}
	return nil
}
