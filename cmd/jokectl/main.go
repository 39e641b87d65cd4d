package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"joke-catalog/internal/config"
	"joke-catalog/internal/database"
	"joke-catalog/internal/filter"
	"joke-catalog/internal/models"
	"joke-catalog/internal/service"
	"joke-catalog/pkg/logger"
)

// repository is the part of database.JokeRepository the commands use.
type repository interface {
	LoadAll(ctx context.Context) ([]models.Joke, error)
	Get(ctx context.Context, id int) (models.Joke, error)
	InsertBatch(ctx context.Context, jokes []models.Joke) (int64, error)
	CountByLang(ctx context.Context) (map[string]int, error)
	FingerprintExists(ctx context.Context, lang, fp string) (bool, error)
}

type openFunc func(ctx context.Context, cfg config.DatabaseConfig) (repository, func(), error)

type options struct {
	configPath  string
	catalogFile string
	logLevel    string
	open        openFunc
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (repository, func(), error) {
	db, err := database.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return database.NewJokeRepository(db), db.Close, nil
}

func newRootCmd() *cobra.Command {
	return newCommand(&options{open: openPostgres})
}

func newCommand(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "jokectl",
		Short:        "Administer the joke catalog",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(opts.logLevel, cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (defaults to CONFIG_PATH, then environment only)")
	rootCmd.PersistentFlags().StringVar(&opts.catalogFile, "catalog", "", "read the catalog from a JSON document instead of postgres")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(importCmd(opts))
	rootCmd.AddCommand(selectCmd(opts))
	rootCmd.AddCommand(getCmd(opts))
	rootCmd.AddCommand(validateCmd(opts))
	rootCmd.AddCommand(langsCmd(opts))
	rootCmd.AddCommand(statsCmd(opts))
	rootCmd.AddCommand(pendingCmd(opts))

	return rootCmd
}

// config reads the file named by --config or CONFIG_PATH, or the environment
// alone when neither is set. Only the catalog section is validated since no
// command needs the bot.
func (o *options) config() (*config.Config, error) {
	if o.configPath != "" {
		os.Setenv("CONFIG_PATH", o.configPath)
	}

	var (
		cfg *config.Config
		err error
	)
	if os.Getenv("CONFIG_PATH") != "" {
		cfg, err = config.Read()
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// catalog builds a service and loads the catalog into it from the --catalog
// document or from postgres.
func (o *options) catalog(ctx context.Context, filterOpts ...filter.Option) (*service.Service, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}

	svc, err := service.FromConfig(cfg.Catalog, service.Options{Filter: filterOpts})
	if err != nil {
		return nil, err
	}

	if o.catalogFile != "" {
		jokes, _, err := svc.Importer().Read(ctx, o.catalogFile)
		if err != nil {
			return nil, err
		}
		return svc, svc.LoadCatalog(jokes)
	}

	repo, closeRepo, err := o.open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	defer closeRepo()

	jokes, err := repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return svc, svc.LoadCatalog(jokes)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
