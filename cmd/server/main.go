package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"joke-catalog/internal/bot"
	"joke-catalog/internal/cache"
	"joke-catalog/internal/config"
	"joke-catalog/internal/database"
	"joke-catalog/internal/metrics"
	"joke-catalog/internal/models"
	"joke-catalog/internal/queue"
	"joke-catalog/internal/service"
	"joke-catalog/internal/submission"
	"joke-catalog/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrEmptyBotToken) {
			fmt.Fprintln(os.Stderr, "Error: BOT_TOKEN environment variable is required")
		} else if errors.Is(err, config.ErrEmptyDBPassword) {
			fmt.Fprintln(os.Stderr, "Error: DB_PASSWORD environment variable is required")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}
		os.Exit(1)
	}

	logger.Init(cfg.App.LogLevel, nil)
	logger.Info("Starting joke-catalog",
		logger.String("app", cfg.App.Name),
		logger.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped with error", logger.Err(err))
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		var dbErr *database.ConnectionError
		if errors.As(err, &dbErr) {
			logger.Error("Failed to connect to database",
				logger.Err(dbErr),
				logger.String("host", cfg.Database.Host),
				logger.Int("port", cfg.Database.Port),
			)
		}
		return err
	}
	defer db.Close()
	logger.Info("Connected to database")

	repo := database.NewJokeRepository(db)

	var q *queue.NATS
	if cfg.NATS.Enabled {
		q, err = queue.New(cfg.NATS)
		if err != nil {
			return err
		}
		defer q.Close()
		logger.Info("Connected to NATS", logger.String("url", cfg.NATS.URL))
	}

	var submissionOpts []submission.Option
	if cfg.Redis.Enabled {
		store, err := cache.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer store.Close()
		submissionOpts = append(submissionOpts, submission.WithPersister(store))
	}

	svc, err := service.FromConfig(cfg.Catalog, service.Options{
		Submission: submissionOpts,
		Publisher:  promotedPublisher(q, repo),
	})
	if err != nil {
		return err
	}

	if err := loadCatalog(ctx, cfg.Catalog, svc, repo); err != nil {
		return err
	}
	if err := svc.RestoreSubmissions(ctx); err != nil {
		return fmt.Errorf("failed to restore submissions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if q != nil {
		g.Go(func() error {
			logger.Info("Starting promoted joke consumer...")
			err := q.ConsumePromoted(gctx, func(msg *queue.PromotedJokeMessage) error {
				inserted, err := repo.Insert(gctx, msg.Joke)
				if err != nil {
					return err
				}
				logger.Debug("Promoted joke persisted",
					logger.JokeID(msg.Joke.ID),
					logger.EntryID(msg.EntryID),
					logger.Bool("inserted", inserted),
				)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if cfg.Bot.Enabled {
		var outbox bot.Outbox
		if q != nil {
			outbox = q
		}
		telegramBot, err := bot.New(cfg.Bot, svc, outbox)
		if err != nil {
			return err
		}
		g.Go(func() error {
			logger.Info("Telegram bot started")
			return telegramBot.Start(gctx)
		})
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           healthMux(cfg.Health, db, q),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Health server starting",
			logger.Int("port", cfg.Health.Port),
		)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down health server", logger.Err(err))
		}
		if err := svc.FlushSubmissions(shutdownCtx); err != nil {
			logger.Error("Error flushing submission buckets", logger.Err(err))
		}
		return nil
	})

	return g.Wait()
}

// promotedPublisher hands promoted jokes to NATS when it is configured and
// writes them straight to postgres otherwise.
func promotedPublisher(q *queue.NATS, repo *database.JokeRepository) service.Publisher {
	if q != nil {
		return service.PublisherFunc(func(ctx context.Context, entryID string, joke models.Joke) error {
			return q.PublishPromoted(ctx, queue.NewPromotedJokeMessage(entryID, joke))
		})
	}
	return service.PublisherFunc(func(ctx context.Context, _ string, joke models.Joke) error {
		_, err := repo.Insert(ctx, joke)
		return err
	})
}

// loadCatalog reads every stored joke. An empty database is seeded from the
// configured seed file first.
func loadCatalog(ctx context.Context, cfg config.CatalogConfig, svc *service.Service, repo *database.JokeRepository) error {
	stored, err := repo.Count(ctx)
	if err != nil {
		return err
	}

	if stored == 0 && cfg.SeedFile != "" {
		seed, report, err := svc.Importer().Read(ctx, cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to read seed file: %w", err)
		}
		inserted, err := repo.InsertBatch(ctx, seed)
		if err != nil {
			return fmt.Errorf("failed to store seed jokes: %w", err)
		}
		logger.Info("Catalog seeded",
			logger.String("source", report.Source),
			logger.Int64("inserted", inserted),
			logger.Int("skipped", len(report.Skipped)),
		)
	}

	jokes, err := repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	return svc.LoadCatalog(jokes)
}

func healthMux(cfg config.HealthConfig, db *database.DB, q *queue.NATS) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Endpoint, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if q != nil && !q.Connected() {
			http.Error(w, "nats unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle(cfg.Metrics, metrics.Handler())
	return mux
}
