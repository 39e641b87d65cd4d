// Package service wires the catalog core into the operations exposed by the
// bot and the admin tooling.
package service

import (
	"context"
	"fmt"

	"joke-catalog/internal/catalog"
	"joke-catalog/internal/category"
	"joke-catalog/internal/config"
	"joke-catalog/internal/filter"
	"joke-catalog/internal/importer"
	"joke-catalog/internal/language"
	"joke-catalog/internal/metrics"
	"joke-catalog/internal/models"
	"joke-catalog/internal/submission"
	"joke-catalog/internal/validation"
	"joke-catalog/pkg/logger"
)

// Publisher hears about every joke promoted from the submission cache, after
// it is visible in the store and the cache lock is released.
type Publisher interface {
	Promoted(ctx context.Context, entryID string, joke models.Joke) error
}

type PublisherFunc func(ctx context.Context, entryID string, joke models.Joke) error

func (f PublisherFunc) Promoted(ctx context.Context, entryID string, joke models.Joke) error {
	return f(ctx, entryID, joke)
}

type Service struct {
	categories *category.Registry
	languages  *language.Table
	store      *catalog.Store
	engine     *filter.Engine
	pipeline   *validation.Pipeline
	cache      *submission.Cache
	publisher  Publisher
}

type Options struct {
	Filter     []filter.Option
	Validation []validation.Option
	Submission []submission.Option
	Publisher  Publisher
}

func New(categories *category.Registry, languages *language.Table, opts Options) *Service {
	s := &Service{
		categories: categories,
		languages:  languages,
		store:      catalog.New(),
		publisher:  opts.Publisher,
	}

	s.engine = filter.NewEngine(s.store, categories, languages, opts.Filter...)
	cacheOpts := append([]submission.Option{submission.WithPublished(s.store)}, opts.Submission...)
	s.cache = submission.New(languages, submission.PromoterFunc(s.promote), cacheOpts...)
	s.pipeline = validation.New(categories, languages, s.store, s.cache, opts.Validation...)

	return s
}

// promote runs under the bucket lock, so it only touches the in-memory store.
func (s *Service) promote(_ context.Context, d models.Draft) (models.Joke, error) {
	joke, err := s.store.Promote(d)
	if err != nil {
		return models.Joke{}, err
	}
	metrics.SetCatalogSize(s.store.Counts())
	return joke, nil
}

// LoadCatalog adds a batch of stored jokes to the in-memory catalog.
func (s *Service) LoadCatalog(jokes []models.Joke) error {
	if err := s.store.Load(jokes); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	metrics.SetCatalogSize(s.store.Counts())
	logger.Info("Catalog loaded",
		logger.Int("batch", len(jokes)),
		logger.Int("total", s.store.Len()),
	)
	return nil
}

// RestoreSubmissions reloads the submission buckets. Load the catalog first:
// pending entries whose content is already published are resolved as
// accepted.
func (s *Service) RestoreSubmissions(ctx context.Context) error {
	return s.cache.Restore(ctx)
}

// FlushSubmissions retries bucket saves that failed earlier.
func (s *Service) FlushSubmissions(ctx context.Context) error {
	return s.cache.Flush(ctx)
}

func (s *Service) Select(f filter.Filter) ([]models.Joke, error) {
	return s.engine.Select(f)
}

func (s *Service) Get(id int) (models.Joke, bool) {
	return s.store.Get(id)
}

func (s *Service) Validate(raw validation.RawSubmission) validation.Result {
	return s.pipeline.Validate(raw)
}

// Submit validates raw and stages it when valid. The entry is nil whenever
// the result is invalid.
func (s *Service) Submit(ctx context.Context, raw validation.RawSubmission) (validation.Result, *models.CacheEntry, error) {
	res := s.pipeline.Validate(raw)
	if !res.Valid {
		return res, nil, nil
	}

	entry, err := s.cache.Stage(ctx, res)
	if err != nil {
		return res, nil, err
	}
	return res, &entry, nil
}

func (s *Service) Pending(lang string) []models.CacheEntry {
	return s.cache.ListPending(lang)
}

func (s *Service) PendingCounts() map[string]int {
	return s.cache.PendingCounts()
}

func (s *Service) Entry(id string) (models.CacheEntry, error) {
	return s.cache.Get(id)
}

// Accept promotes the entry and then hands the joke to the publisher. A
// publish failure is logged; the joke is already in the catalog.
func (s *Service) Accept(ctx context.Context, id string) (models.Joke, error) {
	joke, err := s.cache.Accept(ctx, id)
	if err != nil {
		return models.Joke{}, err
	}

	if s.publisher != nil {
		if err := s.publisher.Promoted(ctx, id, joke); err != nil {
			logger.Error("Failed to publish promoted joke",
				logger.EntryID(id),
				logger.JokeID(joke.ID),
				logger.Err(err),
			)
		}
	}
	return joke, nil
}

func (s *Service) Reject(ctx context.Context, id string) error {
	return s.cache.Reject(ctx, id)
}

// Languages reports how complete each supported language is relative to
// the default one.
func (s *Service) Languages() []language.Stat {
	return s.languages.Completeness(s.store.Counts())
}

func (s *Service) Stats(lang string) catalog.Stats {
	return s.store.Stats(s.languages.Fallback(lang))
}

func (s *Service) Categories() []models.Category {
	return s.categories.ListCanonical()
}

func (s *Service) DefaultLanguage() string {
	return s.languages.Default()
}

// Importer returns a document importer that resolves categories and
// languages the same way the catalog does.
func (s *Service) Importer(opts ...importer.Option) *importer.Importer {
	return importer.New(s.categories, s.languages, opts...)
}

func (s *Service) CatalogSize() int {
	return s.store.Len()
}

// FromConfig builds the registry, language table and core options from the
// catalog section of the config. Options already present in opts are kept
// and take precedence.
func FromConfig(cfg config.CatalogConfig, opts Options) (*Service, error) {
	categories, err := category.NewRegistry(cfg.Aliases)
	if err != nil {
		return nil, fmt.Errorf("invalid category aliases: %w", err)
	}

	languages, err := language.NewTable(cfg.DefaultLang, cfg.Languages)
	if err != nil {
		return nil, fmt.Errorf("invalid languages: %w", err)
	}

	filterOpts := []filter.Option{filter.WithMaxAmount(cfg.MaxAmount)}
	if cfg.StrictAmount {
		filterOpts = append(filterOpts, filter.WithStrictAmount())
	}
	opts.Filter = append(filterOpts, opts.Filter...)
	opts.Validation = append([]validation.Option{validation.WithMaxTextLength(cfg.MaxTextLength)}, opts.Validation...)

	return New(categories, languages, opts), nil
}
