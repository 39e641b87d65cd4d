// Package filter evaluates joke filters against the catalog and samples the
// requested number of results.
package filter

import (
	"errors"
	"iter"
	"math/rand/v2"
	"strconv"
	"strings"

	"joke-catalog/internal/apperr"
	"joke-catalog/internal/category"
	"joke-catalog/internal/fingerprint"
	"joke-catalog/internal/language"
	"joke-catalog/internal/metrics"
	"joke-catalog/internal/models"
	"joke-catalog/pkg/logger"
)

const DefaultMaxAmount = 10

// Source is the read side of the joke store.
type Source interface {
	Get(id int) (models.Joke, bool)
	Searchable(lang string) iter.Seq2[models.Joke, string]
}

// SeedFunc returns the two PCG seeds for one Select call.
type SeedFunc func() (uint64, uint64)

type Engine struct {
	src        Source
	categories *category.Registry
	languages  *language.Table
	maxAmount  int
	strict     bool
	seeds      SeedFunc
}

type Option func(*Engine)

// WithMaxAmount sets the per-request cap. Larger requests are clamped unless
// WithStrictAmount is also given.
func WithMaxAmount(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAmount = n
		}
	}
}

// WithStrictAmount turns the cap into a hard limit reported as
// apperr.ErrAmountExceeded.
func WithStrictAmount() Option {
	return func(e *Engine) {
		e.strict = true
	}
}

func WithSeeds(fn SeedFunc) Option {
	return func(e *Engine) {
		e.seeds = fn
	}
}

// WithSeed makes every call sample from the same sequence.
func WithSeed(seed uint64) Option {
	return WithSeeds(func() (uint64, uint64) {
		return seed, seed ^ 0x9e3779b97f4a7c15
	})
}

func NewEngine(src Source, categories *category.Registry, languages *language.Table, opts ...Option) *Engine {
	e := &Engine{
		src:        src,
		categories: categories,
		languages:  languages,
		maxAmount:  DefaultMaxAmount,
		seeds: func() (uint64, uint64) {
			return rand.Uint64(), rand.Uint64()
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) MaxAmount() int {
	return e.maxAmount
}

// Select returns up to f.Amount distinct jokes matching f in random order.
// Fewer candidates than requested, including none, is not an error.
func (e *Engine) Select(f Filter) ([]models.Joke, error) {
	lang := e.languages.Fallback(f.Lang)

	jokes, err := e.selectJokes(lang, f)
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
	}
	metrics.RecordSelect(lang, outcome, len(jokes))
	if err != nil {
		logger.Debug("Filter rejected",
			logger.Lang(lang),
			logger.Err(err),
		)
	}
	return jokes, err
}

func (e *Engine) selectJokes(lang string, f Filter) ([]models.Joke, error) {
	if f.ID != nil {
		if j, ok := e.src.Get(*f.ID); ok {
			return []models.Joke{j}, nil
		}
		return []models.Joke{}, nil
	}

	amount, err := e.amount(f.Amount)
	if err != nil {
		return nil, err
	}

	allowed, err := e.allowSet(f)
	if err != nil {
		return nil, err
	}

	if f.IDRange != nil && f.IDRange.From > f.IDRange.To {
		return nil, apperr.WithMetadata(apperr.CodeInvalidRange, "id range lower bound exceeds upper bound", map[string]string{
			"from": strconv.Itoa(f.IDRange.From),
			"to":   strconv.Itoa(f.IDRange.To),
		})
	}

	exclude := f.ExcludeFlags
	if f.SafeMode {
		exclude |= models.AllFlags
	}
	needle := fingerprint.Normalize(f.Contains)

	var candidates []models.Joke
	for j, text := range e.src.Searchable(lang) {
		if _, ok := allowed[j.Category]; !ok {
			continue
		}
		if !admits(j.Flags, f.IncludeFlags, exclude) {
			continue
		}
		if f.Type != "" && j.Type() != f.Type {
			continue
		}
		if needle != "" && !strings.Contains(text, needle) {
			continue
		}
		if f.IDRange != nil && !f.IDRange.Contains(j.ID) {
			continue
		}
		candidates = append(candidates, j)
	}

	return e.sample(candidates, amount), nil
}

func (e *Engine) amount(requested int) (int, error) {
	switch {
	case requested <= 0:
		return 1, nil
	case requested <= e.maxAmount:
		return requested, nil
	case e.strict:
		return 0, apperr.WithMetadata(apperr.CodeAmountExceeded, "requested amount exceeds maximum", map[string]string{
			"requested": strconv.Itoa(requested),
			"max":       strconv.Itoa(e.maxAmount),
		})
	default:
		return e.maxAmount, nil
	}
}

// allowSet expands the include list (wildcards first) and subtracts the
// exclude list. A category named explicitly on both sides is a conflict;
// excluding from a wildcard is not.
func (e *Engine) allowSet(f Filter) (map[models.Category]struct{}, error) {
	allowed, err := e.categories.Expand(f.IncludeCategories)
	if err != nil {
		return nil, unknownCategory(err)
	}

	named := make(map[models.Category]struct{}, len(f.IncludeCategories))
	for _, name := range f.IncludeCategories {
		if e.categories.IsWildcard(name) {
			continue
		}
		c, _ := e.categories.Resolve(name)
		named[c] = struct{}{}
	}

	var excluded map[models.Category]struct{}
	if len(f.ExcludeCategories) > 0 {
		excluded, err = e.categories.Expand(f.ExcludeCategories)
		if err != nil {
			return nil, unknownCategory(err)
		}
	}
	if f.SafeMode {
		if excluded == nil {
			excluded = make(map[models.Category]struct{}, 1)
		}
		excluded[models.CategoryDark] = struct{}{}
	}

	for c := range excluded {
		if _, ok := named[c]; ok {
			return nil, apperr.WithMetadata(apperr.CodeFilterConflict, "category is both included and excluded", map[string]string{
				"category": string(c),
			})
		}
		delete(allowed, c)
	}

	if len(allowed) == 0 {
		return nil, apperr.New(apperr.CodeFilterConflict, "no categories left after exclusions")
	}
	return allowed, nil
}

// sample picks min(amount, len(candidates)) distinct jokes with a partial
// Fisher-Yates shuffle. candidates is owned by the caller's call frame.
func (e *Engine) sample(candidates []models.Joke, amount int) []models.Joke {
	n := len(candidates)
	if amount > n {
		amount = n
	}
	s1, s2 := e.seeds()
	r := rand.New(rand.NewPCG(s1, s2))
	for i := 0; i < amount; i++ {
		k := i + r.IntN(n-i)
		candidates[i], candidates[k] = candidates[k], candidates[i]
	}
	out := make([]models.Joke, amount)
	copy(out, candidates[:amount])
	return out
}

func unknownCategory(err error) error {
	if errors.Is(err, category.ErrUnknownCategory) {
		return apperr.Wrap(apperr.CodeUnknownCategory, "resolve filter categories", err)
	}
	return err
}
