// Package submission stages validated jokes per language until a moderator
// accepts or rejects them.
//
// Each language bucket has its own lock: stage, accept, reject and duplicate
// lookups on one language are serialized while different languages proceed
// independently. Entries only move from added to deleted and are never
// removed, so the bucket doubles as an audit log and duplicate history.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"joke-catalog/internal/apperr"
	"joke-catalog/internal/language"
	"joke-catalog/internal/metrics"
	"joke-catalog/internal/models"
	"joke-catalog/internal/validation"
	"joke-catalog/pkg/logger"
)

// Promoter materializes an accepted draft as a catalog joke with a fresh id.
type Promoter interface {
	Promote(ctx context.Context, d models.Draft) (models.Joke, error)
}

type PromoterFunc func(ctx context.Context, d models.Draft) (models.Joke, error)

func (f PromoterFunc) Promote(ctx context.Context, d models.Draft) (models.Joke, error) {
	return f(ctx, d)
}

// Persister stores whole language buckets. Each language is written and
// restored on its own.
type Persister interface {
	SaveBucket(ctx context.Context, lang string, entries []models.CacheEntry) error
	LoadBucket(ctx context.Context, lang string) ([]models.CacheEntry, error)
}

// Published answers whether content is already in the catalog.
type Published interface {
	HasFingerprint(lang, fp string) bool
}

type bucket struct {
	mu       sync.RWMutex
	lang     string
	entries  []models.CacheEntry
	byID     map[string]int
	pending  map[string]string
	rejected map[string]struct{}
	// dirty is set when the persisted copy is behind memory.
	dirty bool
}

func newBucket(lang string) *bucket {
	return &bucket{
		lang:     lang,
		byID:     make(map[string]int),
		pending:  make(map[string]string),
		rejected: make(map[string]struct{}),
	}
}

func (b *bucket) append(e models.CacheEntry) {
	b.byID[e.ID] = len(b.entries)
	b.entries = append(b.entries, e)
	if e.Pending() {
		b.pending[e.Submission.Fingerprint] = e.ID
	} else if e.Resolution == models.ResolutionRejected {
		b.rejected[e.Submission.Fingerprint] = struct{}{}
	}
}

func (b *bucket) pendingCount() int {
	return len(b.pending)
}

func (b *bucket) snapshot() []models.CacheEntry {
	out := make([]models.CacheEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

type Cache struct {
	languages *language.Table
	buckets   map[string]*bucket
	promoter  Promoter
	persister Persister
	published Published
	now       func() time.Time
	newID     func() string

	idxMu sync.RWMutex
	index map[string]string
}

type Option func(*Cache)

func WithPersister(p Persister) Option {
	return func(c *Cache) {
		c.persister = p
	}
}

// WithPublished lets Restore resolve pending entries whose content reached
// the catalog before their bucket could be saved.
func WithPublished(p Published) Option {
	return func(c *Cache) {
		c.published = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(c *Cache) {
		c.newID = fn
	}
}

// New creates an empty bucket for every supported language, the default
// included.
func New(languages *language.Table, promoter Promoter, opts ...Option) *Cache {
	c := &Cache{
		languages: languages,
		buckets:   make(map[string]*bucket),
		promoter:  promoter,
		now:       time.Now,
		newID:     uuid.NewString,
		index:     make(map[string]string),
	}
	for _, lang := range languages.Codes() {
		c.buckets[lang] = newBucket(lang)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Restore loads every bucket from the persister. A bucket that fails to load
// is logged and left empty; the others are unaffected.
func (c *Cache) Restore(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}

	for lang, b := range c.buckets {
		entries, err := c.persister.LoadBucket(ctx, lang)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Failed to restore submission bucket",
				logger.Lang(lang),
				logger.Err(err),
			)
			continue
		}

		b.mu.Lock()
		b.entries = nil
		b.byID = make(map[string]int, len(entries))
		b.pending = make(map[string]string)
		b.rejected = make(map[string]struct{})
		reconciled := 0
		for _, e := range entries {
			e.Submission.Draft.Lang = lang
			if e.Pending() && c.published != nil && c.published.HasFingerprint(lang, e.Submission.Fingerprint) {
				resolvedAt := c.now()
				e.Status = models.StatusDeleted
				e.Resolution = models.ResolutionAccepted
				e.ResolvedAt = &resolvedAt
				reconciled++
			}
			b.append(e)
		}
		if reconciled > 0 {
			logger.Warn("Resolved restored submissions already in the catalog",
				logger.Lang(lang),
				logger.Int("entries", reconciled),
			)
			c.saveOrMark(ctx, b)
		}
		n := b.pendingCount()
		b.mu.Unlock()

		c.idxMu.Lock()
		for _, e := range entries {
			c.index[e.ID] = lang
		}
		c.idxMu.Unlock()

		metrics.SetPending(lang, n)
		logger.Debug("Submission bucket restored",
			logger.Lang(lang),
			logger.Int("entries", len(entries)),
			logger.Int("pending", n),
		)
	}
	return nil
}

// Stage appends a validated submission to its language bucket.
func (c *Cache) Stage(ctx context.Context, res validation.Result) (models.CacheEntry, error) {
	if !res.Valid || res.Submission == nil {
		return models.CacheEntry{}, apperr.WithMetadata(apperr.CodeInvalidSubmission, "only valid submissions can be staged", map[string]string{
			"errors": strings.Join(res.Errors, "; "),
		})
	}

	sub := *res.Submission
	lang := c.languages.Fallback(sub.Draft.Lang)
	sub.Draft.Lang = lang
	b := c.buckets[lang]

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.pending[sub.Fingerprint]; ok {
		return models.CacheEntry{}, apperr.WithMetadata(apperr.CodeDuplicateSubmission, "identical submission is already pending", map[string]string{
			"entry_id": existing,
		})
	}

	entry := models.CacheEntry{
		ID:         c.newID(),
		AddedAt:    c.now(),
		Submission: sub,
		Status:     models.StatusAdded,
	}
	b.append(entry)

	if err := c.save(ctx, b); err != nil {
		b.entries = b.entries[:len(b.entries)-1]
		delete(b.byID, entry.ID)
		delete(b.pending, sub.Fingerprint)
		return models.CacheEntry{}, apperr.Wrap(apperr.CodeInternal, "persist submission bucket", err)
	}

	c.idxMu.Lock()
	c.index[entry.ID] = lang
	c.idxMu.Unlock()

	metrics.RecordTransition(lang, "staged")
	metrics.SetPending(lang, b.pendingCount())
	logger.Debug("Submission staged",
		logger.Lang(lang),
		logger.EntryID(entry.ID),
		logger.String("fingerprint", sub.Fingerprint),
	)

	return entry, nil
}

// Accept promotes a pending entry into the catalog and marks it deleted.
// If promotion fails the entry stays pending. Once promoted the acceptance
// stands even if the bucket cannot be saved: the bucket is marked dirty and
// rewritten by the next save or Flush.
func (c *Cache) Accept(ctx context.Context, id string) (models.Joke, error) {
	var joke models.Joke
	err := c.resolve(ctx, id, models.ResolutionAccepted, func(e *models.CacheEntry) error {
		j, err := c.promoter.Promote(ctx, e.Submission.Draft)
		if err != nil {
			return fmt.Errorf("promote entry %s: %w", id, err)
		}
		joke = j
		e.JokeID = &j.ID
		return nil
	})
	if err != nil {
		return models.Joke{}, err
	}
	return joke, nil
}

// Reject marks a pending entry deleted without promoting it. If the bucket
// cannot be saved the entry is put back and an Internal error returned.
func (c *Cache) Reject(ctx context.Context, id string) error {
	return c.resolve(ctx, id, models.ResolutionRejected, nil)
}

func (c *Cache) resolve(ctx context.Context, id string, resolution models.Resolution, apply func(*models.CacheEntry) error) error {
	b, err := c.bucketOf(id)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.byID[id]
	prev := b.entries[idx]
	entry := prev
	if entry.Status != models.StatusAdded {
		return apperr.WithMetadata(apperr.CodeAlreadyResolved, "entry is already resolved", map[string]string{
			"entry_id":   id,
			"resolution": string(entry.Resolution),
		})
	}

	if apply != nil {
		if err := apply(&entry); err != nil {
			return err
		}
	}

	resolvedAt := c.now()
	entry.Status = models.StatusDeleted
	entry.Resolution = resolution
	entry.ResolvedAt = &resolvedAt
	b.entries[idx] = entry

	fp := entry.Submission.Fingerprint
	wasPending := b.pending[fp] == id
	_, wasRejected := b.rejected[fp]
	if wasPending {
		delete(b.pending, fp)
	}
	if resolution == models.ResolutionRejected {
		b.rejected[fp] = struct{}{}
	}

	if err := c.save(ctx, b); err != nil {
		if resolution != models.ResolutionAccepted {
			b.entries[idx] = prev
			if wasPending {
				b.pending[fp] = id
			}
			if !wasRejected {
				delete(b.rejected, fp)
			}
			return apperr.Wrap(apperr.CodeInternal, "persist submission bucket", err)
		}
		b.dirty = true
		logger.Error("Failed to persist accepted submission, bucket marked dirty",
			logger.Lang(b.lang),
			logger.EntryID(id),
			logger.Err(err),
		)
	}

	metrics.RecordTransition(b.lang, string(resolution))
	metrics.SetPending(b.lang, b.pendingCount())
	logger.Debug("Submission resolved",
		logger.Lang(b.lang),
		logger.EntryID(id),
		logger.String("resolution", string(resolution)),
	)
	return nil
}

func (c *Cache) bucketOf(id string) (*bucket, error) {
	c.idxMu.RLock()
	lang, ok := c.index[id]
	c.idxMu.RUnlock()
	if !ok {
		return nil, apperr.WithMetadata(apperr.CodeEntryNotFound, "cache entry not found", map[string]string{
			"entry_id": id,
		})
	}
	return c.buckets[lang], nil
}

// Get returns the entry with the given id in whatever state it is in.
func (c *Cache) Get(id string) (models.CacheEntry, error) {
	b, err := c.bucketOf(id)
	if err != nil {
		return models.CacheEntry{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entries[b.byID[id]], nil
}

// ListPending returns the added entries of lang's bucket, oldest first.
func (c *Cache) ListPending(lang string) []models.CacheEntry {
	b := c.buckets[c.languages.Fallback(lang)]
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.CacheEntry, 0, b.pendingCount())
	for _, e := range b.entries {
		if e.Pending() {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns every entry of lang's bucket, resolved ones included.
func (c *Cache) Entries(lang string) []models.CacheEntry {
	b := c.buckets[c.languages.Fallback(lang)]
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot()
}

// Lookup reports whether fp is pending in lang's bucket and whether it was
// rejected before.
func (c *Cache) Lookup(lang, fp string) (pending, rejected bool) {
	b := c.buckets[c.languages.Fallback(lang)]
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, pending = b.pending[fp]
	_, rejected = b.rejected[fp]
	return pending, rejected
}

// PendingCounts returns the number of pending entries per language.
func (c *Cache) PendingCounts() map[string]int {
	out := make(map[string]int, len(c.buckets))
	for lang, b := range c.buckets {
		b.mu.RLock()
		out[lang] = b.pendingCount()
		b.mu.RUnlock()
	}
	return out
}

// Flush rewrites every bucket whose last save failed.
func (c *Cache) Flush(ctx context.Context) error {
	var errs []error
	for _, b := range c.buckets {
		b.mu.Lock()
		if b.dirty {
			if err := c.save(ctx, b); err != nil {
				errs = append(errs, fmt.Errorf("bucket %s: %w", b.lang, err))
			}
		}
		b.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Dirty reports whether lang's bucket has changes that were not saved.
func (c *Cache) Dirty(lang string) bool {
	b := c.buckets[c.languages.Fallback(lang)]
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dirty
}

// save writes the whole bucket, so a successful save also catches up on
// any earlier failed one. Callers hold b.mu.
func (c *Cache) save(ctx context.Context, b *bucket) error {
	if c.persister == nil {
		return nil
	}
	if err := c.persister.SaveBucket(ctx, b.lang, b.snapshot()); err != nil {
		return err
	}
	b.dirty = false
	return nil
}

func (c *Cache) saveOrMark(ctx context.Context, b *bucket) {
	if err := c.save(ctx, b); err != nil {
		b.dirty = true
		logger.Error("Failed to persist submission bucket",
			logger.Lang(b.lang),
			logger.Err(err),
		)
	}
}
