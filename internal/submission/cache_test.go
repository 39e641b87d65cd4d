package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"joke-catalog/internal/apperr"
	"joke-catalog/internal/catalog"
	"joke-catalog/internal/category"
	"joke-catalog/internal/language"
	"joke-catalog/internal/models"
	"joke-catalog/internal/validation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memPersister struct {
	mu      sync.Mutex
	buckets map[string][]models.CacheEntry
	fail    map[string]error
	saves   int
}

func newMemPersister() *memPersister {
	return &memPersister{buckets: map[string][]models.CacheEntry{}, fail: map[string]error{}}
}

func (m *memPersister) SaveBucket(_ context.Context, lang string, entries []models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[lang]; err != nil {
		return err
	}
	m.saves++
	m.buckets[lang] = entries
	return nil
}

func (m *memPersister) LoadBucket(_ context.Context, lang string) ([]models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[lang]; err != nil {
		return nil, err
	}
	return m.buckets[lang], nil
}

type harness struct {
	store    *catalog.Store
	cache    *Cache
	pipeline *validation.Pipeline
	langs    *language.Table
}

func newHarness(t *testing.T, opts ...Option) harness {
	t.Helper()
	cats, err := category.NewRegistry(nil)
	require.NoError(t, err)
	langs, err := language.NewTable("en", []string{"de"})
	require.NoError(t, err)

	store := catalog.New()
	promoter := PromoterFunc(func(_ context.Context, d models.Draft) (models.Joke, error) {
		return store.Promote(d)
	})
	var seq atomic.Int64
	opts = append([]Option{
		WithIDGenerator(func() string {
			return fmt.Sprintf("entry-%d", seq.Add(1))
		}),
		WithPublished(store),
	}, opts...)
	cache := New(langs, promoter, opts...)

	return harness{
		store:    store,
		cache:    cache,
		pipeline: validation.New(cats, langs, store, cache),
		langs:    langs,
	}
}

func (h harness) stage(t *testing.T, text, lang string) models.CacheEntry {
	t.Helper()
	res := h.pipeline.Validate(validation.RawSubmission{
		Category: "Pun",
		Type:     "single",
		Joke:     &text,
		Lang:     lang,
	})
	require.True(t, res.Valid, "errors: %v", res.Errors)
	entry, err := h.cache.Stage(context.Background(), res)
	require.NoError(t, err)
	return entry
}

func TestNewHasBucketPerLanguage(t *testing.T) {
	h := newHarness(t)

	for _, lang := range []string{"en", "de"} {
		assert.NotNil(t, h.cache.ListPending(lang))
		assert.Empty(t, h.cache.ListPending(lang))
	}
	assert.Empty(t, h.cache.ListPending("xx"), "unknown language falls back to the default bucket")
	assert.Equal(t, map[string]int{"en": 0, "de": 0}, h.cache.PendingCounts())
}

func TestStageAndListPendingOrder(t *testing.T) {
	h := newHarness(t)

	first := h.stage(t, "first", "en")
	second := h.stage(t, "second", "en")
	h.stage(t, "erste", "de")

	assert.Equal(t, models.StatusAdded, first.Status)
	assert.False(t, first.AddedAt.IsZero())

	pending := h.cache.ListPending("en")
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID, "oldest first")
	assert.Equal(t, second.ID, pending[1].ID)
	assert.Len(t, h.cache.ListPending("de"), 1)
}

func TestStageRejectsInvalidResult(t *testing.T) {
	h := newHarness(t)

	_, err := h.cache.Stage(context.Background(), validation.Result{Valid: false, Errors: []string{"bad"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidSubmission)
}

func TestStageDuplicateWhilePending(t *testing.T) {
	h := newHarness(t)
	text := "Same joke twice"

	res := h.pipeline.Validate(validation.RawSubmission{Category: "Pun", Type: "single", Joke: &text})
	require.True(t, res.Valid)

	_, err := h.cache.Stage(context.Background(), res)
	require.NoError(t, err)

	_, err = h.cache.Stage(context.Background(), res)
	assert.ErrorIs(t, err, apperr.ErrDuplicateSubmission)

	again := h.pipeline.Validate(validation.RawSubmission{Category: "Pun", Type: "single", Joke: &text})
	assert.False(t, again.Valid, "the pipeline sees the pending duplicate too")
}

func TestAcceptPromotes(t *testing.T) {
	h := newHarness(t)
	entry := h.stage(t, "Promote me", "de")

	joke, err := h.cache.Accept(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "de", joke.Lang)
	assert.Equal(t, "Promote me", joke.Payload.Text())

	stored, ok := h.store.Get(joke.ID)
	require.True(t, ok)
	assert.Equal(t, joke, stored)

	got, err := h.cache.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, got.Status)
	assert.Equal(t, models.ResolutionAccepted, got.Resolution)
	require.NotNil(t, got.JokeID)
	assert.Equal(t, joke.ID, *got.JokeID)
	assert.Empty(t, h.cache.ListPending("de"))
	assert.Len(t, h.cache.Entries("de"), 1, "entries are never removed")
}

func TestAcceptThenRejectIsAlreadyResolved(t *testing.T) {
	h := newHarness(t)
	entry := h.stage(t, "Resolve me once", "en")

	_, err := h.cache.Accept(context.Background(), entry.ID)
	require.NoError(t, err)

	err = h.cache.Reject(context.Background(), entry.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	_, err = h.cache.Accept(context.Background(), entry.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)

	got, _ := h.cache.Get(entry.ID)
	assert.Equal(t, models.StatusDeleted, got.Status)
	assert.Equal(t, models.ResolutionAccepted, got.Resolution, "first resolution is never overwritten")
}

func TestRejectKeepsHistory(t *testing.T) {
	h := newHarness(t)
	entry := h.stage(t, "Not funny", "en")

	require.NoError(t, h.cache.Reject(context.Background(), entry.ID))
	assert.Equal(t, 0, h.store.Len())

	pending, rejected := h.cache.Lookup("en", entry.Submission.Fingerprint)
	assert.False(t, pending)
	assert.True(t, rejected)

	text := "NOT   funny"
	res := h.pipeline.Validate(validation.RawSubmission{Category: "Pun", Type: "single", Joke: &text})
	assert.True(t, res.Valid, "resubmission after rejection is allowed")
	assert.True(t, res.PreviouslyRejected)

	_, err := h.cache.Stage(context.Background(), res)
	assert.NoError(t, err)
}

func TestUnknownEntry(t *testing.T) {
	h := newHarness(t)

	_, err := h.cache.Accept(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrEntryNotFound)
	assert.ErrorIs(t, h.cache.Reject(context.Background(), "missing"), apperr.ErrEntryNotFound)
	_, err = h.cache.Get("missing")
	assert.ErrorIs(t, err, apperr.ErrEntryNotFound)
}

func TestAcceptPromoterFailureKeepsPending(t *testing.T) {
	langs, err := language.NewTable("en", nil)
	require.NoError(t, err)
	boom := errors.New("catalog unavailable")
	cache := New(langs, PromoterFunc(func(context.Context, models.Draft) (models.Joke, error) {
		return models.Joke{}, boom
	}))

	res := validation.Result{Valid: true, Errors: []string{}, Submission: &models.Submission{
		Draft:       models.Draft{Category: models.CategoryPun, Lang: "en", Payload: models.Single{Joke: "x"}},
		Fingerprint: "fp",
	}}
	entry, err := cache.Stage(context.Background(), res)
	require.NoError(t, err)

	_, err = cache.Accept(context.Background(), entry.ID)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, cache.ListPending("en"), 1)
}

func TestConcurrentAcceptReject(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		entry := h.stage(t, fmt.Sprintf("race %d", round), "en")

		var wg sync.WaitGroup
		var wins, conflicts atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					_, err = h.cache.Accept(context.Background(), entry.ID)
				} else {
					err = h.cache.Reject(context.Background(), entry.ID)
				}
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, apperr.ErrAlreadyResolved):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(7), conflicts.Load())
		got, _ := h.cache.Get(entry.ID)
		if got.Resolution == models.ResolutionAccepted {
			assert.Equal(t, 1, h.store.Len())
		} else {
			assert.Equal(t, 0, h.store.Len())
		}
	}
}

func TestConcurrentStageAcrossLanguages(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup

	for _, lang := range []string{"en", "de"} {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(lang string, i int) {
				defer wg.Done()
				for k := 0; k < 10; k++ {
					text := fmt.Sprintf("%s joke %d-%d", lang, i, k)
					res := h.pipeline.Validate(validation.RawSubmission{Category: "Pun", Type: "single", Joke: &text, Lang: lang})
					if !assert.True(t, res.Valid) {
						return
					}
					_, err := h.cache.Stage(context.Background(), res)
					assert.NoError(t, err)
				}
			}(lang, i)
		}
	}
	wg.Wait()

	assert.Len(t, h.cache.ListPending("en"), 40)
	assert.Len(t, h.cache.ListPending("de"), 40)
}

func TestPersistenceRoundTrip(t *testing.T) {
	p := newMemPersister()
	clock := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, WithPersister(p), WithClock(func() time.Time { return clock }))

	a := h.stage(t, "persist a", "en")
	b := h.stage(t, "persist b", "en")
	h.stage(t, "persist c", "de")
	require.NoError(t, h.cache.Reject(context.Background(), a.ID))

	assert.Len(t, p.buckets["en"], 2)
	assert.Len(t, p.buckets["de"], 1)

	restored := newHarness(t, WithPersister(p))
	require.NoError(t, restored.cache.Restore(context.Background()))

	pending := restored.cache.ListPending("en")
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
	assert.Equal(t, clock, pending[0].AddedAt)

	_, rejected := restored.cache.Lookup("en", a.Submission.Fingerprint)
	assert.True(t, rejected)
	assert.ErrorIs(t, restored.cache.Reject(context.Background(), a.ID), apperr.ErrAlreadyResolved)

	_, err := restored.cache.Accept(context.Background(), b.ID)
	assert.NoError(t, err)
}

func TestRestoreIsolatesBrokenBucket(t *testing.T) {
	p := newMemPersister()
	h := newHarness(t, WithPersister(p))
	h.stage(t, "survives", "en")
	h.stage(t, "lost", "de")

	p.fail["de"] = errors.New("corrupt bucket")
	restored := newHarness(t, WithPersister(p))
	require.NoError(t, restored.cache.Restore(context.Background()))

	assert.Len(t, restored.cache.ListPending("en"), 1)
	assert.Empty(t, restored.cache.ListPending("de"))
}

func TestStageRollsBackOnPersistFailure(t *testing.T) {
	p := newMemPersister()
	h := newHarness(t, WithPersister(p))
	p.fail["en"] = errors.New("redis down")

	text := "unsaved"
	res := h.pipeline.Validate(validation.RawSubmission{Category: "Pun", Type: "single", Joke: &text})
	_, err := h.cache.Stage(context.Background(), res)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
	assert.Empty(t, h.cache.ListPending("en"))

	delete(p.fail, "en")
	_, err = h.cache.Stage(context.Background(), res)
	assert.NoError(t, err, "rolled back entry does not block a retry")
}

func TestRejectRollsBackOnPersistFailure(t *testing.T) {
	p := newMemPersister()
	h := newHarness(t, WithPersister(p))
	entry := h.stage(t, "keep me pending", "en")
	p.fail["en"] = errors.New("redis down")

	err := h.cache.Reject(context.Background(), entry.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))

	got, err := h.cache.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAdded, got.Status)
	assert.Empty(t, got.Resolution)
	pending, rejected := h.cache.Lookup("en", entry.Submission.Fingerprint)
	assert.True(t, pending)
	assert.False(t, rejected)
	assert.False(t, h.cache.Dirty("en"))

	delete(p.fail, "en")
	require.NoError(t, h.cache.Reject(context.Background(), entry.ID))
	assert.Equal(t, models.StatusDeleted, p.buckets["en"][0].Status)
}

func TestAcceptPersistFailureIsFlushedLater(t *testing.T) {
	p := newMemPersister()
	h := newHarness(t, WithPersister(p))
	entry := h.stage(t, "promoted anyway", "en")
	p.fail["en"] = errors.New("redis down")

	joke, err := h.cache.Accept(context.Background(), entry.ID)
	require.NoError(t, err, "promotion already happened")
	assert.Equal(t, 1, h.store.Len())
	assert.True(t, h.cache.Dirty("en"))
	assert.Equal(t, models.StatusAdded, p.buckets["en"][0].Status, "stored copy is behind")

	assert.Error(t, h.cache.Flush(context.Background()))
	assert.True(t, h.cache.Dirty("en"))

	delete(p.fail, "en")
	require.NoError(t, h.cache.Flush(context.Background()))
	assert.False(t, h.cache.Dirty("en"))

	saved := p.buckets["en"][0]
	assert.Equal(t, models.StatusDeleted, saved.Status)
	assert.Equal(t, models.ResolutionAccepted, saved.Resolution)
	require.NotNil(t, saved.JokeID)
	assert.Equal(t, joke.ID, *saved.JokeID)
}

func TestAcceptPersistFailureCaughtUpByNextSave(t *testing.T) {
	p := newMemPersister()
	h := newHarness(t, WithPersister(p))
	entry := h.stage(t, "first accepted", "en")
	p.fail["en"] = errors.New("redis down")

	_, err := h.cache.Accept(context.Background(), entry.ID)
	require.NoError(t, err)

	delete(p.fail, "en")
	h.stage(t, "next submission", "en")

	assert.False(t, h.cache.Dirty("en"))
	require.Len(t, p.buckets["en"], 2)
	assert.Equal(t, models.StatusDeleted, p.buckets["en"][0].Status)
}

func TestRestoreResolvesEntriesAlreadyPublished(t *testing.T) {
	p := newMemPersister()
	h := newHarness(t, WithPersister(p))
	entry := h.stage(t, "accepted before the crash", "en")
	other := h.stage(t, "still waiting", "en")
	p.fail["en"] = errors.New("redis down")
	joke, err := h.cache.Accept(context.Background(), entry.ID)
	require.NoError(t, err)
	delete(p.fail, "en")

	// The catalog comes back from the database with the promoted joke in it,
	// while the bucket still lists the entry as added.
	restored := newHarness(t, WithPersister(p))
	require.NoError(t, restored.store.Load([]models.Joke{joke}))
	require.NoError(t, restored.cache.Restore(context.Background()))

	pending := restored.cache.ListPending("en")
	require.Len(t, pending, 1)
	assert.Equal(t, other.ID, pending[0].ID)

	got, err := restored.cache.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, got.Status)
	assert.Equal(t, models.ResolutionAccepted, got.Resolution)
	assert.Equal(t, models.StatusDeleted, p.buckets["en"][0].Status, "reconciled bucket is saved")
}
