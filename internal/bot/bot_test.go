package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"joke-catalog/internal/apperr"
	"joke-catalog/internal/catalog"
	"joke-catalog/internal/config"
	"joke-catalog/internal/filter"
	"joke-catalog/internal/language"
	"joke-catalog/internal/models"
	"joke-catalog/internal/validation"
)

type fakeCatalog struct {
	selected  filter.Filter
	jokes     []models.Joke
	selectErr error

	submitted validation.RawSubmission
	result    validation.Result

	accepted string
	rejected string
	resolve  error
	pending  []models.CacheEntry

	// deadlines records whether each Submit, Accept and Reject call had one.
	deadlines []bool
}

func (f *fakeCatalog) observe(ctx context.Context) {
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
}

func (f *fakeCatalog) Select(flt filter.Filter) ([]models.Joke, error) {
	f.selected = flt
	return f.jokes, f.selectErr
}

func (f *fakeCatalog) Submit(ctx context.Context, raw validation.RawSubmission) (validation.Result, *models.CacheEntry, error) {
	f.observe(ctx)
	f.submitted = raw
	if !f.result.Valid {
		return f.result, nil, nil
	}
	return f.result, &models.CacheEntry{ID: "e1", Submission: *f.result.Submission}, nil
}

func (f *fakeCatalog) Pending(string) []models.CacheEntry {
	return f.pending
}

func (f *fakeCatalog) Accept(ctx context.Context, id string) (models.Joke, error) {
	f.observe(ctx)
	f.accepted = id
	if f.resolve != nil {
		return models.Joke{}, f.resolve
	}
	return models.Joke{ID: 77}, nil
}

func (f *fakeCatalog) Reject(ctx context.Context, id string) error {
	f.observe(ctx)
	f.rejected = id
	return f.resolve
}

func (f *fakeCatalog) Languages() []language.Stat {
	return []language.Stat{
		{Code: "en", Jokes: 10, Coverage: 100, Default: true},
		{Code: "de", Jokes: 5, Coverage: 50},
	}
}

func (f *fakeCatalog) Stats(string) catalog.Stats {
	return catalog.Stats{Total: 3, Safe: 2}
}

func (f *fakeCatalog) Categories() []models.Category {
	return models.Categories
}

func (f *fakeCatalog) DefaultLanguage() string {
	return "en"
}

func newTestBot(t *testing.T, c Catalog) *Bot {
	t.Helper()
	b, err := New(config.BotConfig{Token: "test-token", ParseMode: "Markdown", AdminIDs: []int64{1}}, c, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func TestNewBotNoToken(t *testing.T) {
	_, err := New(config.BotConfig{ParseMode: "Markdown"}, nil, nil)
	if err == nil {
		t.Error("Expected error when token is empty")
	}
}

func TestJokeReply(t *testing.T) {
	fc := &fakeCatalog{jokes: []models.Joke{
		{ID: 5, Draft: models.Draft{Category: models.CategoryPun, Lang: "en", Payload: models.Single{Joke: "snake_case *bold*"}}},
	}}
	b := newTestBot(t, fc)

	got := b.jokeReply([]string{"cat=pun", "safe"})
	if !strings.Contains(got, `snake\_case \*bold\*`) {
		t.Errorf("jokeReply() = %q, want escaped joke text", got)
	}
	if !strings.Contains(got, "#5") {
		t.Errorf("jokeReply() = %q, want joke id", got)
	}
	if !fc.selected.SafeMode || len(fc.selected.IncludeCategories) != 1 {
		t.Errorf("selected filter = %+v", fc.selected)
	}
}

func TestJokeReplyErrors(t *testing.T) {
	fc := &fakeCatalog{}
	b := newTestBot(t, fc)

	if got := b.jokeReply(nil); got != "No jokes match your filter." {
		t.Errorf("jokeReply() = %q", got)
	}
	if got := b.jokeReply([]string{"colour=red"}); !strings.Contains(got, "Could not read") {
		t.Errorf("jokeReply() = %q, want parse error", got)
	}

	fc.selectErr = apperr.New(apperr.CodeFilterConflict, "category Pun is both included and excluded")
	if got := b.jokeReply(nil); !strings.Contains(got, "both included and excluded") {
		t.Errorf("jokeReply() = %q, want conflict message", got)
	}
}

func TestSubmitReply(t *testing.T) {
	fc := &fakeCatalog{result: validation.Result{
		Valid:              true,
		PreviouslyRejected: true,
		Submission:         &models.Submission{Draft: models.Draft{Lang: "en"}},
	}}
	b := newTestBot(t, fc)

	got := b.submitReply(context.Background(), 99, "pun +nsfw | A joke")
	if !strings.Contains(got, "waiting for moderation") || !strings.Contains(got, "rejected before") {
		t.Errorf("submitReply() = %q", got)
	}
	if fc.submitted.IPHash == "" || fc.submitted.IPHash == "99" {
		t.Errorf("IPHash = %q, want a hash of the sender", fc.submitted.IPHash)
	}
	if fc.submitted.Flags["nsfw"] != true {
		t.Errorf("Flags = %v, want nsfw", fc.submitted.Flags)
	}
}

func TestSubmitReplyInvalid(t *testing.T) {
	fc := &fakeCatalog{result: validation.Result{Errors: []string{"category \"x\" is not a known category or alias"}}}
	b := newTestBot(t, fc)

	got := b.submitReply(context.Background(), 99, "x | A joke")
	if !strings.Contains(got, "not accepted") || !strings.Contains(got, "known category") {
		t.Errorf("submitReply() = %q", got)
	}

	if got := b.submitReply(context.Background(), 99, "no pipe here"); !strings.Contains(got, "must look like") {
		t.Errorf("submitReply() = %q, want usage", got)
	}
}

func TestModerationRequiresAdmin(t *testing.T) {
	fc := &fakeCatalog{}
	b := newTestBot(t, fc)
	ctx := context.Background()

	for name, got := range map[string]string{
		"pending": b.pendingReply(2, nil),
		"accept":  b.acceptReply(ctx, 2, []string{"e1"}),
		"reject":  b.rejectReply(ctx, 2, []string{"e1"}),
	} {
		if got != notAdmin {
			t.Errorf("%s by non-admin = %q, want %q", name, got, notAdmin)
		}
	}
	if fc.accepted != "" || fc.rejected != "" {
		t.Error("non-admin reached the catalog")
	}
}

func TestModeration(t *testing.T) {
	fc := &fakeCatalog{}
	b := newTestBot(t, fc)
	ctx := context.Background()

	if got := b.acceptReply(ctx, 1, []string{"e1"}); got != "Accepted as joke #77." {
		t.Errorf("acceptReply() = %q", got)
	}
	if fc.accepted != "e1" {
		t.Errorf("accepted = %q, want e1", fc.accepted)
	}
	if got := b.rejectReply(ctx, 1, []string{"e2"}); got != "Rejected." {
		t.Errorf("rejectReply() = %q", got)
	}
	if got := b.acceptReply(ctx, 1, nil); !strings.HasPrefix(got, "Usage") {
		t.Errorf("acceptReply() without id = %q", got)
	}

	fc.resolve = apperr.New(apperr.CodeAlreadyResolved, "entry is already resolved")
	if got := b.rejectReply(ctx, 1, []string{"e1"}); got != "That submission was already moderated." {
		t.Errorf("rejectReply() = %q", got)
	}
	fc.resolve = apperr.New(apperr.CodeEntryNotFound, "cache entry not found")
	if got := b.acceptReply(ctx, 1, []string{"nope"}); got != "No such submission." {
		t.Errorf("acceptReply() = %q", got)
	}
	fc.resolve = errors.New("disk on fire")
	if got := b.acceptReply(ctx, 1, []string{"e1"}); strings.Contains(got, "disk") {
		t.Errorf("acceptReply() leaked internal error: %q", got)
	}
}

func TestPendingReply(t *testing.T) {
	fc := &fakeCatalog{}
	b := newTestBot(t, fc)

	if got := b.pendingReply(1, nil); got != "Nothing is waiting for moderation." {
		t.Errorf("pendingReply() = %q", got)
	}

	fc.pending = []models.CacheEntry{{
		ID: "abc",
		Submission: models.Submission{Draft: models.Draft{
			Category: models.CategoryPun,
			Payload:  models.Single{Joke: strings.Repeat("x", 200)},
		}},
	}}
	got := b.pendingReply(1, []string{"de"})
	if !strings.Contains(got, "`abc`") || !strings.Contains(got, "...") {
		t.Errorf("pendingReply() = %q", got)
	}
}

func TestLanguagesReply(t *testing.T) {
	b := newTestBot(t, &fakeCatalog{})

	got := b.languagesReply()
	if !strings.Contains(got, "en (default): 10 jokes, 100.0%") || !strings.Contains(got, "de: 5 jokes, 50.0%") {
		t.Errorf("languagesReply() = %q", got)
	}
}

func TestModerationCallsAreBounded(t *testing.T) {
	c := &fakeCatalog{}
	b := newTestBot(t, c)

	b.acceptReply(b.ctx, 1, []string{"e1"})
	b.rejectReply(b.ctx, 1, []string{"e2"})
	b.submitReply(b.ctx, 99, "x | A joke")

	if len(c.deadlines) != 3 {
		t.Fatalf("catalog calls = %d, want 3", len(c.deadlines))
	}
	for i, ok := range c.deadlines {
		if !ok {
			t.Errorf("call %d ran without a deadline", i)
		}
	}
}
