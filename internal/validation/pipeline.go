// Package validation checks raw joke submissions and normalizes them into
// drafts ready for staging.
//
// Every check runs regardless of earlier failures so that a submitter gets
// the complete list of problems in one round trip.
package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"joke-catalog/internal/category"
	"joke-catalog/internal/fingerprint"
	"joke-catalog/internal/language"
	"joke-catalog/internal/metrics"
	"joke-catalog/internal/models"
)

const DefaultMaxTextLength = 1000

// RawSubmission is a submission as decoded at the boundary, before any
// type checking. Flag values are left untyped on purpose.
type RawSubmission struct {
	Category  string         `json:"category"`
	Type      string         `json:"type"`
	Joke      *string        `json:"joke,omitempty"`
	Setup     *string        `json:"setup,omitempty"`
	Delivery  *string        `json:"delivery,omitempty"`
	Flags     map[string]any `json:"flags,omitempty"`
	Lang      string         `json:"lang,omitempty"`
	IPHash    string         `json:"-"`
	Timestamp time.Time      `json:"-"`
}

type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
	// Submission is set whenever the category and payload shape checks
	// passed, even if other checks failed.
	Submission *models.Submission `json:"submission,omitempty"`
	// PreviouslyRejected notes that identical content was rejected before.
	// It does not affect Valid.
	PreviouslyRejected bool `json:"previously_rejected,omitempty"`
}

// Catalog answers duplicate lookups against published jokes.
type Catalog interface {
	HasFingerprint(lang, fp string) bool
}

// Pending answers duplicate lookups against staged submissions.
type Pending interface {
	Lookup(lang, fp string) (pending, rejected bool)
}

type Pipeline struct {
	categories    *category.Registry
	languages     *language.Table
	catalog       Catalog
	pending       Pending
	maxTextLength int
	now           func() time.Time
}

type Option func(*Pipeline)

func WithMaxTextLength(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxTextLength = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(categories *category.Registry, languages *language.Table, catalog Catalog, pending Pending, opts ...Option) *Pipeline {
	p := &Pipeline{
		categories:    categories,
		languages:     languages,
		catalog:       catalog,
		pending:       pending,
		maxTextLength: DefaultMaxTextLength,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

type check struct {
	errors []string
}

func (c *check) fail(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (p *Pipeline) Validate(raw RawSubmission) Result {
	var c check

	cat, catOK := p.resolveCategory(&c, raw.Category)
	payload, shapeOK := p.checkPayload(&c, raw)
	flags := p.coerceFlags(&c, raw.Flags)
	lang := p.checkLanguage(&c, raw.Lang)

	res := Result{}
	if shapeOK {
		fp := fingerprint.Of(payload)
		res.PreviouslyRejected = p.checkDuplicate(&c, lang, fp)

		if catOK {
			ts := raw.Timestamp
			if ts.IsZero() {
				ts = p.now()
			}
			res.Submission = &models.Submission{
				Draft: models.Draft{
					Category: cat,
					Flags:    flags,
					Lang:     lang,
					Payload:  payload,
				},
				IPHash:      raw.IPHash,
				Timestamp:   ts,
				Fingerprint: fp,
			}
		}
	}

	res.Errors = c.errors
	if res.Errors == nil {
		res.Errors = []string{}
	}
	res.Valid = len(res.Errors) == 0
	metrics.RecordValidation(res.Valid)
	return res
}

func (p *Pipeline) resolveCategory(c *check, name string) (models.Category, bool) {
	if strings.TrimSpace(name) == "" {
		c.fail("category is required")
		return models.CategoryUnresolved, false
	}
	if p.categories.IsWildcard(name) {
		c.fail("category %q is not allowed for submissions", name)
		return models.CategoryUnresolved, false
	}
	cat, err := p.categories.Resolve(name)
	if err != nil {
		c.fail("category %q is not a known category or alias", name)
		return models.CategoryUnresolved, false
	}
	return cat, true
}

func (p *Pipeline) checkPayload(c *check, raw RawSubmission) (models.Payload, bool) {
	joke, setup, delivery := text(raw.Joke), text(raw.Setup), text(raw.Delivery)
	before := len(c.errors)

	switch models.JokeType(strings.ToLower(strings.TrimSpace(raw.Type))) {
	case models.TypeSingle:
		if joke == "" {
			c.fail("single joke requires a non-empty \"joke\" field")
		}
		if setup != "" {
			c.fail("single joke must not have a \"setup\" field")
		}
		if delivery != "" {
			c.fail("single joke must not have a \"delivery\" field")
		}
		p.checkLength(c, "joke", joke)
		if len(c.errors) > before {
			return nil, false
		}
		return models.Single{Joke: joke}, true

	case models.TypeTwoPart:
		if setup == "" {
			c.fail("two-part joke requires a non-empty \"setup\" field")
		}
		if delivery == "" {
			c.fail("two-part joke requires a non-empty \"delivery\" field")
		}
		if joke != "" {
			c.fail("two-part joke must not have a \"joke\" field")
		}
		p.checkLength(c, "setup", setup)
		p.checkLength(c, "delivery", delivery)
		if len(c.errors) > before {
			return nil, false
		}
		return models.TwoPart{Setup: setup, Delivery: delivery}, true

	default:
		c.fail("type %q is invalid, expected %q or %q", raw.Type, models.TypeSingle, models.TypeTwoPart)
		return nil, false
	}
}

func (p *Pipeline) checkLength(c *check, field, value string) {
	if n := utf8.RuneCountInString(value); n > p.maxTextLength {
		c.fail("%q is %d characters long, the maximum is %d", field, n, p.maxTextLength)
	}
}

// coerceFlags accepts booleans and absent values. Every other value and
// every unknown flag name is reported; valid flags are still collected.
func (p *Pipeline) coerceFlags(c *check, raw map[string]any) models.FlagSet {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	var flags models.FlagSet
	for _, name := range names {
		f, ok := models.ParseFlag(name)
		if !ok {
			c.fail("flag %q is unknown", name)
			continue
		}
		switch v := raw[name].(type) {
		case nil:
		case bool:
			if v {
				flags = flags.With(f)
			}
		default:
			c.fail("flag %q must be a boolean, got %T", name, v)
		}
	}
	return flags
}

// checkLanguage returns the normalized code. An absent code means the
// default language; an unsupported one is an error, not a fallback.
func (p *Pipeline) checkLanguage(c *check, code string) string {
	if strings.TrimSpace(code) == "" {
		return p.languages.Default()
	}
	lang := language.Normalize(code)
	if !p.languages.IsSupported(lang) {
		c.fail("language %q is not supported", code)
	}
	return lang
}

func (p *Pipeline) checkDuplicate(c *check, lang, fp string) (previouslyRejected bool) {
	bucket := p.languages.Fallback(lang)
	if p.catalog != nil && p.catalog.HasFingerprint(bucket, fp) {
		c.fail("an identical joke already exists in the catalog")
	}
	if p.pending != nil {
		pending, rejected := p.pending.Lookup(bucket, fp)
		if pending {
			c.fail("an identical joke is already awaiting moderation")
		}
		previouslyRejected = rejected
	}
	return previouslyRejected
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
