// Package importer reads catalog documents from a file or an HTTP URL.
//
// A document is either {"jokes": [...]} or a bare array of joke records.
// Records that cannot become a catalog joke are skipped and reported; the
// rest are returned in document order.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"joke-catalog/internal/category"
	"joke-catalog/internal/fingerprint"
	"joke-catalog/internal/language"
	"joke-catalog/internal/models"
	"joke-catalog/pkg/logger"
)

const maxDocumentSize = 64 << 20

type Importer struct {
	categories *category.Registry
	languages  *language.Table
	client     *http.Client
}

type Option func(*Importer)

func WithHTTPClient(client *http.Client) Option {
	return func(i *Importer) {
		i.client = client
	}
}

func New(categories *category.Registry, languages *language.Table, opts ...Option) *Importer {
	i := &Importer{
		categories: categories,
		languages:  languages,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

type record struct {
	ID       *int            `json:"id"`
	Category string          `json:"category"`
	Type     string          `json:"type"`
	Joke     string          `json:"joke"`
	Setup    string          `json:"setup"`
	Delivery string          `json:"delivery"`
	Flags    map[string]bool `json:"flags"`
	Lang     string          `json:"lang"`
}

type document struct {
	Jokes []json.RawMessage `json:"jokes"`
}

type Skipped struct {
	Index  int    `json:"index"`
	ID     *int   `json:"id,omitempty"`
	Reason string `json:"reason"`
}

type Report struct {
	Source   string    `json:"source"`
	Total    int       `json:"total"`
	Imported int       `json:"imported"`
	Skipped  []Skipped `json:"skipped,omitempty"`

	// positions holds the document index of each returned joke.
	positions []int
}

// Stored answers whether content is already in the database.
type Stored interface {
	FingerprintExists(ctx context.Context, lang, fp string) (bool, error)
}

// DropStored removes jokes whose content is already stored in their
// language and reports them as skipped. jokes must be the slice returned
// alongside report.
func DropStored(ctx context.Context, stored Stored, jokes []models.Joke, report *Report) ([]models.Joke, error) {
	kept := make([]models.Joke, 0, len(jokes))
	positions := make([]int, 0, len(jokes))

	for n, joke := range jokes {
		exists, err := stored.FingerprintExists(ctx, joke.Lang, fingerprint.Of(joke.Payload))
		if err != nil {
			return nil, fmt.Errorf("failed to check joke %d: %w", joke.ID, err)
		}

		idx := -1
		if n < len(report.positions) {
			idx = report.positions[n]
		}
		if exists {
			id := joke.ID
			report.Skipped = append(report.Skipped, Skipped{Index: idx, ID: &id, Reason: "content already stored"})
			continue
		}
		kept = append(kept, joke)
		positions = append(positions, idx)
	}

	report.positions = positions
	report.Imported = len(kept)
	return kept, nil
}

// Read loads the document at source, an http(s) URL or a file path.
func (i *Importer) Read(ctx context.Context, source string) ([]models.Joke, Report, error) {
	data, err := i.fetch(ctx, source)
	if err != nil {
		return nil, Report{Source: source}, err
	}

	jokes, report, err := i.Parse(data)
	report.Source = source
	if err != nil {
		return nil, report, fmt.Errorf("failed to parse %s: %w", source, err)
	}

	logger.Info("Catalog document read",
		logger.String("source", source),
		logger.Int("total", report.Total),
		logger.Int("imported", report.Imported),
		logger.Int("skipped", len(report.Skipped)),
	)
	return jokes, report, nil
}

func (i *Importer) fetch(ctx context.Context, source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", source, err)
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxDocumentSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "joke-catalog/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", source, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
}

// Parse converts a document into jokes. Duplicate ids and duplicate content
// within one language keep the first occurrence.
func (i *Importer) Parse(data []byte) ([]models.Joke, Report, error) {
	raws, err := decodeDocument(data)
	if err != nil {
		return nil, Report{}, err
	}

	report := Report{Total: len(raws)}
	jokes := make([]models.Joke, 0, len(raws))
	ids := make(map[int]struct{}, len(raws))
	fps := make(map[string]struct{}, len(raws))

	for idx, raw := range raws {
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			report.Skipped = append(report.Skipped, Skipped{Index: idx, Reason: err.Error()})
			continue
		}

		joke, err := i.convert(rec)
		if err != nil {
			report.Skipped = append(report.Skipped, Skipped{Index: idx, Reason: err.Error()})
			continue
		}

		if _, dup := ids[joke.ID]; dup {
			report.Skipped = append(report.Skipped, Skipped{Index: idx, Reason: fmt.Sprintf("duplicate id %d", joke.ID)})
			continue
		}
		key := joke.Lang + "/" + fingerprint.Of(joke.Payload)
		if _, dup := fps[key]; dup {
			report.Skipped = append(report.Skipped, Skipped{Index: idx, Reason: "duplicate content"})
			continue
		}

		ids[joke.ID] = struct{}{}
		fps[key] = struct{}{}
		jokes = append(jokes, joke)
		report.positions = append(report.positions, idx)
	}

	report.Imported = len(jokes)
	return jokes, report, nil
}

func decodeDocument(data []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Jokes, nil
}

func (i *Importer) convert(rec record) (models.Joke, error) {
	if rec.ID == nil || *rec.ID < 0 {
		return models.Joke{}, fmt.Errorf("id must be a non-negative integer")
	}

	cat, err := i.categories.Resolve(rec.Category)
	if err != nil {
		return models.Joke{}, err
	}

	payload, err := models.NewPayload(
		models.JokeType(strings.ToLower(rec.Type)),
		cleanText(rec.Joke),
		cleanText(rec.Setup),
		cleanText(rec.Delivery),
	)
	if err != nil {
		return models.Joke{}, err
	}

	var flags models.FlagSet
	for name, set := range rec.Flags {
		f, ok := models.ParseFlag(name)
		if !ok {
			return models.Joke{}, fmt.Errorf("flag %q is unknown", name)
		}
		if set {
			flags = flags.With(f)
		}
	}

	lang := i.languages.Default()
	if rec.Lang != "" {
		lang = language.Normalize(rec.Lang)
		if !i.languages.IsSupported(lang) {
			return models.Joke{}, fmt.Errorf("language %q is not supported", rec.Lang)
		}
	}

	return models.Joke{
		ID: *rec.ID,
		Draft: models.Draft{
			Category: cat,
			Flags:    flags,
			Lang:     lang,
			Payload:  payload,
		},
	}, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// cleanText strips markup left over from scraped sources.
func cleanText(text string) string {
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return strings.TrimSpace(text)
}
