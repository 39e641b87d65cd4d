// Package language holds the set of supported language codes and the single
// fallback rule every catalog and cache lookup goes through.
package language

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

var ErrNoLanguages = errors.New("at least one language is required")

type Table struct {
	def       string
	supported map[string]struct{}
	codes     []string
}

// NewTable builds a table; def is always supported even if absent from codes.
func NewTable(def string, codes []string) (*Table, error) {
	def = Normalize(def)
	if def == "" {
		return nil, ErrNoLanguages
	}

	t := &Table{
		def:       def,
		supported: map[string]struct{}{def: {}},
	}
	for _, c := range codes {
		c = Normalize(c)
		if c == "" {
			return nil, fmt.Errorf("empty language code in %v", codes)
		}
		t.supported[c] = struct{}{}
	}

	t.codes = make([]string, 0, len(t.supported))
	for c := range t.supported {
		if c != def {
			t.codes = append(t.codes, c)
		}
	}
	sort.Strings(t.codes)
	t.codes = append([]string{def}, t.codes...)

	return t, nil
}

func (t *Table) Default() string {
	return t.def
}

func (t *Table) IsSupported(code string) bool {
	_, ok := t.supported[Normalize(code)]
	return ok
}

// Fallback returns the normalized code if it is supported, otherwise the
// default language.
func (t *Table) Fallback(code string) string {
	c := Normalize(code)
	if _, ok := t.supported[c]; ok {
		return c
	}
	return t.def
}

// Codes returns every supported code, default first.
func (t *Table) Codes() []string {
	out := make([]string, len(t.codes))
	copy(out, t.codes)
	return out
}

type Stat struct {
	Code     string  `json:"code"`
	Jokes    int     `json:"jokes"`
	Coverage float64 `json:"coverage"`
	Default  bool    `json:"default"`
}

// Completeness reports, per supported language, how many jokes it has and
// its coverage relative to the default language in percent.
func (t *Table) Completeness(counts map[string]int) []Stat {
	base := counts[t.def]
	stats := make([]Stat, 0, len(t.codes))
	for _, c := range t.codes {
		n := counts[c]
		var cov float64
		switch {
		case c == t.def:
			cov = 100
		case base > 0:
			cov = math.Min(100, math.Round(float64(n)/float64(base)*1000)/10)
		}
		stats = append(stats, Stat{Code: c, Jokes: n, Coverage: cov, Default: c == t.def})
	}
	return stats
}

// Normalize lowercases and trims code and reduces well-formed BCP 47 tags to
// their base language ("en-US" -> "en").
func Normalize(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "" {
		return ""
	}
	tag, err := language.Parse(c)
	if err != nil {
		return c
	}
	base, conf := tag.Base()
	if conf == language.No {
		return c
	}
	return base.String()
}
