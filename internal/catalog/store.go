// Package catalog is the in-memory joke store.
//
// Readers work on an immutable snapshot loaded through an atomic pointer and
// never block. Writers (bulk load and promotion) are serialized, build a new
// snapshot containing the fully constructed joke, and publish it in a single
// atomic store, so a reader either sees the whole record or nothing.
package catalog

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"joke-catalog/internal/fingerprint"
	"joke-catalog/internal/models"
)

var (
	ErrDuplicateID = errors.New("duplicate joke id")
	ErrInvalidJoke = errors.New("invalid joke")
	ErrDuplicateFP = errors.New("joke with the same content already exists")
)

type snapshot struct {
	jokes        []models.Joke
	search       []string
	byID         map[int]int
	byLang       map[string][]int
	fingerprints map[string]map[string]int
	nextID       int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:         make(map[int]int),
		byLang:       make(map[string][]int),
		fingerprints: make(map[string]map[string]int),
	}
}

// clone copies the indices. The jokes and search slices are shared: they are
// append-only and a snapshot never reads past its own length.
func (s *snapshot) clone() *snapshot {
	c := &snapshot{
		jokes:        s.jokes,
		search:       s.search,
		byID:         make(map[int]int, len(s.byID)+1),
		byLang:       make(map[string][]int, len(s.byLang)),
		fingerprints: make(map[string]map[string]int, len(s.fingerprints)),
		nextID:       s.nextID,
	}
	for k, v := range s.byID {
		c.byID[k] = v
	}
	for k, v := range s.byLang {
		c.byLang[k] = v[:len(v):len(v)]
	}
	for lang, fps := range s.fingerprints {
		m := make(map[string]int, len(fps)+1)
		for fp, id := range fps {
			m[fp] = id
		}
		c.fingerprints[lang] = m
	}
	return c
}

func (s *snapshot) add(j models.Joke) error {
	if err := check(j.Draft); err != nil {
		return fmt.Errorf("joke %d: %w", j.ID, err)
	}
	if j.ID < 0 {
		return fmt.Errorf("%w: negative id %d", ErrInvalidJoke, j.ID)
	}
	if _, ok := s.byID[j.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, j.ID)
	}

	text := fingerprint.Normalize(j.Payload.Text())
	fp := fingerprint.Hash(text)
	fps, ok := s.fingerprints[j.Lang]
	if !ok {
		fps = make(map[string]int)
		s.fingerprints[j.Lang] = fps
	}
	if other, ok := fps[fp]; ok {
		return fmt.Errorf("%w: joke %d duplicates %d", ErrDuplicateFP, j.ID, other)
	}
	fps[fp] = j.ID

	idx := len(s.jokes)
	s.jokes = append(s.jokes, j)
	s.search = append(s.search, text)
	s.byID[j.ID] = idx
	s.byLang[j.Lang] = append(s.byLang[j.Lang], idx)
	if j.ID >= s.nextID {
		s.nextID = j.ID + 1
	}
	return nil
}

func check(d models.Draft) error {
	if d.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidJoke)
	}
	if !d.Category.Valid() {
		return fmt.Errorf("%w: category %q", ErrInvalidJoke, d.Category)
	}
	if d.Lang == "" {
		return fmt.Errorf("%w: missing language", ErrInvalidJoke)
	}
	return nil
}

type Store struct {
	mu  sync.Mutex
	cur atomic.Pointer[snapshot]
}

func New() *Store {
	s := &Store{}
	s.cur.Store(emptySnapshot())
	return s
}

// Load appends a batch of catalog records with their ids preserved. The batch
// is published atomically; on error nothing from it becomes visible.
func (s *Store) Load(jokes []models.Joke) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Load().clone()
	for _, j := range jokes {
		if err := next.add(j); err != nil {
			return err
		}
	}
	s.cur.Store(next)
	return nil
}

// Promote materializes d as a new joke with a fresh id.
func (s *Store) Promote(d models.Draft) (models.Joke, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Load().clone()
	j := models.Joke{ID: next.nextID, Draft: d}
	if err := next.add(j); err != nil {
		return models.Joke{}, err
	}
	s.cur.Store(next)
	return j, nil
}

func (s *Store) Get(id int) (models.Joke, bool) {
	snap := s.cur.Load()
	idx, ok := snap.byID[id]
	if !ok {
		return models.Joke{}, false
	}
	return snap.jokes[idx], true
}

// All yields the jokes of lang in insertion order from a single snapshot.
func (s *Store) All(lang string) iter.Seq[models.Joke] {
	snap := s.cur.Load()
	return func(yield func(models.Joke) bool) {
		for _, idx := range snap.byLang[lang] {
			if !yield(snap.jokes[idx]) {
				return
			}
		}
	}
}

// Searchable is All paired with each joke's normalized text, as produced by
// fingerprint.Normalize.
func (s *Store) Searchable(lang string) iter.Seq2[models.Joke, string] {
	snap := s.cur.Load()
	return func(yield func(models.Joke, string) bool) {
		for _, idx := range snap.byLang[lang] {
			if !yield(snap.jokes[idx], snap.search[idx]) {
				return
			}
		}
	}
}

func (s *Store) HasFingerprint(lang, fp string) bool {
	_, ok := s.cur.Load().fingerprints[lang][fp]
	return ok
}

func (s *Store) Len() int {
	return len(s.cur.Load().byID)
}

// Counts returns the number of jokes per language.
func (s *Store) Counts() map[string]int {
	snap := s.cur.Load()
	out := make(map[string]int, len(snap.byLang))
	for lang, idx := range snap.byLang {
		out[lang] = len(idx)
	}
	return out
}

type Stats struct {
	Total      int                     `json:"total"`
	ByCategory map[models.Category]int `json:"by_category"`
	ByType     map[models.JokeType]int `json:"by_type"`
	ByFlag     map[models.Flag]int     `json:"by_flag"`
	Safe       int                     `json:"safe"`
}

func (s *Store) Stats(lang string) Stats {
	st := Stats{
		ByCategory: make(map[models.Category]int),
		ByType:     make(map[models.JokeType]int),
		ByFlag:     make(map[models.Flag]int),
	}
	for j := range s.All(lang) {
		st.Total++
		st.ByCategory[j.Category]++
		st.ByType[j.Type()]++
		for _, f := range j.Flags.List() {
			st.ByFlag[f]++
		}
		if j.Flags.Empty() && j.Category != models.CategoryDark {
			st.Safe++
		}
	}
	return st
}
