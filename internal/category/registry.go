// Package category resolves user supplied category names and aliases to the
// closed set of canonical categories.
package category

import (
	"errors"
	"fmt"
	"strings"

	"joke-catalog/internal/models"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrAliasConflict   = errors.New("alias shadows a canonical category")
)

// Any is the wildcard name that expands to every canonical category.
const Any = "any"

var DefaultAliases = map[string]models.Category{
	"misc":        models.CategoryMiscellaneous,
	"funny":       models.CategoryMiscellaneous,
	"coding":      models.CategoryProgramming,
	"development": models.CategoryProgramming,
	"halloween":   models.CategorySpooky,
	"xmas":        models.CategoryChristmas,
}

// Registry is built once at startup and is safe for concurrent use since it
// is never written after construction.
type Registry struct {
	aliases   map[string]models.Category
	canonical map[string]models.Category
}

// NewRegistry builds a registry from DefaultAliases plus extra, whose values
// may be canonical names or existing aliases.
func NewRegistry(extra map[string]string) (*Registry, error) {
	r := &Registry{
		aliases:   make(map[string]models.Category, len(DefaultAliases)+len(extra)),
		canonical: make(map[string]models.Category, len(models.Categories)),
	}
	for _, c := range models.Categories {
		r.canonical[normalize(string(c))] = c
	}
	for alias, c := range DefaultAliases {
		r.aliases[normalize(alias)] = c
	}

	for alias, target := range extra {
		key := normalize(alias)
		c, err := r.Resolve(target)
		if err != nil {
			return nil, fmt.Errorf("alias %q: %w", alias, err)
		}
		if existing, ok := r.canonical[key]; ok && existing != c {
			return nil, fmt.Errorf("%w: %q -> %s", ErrAliasConflict, alias, c)
		}
		if key == Any {
			return nil, fmt.Errorf("%w: %q is reserved", ErrAliasConflict, alias)
		}
		r.aliases[key] = c
	}

	return r, nil
}

// Resolve maps name to its canonical category. Aliases win over canonical
// names; resolving a canonical name returns it unchanged.
func (r *Registry) Resolve(name string) (models.Category, error) {
	key := normalize(name)
	if c, ok := r.aliases[key]; ok {
		return c, nil
	}
	if c, ok := r.canonical[key]; ok {
		return c, nil
	}
	return models.CategoryUnresolved, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

func (r *Registry) IsWildcard(name string) bool {
	return normalize(name) == Any
}

// ListCanonical returns the canonical categories in display order.
func (r *Registry) ListCanonical() []models.Category {
	out := make([]models.Category, len(models.Categories))
	copy(out, models.Categories)
	return out
}

// Expand resolves names into a set of canonical categories. An empty list or
// any wildcard entry yields every canonical category.
func (r *Registry) Expand(names []string) (map[models.Category]struct{}, error) {
	set := make(map[models.Category]struct{}, len(models.Categories))
	if len(names) == 0 {
		for _, c := range models.Categories {
			set[c] = struct{}{}
		}
		return set, nil
	}

	for _, name := range names {
		if r.IsWildcard(name) {
			for _, c := range models.Categories {
				set[c] = struct{}{}
			}
			continue
		}
		c, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		set[c] = struct{}{}
	}
	return set, nil
}

// Aliases returns a copy of the alias table.
func (r *Registry) Aliases() map[string]models.Category {
	out := make(map[string]models.Category, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
