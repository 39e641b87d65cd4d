package filter

import (
	"joke-catalog/internal/models"
)

// IDRange is an inclusive id range.
type IDRange struct {
	From int
	To   int
}

func (r IDRange) Contains(id int) bool {
	return id >= r.From && id <= r.To
}

// Filter is a parsed retrieval request. Category names are resolved by the
// engine, so aliases and the "Any" wildcard are accepted.
type Filter struct {
	IncludeCategories []string
	ExcludeCategories []string
	IncludeFlags      models.FlagSet
	ExcludeFlags      models.FlagSet
	Type              models.JokeType
	Contains          string
	// ID fetches a single joke and ignores every other field.
	ID      *int
	IDRange *IDRange
	Lang    string
	Amount  int
	// SafeMode drops every flagged joke and the Dark category.
	SafeMode bool
}

func ExactID(id int) *int {
	return &id
}

// admits reports whether j passes the flag constraint: none of exclude, and
// at least one of include when include is non-empty.
func admits(flags, include, exclude models.FlagSet) bool {
	if flags.Intersects(exclude) {
		return false
	}
	if !include.Empty() && !flags.Intersects(include) {
		return false
	}
	return true
}
