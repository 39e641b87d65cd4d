package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownJokeType = errors.New("unknown joke type")
	ErrPayloadMismatch = errors.New("payload does not match joke type")
)

type JokeType string

const (
	TypeSingle  JokeType = "single"
	TypeTwoPart JokeType = "twopart"
)

func (t JokeType) Valid() bool {
	return t == TypeSingle || t == TypeTwoPart
}

// Category is a canonical joke category. Aliases never reach this type;
// they are resolved by the category registry first.
type Category string

const (
	CategoryProgramming   Category = "Programming"
	CategoryMiscellaneous Category = "Miscellaneous"
	CategoryDark          Category = "Dark"
	CategoryPun           Category = "Pun"
	CategorySpooky        Category = "Spooky"
	CategoryChristmas     Category = "Christmas"

	// CategoryUnresolved marks a submission whose category failed resolution.
	CategoryUnresolved Category = ""
)

// Categories lists every canonical category in display order.
var Categories = []Category{
	CategoryProgramming,
	CategoryMiscellaneous,
	CategoryDark,
	CategoryPun,
	CategorySpooky,
	CategoryChristmas,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Payload is the text of a joke. Only Single and TwoPart implement it.
type Payload interface {
	Type() JokeType
	// Text is the searchable text: the joke itself, or setup and delivery
	// joined by a single space.
	Text() string
	isPayload()
}

type Single struct {
	Joke string
}

func (Single) Type() JokeType { return TypeSingle }
func (s Single) Text() string { return s.Joke }
func (Single) isPayload() {}

type TwoPart struct {
	Setup    string
	Delivery string
}

func (TwoPart) Type() JokeType { return TypeTwoPart }
func (t TwoPart) Text() string { return t.Setup + " " + t.Delivery }
func (TwoPart) isPayload() {}

// NewPayload builds the payload variant for t. Fields that do not belong to
// the variant must be empty.
func NewPayload(t JokeType, joke, setup, delivery string) (Payload, error) {
	switch t {
	case TypeSingle:
		if joke == "" || setup != "" || delivery != "" {
			return nil, ErrPayloadMismatch
		}
		return Single{Joke: joke}, nil
	case TypeTwoPart:
		if joke != "" || setup == "" || delivery == "" {
			return nil, ErrPayloadMismatch
		}
		return TwoPart{Setup: setup, Delivery: delivery}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJokeType, t)
	}
}

// Draft is a joke without an id: the shape of a submission payload.
type Draft struct {
	Category Category
	Flags    FlagSet
	Lang     string
	Payload  Payload
}

func (d Draft) Type() JokeType {
	if d.Payload == nil {
		return ""
	}
	return d.Payload.Type()
}

func (d Draft) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(d))
}

func (d *Draft) UnmarshalJSON(data []byte) error {
	var w jokeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	draft, err := w.draft()
	if err != nil {
		return err
	}
	*d = draft
	return nil
}

// Joke is an immutable catalog record.
type Joke struct {
	ID int
	Draft
}

func (j Joke) MarshalJSON() ([]byte, error) {
	w := toWire(j.Draft)
	id := j.ID
	w.ID = &id
	return json.Marshal(w)
}

func (j *Joke) UnmarshalJSON(data []byte) error {
	var w jokeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == nil {
		return errors.New("joke id is required")
	}
	if *w.ID < 0 {
		return fmt.Errorf("joke id must be non-negative, got %d", *w.ID)
	}
	draft, err := w.draft()
	if err != nil {
		return err
	}
	*j = Joke{ID: *w.ID, Draft: draft}
	return nil
}

type jokeWire struct {
	ID       *int     `json:"id,omitempty"`
	Category Category `json:"category"`
	Type     JokeType `json:"type"`
	Joke     string   `json:"joke,omitempty"`
	Setup    string   `json:"setup,omitempty"`
	Delivery string   `json:"delivery,omitempty"`
	Flags    FlagSet  `json:"flags"`
	Lang     string   `json:"lang"`
}

func toWire(d Draft) jokeWire {
	w := jokeWire{
		Category: d.Category,
		Flags:    d.Flags,
		Lang:     d.Lang,
	}
	switch p := d.Payload.(type) {
	case Single:
		w.Type = TypeSingle
		w.Joke = p.Joke
	case TwoPart:
		w.Type = TypeTwoPart
		w.Setup = p.Setup
		w.Delivery = p.Delivery
	}
	return w
}

func (w jokeWire) draft() (Draft, error) {
	payload, err := NewPayload(w.Type, w.Joke, w.Setup, w.Delivery)
	if err != nil {
		return Draft{}, err
	}
	return Draft{
		Category: w.Category,
		Flags:    w.Flags,
		Lang:     w.Lang,
		Payload:  payload,
	}, nil
}

// Submission is a candidate joke staged for moderation.
type Submission struct {
	Draft       Draft     `json:"payload"`
	IPHash      string    `json:"ip_hash"`
	Timestamp   time.Time `json:"timestamp"`
	Fingerprint string    `json:"fingerprint"`
}

type Status string

const (
	StatusAdded   Status = "added"
	StatusDeleted Status = "deleted"
)

type Resolution string

const (
	ResolutionNone     Resolution = ""
	ResolutionAccepted Resolution = "accepted"
	ResolutionRejected Resolution = "rejected"
)

type CacheEntry struct {
	ID         string     `json:"id"`
	AddedAt    time.Time  `json:"added_at"`
	Submission Submission `json:"submission"`
	Status     Status     `json:"status"`
	Resolution Resolution `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	JokeID     *int       `json:"joke_id,omitempty"`
}

func (e CacheEntry) Pending() bool {
	return e.Status == StatusAdded
}
