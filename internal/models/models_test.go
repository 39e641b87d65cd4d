package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewPayload(t *testing.T) {
	tests := []struct {
		name     string
		typ      JokeType
		joke     string
		setup    string
		delivery string
		want     Payload
		wantErr  error
	}{
		{"single", TypeSingle, "joke", "", "", Single{Joke: "joke"}, nil},
		{"twopart", TypeTwoPart, "", "setup", "delivery", TwoPart{Setup: "setup", Delivery: "delivery"}, nil},
		{"single without text", TypeSingle, "", "", "", nil, ErrPayloadMismatch},
		{"single with setup", TypeSingle, "joke", "setup", "", nil, ErrPayloadMismatch},
		{"twopart missing delivery", TypeTwoPart, "", "setup", "", nil, ErrPayloadMismatch},
		{"twopart with joke", TypeTwoPart, "joke", "setup", "delivery", nil, ErrPayloadMismatch},
		{"unknown type", JokeType("limerick"), "joke", "", "", nil, ErrUnknownJokeType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPayload(tt.typ, tt.joke, tt.setup, tt.delivery)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewPayload() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NewPayload() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestPayloadText(t *testing.T) {
	if got := (TwoPart{Setup: "Knock knock.", Delivery: "Who's there?"}).Text(); got != "Knock knock. Who's there?" {
		t.Errorf("TwoPart.Text() = %q", got)
	}
	if got := (Draft{}).Type(); got != "" {
		t.Errorf("Draft{}.Type() = %q, want empty", got)
	}
}

func TestJokeJSON(t *testing.T) {
	j := Joke{
		ID: 12,
		Draft: Draft{
			Category: CategoryPun,
			Flags:    NewFlagSet(FlagNSFW),
			Lang:     "de",
			Payload:  TwoPart{Setup: "Setup", Delivery: "Delivery"},
		},
	}

	data, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if fields["id"] != float64(12) || fields["type"] != "twopart" || fields["category"] != "Pun" {
		t.Errorf("Marshal() = %s", data)
	}
	if _, ok := fields["joke"]; ok {
		t.Errorf("Marshal() wrote joke for a twopart payload: %s", data)
	}
	flags, ok := fields["flags"].(map[string]any)
	if !ok || len(flags) != len(Flags) || flags["nsfw"] != true || flags["racist"] != false {
		t.Errorf("flags = %v, want every flag as a boolean", fields["flags"])
	}

	var back Joke
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back != j {
		t.Errorf("Unmarshal() = %+v, want %+v", back, j)
	}
}

func TestJokeUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", `{"category":"Pun","type":"single","joke":"x"}`},
		{"negative id", `{"id":-1,"category":"Pun","type":"single","joke":"x"}`},
		{"shape mismatch", `{"id":1,"category":"Pun","type":"single","setup":"x"}`},
		{"unknown type", `{"id":1,"category":"Pun","type":"limerick","joke":"x"}`},
		{"unknown flag", `{"id":1,"category":"Pun","type":"single","joke":"x","flags":{"spicy":true}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j Joke
			if err := json.Unmarshal([]byte(tt.data), &j); err == nil {
				t.Errorf("Unmarshal() error = nil, got %+v", j)
			}
		})
	}
}

func TestFlagSet(t *testing.T) {
	s := NewFlagSet(FlagPolitical, FlagNSFW)

	if !s.Has(FlagNSFW) || s.Has(FlagRacist) {
		t.Errorf("Has() mismatch for %v", s)
	}
	if got := s.String(); got != "nsfw,political" {
		t.Errorf("String() = %q, want nsfw,political", got)
	}
	if !s.Intersects(NewFlagSet(FlagPolitical)) || s.Intersects(NewFlagSet(FlagOthers)) {
		t.Errorf("Intersects() mismatch for %v", s)
	}
	if !FlagSet(0).Empty() || s.Empty() {
		t.Error("Empty() mismatch")
	}
	if f, ok := ParseFlag(" NSFW "); !ok || f != FlagNSFW {
		t.Errorf("ParseFlag() = %v, %v", f, ok)
	}
	if _, ok := ParseFlag("spicy"); ok {
		t.Error("ParseFlag(spicy) ok = true")
	}
	if len(AllFlags.List()) != len(Flags) {
		t.Errorf("AllFlags = %v, want every flag", AllFlags)
	}
}

func TestFlagSetUnmarshalFalseValues(t *testing.T) {
	var s FlagSet
	if err := json.Unmarshal([]byte(`{"nsfw":false,"explicit":true}`), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s != NewFlagSet(FlagExplicit) {
		t.Errorf("Unmarshal() = %v, want explicit", s)
	}
}

func TestCacheEntryPending(t *testing.T) {
	if !(CacheEntry{Status: StatusAdded}).Pending() {
		t.Error("added entry is not pending")
	}
	if (CacheEntry{Status: StatusDeleted, Resolution: ResolutionAccepted}).Pending() {
		t.Error("deleted entry is pending")
	}
}
