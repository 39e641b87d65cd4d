package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Flag string

const (
	FlagNSFW      Flag = "nsfw"
	FlagReligious Flag = "religious"
	FlagPolitical Flag = "political"
	FlagRacist    Flag = "racist"
	FlagSexist    Flag = "sexist"
	FlagExplicit  Flag = "explicit"
	FlagOthers    Flag = "others"
)

var Flags = []Flag{
	FlagNSFW,
	FlagReligious,
	FlagPolitical,
	FlagRacist,
	FlagSexist,
	FlagExplicit,
	FlagOthers,
}

func ParseFlag(s string) (Flag, bool) {
	f := Flag(strings.ToLower(strings.TrimSpace(s)))
	return f, f.bit() != 0
}

func (f Flag) bit() FlagSet {
	for i, known := range Flags {
		if f == known {
			return 1 << i
		}
	}
	return 0
}

// FlagSet is a bit set over Flags.
type FlagSet uint8

// AllFlags has every known flag set.
var AllFlags = NewFlagSet(Flags...)

func NewFlagSet(flags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s |= f.bit()
	}
	return s
}

func (s FlagSet) Has(f Flag) bool {
	b := f.bit()
	return b != 0 && s&b != 0
}

func (s FlagSet) With(f Flag) FlagSet {
	return s | f.bit()
}

func (s FlagSet) Intersects(other FlagSet) bool {
	return s&other != 0
}

func (s FlagSet) Empty() bool {
	return s == 0
}

func (s FlagSet) List() []Flag {
	var out []Flag
	for _, f := range Flags {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FlagSet) String() string {
	names := make([]string, 0, len(Flags))
	for _, f := range s.List() {
		names = append(names, string(f))
	}
	return strings.Join(names, ",")
}

// MarshalJSON writes every flag as a boolean field.
func (s FlagSet) MarshalJSON() ([]byte, error) {
	m := make(map[Flag]bool, len(Flags))
	for _, f := range Flags {
		m[f] = s.Has(f)
	}
	return json.Marshal(m)
}

func (s *FlagSet) UnmarshalJSON(data []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out FlagSet
	for name, set := range m {
		f, ok := ParseFlag(name)
		if !ok {
			return fmt.Errorf("unknown flag %q", name)
		}
		if set {
			out = out.With(f)
		}
	}
	*s = out
	return nil
}
