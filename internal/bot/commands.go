package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"joke-catalog/internal/filter"
	"joke-catalog/internal/models"
	"joke-catalog/internal/validation"
)

var (
	ErrUnknownArgument = errors.New("unknown argument")
	ErrBadSubmission   = errors.New("submission must look like: <category> [lang] [+flag ...] | <joke> or | <setup> | <delivery>")
)

// parseJokeArgs turns "/joke" arguments into a filter. Arguments are
// key=value pairs with comma separated lists, plus the bare word "safe":
//
//	/joke cat=programming,pun exclude=dark blacklist=nsfw type=single
//	/joke flags=political contains=cat id=3-12 lang=de amount=3 safe
//	/joke 42
func parseJokeArgs(args []string) (filter.Filter, error) {
	var f filter.Filter

	for _, arg := range args {
		if id, err := strconv.Atoi(arg); err == nil {
			f.ID = filter.ExactID(id)
			continue
		}
		if strings.EqualFold(arg, "safe") {
			f.SafeMode = true
			continue
		}

		key, value, ok := strings.Cut(arg, "=")
		if !ok || value == "" {
			return filter.Filter{}, fmt.Errorf("%w: %q", ErrUnknownArgument, arg)
		}

		switch strings.ToLower(key) {
		case "cat", "category", "categories":
			f.IncludeCategories = append(f.IncludeCategories, splitList(value)...)
		case "exclude":
			f.ExcludeCategories = append(f.ExcludeCategories, splitList(value)...)
		case "flags":
			set, err := parseFlags(value)
			if err != nil {
				return filter.Filter{}, err
			}
			f.IncludeFlags |= set
		case "blacklist", "blacklistflags":
			set, err := parseFlags(value)
			if err != nil {
				return filter.Filter{}, err
			}
			f.ExcludeFlags |= set
		case "type":
			t := models.JokeType(strings.ToLower(value))
			if !t.Valid() {
				return filter.Filter{}, fmt.Errorf("type %q is invalid, expected %q or %q", value, models.TypeSingle, models.TypeTwoPart)
			}
			f.Type = t
		case "contains":
			f.Contains = value
		case "id":
			if err := parseIDArg(&f, value); err != nil {
				return filter.Filter{}, err
			}
		case "lang":
			f.Lang = value
		case "amount":
			n, err := strconv.Atoi(value)
			if err != nil {
				return filter.Filter{}, fmt.Errorf("amount %q is not a number", value)
			}
			f.Amount = n
		default:
			return filter.Filter{}, fmt.Errorf("%w: %q", ErrUnknownArgument, key)
		}
	}

	return f, nil
}

func parseIDArg(f *filter.Filter, value string) error {
	from, to, isRange := strings.Cut(value, "-")
	if !isRange {
		id, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("id %q is not a number", value)
		}
		f.ID = filter.ExactID(id)
		return nil
	}

	lo, err := strconv.Atoi(from)
	if err != nil {
		return fmt.Errorf("id range %q is invalid", value)
	}
	hi, err := strconv.Atoi(to)
	if err != nil {
		return fmt.Errorf("id range %q is invalid", value)
	}
	f.IDRange = &filter.IDRange{From: lo, To: hi}
	return nil
}

func parseFlags(value string) (models.FlagSet, error) {
	var set models.FlagSet
	for _, name := range splitList(value) {
		flag, ok := models.ParseFlag(name)
		if !ok {
			return 0, fmt.Errorf("flag %q is unknown", name)
		}
		set = set.With(flag)
	}
	return set, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseSubmission reads the payload of "/submit":
//
//	/submit pun de +nsfw | I used to be a banker but I lost interest.
//	/submit programming | Why do programmers prefer dark mode? | Because light attracts bugs.
func parseSubmission(payload string) (validation.RawSubmission, error) {
	parts := strings.Split(payload, "|")
	if len(parts) < 2 || len(parts) > 3 {
		return validation.RawSubmission{}, ErrBadSubmission
	}

	head := strings.Fields(parts[0])
	if len(head) == 0 {
		return validation.RawSubmission{}, ErrBadSubmission
	}

	raw := validation.RawSubmission{Category: head[0]}
	for _, token := range head[1:] {
		if name, ok := strings.CutPrefix(token, "+"); ok {
			if raw.Flags == nil {
				raw.Flags = make(map[string]any)
			}
			raw.Flags[name] = true
			continue
		}
		if raw.Lang != "" {
			return validation.RawSubmission{}, ErrBadSubmission
		}
		raw.Lang = token
	}

	if len(parts) == 2 {
		joke := parts[1]
		raw.Type = string(models.TypeSingle)
		raw.Joke = &joke
	} else {
		setup, delivery := parts[1], parts[2]
		raw.Type = string(models.TypeTwoPart)
		raw.Setup = &setup
		raw.Delivery = &delivery
	}
	return raw, nil
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func formatJoke(j models.Joke) string {
	var body string
	switch p := j.Payload.(type) {
	case models.Single:
		body = escapeMarkdown(p.Joke)
	case models.TwoPart:
		body = escapeMarkdown(p.Setup) + "\n\n" + escapeMarkdown(p.Delivery)
	}

	label := fmt.Sprintf("[#%d %s/%s]", j.ID, j.Category, j.Lang)
	if !j.Flags.Empty() {
		label += " " + j.Flags.String()
	}
	return fmt.Sprintf("%s\n\n%s", body, escapeMarkdown(label))
}

func formatEntry(e models.CacheEntry) string {
	d := e.Submission.Draft
	text := d.Payload.Text()
	if r := []rune(text); len(r) > 120 {
		text = string(r[:120]) + "..."
	}
	return fmt.Sprintf("`%s` %s %s\n%s", e.ID, d.Category, e.AddedAt.Format("2006-01-02 15:04"), escapeMarkdown(text))
}
