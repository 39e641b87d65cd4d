package logger

import "log/slog"

// Keys shared by every component, so log queries can join on them.
const (
	LangKey    = "lang"
	JokeIDKey  = "joke_id"
	EntryIDKey = "entry_id"
)

func Lang(code string) slog.Attr {
	return slog.String(LangKey, code)
}

func JokeID(id int) slog.Attr {
	return slog.Int(JokeIDKey, id)
}

func EntryID(id string) slog.Attr {
	return slog.String(EntryIDKey, id)
}
