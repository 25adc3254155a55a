package logging

import (
	"context"
	"log/slog"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ASCII transliterates s to plain ASCII: accents are stripped
// ("Educacion" for "Educación") and any remaining non-ASCII rune becomes '?'.
// Tabs and newlines are kept.
func ASCII(s string) string {
	if isASCII(s) {
		return s
	}
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			if r > unicode.MaxASCII {
				return '?'
			}
			return r
		}),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// asciiHandler rewrites messages and string attributes to ASCII before
// handing the record to the wrapped handler.
type asciiHandler struct {
	next slog.Handler
}

func newASCIIHandler(next slog.Handler) slog.Handler {
	return &asciiHandler{next: next}
}

func (h *asciiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *asciiHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, ASCII(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(asciiAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *asciiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	converted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		converted[i] = asciiAttr(a)
	}
	return &asciiHandler{next: h.next.WithAttrs(converted)}
}

func (h *asciiHandler) WithGroup(name string) slog.Handler {
	return &asciiHandler{next: h.next.WithGroup(ASCII(name))}
}

func asciiAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(ASCII(a.Key), ASCII(v.String()))
	case slog.KindGroup:
		group := v.Group()
		converted := make([]any, len(group))
		for i, g := range group {
			converted[i] = asciiAttr(g)
		}
		return slog.Group(ASCII(a.Key), converted...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(ASCII(a.Key), ASCII(err.Error()))
		}
		return slog.Attr{Key: ASCII(a.Key), Value: v}
	default:
		return slog.Attr{Key: ASCII(a.Key), Value: v}
	}
}
