package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Slog returns a structured logger backed by the global Logger. When the
// global logger was initialised with Console set, records are also written
// to stderr by slog's text handler.
func Slog() *slog.Logger {
	l := Global()
	handlers := []slog.Handler{NewSlogHandler(l)}
	if l.console {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: levelVar{l},
		}))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// levelVar exposes a Logger's level as a slog.Leveler so console output
// follows SetLevel.
type levelVar struct {
	l *Logger
}

func (v levelVar) Level() slog.Level {
	switch v.l.GetLevel() {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		// above every level slog emits
		return slog.LevelError + 100
	}
}

// NewSlogHandler returns a slog.Handler that forwards records to l.
func NewSlogHandler(l *Logger) slog.Handler {
	return &slogAdapter{log: l}
}

type slogAdapter struct {
	log    *Logger
	groups []string
	// attrs added through WithAttrs, already qualified by their groups
	rendered string
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	current := h.log.GetLevel()
	return current != LevelNone && fromSlogLevel(level) >= current
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)
	b.WriteString(h.rendered)
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, attr, h.groups)
		return true
	})

	h.log.write(fromSlogLevel(record.Level), b.String(), false)
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.rendered)
	for _, attr := range attrs {
		writeAttr(&b, attr, h.groups)
	}
	return &slogAdapter{
		log:      h.log,
		groups:   h.groups,
		rendered: b.String(),
	}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogAdapter{
		log:      h.log,
		groups:   append(append([]string(nil), h.groups...), name),
		rendered: h.rendered,
	}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func writeAttr(b *strings.Builder, attr slog.Attr, groups []string) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		for _, a := range attr.Value.Group() {
			writeAttr(b, a, nested)
		}
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	fmt.Fprintf(b, " %s=%v", key, attr.Value)
}
