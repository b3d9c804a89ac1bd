package logger

import (
	"context"
	"log"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"
)

// NewSlogHandler returns a slog.Handler that writes records as zerolog fields
// on the given Logger. Grouped keys are joined with ".".
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogHandler{log: l}
}

// NewStdLogger returns a *log.Logger suitable for http.Server.ErrorLog.
func NewStdLogger(l *Logger, level Level) *log.Logger {
	if l == nil {
		l = Global()
	}
	sl := slog.LevelInfo
	switch level {
	case LevelDebug:
		sl = slog.LevelDebug
	case LevelWarn:
		sl = slog.LevelWarn
	case LevelError:
		sl = slog.LevelError
	}
	return slog.NewLogLogger(NewSlogHandler(l), sl)
}

type slogHandler struct {
	log    *Logger
	groups []string
	attrs  []slog.Attr
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.log.Enabled(fromSlogLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	ev := h.log.event(fromSlogLevel(record.Level))
	if ev == nil {
		return nil
	}

	for _, a := range h.attrs {
		addAttr(ev, a, nil)
	}
	record.Attrs(func(a slog.Attr) bool {
		addAttr(ev, a, h.groups)
		return true
	})
	ev.Msg(strings.TrimSuffix(record.Message, "\n"))
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &slogHandler{log: h.log, groups: h.groups}
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		// attrs added before a group keep their original nesting
		for i := len(h.groups) - 1; i >= 0; i-- {
			a = slog.Attr{Key: h.groups[i], Value: slog.GroupValue(a)}
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := &slogHandler{log: h.log, attrs: h.attrs}
	next.groups = append(append([]string(nil), h.groups...), name)
	return next
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

func addAttr(ev *zerolog.Event, a slog.Attr, groups []string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		nested := groups
		if a.Key != "" {
			nested = append(append([]string(nil), groups...), a.Key)
		}
		for _, g := range a.Value.Group() {
			addAttr(ev, g, nested)
		}
		return
	}

	key := a.Key
	if key == "" {
		key = "attr"
	}
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindString:
		ev.Str(key, a.Value.String())
	case slog.KindInt64:
		ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		ev.Time(key, a.Value.Time())
	default:
		if err, ok := a.Value.Any().(error); ok {
			ev.AnErr(key, err)
			return
		}
		ev.Interface(key, a.Value.Any())
	}
}
