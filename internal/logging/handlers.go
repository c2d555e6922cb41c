package logging

import (
	"context"
	"log/slog"
)

// levelFilter drops records below min before they reach the wrapped
// handler. errors.log uses it to keep only warnings and errors.
type levelFilter struct {
	next slog.Handler
	min  slog.Level
}

func newLevelFilter(next slog.Handler, min slog.Level) *levelFilter {
	return &levelFilter{next: next, min: min}
}

func (h *levelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.next.Enabled(ctx, level)
}

func (h *levelFilter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.min {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *levelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelFilter{next: h.next.WithAttrs(attrs), min: h.min}
}

func (h *levelFilter) WithGroup(name string) slog.Handler {
	return &levelFilter{next: h.next.WithGroup(name), min: h.min}
}

// fanout sends each record to every enabled handler. The first handler
// error is returned and the remaining handlers are skipped.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
