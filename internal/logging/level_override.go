package logging

import (
	"context"
	"log/slog"
	"strings"
)

// componentRouter applies the global minimum level and swaps in a per-component
// level once a logger is tagged with a component attribute. The wrapped handler
// must be configured with the most verbose level needed by any override.
type componentRouter struct {
	next      slog.Handler
	level     slog.Level
	overrides map[string]slog.Level
}

func (h *componentRouter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.next.Enabled(ctx, level)
}

func (h *componentRouter) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.level {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *componentRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.next.WithAttrs(attrs)
	for _, attr := range attrs {
		if attr.Key != FieldComponent {
			continue
		}
		if lvl, ok := h.overrides[strings.ToLower(attr.Value.String())]; ok {
			return &levelOverrideHandler{next: next, level: lvl}
		}
	}
	return &componentRouter{next: next, level: h.level, overrides: h.overrides}
}

func (h *componentRouter) WithGroup(name string) slog.Handler {
	return &componentRouter{next: h.next.WithGroup(name), level: h.level, overrides: h.overrides}
}

// levelOverrideHandler enforces a fixed minimum level while delegating output
// to the wrapped handler.
type levelOverrideHandler struct {
	next  slog.Handler
	level slog.Level
}

func (h *levelOverrideHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.next.Enabled(ctx, level)
}

func (h *levelOverrideHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.level {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *levelOverrideHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelOverrideHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h *levelOverrideHandler) WithGroup(name string) slog.Handler {
	return &levelOverrideHandler{next: h.next.WithGroup(name), level: h.level}
}

// WithLevelOverride returns a logger that enforces the provided minimum level
// while preserving existing attributes and handler wiring.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	return slog.New(&levelOverrideHandler{next: logger.Handler(), level: level})
}
