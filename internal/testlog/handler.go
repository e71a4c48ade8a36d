// Package testlog records log output deterministically for assertions in tests.
package testlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sblgo/sbl/pkg/logger"
)

// Handler is a slog.Handler that keeps every record as one line of the form
// "LEVEL: message key=value, key=value", without timestamps.
type Handler struct {
	lines *lines
	attrs []slog.Attr

	ignoreDebug bool
}

type lines struct {
	mu  sync.Mutex
	all []string
}

type Option func(*Handler)

// WithIgnoreDebug drops DEBUG records.
func WithIgnoreDebug() Option {
	return func(h *Handler) {
		h.ignoreDebug = true
	}
}

func NewHandler(opts ...Option) *Handler {
	h := &Handler{lines: &lines{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewLogger returns a logger writing to a new Handler.
func NewLogger(opts ...Option) (logger.Logger, *Handler) {
	h := NewHandler(opts...)
	return logger.New(h), h
}

//nolint:gocritic
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", r.Level, r.Message)

	sep := " "
	write := func(a slog.Attr) bool {
		fmt.Fprintf(&sb, "%s%s=%v", sep, a.Key, a.Value)
		sep = ", "
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)

	h.lines.mu.Lock()
	h.lines.all = append(h.lines.all, sb.String())
	h.lines.mu.Unlock()
	return nil
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level != slog.LevelDebug || !h.ignoreDebug
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		lines:       h.lines,
		attrs:       append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		ignoreDebug: h.ignoreDebug,
	}
}

// WithGroup is not supported; groups are flattened away.
func (h *Handler) WithGroup(string) slog.Handler {
	return h
}

// Lines returns a copy of everything logged so far.
func (h *Handler) Lines() []string {
	h.lines.mu.Lock()
	defer h.lines.mu.Unlock()
	return append([]string(nil), h.lines.all...)
}

// Contains reports whether any line contains substr.
func (h *Handler) Contains(substr string) bool {
	for _, line := range h.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
