package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyTest       = "test"
	KeyBackend    = "backend"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
	KeyHRESULT    = "hresult"
)

type contextKey struct{}

// switchableHandler lets package-level loggers created before Init()
// dynamically pick up the configured handler once Init runs.
type switchableHandler struct {
	state  *switchableState
	attrs  []slog.Attr
	groups []string
}

type switchableState struct {
	current atomic.Value // stores slog.Handler
}

func newSwitchableHandler(h slog.Handler) *switchableHandler {
	state := &switchableState{}
	state.current.Store(h)
	return &switchableHandler{state: state}
}

func (h *switchableHandler) set(handler slog.Handler) {
	h.state.current.Store(handler)
}

func (h *switchableHandler) base() slog.Handler {
	return h.state.current.Load().(slog.Handler)
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.base()
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.materialize().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.materialize().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	groups := make([]string, len(h.groups))
	copy(groups, h.groups)

	return &switchableHandler{
		state:  h.state,
		attrs:  merged,
		groups: groups,
	}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	attrs := make([]slog.Attr, len(h.attrs))
	copy(attrs, h.attrs)

	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)

	return &switchableHandler{
		state:  h.state,
		attrs:  attrs,
		groups: groups,
	}
}

var (
	rootHandler    = newSwitchableHandler(&recordingHandler{base: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})})
	defaultLogger  = slog.New(rootHandler)
	activeRecorder *Recorder
	recorderMu     sync.RWMutex
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init initializes the global logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr, stdout carries test results)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	rootHandler.set(&recordingHandler{base: handler})
	defaultLogger = slog.New(rootHandler)
	slog.SetDefault(defaultLogger)
}

// Attach routes records at or above the recorder's level into r until
// the returned detach func is called. Only one recorder is active.
func Attach(r *Recorder) (detach func()) {
	recorderMu.Lock()
	prev := activeRecorder
	activeRecorder = r
	recorderMu.Unlock()

	return func() {
		recorderMu.Lock()
		if activeRecorder == r {
			activeRecorder = prev
		}
		recorderMu.Unlock()
	}
}

// recordingHandler wraps a base slog.Handler and copies records into the
// active Recorder, if any.
type recordingHandler struct {
	base  slog.Handler
	attrs []slog.Attr
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.base.Enabled(ctx, level) {
		return true
	}
	recorderMu.RLock()
	r := activeRecorder
	recorderMu.RUnlock()
	return r != nil && r.ShouldRecord(level)
}

func (h *recordingHandler) Handle(ctx context.Context, record slog.Record) error {
	recorderMu.RLock()
	r := activeRecorder
	recorderMu.RUnlock()

	if r != nil && r.ShouldRecord(record.Level) {
		fields := make(map[string]any, len(h.attrs)+record.NumAttrs())
		for _, a := range h.attrs {
			fields[a.Key] = fieldValue(a.Value)
		}
		record.Attrs(func(a slog.Attr) bool {
			fields[a.Key] = fieldValue(a.Value)
			return true
		})

		component := extractComponent(fields)
		delete(fields, KeyComponent)
		r.add(Entry{
			Time:      record.Time,
			Level:     record.Level.String(),
			Component: component,
			Message:   record.Message,
			Fields:    fields,
		})
	}

	if !h.base.Enabled(ctx, record.Level) {
		return nil
	}
	return h.base.Handle(ctx, record)
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &recordingHandler{base: h.base.WithAttrs(attrs), attrs: merged}
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return &recordingHandler{base: h.base.WithGroup(name), attrs: h.attrs}
}

// fieldValue flattens values that do not serialize on their own.
func fieldValue(v slog.Value) any {
	v = v.Resolve()
	switch x := v.Any().(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	return v.Any()
}

func extractComponent(fields map[string]any) string {
	if c, ok := fields[KeyComponent].(string); ok {
		return c
	}
	return "unknown"
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithTest returns a child logger carrying the running test's name.
func WithTest(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String(KeyTest, name))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
