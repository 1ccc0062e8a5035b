package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts a slog handler to Logger.
func NewSlogLogger(h slog.Handler) Logger {
	return slogLogger{l: slog.New(h)}
}

// NewWriterLogger builds a Logger writing to w. format is "json" or "text";
// level is one of debug, info, warn, error.
func NewWriterLogger(w io.Writer, format, level string) Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return NewSlogLogger(slog.NewJSONHandler(w, opts))
	}
	return NewSlogLogger(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
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

func (s slogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s slogLogger) Info(msg string, fields ...Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s slogLogger) Warn(msg string, fields ...Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s slogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

func (s slogLogger) With(fields ...Field) Logger {
	return slogLogger{l: s.l.With(attrs(fields)...)}
}

func (s slogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	s.l.Log(ctx, level, msg, attrs(fields)...)
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		if f == nil {
			continue
		}
		v := f.Value()
		if err, ok := v.(error); ok {
			if err == nil {
				continue
			}
			v = err.Error()
		}
		out = append(out, slog.Any(f.Key(), v))
	}
	return out
}

// NewLogTracer returns a Tracer that logs each finished span at debug level.
func NewLogTracer(l Logger) Tracer {
	return logTracer{log: OrNop(l)}
}

type logTracer struct{ log Logger }

func (t logTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &logSpan{log: t.log, name: name, start: time.Now()}
}

type logSpan struct {
	log   Logger
	name  string
	start time.Time

	mu   sync.Mutex
	tags []Field
	err  error
}

func (s *logSpan) SetTag(key string, value interface{}) {
	s.mu.Lock()
	s.tags = append(s.tags, field{key, value})
	s.mu.Unlock()
}

func (s *logSpan) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *logSpan) Finish() {
	s.mu.Lock()
	fields := append([]Field{String("span", s.name), Duration("elapsed", time.Since(s.start))}, s.tags...)
	err := s.err
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("span failed", append(fields, Error("error", err))...)
		return
	}
	s.log.Debug("span finished", fields...)
}
