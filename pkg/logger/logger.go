// Package logger wraps zerolog behind the structured logging facade used
// across the service layer: a package-level default logger plus chainable
// WithField/WithError/WithContext helpers.
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog.Level so callers don't need to import zerolog
// directly for config.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
	LevelFatal = zerolog.FatalLevel
)

// ParseLevel parses a string level, defaulting to info on unrecognized input.
func ParseLevel(s string) Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return LevelInfo
	}
	return lvl
}

// Logger wraps a zerolog.Logger with the fluent WithX chaining the service
// layer expects.
type Logger struct {
	z zerolog.Logger
}

// Config configures a Logger.
type Config struct {
	Level   Level
	Pretty  bool
	Service string
}

var defaultLogger *Logger

// Init sets the package-level default logger. Called once at startup.
func Init(cfg Config) {
	defaultLogger = New(cfg)
}

// Default returns the package-level logger, lazily initializing with
// production defaults if Init was never called.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New(Config{Level: LevelInfo, Service: "tminus"})
	}
	return defaultLogger
}

// New builds a standalone Logger instance.
func New(cfg Config) *Logger {
	var writer zerolog.ConsoleWriter
	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	zerolog.SetGlobalLevel(cfg.Level)

	builder := zerolog.New(os.Stdout)
	if cfg.Pretty {
		builder = zerolog.New(writer)
	}
	z := builder.With().Timestamp().Logger()
	if cfg.Service != "" {
		z = z.With().Str("service", cfg.Service).Logger()
	}
	return &Logger{z: z}
}

// WithField returns a logger with an additional structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

// WithFields returns a logger with several additional structured fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{z: ctx.Logger()}
}

// requestIDKey and userIDKey are the context keys the HTTP middleware and
// graph coordinator stamp onto request-scoped contexts.
type ctxKey string

const (
	RequestIDKey ctxKey = "request_id"
	UserIDKey    ctxKey = "user_id"
)

// WithContext extracts request_id and user_id from ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	out := l
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok && reqID != "" {
		out = out.WithField("request_id", reqID)
	}
	if userID := ctx.Value(UserIDKey); userID != nil {
		out = out.WithField("user_id", userID)
	}
	return out
}

// WithError attaches an error field. No-op on a nil error.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{z: l.z.With().Err(err).Logger()}
}

// WithDuration attaches a duration in milliseconds.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.WithField("duration_ms", float64(d.Microseconds())/1000.0)
}

func (l *Logger) Debug(msg string, args ...any) { l.z.Debug().Msgf(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.z.Info().Msgf(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.z.Warn().Msgf(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.z.Error().Msgf(msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.z.Fatal().Msgf(msg, args...) }

// Zerolog exposes the underlying zerolog.Logger for adapters (gofiber
// middleware, pgx tracer) that want to wire it in directly.
func (l *Logger) Zerolog() zerolog.Logger { return l.z }

// Package-level functions using the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
func Fatal(msg string, args ...any) { Default().Fatal(msg, args...) }

func WithField(key string, value any) *Logger  { return Default().WithField(key, value) }
func WithFields(fields map[string]any) *Logger { return Default().WithFields(fields) }
func WithContext(ctx context.Context) *Logger  { return Default().WithContext(ctx) }
func WithError(err error) *Logger              { return Default().WithError(err) }
func WithDuration(d time.Duration) *Logger     { return Default().WithDuration(d) }
