package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	equipErrors "github.com/YuminosukeSato/equipml/pkg/errors"
)

// ZerologLogger implements Logger on top of zerolog.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger creates a Logger writing JSON lines to w at the given level.
// If pretty is true, a human-readable console writer is used instead.
func NewZerologLogger(w io.Writer, level Level, pretty bool) *ZerologLogger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
	return &ZerologLogger{zl: zl}
}

// Debug implements Logger.Debug.
func (l *ZerologLogger) Debug(msg string, fields ...any) {
	l.emit(l.zl.Debug(), msg, fields)
}

// Info implements Logger.Info.
func (l *ZerologLogger) Info(msg string, fields ...any) {
	l.emit(l.zl.Info(), msg, fields)
}

// Warn implements Logger.Warn.
func (l *ZerologLogger) Warn(msg string, fields ...any) {
	l.emit(l.zl.Warn(), msg, fields)
}

// Error implements Logger.Error.
func (l *ZerologLogger) Error(msg string, fields ...any) {
	l.emit(l.zl.Error(), msg, fields)
}

// With implements Logger.With.
func (l *ZerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		if err, ok := fields[i+1].(error); ok {
			ctx = ctx.Str(key, err.Error())
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &ZerologLogger{zl: ctx.Logger()}
}

// Enabled implements Logger.Enabled.
func (l *ZerologLogger) Enabled(_ context.Context, level Level) bool {
	return l.zl.GetLevel() <= toZerologLevel(level)
}

// Zerolog exposes the underlying zerolog.Logger.
func (l *ZerologLogger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *ZerologLogger) emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	// A leading error value is attached without a key.
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			addError(e, err)
			fields = fields[1:]
		}
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		v := fields[i+1]
		if err, ok := v.(error); ok && key == ErrorKey {
			addError(e, err)
			continue
		}
		// 型付きエラーや警告は error でもあるので、構造化を先に試す
		switch v := v.(type) {
		case zerolog.LogObjectMarshaler:
			e.Object(key, v)
		case error:
			e.Str(key, v.Error())
		default:
			e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

func addError(e *zerolog.Event, err error) {
	e.Str(ErrorKey, err.Error())
	var m zerolog.LogObjectMarshaler
	if errors.As(err, &m) {
		e.Object(ErrorTypeKey, m)
	}
	if st := extractStacktrace(err); st != "" {
		e.Str(StacktraceKey, st)
	}
}

// extractStacktrace returns the stack recorded by cockroachdb/errors, if any.
func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// ZerologProvider implements LoggerProvider with named zerolog loggers.
type ZerologProvider struct {
	mu   sync.RWMutex
	root *ZerologLogger
}

// NewZerologProvider creates a provider writing to w.
func NewZerologProvider(w io.Writer, level Level, pretty bool) *ZerologProvider {
	return &ZerologProvider{root: NewZerologLogger(w, level, pretty)}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.root
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return p.GetLogger().With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root = &ZerologLogger{zl: p.root.zl.Level(toZerologLevel(level))}
}

var (
	providerMu sync.RWMutex
	provider   LoggerProvider = NewZerologProvider(os.Stderr, LevelInfo, false)
)

// SetProvider replaces the global provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	provider = p
}

// GetLogger returns the default logger from the global provider.
func GetLogger() Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLogger()
}

// GetLoggerWithName returns a component logger from the global provider.
func GetLoggerWithName(name string) Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLoggerWithName(name)
}

// Setup installs a zerolog provider as the global provider and routes
// pkg/errors warnings through it.
func Setup(w io.Writer, level string, pretty bool) *ZerologProvider {
	p := NewZerologProvider(w, ParseLevel(level), pretty)
	SetProvider(p)
	warnLogger := p.GetLoggerWithName("warnings")
	equipErrors.SetZerologWarnFunc(func(warning error) {
		if m, ok := warning.(zerolog.LogObjectMarshaler); ok {
			warnLogger.Warn(warning.Error(), "warning", m)
			return
		}
		warnLogger.Warn(warning.Error())
	})
	return p
}
