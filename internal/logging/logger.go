// Package logging provides structured logging for the shore CLI and its workers.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shore-hpc/shore/internal/events"
)

// Options controls where log output goes.
type Options struct {
	// Console is the human-readable sink. Nil means stdout.
	Console io.Writer

	// LogFile enables a rotating JSON log file when non-empty.
	LogFile string

	// Verbose lowers the level to debug.
	Verbose bool

	// EventBus receives warn and error entries as LogEvents when set.
	EventBus *events.EventBus
}

// Logger wraps zerolog with shore-specific sinks.
type Logger struct {
	zlog     zerolog.Logger
	eventBus *events.EventBus
	output   io.Writer // current console writer
	file     *lumberjack.Logger
	level    zerolog.Level
}

// NewLogger creates a logger from opts.
func NewLogger(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		// stdout for logs, stderr is reserved for progress bars
		console = os.Stdout
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	l := &Logger{
		eventBus: opts.EventBus,
		output:   console,
		level:    level,
	}
	if opts.LogFile != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	l.rebuild()
	return l
}

// NewDefaultCLILogger creates a console-only info logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger(Options{})
}

// Nop returns a logger that discards everything. Used by tests and library callers.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop(), output: io.Discard, level: zerolog.Disabled}
}

func (l *Logger) rebuild() {
	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        l.output,
		TimeFormat: "15:04:05",
	}}
	if l.file != nil {
		writers = append(writers, l.file)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(l.level).
		With().
		Timestamp().
		Logger()
	if l.eventBus != nil {
		zl = zl.Hook(busHook{bus: l.eventBus})
	}
	l.zlog = zl
}

// busHook forwards warn and error entries to the event bus.
type busHook struct {
	bus *events.EventBus
}

func (h busHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.WarnLevel:
		h.bus.PublishLog(events.WarnLevel, msg, "", nil)
	case zerolog.ErrorLevel, zerolog.FatalLevel:
		h.bus.PublishLog(events.ErrorLevel, msg, "", nil)
	}
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child zerolog context.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// ForInstance returns a child logger tagged with the instance name.
func (l *Logger) ForInstance(name string) *Logger {
	child := *l
	child.zlog = l.zlog.With().Str("instance", name).Logger()
	return &child
}

// SetOutput changes the console writer, e.g. to route logs above progress bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// Output returns the current console writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Close flushes and closes the rotating file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
