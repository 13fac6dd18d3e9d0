// Package obslog is the structured logger used by the merge driver; a
// *Logger can also be handed to the store and inbox as their Warner. It
// writes JSON-lines to a rotated file via lumberjack and mirrors every
// info, warning and error line to stderr, in color via lipgloss when
// stderr is a TTY and as plain text otherwise.
package obslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level classifies a log line's severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Logger writes structured log lines to a rotated file and, optionally,
// a colorized mirror to stderr.
type Logger struct {
	mu       sync.Mutex
	file     io.Writer
	mirror   io.Writer
	useColor bool
}

// Option configures a Logger at construction time.
type Option func(*Logger)

// WithMirror overrides the stderr mirror writer, for tests.
func WithMirror(w io.Writer) Option {
	return func(l *Logger) { l.mirror = w }
}

// New opens (creating if needed) a rotating JSON-lines log file at path.
// Logged lines also mirror to stderr, colorized when stderr is a TTY;
// debug lines are mirrored only when color is on.
func New(path string, opts ...Option) *Logger {
	l := &Logger{
		file: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		},
		mirror:   os.Stderr,
		useColor: shouldUseColor(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

type line struct {
	Time    time.Time      `json:"time"`
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (l *Logger) write(level Level, msg string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := line{Time: time.Now(), Level: level, Message: msg, Fields: fields}
	enc, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.file.Write(append(enc, '\n'))

	if l.mirror == nil {
		return
	}
	if level == LevelDebug && !l.useColor {
		// Debug lines are file-only unless a human is actively
		// watching a color terminal.
		return
	}
	fmt.Fprintln(l.mirror, l.render(level, msg))
}

func (l *Logger) render(level Level, msg string) string {
	if !l.useColor {
		return fmt.Sprintf("[%s] %s", level, msg)
	}
	switch level {
	case LevelWarn:
		return warnStyle.Render("[warn] ") + msg
	case LevelError:
		return errorStyle.Render("[error] ") + msg
	case LevelDebug:
		return debugStyle.Render("[debug] " + msg)
	default:
		return msg
	}
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, args ...any) {
	l.write(LevelDebug, fmt.Sprintf(format, args...), nil)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, args ...any) {
	l.write(LevelInfo, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a warning. It satisfies the store.Warner and inbox.Warner
// interfaces, so a *Logger can be passed directly as a store option.
func (l *Logger) Warnf(format string, args ...any) {
	l.write(LevelWarn, fmt.Sprintf(format, args...), nil)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, args ...any) {
	l.write(LevelError, fmt.Sprintf(format, args...), nil)
}

// WithFields returns a logger-shaped value that attaches fields to every
// subsequent call; useful for tagging a run of log lines with a project
// directory or command name.
func (l *Logger) WithFields(fields map[string]any) *Fielded {
	return &Fielded{logger: l, fields: fields}
}

// Fielded is a Logger bound to a fixed field set.
type Fielded struct {
	logger *Logger
	fields map[string]any
}

func (f *Fielded) Debugf(format string, args ...any) {
	f.logger.write(LevelDebug, fmt.Sprintf(format, args...), f.fields)
}

func (f *Fielded) Infof(format string, args ...any) {
	f.logger.write(LevelInfo, fmt.Sprintf(format, args...), f.fields)
}

func (f *Fielded) Warnf(format string, args ...any) {
	f.logger.write(LevelWarn, fmt.Sprintf(format, args...), f.fields)
}

func (f *Fielded) Errorf(format string, args ...any) {
	f.logger.write(LevelError, fmt.Sprintf(format, args...), f.fields)
}
