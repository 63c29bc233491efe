// Package logging provides structured logging for raftd.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	if strings.ToLower(strings.TrimSpace(s)) == "json" {
		return FormatJSON
	}
	return FormatText
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	// WithRequestID returns a child logger tagging every entry with requestID.
	WithRequestID(requestID string) Logger
	// WithFields returns a child logger carrying the given key-value pairs.
	WithFields(keysAndValues ...interface{}) Logger
}

// sink is the output shared by a logger and all of its children.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) writeLine(line []byte) {
	s.mu.Lock()
	s.w.Write(append(line, '\n'))
	s.mu.Unlock()
}

type logger struct {
	level     Level
	format    Format
	out       *sink
	fields    map[string]interface{}
	requestID string
	now       func() time.Time
}

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	// Output is "stdout", "stderr" or a file path.
	Output string
}

// New creates a new Logger with the given configuration. A file output that
// cannot be opened falls back to stderr.
func New(cfg Config) Logger {
	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot open %s: %v\n", cfg.Output, err)
			w = os.Stderr
		} else {
			w = f
		}
	}
	return NewWriter(w, ParseLevel(cfg.Level), ParseFormat(cfg.Format))
}

// NewWriter creates a Logger writing to w.
func NewWriter(w io.Writer, level Level, format Format) Logger {
	return newLogger(w, level, format)
}

func newLogger(w io.Writer, level Level, format Format) *logger {
	return &logger{
		level:  level,
		format: format,
		out:    &sink{w: w},
		fields: make(map[string]interface{}),
		now:    time.Now,
	}
}

// NewDefault creates a text logger at info level on stdout.
func NewDefault() Logger {
	return NewWriter(os.Stdout, LevelInfo, FormatText)
}

// NewNop creates a no-op logger that discards all output.
func NewNop() Logger {
	return nopLogger{}
}

func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues)
}

func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues)
}

func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues)
}

func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues)
}

func (l *logger) WithRequestID(requestID string) Logger {
	child := l.clone()
	child.requestID = requestID
	return child
}

func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	child := l.clone()
	addPairs(child.fields, keysAndValues)
	return child
}

func (l *logger) clone() *logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &logger{
		level:     l.level,
		format:    l.format,
		out:       l.out,
		fields:    fields,
		requestID: l.requestID,
		now:       l.now,
	}
}

// addPairs copies alternating key-value pairs into dst. Non-string keys and
// a trailing odd value are dropped. Errors are stored by message so they
// survive JSON encoding.
func addPairs(dst map[string]interface{}, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr && err != nil {
			dst[key] = err.Error()
			continue
		}
		dst[key] = kv[i+1]
	}
}

func (l *logger) log(level Level, msg string, kv []interface{}) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(kv)/2+4)
	for k, v := range l.fields {
		entry[k] = v
	}
	addPairs(entry, kv)
	ts := l.now().UTC().Format(time.RFC3339Nano)

	var line []byte
	if l.format == FormatJSON {
		entry["ts"] = ts
		entry["level"] = level.String()
		entry["msg"] = msg
		if l.requestID != "" {
			entry["request_id"] = l.requestID
		}
		data, err := json.Marshal(entry)
		if err != nil {
			data, _ = json.Marshal(map[string]string{
				"ts":    ts,
				"level": LevelError.String(),
				"msg":   "failed to marshal log entry",
				"error": err.Error(),
			})
		}
		line = data
	} else {
		line = []byte(l.formatText(ts, level, msg, entry))
	}

	l.out.writeLine(line)
}

// formatText renders "ts [level] msg request_id=.. k=v" with keys sorted so
// output is stable between runs.
func (l *logger) formatText(ts string, level Level, msg string, entry map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", ts, level, msg)
	if l.requestID != "" {
		fmt.Fprintf(&b, " request_id=%s", l.requestID)
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry[k])
	}
	return b.String()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})       {}
func (nopLogger) Info(string, ...interface{})        {}
func (nopLogger) Warn(string, ...interface{})        {}
func (nopLogger) Error(string, ...interface{})       {}
func (n nopLogger) WithRequestID(string) Logger      { return n }
func (n nopLogger) WithFields(...interface{}) Logger { return n }
