package mqtt5

import (
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Level identifies the severity of a log record emitted by the client.
type Level int

const (
	// LevelTrace carries wire-level detail: raw packet encode/decode,
	// keepalive ticks, flow-control window adjustments.
	LevelTrace Level = iota
	// LevelInfo carries session-lifecycle events: connect, subscribe,
	// reconnect, clean disconnect.
	LevelInfo
	// LevelWarn carries recoverable anomalies: duplicate packet IDs,
	// offline queue overflow, server-initiated disconnects with a
	// non-fatal reason code.
	LevelWarn
	// LevelError carries failures the caller should act on.
	LevelError
	// LevelSilent disables all logging.
	LevelSilent
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelSilent:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

// Fields carries structured context alongside a log line: the client ID,
// the packet type under discussion, a reason code, and so on.
type Fields map[string]any

// EventLogger is the logging sink a Client reports its lifecycle through.
// Implementations must be safe for concurrent use; the client logs from
// the read loop, the write loop, and the reconnect goroutine at once.
type EventLogger interface {
	Trace(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)

	// With returns a child logger that merges fields into every record
	// it emits, in addition to the fields passed at the call site.
	With(fields Fields) EventLogger

	Level() Level
	SetLevel(level Level)
}

// silentLogger discards every record. It is the Client's default so that
// a caller who never configures logging pays nothing for it.
type silentLogger struct{}

// NewSilentLogger returns an EventLogger that discards everything.
func NewSilentLogger() EventLogger { return silentLogger{} }

func (silentLogger) Trace(string, Fields)          {}
func (silentLogger) Info(string, Fields)           {}
func (silentLogger) Warn(string, Fields)           {}
func (silentLogger) Error(string, Fields)          {}
func (s silentLogger) With(Fields) EventLogger     { return s }
func (silentLogger) Level() Level                  { return LevelSilent }
func (silentLogger) SetLevel(Level)                {}

// consoleColors maps each level to a color.Attribute set so that a human
// watching a terminal can tell severities apart at a glance.
var consoleColors = map[Level]*color.Color{
	LevelTrace: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow, color.Bold),
	LevelError: color.New(color.FgRed, color.Bold),
}

// ConsoleLogger renders log records to an io.Writer, one line per record,
// with the level tag colorized when the writer looks like a terminal.
type ConsoleLogger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	fields Fields
	color  bool
}

// NewConsoleLogger builds a ConsoleLogger writing to w at the given level.
// A nil writer defaults to stderr. Coloring is enabled automatically when
// w is os.Stdout or os.Stderr and can be overridden with EnableColor.
func NewConsoleLogger(w io.Writer, level Level) *ConsoleLogger {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleLogger{
		out:    w,
		level:  level,
		fields: make(Fields),
		color:  w == os.Stdout || w == os.Stderr,
	}
}

// EnableColor turns colorized level tags on or off regardless of the
// writer passed to NewConsoleLogger.
func (c *ConsoleLogger) EnableColor(enabled bool) {
	c.mu.Lock()
	c.color = enabled
	c.mu.Unlock()
}

func (c *ConsoleLogger) Trace(msg string, fields Fields) {
	if c.Level() <= LevelTrace {
		c.emit(LevelTrace, msg, fields)
	}
}

func (c *ConsoleLogger) Info(msg string, fields Fields) {
	if c.Level() <= LevelInfo {
		c.emit(LevelInfo, msg, fields)
	}
}

func (c *ConsoleLogger) Warn(msg string, fields Fields) {
	if c.Level() <= LevelWarn {
		c.emit(LevelWarn, msg, fields)
	}
}

func (c *ConsoleLogger) Error(msg string, fields Fields) {
	if c.Level() <= LevelError {
		c.emit(LevelError, msg, fields)
	}
}

// With returns a new ConsoleLogger sharing the same writer and level but
// carrying fields merged on top of the parent's.
func (c *ConsoleLogger) With(fields Fields) EventLogger {
	c.mu.Lock()
	merged := make(Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	c.mu.Unlock()
	for k, v := range fields {
		merged[k] = v
	}

	return &ConsoleLogger{
		out:    c.out,
		level:  c.Level(),
		fields: merged,
		color:  c.color,
	}
}

func (c *ConsoleLogger) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *ConsoleLogger) SetLevel(level Level) {
	c.mu.Lock()
	c.level = level
	c.mu.Unlock()
}

func (c *ConsoleLogger) emit(level Level, msg string, fields Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := level.String()
	if c.color {
		if painter, ok := consoleColors[level]; ok {
			tag = painter.Sprint(tag)
		}
	}

	merged := make(Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	if len(merged) == 0 {
		_, _ = io.WriteString(c.out, "["+tag+"] "+msg+"\n")
		return
	}

	line := "[" + tag + "] " + msg + " "
	for k, v := range merged {
		line += k + "="
		line += sprint(v)
		line += " "
	}
	_, _ = io.WriteString(c.out, line+"\n")
}

func sprint(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return color.New().Sprintf("%v", t)
	}
}

// Field names a Client reports under. They exist so callers filtering or
// aggregating log output (grep, a log-shipping agent) have a stable key
// set to match against rather than free-form prose.
const (
	FieldClientID    = "client_id"
	FieldTopic       = "topic"
	FieldPacketID    = "packet_id"
	FieldPacketType  = "packet_type"
	FieldQoS         = "qos"
	FieldReasonCode  = "reason_code"
	FieldError       = "error"
	FieldRemoteAddr  = "remote_addr"
	FieldDuration    = "duration"
	FieldBytes       = "bytes"
	FieldAttempt     = "attempt"
	FieldQueueDepth  = "queue_depth"
	FieldSessionKept = "session_present"
)
