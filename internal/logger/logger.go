// Package logger is the driver's internal structured logger. It mirrors a
// subset of github.com/go-logr/logr's LogSink interface so callers can
// plug in their own sink, and falls back to a stderr writer otherwise.
package logger

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

const jobBufferSize = 100
const logSinkPathEnvVar = "RAVENDB_LOG_PATH"
const maxPayloadLengthEnvVar = "RAVENDB_LOG_MAX_PAYLOAD_LENGTH"
const componentEnvVarAll = "RAVENDB_LOG_ALL"

// DefaultMaxPayloadLength is the default maximum length, in bytes, of a
// stringified request/response payload embedded in a debug log line.
const DefaultMaxPayloadLength = 1000

// TruncationSuffix is appended to a payload that was cut off at
// MaxPayloadLength.
const TruncationSuffix = "..."

// LogSink is the logging backend. It is a subset of go-logr/logr's LogSink
// interface so any logr adapter can be used directly.
type LogSink interface {
	Info(level int, msg string, keysAndValues ...interface{})
}

// ComponentMessage is one structured log event.
type ComponentMessage interface {
	Component() Component
	Message() string
	KeyValues() []interface{}
}

type job struct {
	level Level
	msg   ComponentMessage
}

// droppedMessage is enqueued in place of a message that didn't fit in the
// job buffer, when a slot is free for it, so a slow sink never blocks the
// driver.
type droppedMessage struct{}

func (droppedMessage) Component() Component       { return ComponentExecutor }
func (droppedMessage) Message() string            { return "log message dropped: sink too slow" }
func (droppedMessage) KeyValues() []interface{}   { return nil }

// Logger is the driver's logger. Every Print call is non-blocking; a
// background goroutine (started by StartPrintListener) drains the job queue
// into the Sink.
type Logger struct {
	ComponentLevels  map[Component]Level
	Sink             LogSink
	MaxPayloadLength uint

	jobs chan job
}

// New constructs a Logger. A nil sink falls back to stderr. componentLevels
// takes precedence over whatever the environment specifies; any component
// left unset there is read from RAVENDB_LOG_ALL / RAVENDB_LOG_<COMPONENT>.
func New(sink LogSink, maxPayloadLength uint, componentLevels map[Component]Level) *Logger {
	return &Logger{
		ComponentLevels: selectComponentLevels(componentLevels),
		MaxPayloadLength: selectMaxPayloadLength(maxPayloadLength),
		Sink:             selectLogSink(sink),
		jobs:             make(chan job, jobBufferSize),
	}
}

// Close stops accepting new messages. The print goroutine started by
// StartPrintListener exits once it drains the remaining queue.
func (l *Logger) Close() {
	close(l.jobs)
}

// Is reports whether the given Level is enabled for the given Component.
func (l *Logger) Is(level Level, component Component) bool {
	return l.ComponentLevels[component] >= level
}

// Print enqueues a message for the print goroutine. Never blocks: a full
// queue drops the message, and a droppedMessage is enqueued in its place
// only if a slot has freed up by then; otherwise nothing is recorded.
func (l *Logger) Print(level Level, msg ComponentMessage) {
	select {
	case l.jobs <- job{level, msg}:
	default:
		select {
		case l.jobs <- job{LevelInfo, droppedMessage{}}:
		default:
		}
	}
}

// StartPrintListener starts the goroutine that drains Print'd messages into
// the configured Sink. Call once per Logger.
func StartPrintListener(l *Logger) {
	go func() {
		for j := range l.jobs {
			if !l.Is(j.level, j.msg.Component()) {
				continue
			}
			if l.Sink == nil {
				continue
			}
			kvs := formatKeyValues(j.msg.KeyValues(), l.MaxPayloadLength)
			l.Sink.Info(int(j.level)-DiffToInfo, j.msg.Message(), kvs...)
		}
	}()
}

// formatKeyValues truncates any "body"/"payload" string value to width and
// dumps non-string values with go-spew so nested structs stay readable in
// plain-text sinks.
func formatKeyValues(kvs []interface{}, width uint) []interface{} {
	out := make([]interface{}, len(kvs))
	for i := 0; i < len(kvs); i += 2 {
		key, _ := kvs[i].(string)
		val := kvs[i+1]

		switch key {
		case "body", "payload":
			if s, ok := val.(string); ok {
				val = truncate(s, width)
			}
		default:
			if _, isStringer := val.(fmt.Stringer); !isStringer {
				if needsDump(val) {
					val = spew.Sdump(val)
				}
			}
		}

		out[i] = key
		out[i+1] = val
	}
	return out
}

func needsDump(v interface{}) bool {
	switch v.(type) {
	case string, int, int32, int64, uint, uint32, uint64, float32, float64, bool, nil:
		return false
	default:
		return true
	}
}

func truncate(str string, width uint) string {
	if len(str) <= int(width) {
		return str
	}
	return str[:width] + TruncationSuffix
}

func selectMaxPayloadLength(requested uint) uint {
	if requested != 0 {
		return requested
	}
	if raw := os.Getenv(maxPayloadLengthEnvVar); raw != "" {
		if parsed, err := strconv.ParseUint(raw, 10, 32); err == nil {
			return uint(parsed)
		}
	}
	return DefaultMaxPayloadLength
}

func selectLogSink(requested LogSink) LogSink {
	if requested != nil {
		return requested
	}

	path := strings.ToLower(os.Getenv(logSinkPathEnvVar))
	switch path {
	case "stdout":
		return newOSSink(os.Stdout)
	case "", "stderr":
		return newOSSink(os.Stderr)
	default:
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			return newOSSink(f)
		}
		return newOSSink(os.Stderr)
	}
}

func selectComponentLevels(requested map[Component]Level) map[Component]Level {
	selected := make(map[Component]Level, len(allComponents))

	globalLevel := ParseLevel(os.Getenv(componentEnvVarAll))
	for _, c := range allComponents {
		level := globalLevel
		if globalLevel == LevelOff {
			level = ParseLevel(os.Getenv("RAVENDB_LOG_" + strings.ToUpper(string(c))))
		}
		selected[c] = level
	}

	for c, level := range requested {
		selected[c] = level
	}

	return selected
}
