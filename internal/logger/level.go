package logger

import "strings"

// DiffToInfo is the number of levels that come before "Info", kept so that
// a LogSink defaulting Info to 0 (as logr-style sinks do) lines up.
const DiffToInfo = 1

// Level is a log severity, ordered least to most verbose.
type Level int

const (
	// LevelOff suppresses logging entirely.
	LevelOff Level = iota

	// LevelInfo is high-level information about normal driver behavior:
	// store open/close, session open/close, topology refresh.
	LevelInfo

	// LevelDebug is voluminous, per-request detail: outgoing command,
	// response classification, retry attempts.
	LevelDebug
)

var levelLiteralMap = map[string]Level{
	"off":   LevelOff,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelDebug,
}

// ParseLevel parses an environment-variable literal into a Level. Unknown
// literals return LevelOff.
func ParseLevel(str string) Level {
	for literal, level := range levelLiteralMap {
		if strings.EqualFold(literal, str) {
			return level
		}
	}
	return LevelOff
}

// Component names one logical subsystem that can be leveled independently.
type Component string

// Components the driver logs under.
const (
	ComponentExecutor   Component = "executor"
	ComponentSession    Component = "session"
	ComponentTopology   Component = "topology"
	ComponentConnection Component = "connection"
)

var allComponents = []Component{
	ComponentExecutor, ComponentSession, ComponentTopology, ComponentConnection,
}
