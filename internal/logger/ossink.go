package logger

import (
	"io"
	"log"
)

// osSink is the default LogSink: a thin wrapper over the standard library's
// log.Logger, used when the caller supplies no custom sink.
type osSink struct {
	logger *log.Logger
}

func newOSSink(w io.Writer) *osSink {
	return &osSink{logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

// Info implements LogSink.
func (s *osSink) Info(level int, msg string, keysAndValues ...interface{}) {
	prefix := "INFO"
	if level > 0 {
		prefix = "DEBUG"
	}
	args := append([]interface{}{prefix, msg}, keysAndValues...)
	s.logger.Println(args...)
}
