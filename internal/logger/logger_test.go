package logger

import (
	"testing"
)

type mockLogSink struct {
	calls []string
}

func (m *mockLogSink) Info(level int, msg string, keysAndValues ...interface{}) {
	m.calls = append(m.calls, msg)
}

func BenchmarkLoggerPrint(b *testing.B) {
	b.ReportAllocs()

	l := New(&mockLogSink{}, 0, map[Component]Level{
		ComponentExecutor: LevelDebug,
	})

	msg := executorTestMessage{}
	for i := 0; i < b.N; i++ {
		l.Print(LevelInfo, msg)
	}
}

type executorTestMessage struct{}

func (executorTestMessage) Component() Component     { return ComponentExecutor }
func (executorTestMessage) Message() string          { return "test" }
func (executorTestMessage) KeyValues() []interface{} { return nil }

func TestSelectMaxPayloadLength(t *testing.T) {
	t.Setenv(maxPayloadLengthEnvVar, "")

	for _, tcase := range []struct {
		name     string
		arg      uint
		expected uint
		env      string
	}{
		{name: "default", arg: 0, expected: DefaultMaxPayloadLength},
		{name: "non-zero", arg: 100, expected: 100},
		{name: "valid env", arg: 0, expected: 100, env: "100"},
		{name: "invalid env", arg: 0, expected: DefaultMaxPayloadLength, env: "foo"},
	} {
		t.Run(tcase.name, func(t *testing.T) {
			if tcase.env != "" {
				t.Setenv(maxPayloadLengthEnvVar, tcase.env)
			}
			if actual := selectMaxPayloadLength(tcase.arg); actual != tcase.expected {
				t.Errorf("expected %d, got %d", tcase.expected, actual)
			}
		})
	}
}

func TestSelectComponentLevels(t *testing.T) {
	t.Setenv(componentEnvVarAll, "")
	t.Setenv("RAVENDB_LOG_EXECUTOR", "")
	t.Setenv("RAVENDB_LOG_TOPOLOGY", "")

	levels := selectComponentLevels(map[Component]Level{
		ComponentExecutor: LevelDebug,
	})

	if levels[ComponentExecutor] != LevelDebug {
		t.Errorf("expected executor level Debug, got %v", levels[ComponentExecutor])
	}
	if levels[ComponentTopology] != LevelOff {
		t.Errorf("expected topology level Off, got %v", levels[ComponentTopology])
	}
}

func TestLoggerIsAndPrint(t *testing.T) {
	sink := &mockLogSink{}
	l := New(sink, 0, map[Component]Level{ComponentExecutor: LevelDebug})
	StartPrintListener(l)
	defer l.Close()

	if !l.Is(LevelDebug, ComponentExecutor) {
		t.Fatal("expected executor debug level to be enabled")
	}
	if l.Is(LevelDebug, ComponentSession) {
		t.Fatal("expected session debug level to be disabled by default")
	}

	l.Print(LevelInfo, executorTestMessage{})
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("expected no truncation, got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello"+TruncationSuffix {
		t.Errorf("expected truncation, got %q", got)
	}
}

func TestSelectLogSinkDefaultsToStderr(t *testing.T) {
	if sink := selectLogSink(nil); sink == nil {
		t.Fatal("expected a non-nil default sink")
	}
	if sink := selectLogSink(&mockLogSink{}); sink == nil {
		t.Fatal("expected the provided sink to be returned")
	}
}
