package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}

	return out
}

func TestZerologLogger(t *testing.T) {
	t.Run("writes service, message and fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "netserve", zerolog.DebugLevel)

		l.Info("session established", Field{Key: "session_id", Value: 42})

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "netserve", lines[0]["service"])
		assert.Equal(t, "session established", lines[0]["message"])
		assert.Equal(t, float64(42), lines[0]["session_id"])
		assert.Equal(t, "info", lines[0]["level"])
	})

	t.Run("filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "netserve", zerolog.WarnLevel)

		l.Debug("dropped")
		l.Info("dropped")
		l.Warn("kept")
		l.Error("kept too", Err(errors.New("boom")))

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 2)
		assert.Equal(t, "boom", lines[1]["error"])
	})

	t.Run("With attaches fields to derived logger only", func(t *testing.T) {
		var buf bytes.Buffer
		root := NewZerologLogger(zerolog.New(&buf), "netserve", zerolog.InfoLevel)
		child := root.With(Field{Key: "component", Value: "engine"})

		child.Info("from child")
		root.Info("from root")

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 2)
		assert.Equal(t, "engine", lines[0]["component"])
		_, ok := lines[1]["component"]
		assert.False(t, ok)
	})
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x", Err(errors.New("y")))
		l.With(Field{Key: "k", Value: 1}).Info("x")
	})
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger("netserve", &buf, zerolog.InfoLevel)

	l.Info("listening", Field{Key: "addr", Value: "127.0.0.1:9000"})

	assert.Contains(t, buf.String(), "listening")
	assert.Contains(t, buf.String(), "127.0.0.1:9000")
}
