package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: DebugLevel, Output: &buf, JSON: true})

	l.Component("channel").Info("connected", "attempt", 2)
	assert.Contains(t, buf.String(), `"component":"channel"`)
	assert.Contains(t, buf.String(), `"attempt":2`)
	assert.Contains(t, buf.String(), `"message":"connected"`)

	buf.Reset()
	l.Error(errors.New("boom"), "dial failed")
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: WarnLevel, Output: &buf, JSON: true})

	l.Debug("hidden")
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
}
