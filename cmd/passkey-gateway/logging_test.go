// ABOUTME: Tests for the gateway binary's log handler
// ABOUTME: Checks level filtering and attribute rendering of the colour handler

package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	logger := slog.New(newColorHandler(&out, slog.LevelInfo))

	logger.Debug("hidden")
	assert.Empty(t, out.String())

	logger.With("component", "gateway").WithGroup("req").Warn("slow", "path", "/signin/begin")
	line := out.String()
	assert.Contains(t, line, "WRN slow")
	assert.Contains(t, line, "component=gateway")
	assert.Contains(t, line, "req.path=/signin/begin")
}
