package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"DEBUG":   logrus.DebugLevel,
		"debug":   logrus.DebugLevel,
		" warn ":  logrus.WarnLevel,
		"WARNING": logrus.WarnLevel,
		"ERROR":   logrus.ErrorLevel,
		"INFO":    logrus.InfoLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInitializeToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	Initialize(Options{Level: "DEBUG", File: path})
	t.Cleanup(func() { Initialize(Options{}) })

	WithRecord("k1", "High").Info("Log record ingested")
	WithError(errors.New("boom"), "store").Warn("write failed")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, "Logging system initialized")
	assert.Contains(t, out, "log_key=k1")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "stack_trace=")
}
