package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := New(level, false)
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}

	_, err := New("loud", false)
	assert.Error(t, err)
}

func TestNewWritesToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intellispec.log")
	logger, err := New("warn", true, path)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("Connection lost", zap.String("port", "COM3"))
	_ = logger.Sync()

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hidden")
	assert.Contains(t, string(out), "Connection lost")
	assert.Contains(t, string(out), "COM3")
}
