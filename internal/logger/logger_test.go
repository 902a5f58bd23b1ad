package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blues/fundledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLogLevel("warning"))
	assert.Equal(t, INFO, ParseLogLevel("unknown"))
}

func TestInitFileOutput(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init(config.LogConfig{Level: "info", Output: "file", File: path}))

	Info("pledge %d released", 42)
	Debug("not written")
	With(zap.String("request_id", "req-7")).Warn("confirm rejected")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pledge 42 released")
	assert.NotContains(t, string(data), "not written")
	assert.Contains(t, string(data), `"request_id":"req-7"`)
}

func TestInitFileOutputRequiresPath(t *testing.T) {
	err := Init(config.LogConfig{Output: "file"})
	require.Error(t, err)
}
