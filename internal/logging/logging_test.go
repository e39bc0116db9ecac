package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogDir_RootedAtOpenSrcDir(t *testing.T) {
	t.Setenv("OPENSRC_DIR", "/tmp/opensrc-test")
	assert.Equal(t, filepath.Join("/tmp/opensrc-test", "logs"), DefaultLogDir())
}

func TestDefaultLogPath_EndsWithOpenSrcMCPLog(t *testing.T) {
	t.Setenv("OPENSRC_DIR", "/tmp/opensrc-test")
	assert.Equal(t, "opensrc-mcp.log", filepath.Base(DefaultLogPath()))
}

func TestSetup_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "server.log")

	logger, cleanup, err := Setup(Config{
		Level:         "info",
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	})
	require.NoError(t, err)

	logger.Info("hello", "key", "value")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "server.log")

	logger, cleanup, err := Setup(Config{
		Level:         "warn",
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	})
	require.NoError(t, err)

	logger.Debug("should not appear")
	logger.Warn("should appear")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should not appear")
	assert.Contains(t, string(data), "should appear")
}

func TestSetupServerMode_CreatesDefaultLogFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENSRC_DIR", dir)

	cleanup, err := SetupServerMode()
	require.NoError(t, err)
	defer cleanup()

	_, statErr := os.Stat(DefaultLogPath())
	assert.NoError(t, statErr)
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "custom.log")
	require.NoError(t, os.WriteFile(explicit, []byte("line\n"), 0o644))

	path, err := FindLogFile(explicit)

	require.NoError(t, err)
	assert.Equal(t, explicit, path)
}

func TestFindLogFile_MissingExplicitPathErrors(t *testing.T) {
	_, err := FindLogFile("/nonexistent/path/to/log.log")
	assert.Error(t, err)
}

func TestLevelFromString_DefaultsToInfo(t *testing.T) {
	assert.Equal(t, parseLevel("unknown"), parseLevel("info"))
}
