package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		out = append(out, entry)
	}
	return out
}

func TestIsolatedLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.log.json")
	log := NewIsolatedLogger(path)

	log.Debug("Notify", "dropped below file level", nil)
	log.Info("Notify", "Progress", map[string]interface{}{"thread_id": "t1"})
	log.Error("Notify", "Delivery failed", map[string]interface{}{"error": "timeout"})
	_ = log.Sync()

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "Progress", lines[0]["message"])
	assert.Equal(t, "Notify", lines[0]["module"])
	assert.Equal(t, "t1", lines[0]["details"].(map[string]interface{})["thread_id"])
	assert.Equal(t, "timeout", lines[1]["error_ref"])
	assert.Equal(t, path, log.Path())
}

func TestConsoleCopyHonoursLevel(t *testing.T) {
	var console bytes.Buffer
	log := New(Options{
		FilePath:     filepath.Join(t.TempDir(), "app.log.json"),
		Production:   true,
		Console:      zapcore.AddSync(&console),
		ConsoleLevel: zap.WarnLevel,
	})

	log.Info("Pipeline", "quiet", nil)
	log.Warn("Pipeline", "loud", nil)
	_ = log.Sync()

	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), `"message":"loud"`)
}
