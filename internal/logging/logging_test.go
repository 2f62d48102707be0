package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Options{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNew_LevelFilters(t *testing.T) {
	l, err := New(Options{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safecircle.log")
	l, err := New(Options{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	l.Info("checkin created", zap.String("checkin_id", "c1"))
	l.Debug("dropped")
	_ = l.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "checkin created", entry["msg"])
	assert.Equal(t, "c1", entry["checkin_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestMust_Panics(t *testing.T) {
	assert.Panics(t, func() { Must(Options{Level: "nope"}) })
}
