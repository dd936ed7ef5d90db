package statusfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/rrsc/internal/health"
)

func TestWriter_Write_ProducesReadableJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	w := New(path)

	require.NoError(t, w.Write(health.Info{OverallStatus: health.Degraded, Ready: true, Uptime: 2 * time.Second}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var payload statusPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "degraded", payload.Status)
	assert.True(t, payload.Ready)
}

func TestWriter_Write_OverwritesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	w := New(path)

	require.NoError(t, w.Write(health.Info{OverallStatus: health.Healthy, Ready: true}))
	require.NoError(t, w.Write(health.Info{OverallStatus: health.Unhealthy, Ready: false}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var payload statusPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "unhealthy", payload.Status)
}

func TestWriter_Write_LeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	w := New(path)
	require.NoError(t, w.Write(health.Info{OverallStatus: health.Healthy}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "status.json", entries[0].Name())
}
