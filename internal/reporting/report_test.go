package reporting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoz/storage-wiper-sub000/internal/config"
)

func TestFinishComputesDurationAndSpeed(t *testing.T) {
	start := time.Now().Add(-2 * time.Second)
	r := NewOperationReport("/dev/sdb", "Zero Fill", 0, 1, 1<<30, start)

	r.Finish("completed", 1<<30, "")

	require.NotNil(t, r.EndTime)
	assert.Equal(t, "completed", r.Status)
	assert.Equal(t, uint64(1<<30), r.BytesWritten)
	assert.Positive(t, r.SpeedMBps)
	assert.NotEmpty(t, r.Duration)
	assert.Empty(t, r.Error)
}

func TestSaveReportWritesJSON(t *testing.T) {
	cfg := config.Default()
	cfg.Reporting.Enabled = true
	cfg.Reporting.LocalPath = t.TempDir()

	r := NewOperationReport("/dev/sdb", "Gutmann Method", 6, 35, 4096, time.Now())
	r.Finish("completed", 4096*35, "")

	require.NoError(t, SaveReport(r, cfg))

	entries, err := os.ReadDir(cfg.Reporting.LocalPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "wipe_report_sdb_")

	data, err := os.ReadFile(filepath.Join(cfg.Reporting.LocalPath, entries[0].Name()))
	require.NoError(t, err)

	var loaded OperationReport
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, "/dev/sdb", loaded.Device)
	assert.Equal(t, uint32(6), loaded.AlgorithmID)
	assert.Equal(t, 35, loaded.Passes)
}

func TestSaveReportDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Reporting.Enabled = false
	cfg.Reporting.LocalPath = filepath.Join(t.TempDir(), "never-created")

	r := NewOperationReport("/dev/sdb", "Zero Fill", 0, 1, 0, time.Now())
	require.NoError(t, SaveReport(r, cfg))

	_, err := os.Stat(cfg.Reporting.LocalPath)
	assert.True(t, os.IsNotExist(err))
}
