package internal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mmcpherson/cadenza/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
monitor:
  watch_directory: /tmp/cadenza-test-downloads
  target_extension: .mp3
  stabilize_ceiling_seconds: 45
trigger:
  converter_url: https://converter.example.com/
  settle_delay_seconds: 7
  headless: true
workflow:
  download_timeout_seconds: 120
  fallback_lookback_minutes: 5
`

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	var config internal.CadenzaConfig
	require.NoError(t, config.LoadFromFile(path))

	assert.Equal(t, "/tmp/cadenza-test-downloads", config.Monitor.WatchDirectory)
	assert.Equal(t, 45, config.Monitor.StabilizeCeilingSeconds)
	assert.Equal(t, "https://converter.example.com/", config.Trigger.ConverterURL)
	assert.Equal(t, 7, config.Trigger.SettleDelaySeconds)
	assert.Equal(t, 120, config.Workflow.DownloadTimeoutSeconds)
	assert.Equal(t, 5, config.Workflow.FallbackLookbackMinutes)

	// Values omitted from the file keep their declared defaults.
	assert.Equal(t, "#url", config.Trigger.URLInputSelector)
	assert.Equal(t, "Download MP3", config.Trigger.DownloadButtonText)
}

func TestLoadFromFileMissing(t *testing.T) {
	var config internal.CadenzaConfig
	assert.Error(t, config.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestWatchDirectoryDefaultsToDownloads(t *testing.T) {
	var config internal.CadenzaConfig
	require.NoError(t, config.LoadFromEnv())

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Downloads"), config.Monitor.WatchDirectory)
}
