package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rexml/config"
	"rexml/poller"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rexml.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[poller]
interval = "2m30s"
concurrency = 8
user_agent = "linux:rexml:v1.0 (by /u/someone)"
max_pages = 3

[poller.backoff]
initial = "1m"
max = "1h"

[[feeds]]
name = "golang"
upvote_threshold = 100
time_cutoff_seconds = 86400

[[feeds]]
name = "rust"
upvote_threshold = 250
time_cutoff_seconds = 43200
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 150*time.Second, cfg.Poller.Interval.Duration)
	assert.Equal(t, 8, cfg.Poller.Concurrency)
	assert.Equal(t, "linux:rexml:v1.0 (by /u/someone)", cfg.Poller.UserAgent)
	assert.Equal(t, 3, cfg.Poller.MaxPages)

	assert.Equal(t, poller.Config{
		Interval:    150 * time.Second,
		Concurrency: 8,
		FailureBackoff: poller.BackoffConfig{
			Initial: time.Minute,
			Max:     time.Hour,
		},
	}, cfg.SchedulerConfig())

	feeds, err := cfg.SeedFeeds()
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "golang", feeds[0].Name)
	assert.Equal(t, int64(100), feeds[0].UpvoteThreshold)
	assert.Equal(t, 24*time.Hour, feeds[0].TimeCutoff())
	assert.Equal(t, "rust", feeds[1].Name)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "invalid duration",
			content: "[poller]\ninterval = \"often\"\n",
		},
		{
			name:    "invalid toml",
			content: "[poller\n",
		},
		{
			name:    "wrong type",
			content: "[poller]\nconcurrency = \"many\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSeedFeedsValidation(t *testing.T) {
	cfg := &config.TomlConfig{
		Feeds: []config.TomlFeed{
			{Name: "golang", UpvoteThreshold: 100, TimeCutoffSeconds: 3600},
			{Name: "zero", UpvoteThreshold: 0, TimeCutoffSeconds: 3600},
			{Name: "negative", UpvoteThreshold: 10, TimeCutoffSeconds: -1},
			{Name: "golang", UpvoteThreshold: 5, TimeCutoffSeconds: 60},
		},
	}

	feeds, err := cfg.SeedFeeds()
	require.Error(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "golang", feeds[0].Name)

	var configErr *poller.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "zero", configErr.Feed)
	assert.Contains(t, err.Error(), "negative")
	assert.Contains(t, err.Error(), "listed twice")
}
