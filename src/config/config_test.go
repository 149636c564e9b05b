package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{"DISCORD_TOKEN": "secret"})
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, "https://discord.com/api/v10", cfg.APIBaseURL)
	assert.Equal(t, 513, cfg.Intents)
	assert.True(t, cfg.Compress)
	assert.Zero(t, cfg.ShardCount)
	assert.Empty(t, cfg.ShardIDs)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatGrace)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Second, cfg.FlushWindow)
	assert.Equal(t, "gateway.identify", cfg.LockPrefix)
	assert.Equal(t, 2*time.Minute, cfg.LockTimeout)
	assert.False(t, cfg.LockFallback)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, TraceExporterNone, cfg.TraceExporter)
}

func TestParseValues(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"DISCORD_TOKEN":          "secret",
		"SHARD_IDS":              "2,3",
		"SHARD_COUNT":            "4",
		"HEARTBEAT_OFFSET":       "2s",
		"GATEWAY_COMPRESS":       "false",
		"NATS_URL":               "nats://127.0.0.1:4222",
		"IDENTIFY_LOCKS":         "region,cluster",
		"IDENTIFY_LOCK_FALLBACK": "true",
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, cfg.ShardIDs)
	assert.Equal(t, 4, cfg.ShardCount)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatOffset)
	assert.False(t, cfg.Compress)
	assert.Equal(t, []string{"region", "cluster"}, cfg.Locks)
	assert.True(t, cfg.LockFallback)
	assert.Equal(t, []int{2, 3}, cfg.Shards(4))
}

func TestParseRequiresToken(t *testing.T) {
	_, err := Parse(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISCORD_TOKEN")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr []string
	}{
		{
			name:    "shard out of range",
			vars:    map[string]string{"SHARD_IDS": "0,4", "SHARD_COUNT": "4"},
			wantErr: []string{"shard id (4) must be < SHARD_COUNT (4)"},
		},
		{
			name:    "ids without count",
			vars:    map[string]string{"SHARD_IDS": "1"},
			wantErr: []string{"SHARD_IDS requires SHARD_COUNT"},
		},
		{
			name:    "unknown trace exporter",
			vars:    map[string]string{"TRACE_EXPORTER": "jaeger"},
			wantErr: []string{"TRACE_EXPORTER (jaeger) must be one of: none, stdout"},
		},
		{
			name:    "bad nats scheme",
			vars:    map[string]string{"NATS_URL": "http://nats"},
			wantErr: []string{"NATS_URL has invalid scheme"},
		},
		{
			name: "collects every error",
			vars: map[string]string{
				"LARGE_THRESHOLD":     "10",
				"CONNECT_TIMEOUT":     "0s",
				"MAX_RECONNECT_DELAY": "100ms",
			},
			wantErr: []string{
				"LARGE_THRESHOLD (10) must be between 50 and 250",
				"CONNECT_TIMEOUT must be > 0",
				"MAX_RECONNECT_DELAY (100ms) must be >= RECONNECT_DELAY (1s)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.vars["DISCORD_TOKEN"] = "secret"
			_, err := Parse(tt.vars)
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestShardsDefaultsToAll(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, []int{0, 1, 2}, cfg.Shards(3))
}

func TestLoadMergesEnvFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gateway.env")
	require.NoError(t, os.WriteFile(file, []byte("DISCORD_TOKEN=from-file\nSHARD_COUNT=2\n"), 0o600))
	t.Setenv("SHARD_COUNT", "6")

	cfg, err := Load(filepath.Join(dir, "missing.env"), file)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Token)
	assert.Equal(t, 6, cfg.ShardCount, "environment wins over the file")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("warn", true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger("loud", false)
	assert.Error(t, err)
}
