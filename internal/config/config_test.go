package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 3002, cfg.Port)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, 1000, cfg.HistoryLimit)
	assert.Equal(t, time.Duration(0), cfg.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "4000")
	t.Setenv("HISTORY_LIMIT", "50")
	t.Setenv("WS_PING_INTERVAL_MS", "1500")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")

	cfg := Load()
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 1500*time.Millisecond, cfg.PingInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 256, cfg.SendBuffer, "unparsable values keep the default")
}

func TestFromArgsLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 5000
rpc_port: 5001
history_limit: 200
ping_interval: 5s
log_level: debug
cors_origins: ["https://app.example"]
`), 0o644))

	t.Setenv("HISTORY_LIMIT", "300")

	cfg, err := FromArgs([]string{"--config", path, "--log-level", "warn"})
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port, "from file")
	assert.Equal(t, 5001, cfg.RPCPort, "from file")
	assert.Equal(t, 300, cfg.HistoryLimit, "env overrides file")
	assert.Equal(t, 5*time.Second, cfg.PingInterval, "file duration")
	assert.Equal(t, "warn", cfg.LogLevel, "flag overrides file")
	assert.Equal(t, []string{"https://app.example"}, cfg.CORSOrigins)
	assert.Equal(t, "/ws", cfg.WSPath, "absent keys keep defaults")
}

func TestFromArgsConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 6100\n"), 0o644))
	t.Setenv("RELAY_CONFIG", path)

	cfg, err := FromArgs([]string{"-p", "6200"})
	require.NoError(t, err)
	assert.Equal(t, 6200, cfg.Port)
}

func TestFromArgsErrors(t *testing.T) {
	_, err := FromArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = FromArgs([]string{"--history-limit", "0"})
	assert.Error(t, err)

	_, err = FromArgs([]string{"--port", "3002", "--rpc-port", "3002"})
	assert.Error(t, err)

	_, err = FromArgs([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestValidateWSPath(t *testing.T) {
	cfg := Default()
	cfg.WSPath = "ws"
	assert.Error(t, cfg.Validate())
}
