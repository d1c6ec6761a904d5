package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "needle.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
needle:
  node:
    interface: eth1
    hostname: probe-01
    gateway:
      ip: 10.0.0.1
      mac: "AA:AA:AA:AA:AA:AA"
  capture:
    type: packetsock
    read_timeout: 250ms
  plugins:
    dir: /opt/needle/plugins
    builtins: [core]
  modules:
    reap_interval: 10s
  control:
    socket: /tmp/needle-test.sock
  log:
    level: debug
    format: text
  metrics:
    listen: "127.0.0.1:9999"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eth1", cfg.Node.Interface)
	assert.Equal(t, "probe-01", cfg.Node.Hostname)
	assert.Equal(t, "10.0.0.1", cfg.Node.Gateway.IP)
	assert.False(t, cfg.Node.Self.Complete())

	assert.Equal(t, "packetsock", cfg.Capture.Type)
	assert.Equal(t, "eth1", cfg.Capture.Interface, "capture interface inherits node interface")
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.ReadTimeout)
	assert.Equal(t, 65535, cfg.Capture.ReadBufferSize)

	assert.Equal(t, "/opt/needle/plugins", cfg.Plugins.Dir)
	assert.Equal(t, []string{"core"}, cfg.Plugins.Builtins)
	assert.Equal(t, []string{"*.so"}, cfg.Plugins.Patterns)

	assert.Equal(t, 10*time.Second, cfg.Modules.ReapInterval)
	assert.Equal(t, 5*time.Second, cfg.Modules.StopTimeout)

	assert.Equal(t, "/tmp/needle-test.sock", cfg.Control.Socket)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Listen)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "afpacket", cfg.Capture.Type)
	assert.Equal(t, time.Second, cfg.Capture.ReadTimeout)
	assert.Equal(t, "/var/run/needle.sock", cfg.Control.Socket)
	assert.Equal(t, []string{"core", "sniff", "arpwatch"}, cfg.Plugins.Builtins)
	assert.NotEmpty(t, cfg.Node.Hostname)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NEEDLE_LOG_LEVEL", "warn")
	t.Setenv("NEEDLE_CONTROL_SOCKET", "/tmp/env.sock")

	cfg, err := Load(writeConfig(t, "needle:\n  log:\n    level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/env.sock", cfg.Control.Socket)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "needle:\n  log:\n    level: loud\n"},
		{"log format", "needle:\n  log:\n    format: xml\n"},
		{"capture type", "needle:\n  capture:\n    type: usb\n"},
		{"file without path", "needle:\n  capture:\n    type: file\n"},
		{"pcap sink without path", "needle:\n  capture:\n    sink:\n      type: pcap\n"},
		{"bad gateway ip", "needle:\n  node:\n    gateway:\n      ip: 10.0.0.300\n"},
		{"bad self mac", "needle:\n  node:\n    self:\n      mac: zz:zz\n"},
		{"unknown builtin", "needle:\n  plugins:\n    builtins: [spoof]\n"},
		{"kafka without brokers", "needle:\n  control:\n    kafka:\n      enabled: true\n      topic: cmds\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestKafkaGroupDefaultsToHostname(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
needle:
  node:
    hostname: probe-02
  control:
    kafka:
      enabled: true
      brokers: ["localhost:9092"]
      topic: needle-commands
`))
	require.NoError(t, err)
	assert.Equal(t, "needle-probe-02", cfg.Control.Kafka.GroupID)
	assert.Equal(t, 5*time.Minute, cfg.Control.Kafka.CommandTTL)
}
