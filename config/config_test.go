package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDaemonDefaults(t *testing.T) {
	cfg, remaining, err := LoadDaemon(nil)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, "unix", cfg.Network)
	assert.Equal(t, defaultAddress, cfg.Address)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Static)
	assert.Equal(t, filepath.Join(defaultLogDir, "policyd.log"), cfg.LogFile())
}

func TestDaemonFileThenFlags(t *testing.T) {
	path := writeFile(t, `
network: tcp
address: 127.0.0.1:7000
serial: /dev/ttyUSB0
baud: 9600
metrics: 127.0.0.1:9100
loglevel: debug
static: true
static-uid: 1000
static-name: alice
`)
	cfg, _, err := LoadDaemon([]string{"--configfile", path, "--baud", "57600"})
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Network)
	assert.Equal(t, "127.0.0.1:7000", cfg.Address)
	assert.Equal(t, "/dev/ttyUSB0", cfg.SerialPort)
	assert.Equal(t, 57600, cfg.BaudRate)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddress)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Static)
	assert.Equal(t, uint32(1000), cfg.StaticUID)
	assert.Equal(t, "alice", cfg.StaticName)
}

func TestDaemonInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"log level", []string{"--loglevel", "chatty"}},
		{"network", []string{"--network", "udp"}},
		{"baud", []string{"--serial", "COM3", "--baud", "0"}},
		{"no listener", []string{"--address", ""}},
		{"missing file", []string{"-C", "/nonexistent/policyd.yaml"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := LoadDaemon(test.args)
			assert.Error(t, err)
		})
	}
}

func TestDaemonBadYAML(t *testing.T) {
	path := writeFile(t, "baud: [1, 2\n")
	_, _, err := LoadDaemon([]string{"-C", path})
	assert.Error(t, err)
}

func TestClientDefaults(t *testing.T) {
	cfg, _, err := LoadClient([]string{"check", "x"})
	require.NoError(t, err)
	assert.Equal(t, defaultAddress, cfg.Address)
	assert.Empty(t, cfg.LogFile())
	p, err := cfg.Subprotocols()
	require.NoError(t, err)
	assert.Equal(t, protocol.ProtoPolicy, p)
}

func TestClientTransportSelection(t *testing.T) {
	cfg, remaining, err := LoadClient([]string{"--websocket", "ws://127.0.0.1:8080/ws", "-p", "policy,notify", "listen"})
	require.NoError(t, err)
	assert.Equal(t, []string{"listen"}, remaining)
	assert.Empty(t, cfg.Address)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", cfg.WebSocket)
	p, err := cfg.Subprotocols()
	require.NoError(t, err)
	assert.Equal(t, protocol.ProtoBoth, p)

	_, _, err = LoadClient([]string{"--address", "127.0.0.1:7000", "--network", "tcp", "--serial", "COM3"})
	assert.Error(t, err)

	_, _, err = LoadClient([]string{"-p", "bogus"})
	assert.Error(t, err)
}

func TestClientRegistrationFromFile(t *testing.T) {
	path := writeFile(t, `
protocols: NOTIFY
token: 77
pid: 12
rule: 3
subsystem: 2
`)
	cfg, _, err := LoadClient([]string{"-C", path, "--uid", "500"})
	require.NoError(t, err)
	assert.Equal(t, uint64(77), cfg.Token)
	assert.Equal(t, uint32(12), cfg.PID)
	assert.Equal(t, uint32(3), cfg.RuleID)
	assert.Equal(t, uint32(500), cfg.UID)
	assert.Equal(t, uint32(2), cfg.Subsystem)
}
