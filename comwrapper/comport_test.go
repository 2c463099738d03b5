package comwrapper

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/RoanBrand/PolicyDaemonProtocol/auth"
	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/RoanBrand/PolicyDaemonProtocol/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

func TestOpenMissingPort(t *testing.T) {
	_, err := Open("/dev/does-not-exist-policyd", 115200)
	assert.Error(t, err)
}

// The server side of a fake serial wire fails to open twice before it
// becomes available, then serves a client that connects and closes.
func TestServeOnceRetriesOpen(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	attempts := 0
	com := NewComPortServer("COM3", 115200, protocol.ServerConfig{Auth: auth.Static(0, "root")})
	com.retry = time.Millisecond
	com.open = func(c *serial.Config) (io.ReadWriteCloser, error) {
		assert.Equal(t, "COM3", c.Name)
		attempts++
		if attempts < 3 {
			return nil, errors.New("port busy")
		}
		return serverEnd, nil
	}

	served := make(chan error, 1)
	go func() { served <- com.serveOnce() }()

	c := protocol.NewClient(transport.NewStreamChannel(clientEnd), protocol.ClientConfig{})
	require.NoError(t, c.Connect(protocol.ProtoPolicy))
	assert.Equal(t, "root", c.PeerName())
	require.NoError(t, c.Close())

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveOnce did not return")
	}
	assert.Equal(t, 3, attempts)
}
