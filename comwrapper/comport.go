// Package comwrapper runs the protocol over RS-232 or virtual serial over
// USB ports.
package comwrapper

import (
	"io"
	"time"

	"github.com/RoanBrand/PolicyDaemonProtocol/logger"
	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/RoanBrand/PolicyDaemonProtocol/transport"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var log, _ = logger.Get(logger.SubsystemTags.COMW)

func openPort(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(c)
}

// Open opens a serial port as a protocol channel.
func Open(portName string, baudRate int) (*transport.StreamChannel, error) {
	p, err := openPort(&serial.Config{Name: portName, Baud: baudRate})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", portName)
	}
	return transport.NewStreamChannel(p), nil
}

// Dial connects to a policy daemon listening on a serial port.
func Dial(portName string, baudRate int, proto protocol.Subprotocol, cfg protocol.ClientConfig) (*protocol.Client, error) {
	ch, err := Open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	c := protocol.NewClient(ch, cfg)
	if err := c.Connect(proto); err != nil {
		ch.Close()
		return nil, err
	}
	return c, nil
}

// ComPortServer is a policy daemon endpoint on a COM port. It serves one
// client at a time.
type ComPortServer struct {
	ComConfig *serial.Config
	Server    protocol.ServerConfig

	open  func(*serial.Config) (io.ReadWriteCloser, error)
	retry time.Duration
	pause time.Duration
}

// NewComPortServer creates a server for portName.
func NewComPortServer(portName string, baudRate int, cfg protocol.ServerConfig) *ComPortServer {
	return &ComPortServer{
		ComConfig: &serial.Config{Name: portName, Baud: baudRate},
		Server:    cfg,
		open:      openPort,
		retry:     5 * time.Second,
		pause:     2 * time.Second,
	}
}

// ListenAndServe serves clients on the port forever, reopening it after
// every connection.
func (com *ComPortServer) ListenAndServe() {
	for {
		if err := com.serveOnce(); err != nil {
			log.Warnf("server @ '%s': %v. Closing COM port", com.ComConfig.Name, err)
		}
		time.Sleep(com.pause)
	}
}

// serveOnce opens the port, retrying until it succeeds, and serves one
// connection on it.
func (com *ComPortServer) serveOnce() error {
	var port io.ReadWriteCloser
	firstTryDone := false
	for {
		p, err := com.open(com.ComConfig)
		if err == nil {
			port = p
			break
		}
		if !firstTryDone {
			log.Warnf("server @ '%s': error opening COM port -> %v. Retrying every %s", com.ComConfig.Name, err, com.retry)
			firstTryDone = true
		}
		time.Sleep(com.retry)
	}

	log.Infof("server @ '%s': started service", com.ComConfig.Name)
	ch := transport.NewStreamChannel(port)
	defer ch.Close()
	s := protocol.NewServer(ch, com.Server)
	if err := s.Serve(); err != nil {
		return errors.Wrapf(err, "connection %s", s.ID())
	}
	log.Infof("server @ '%s': connection %s closed", com.ComConfig.Name, s.ID())
	return nil
}
