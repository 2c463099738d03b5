// Package transport provides protocol.Channel implementations.
package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/pkg/errors"
)

// StreamChannel carries messages over a byte stream, each preceded by its
// length as a 4-byte big-endian integer.
type StreamChannel struct {
	rwc       io.ReadWriteCloser
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamChannel frames messages on rwc.
func NewStreamChannel(rwc io.ReadWriteCloser) *StreamChannel {
	return &StreamChannel{rwc: rwc}
}

// Conn returns the underlying stream.
func (c *StreamChannel) Conn() io.ReadWriteCloser { return c.rwc }

// Send writes one framed message.
func (c *StreamChannel) Send(b []byte) error {
	if len(b) > protocol.MaxMessageSize {
		return errors.Wrapf(protocol.ErrMessageSize, "send %d bytes", len(b))
	}
	frame := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(frame, uint32(len(b)))
	copy(frame[4:], b)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rwc.Write(frame); err != nil {
		return errors.Wrap(err, "stream write")
	}
	return nil
}

// Receive reads one framed message.
func (c *StreamChannel) Receive() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.rwc, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "stream read length")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > protocol.MaxMessageSize {
		return nil, errors.Wrapf(protocol.ErrMessageSize, "peer announced %d bytes", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(c.rwc, b); err != nil {
		return nil, errors.Wrap(err, "stream read message")
	}
	return b, nil
}

// Close closes the stream once.
func (c *StreamChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// Dial connects to a policy daemon on a "tcp" or "unix" address.
func Dial(network, address string) (*StreamChannel, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, address)
	}
	return NewStreamChannel(conn), nil
}

// Listener accepts stream connections.
type Listener struct {
	net.Listener
}

// Listen listens on a "tcp" or "unix" address.
func Listen(network, address string) (*Listener, error) {
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s", network, address)
	}
	return &Listener{l}, nil
}

// AcceptChannel waits for the next connection.
func (l *Listener) AcceptChannel() (*StreamChannel, error) {
	conn, err := l.Accept()
	if err != nil {
		return nil, err
	}
	log.Debugf("accepted %s connection from %v", conn.LocalAddr().Network(), conn.RemoteAddr())
	return NewStreamChannel(conn), nil
}
