package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocketChannel carries one message per binary websocket frame.
type WebSocketChannel struct {
	conn      *websocket.Conn
	wmu       sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketChannel wraps an established websocket connection.
func NewWebSocketChannel(conn *websocket.Conn) *WebSocketChannel {
	conn.SetReadLimit(protocol.MaxMessageSize)
	return &WebSocketChannel{conn: conn}
}

// DialWebSocket connects to a daemon websocket endpoint such as
// ws://host:port/ws.
func DialWebSocket(url string) (*WebSocketChannel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewWebSocketChannel(conn), nil
}

// Send writes b as one binary frame.
func (c *WebSocketChannel) Send(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return errors.Wrap(err, "websocket write")
	}
	return nil
}

// Receive returns the next binary frame. Text frames are a framing error.
func (c *WebSocketChannel) Receive() ([]byte, error) {
	kind, b, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Warnf("websocket read: %v", err)
		}
		return nil, errors.Wrap(err, "websocket read")
	}
	if kind != websocket.BinaryMessage {
		return nil, errors.Wrapf(protocol.ErrShortMessage, "websocket frame type %d", kind)
	}
	return b, nil
}

// Close sends a close frame and closes the connection.
func (c *WebSocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// WebSocketHandler upgrades HTTP requests and hands every connection to
// Serve, one goroutine per connection.
type WebSocketHandler struct {
	Upgrader websocket.Upgrader
	Serve    func(ch protocol.Channel)
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	log.Debugf("websocket connection from %s", r.RemoteAddr)
	h.Serve(NewWebSocketChannel(conn))
}
