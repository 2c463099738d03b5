package protocol

// Channel is the reliable, message framed byte channel a connection runs
// over. A TCP or unix stream, a websocket or an RS-232 port typically
// implements it. Calls are synchronous and only one Send and one Receive
// are in flight at a time.
type Channel interface {
	// Send transmits one complete message.
	Send(b []byte) error
	// Receive blocks until one complete message arrived.
	Receive() ([]byte, error)
	Close() error
}
