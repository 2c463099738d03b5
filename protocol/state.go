package protocol

// State is the coarse lifecycle state of a connection.
type State int

// Connection states. Error is terminal and reachable from every state;
// Closed is reachable only through Closing.
const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	StateError
)

var stateNames = map[State]string{
	StateInit:       "INIT",
	StateConnecting: "CONNECTING",
	StateConnected:  "CONNECTED",
	StateClosing:    "CLOSING",
	StateClosed:     "CLOSED",
	StateError:      "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further traffic is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// closeState tracks the bilateral close handshake. Either side may start
// it and the two requests may cross on the wire, so completion is decided
// from the four observations alone.
type closeState struct {
	sentReq bool
	gotReq  bool
	sentAck bool
	gotAck  bool
}

// observe records an inbound CLOSEREQ or CLOSEACK. An acknowledgement of a
// close the peer never requested is a violation.
func (c *closeState) observe(op Opcode) error {
	switch op {
	case OpCloseReq:
		c.gotReq = true
	case OpCloseAck:
		if !c.gotReq {
			return protocolError(true, ErrCloseViolation, "CLOSEACK before CLOSEREQ")
		}
		c.gotAck = true
	}
	return nil
}

// sent records an outbound close message.
func (c *closeState) sent(op Opcode) {
	switch op {
	case OpCloseReq:
		c.sentReq = true
	case OpCloseAck:
		c.sentAck = true
	}
}

func (c *closeState) started() bool { return c.sentReq || c.gotReq }

func (c *closeState) needAck() bool { return c.gotReq && !c.sentAck }

func (c *closeState) complete() bool { return c.gotAck && c.sentAck }
