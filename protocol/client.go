package protocol

import (
	"container/list"

	"github.com/pkg/errors"
)

// ClientConfig tunes a client connection.
type ClientConfig struct {
	// Options requested during connect. Defaults to multiplexing and
	// pipelining.
	Options Option
	Metrics *Metrics
}

// Client is the client side of one connection. It is not safe for
// concurrent use: a single goroutine drives it, either through the blocking
// wrappers (Connect, Close, Wait) or by feeding received messages to
// Process.
type Client struct {
	ch      Channel
	cfg     ClientConfig
	state   State
	close   closeState
	pending pendingList

	protocols Subprotocol
	options   Option
	peerUID   uint32
	peerName  string

	connectTx *Transaction
	closeTx   *Transaction

	// notifications holds *Message values in arrival order, each ASK
	// followed by its verdict once that arrived.
	notifications *list.List
}

// NewClient creates a client owning ch.
func NewClient(ch Channel, cfg ClientConfig) *Client {
	if cfg.Options == 0 {
		cfg.Options = OptMultiplex | OptPipeline
	}
	return &Client{
		ch:            ch,
		cfg:           cfg,
		notifications: list.New(),
	}
}

// State returns the lifecycle state.
func (c *Client) State() State { return c.state }

// PeerUID is the uid the server authenticated us as.
func (c *Client) PeerUID() uint32 { return c.peerUID }

// PeerName is the name the server authenticated us as.
func (c *Client) PeerName() string { return c.peerName }

// Options returns the options the server granted.
func (c *Client) Options() Option { return c.options }

// Protocols returns the selected sub-protocols, zero before connect
// completed.
func (c *Client) Protocols() Subprotocol { return c.protocols }

// Pending returns the live transactions. Transactions still listed after
// the connection went down will never complete.
func (c *Client) Pending() []*Transaction { return c.pending.snapshot() }

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	cliLog.Debugf("client state %s -> %s", c.state, s)
	c.state = s
	c.cfg.Metrics.transition("client", s)
}

// fail forces the connection into the error state and releases the
// channel. Pending transactions other than connect and close are left as
// they are.
func (c *Client) fail(err error) error {
	if c.state == StateError {
		return err
	}
	cliLog.Warnf("client connection failed: %v", err)
	c.setState(StateError)
	if cerr := c.ch.Close(); cerr != nil {
		cliLog.Debugf("closing channel: %v", cerr)
	}
	if c.connectTx != nil {
		c.connectTx.Done(err)
	}
	if c.closeTx != nil {
		c.closeTx.Done(err)
	}
	return err
}

func (c *Client) send(m *Message) error {
	if c.state.Terminal() {
		return ErrConnectionClosed
	}
	b := m.Bytes()
	CRCSet(b)
	dumpMessage("send", b)
	op := m.Opcode()
	if err := c.ch.Send(b); err != nil {
		return c.fail(errors.Wrapf(err, "send %s", op))
	}
	c.cfg.Metrics.messageSent(op)
	c.close.sent(op)
	return nil
}

func (c *Client) sendGeneral(op Opcode) error {
	m, err := NewGeneral(op)
	if err != nil {
		return err
	}
	return c.send(m)
}

// Process consumes one received message.
func (c *Client) Process(m *Message) error {
	if c.state.Terminal() {
		return ErrConnectionClosed
	}
	if !m.VerifyField(LayoutGeneral, "type") {
		c.cfg.Metrics.integrityFailure()
		return c.fail(protocolError(true, ErrShortMessage, "received message"))
	}
	dumpMessage("recv", m.Bytes())
	if !CRCCheck(m.Bytes()) {
		c.cfg.Metrics.integrityFailure()
		return c.fail(protocolError(true, ErrBadCRC, "received message"))
	}
	op := m.Opcode()
	c.cfg.Metrics.messageReceived(op)
	if err := c.close.observe(op); err != nil {
		return c.fail(err)
	}

	switch op {
	case OpCloseReq, OpCloseAck:
		return c.handleClose()
	case OpAsk, OpNotify, OpLogNotify, OpPolicyChange, OpStatusNotify,
		OpResYou, OpResOther, OpRegister, OpUnregister, OpCtxReq, OpCtxReply:
		return c.handleNotify(m)
	}

	token, _ := MessageToken(m)
	handled, err := c.pending.dispatch(token, true, m)
	if !handled {
		cliLog.Debugf("unsolicited %s token %d dropped", op, token)
		return protocolErrorf(false, ErrUnexpectedOpcode, "unsolicited %s", op)
	}
	return err
}

// Receive reads one message from the channel and processes it.
func (c *Client) Receive() error {
	if c.state.Terminal() {
		return ErrConnectionClosed
	}
	b, err := c.ch.Receive()
	if err != nil {
		return c.fail(errors.Wrap(err, "receive"))
	}
	m, err := MessageFromBytes(b)
	if err != nil {
		return c.fail(protocolError(true, err, "receive"))
	}
	return c.Process(m)
}

// Wait pumps the channel until t is done and returns its result.
// Non-fatal protocol errors on unrelated messages are logged and skipped.
func (c *Client) Wait(t *Transaction) error {
	for !t.IsDone() {
		if c.state.Terminal() {
			return ErrConnectionClosed
		}
		if err := c.Receive(); err != nil {
			if c.state.Terminal() || IsFatal(err) {
				if t.IsDone() {
					return t.Result()
				}
				return err
			}
			cliLog.Debugf("ignoring: %v", err)
		}
	}
	return t.Result()
}
