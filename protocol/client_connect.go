package protocol

import (
	"github.com/pkg/errors"
)

// StartConnect begins the connect handshake for the sub-protocols proto.
// The returned transaction completes once the server acknowledged the
// protocol selection.
func (c *Client) StartConnect(proto Subprotocol) (*Transaction, error) {
	if proto == 0 || proto&^ProtoBoth != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "sub-protocol %d", proto)
	}
	if c.state != StateInit {
		return nil, errors.Wrapf(ErrBusy, "connect in state %s", c.state)
	}
	t := NewTransaction(0, TxSelf|TxAutoDequeue, c.connectStep, nil, proto)
	t.SetExpected(OpHello)
	c.connectTx = t
	c.pending.add(t)
	c.setState(StateConnecting)
	return t, nil
}

// Connect runs the connect handshake to completion.
func (c *Client) Connect(proto Subprotocol) error {
	t, err := c.StartConnect(proto)
	if err != nil {
		return err
	}
	return c.Wait(t)
}

func (c *Client) connectStep(t *Transaction, m *Message) (err error) {
	defer func() {
		if err != nil {
			c.fail(err)
			t.Done(err)
		}
	}()

	proto := t.Data.(Subprotocol)
	switch t.Stage() {
	case 0:
		hello, err := DecodeHello(m)
		if err != nil {
			return protocolError(true, err, "HELLO")
		}
		if hello.MinVersion > ProtocolVersion || hello.Version < ProtocolVersion {
			return errors.Wrapf(ErrNotSupported, "server speaks versions %d..%d, we need %d",
				hello.MinVersion, hello.Version, ProtocolVersion)
		}
		reply, err := NewVersel(ProtocolVersion)
		if err != nil {
			return err
		}
		if err := c.send(reply); err != nil {
			return err
		}
		t.Progress(OpReply)

	case 1:
		if err := expectAck(m, OpVersel); err != nil {
			return err
		}
		if err := c.sendGeneral(OpAuth); err != nil {
			return err
		}
		t.Progress(OpReply)

	case 2:
		if err := expectAck(m, OpAuth); err != nil {
			return err
		}
		reply, err := NewAuthData(AuthTransport)
		if err != nil {
			return err
		}
		if err := c.send(reply); err != nil {
			return err
		}
		t.Progress(OpAuthReply)

	case 3:
		auth, err := DecodeAuthReply(m)
		if err != nil {
			return protocolError(true, err, "AUTHREPLY")
		}
		if auth.Error != EOK {
			return errors.Wrap(auth.Error, "authentication")
		}
		c.peerUID, c.peerName = auth.UID, auth.Name
		reply, err := NewStringList(OpOptReq, FormatStringList(uint32(c.cfg.Options), OptionNames))
		if err != nil {
			return err
		}
		if err := c.send(reply); err != nil {
			return err
		}
		t.Progress(OpOptAck)

	case 4:
		granted, err := DecodeStringList(m)
		if err != nil {
			return protocolError(true, err, "OPTACK")
		}
		c.options = Option(ParseStringList(granted, OptionNames)) & c.cfg.Options
		if proto == ProtoBoth && !c.options.Has(OptMultiplex) {
			return errors.Wrap(ErrNotSupported, "multiplexing required but not granted")
		}
		reply, err := NewStringList(OpProtoSel, FormatStringList(uint32(proto), ProtocolNames))
		if err != nil {
			return err
		}
		if err := c.send(reply); err != nil {
			return err
		}
		t.Progress(OpReply)

	case 5:
		if err := expectAck(m, OpProtoSel); err != nil {
			return err
		}
		c.protocols = proto
		// A close started during the handshake keeps the engine closing.
		if c.state == StateConnecting {
			c.setState(StateConnected)
		}
		t.Done(nil)

	default:
		return errors.Wrapf(ErrUnexpectedOpcode, "connect stage %d", t.Stage())
	}
	return nil
}

// expectAck checks that m acknowledges op successfully.
func expectAck(m *Message, op Opcode) error {
	ack, err := DecodeAck(m)
	if err != nil {
		return protocolError(true, err, "REPLY")
	}
	if ack.Opcode != op {
		return protocolErrorf(true, ErrUnexpectedOpcode, "REPLY for %s while waiting for %s", ack.Opcode, op)
	}
	if ack.Error != EOK {
		return errors.Wrapf(ack.Error, "%s rejected", op)
	}
	return nil
}
