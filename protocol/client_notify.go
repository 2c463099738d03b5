package protocol

import (
	"github.com/pkg/errors"
)

func isVerdict(op Opcode) bool {
	return op == OpResYou || op == OpResOther
}

// handleNotify takes the events the server pushes outside of any
// transaction the client started.
func (c *Client) handleNotify(m *Message) error {
	op := m.Opcode()
	switch op {
	case OpRegister, OpUnregister, OpCtxReq:
		return c.rejectEvent(m, EINVAL)
	case OpCtxReply:
		return c.rejectEvent(m, EOPNOTSUPP)
	case OpResYou, OpResOther:
		token, ok := MessageToken(m)
		if !ok {
			return protocolErrorf(false, ErrShortMessage, "%s", op)
		}
		handled, err := c.pending.dispatch(token, false, m)
		if !handled {
			cliLog.Debugf("%s for token %d without pending ASK dropped", op, token)
		}
		return err
	}

	if !m.VerifyField(LayoutNotify, "payload") {
		return protocolErrorf(false, ErrShortMessage, "%s", op)
	}
	c.notifications.PushBack(m)
	if op == OpAsk {
		token, _ := MessageToken(m)
		t := NewTransaction(token, TxPeer|TxAutoDestroy, c.pairVerdict, nil, nil)
		t.SetExpected(OpResYou, OpResOther)
		c.pending.add(t)
	}
	return nil
}

func (c *Client) rejectEvent(m *Message, errno Errno) error {
	token, _ := MessageToken(m)
	cliLog.Debugf("rejecting %s from server: %s", m.Opcode(), errno)
	reply, err := NewAck(OpReply, Ack{Token: token, Opcode: m.Opcode(), Error: errno})
	if err != nil {
		return err
	}
	return c.send(reply)
}

// pairVerdict places a RESYOU/RESOTHER right behind the queued ASK it
// resolves.
func (c *Client) pairVerdict(t *Transaction, m *Message) error {
	defer t.Done(nil)
	for e := c.notifications.Front(); e != nil; e = e.Next() {
		ask := e.Value.(*Message)
		if ask.Opcode() != OpAsk {
			continue
		}
		if token, _ := MessageToken(ask); token != t.Token() {
			continue
		}
		if next := e.Next(); next != nil {
			queued := next.Value.(*Message)
			if token, _ := MessageToken(queued); isVerdict(queued.Opcode()) && token == t.Token() {
				cliLog.Debugf("duplicate verdict for token %d dropped", token)
				return nil
			}
		}
		c.notifications.InsertAfter(m, e)
		return nil
	}
	cliLog.Debugf("verdict for token %d has no queued ASK", t.Token())
	return nil
}

// NextNotification removes and returns the oldest queued event.
func (c *Client) NextNotification() (*Message, bool) {
	e := c.notifications.Front()
	if e == nil {
		return nil, false
	}
	return c.notifications.Remove(e).(*Message), true
}

// Notifications returns the queued events without removing them.
func (c *Client) Notifications() []*Message {
	out := make([]*Message, 0, c.notifications.Len())
	for e := c.notifications.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Message))
	}
	return out
}

func (c *Client) requireConnected(proto Subprotocol) error {
	if c.state != StateConnected {
		return errors.Wrapf(ErrNotConnected, "state %s", c.state)
	}
	if !c.protocols.Has(proto) {
		return errors.Wrapf(ErrNotSupported, "sub-protocol %d not selected", proto)
	}
	return nil
}

// Register asks the server to route events matching the tuple to this
// connection. token must be non-zero and not used by another live
// transaction.
func (c *Client) Register(token uint64, pid, ruleID, uid, subsystem uint32) (*Transaction, error) {
	return c.startNotifyReg(OpRegister, NotifyReg{token, pid, ruleID, uid, subsystem})
}

// Unregister reverts a previous Register.
func (c *Client) Unregister(token uint64, pid, ruleID, uid, subsystem uint32) (*Transaction, error) {
	return c.startNotifyReg(OpUnregister, NotifyReg{token, pid, ruleID, uid, subsystem})
}

func (c *Client) startNotifyReg(op Opcode, r NotifyReg) (*Transaction, error) {
	if r.Token == 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s needs a token", op)
	}
	if err := c.requireConnected(ProtoNotify); err != nil {
		return nil, err
	}
	m, err := NewNotifyReg(op, r)
	if err != nil {
		return nil, err
	}
	t := NewTransaction(r.Token, TxSelf|TxAutoDequeue, c.ackStep(op), nil, r)
	t.SetExpected(OpReply)
	c.pending.add(t)
	if err := c.send(m); err != nil {
		c.pending.remove(t)
		return nil, err
	}
	return t, nil
}

// ackStep completes a single-shot transaction with the outcome carried in
// the server's REPLY.
func (c *Client) ackStep(op Opcode) StepFunc {
	return func(t *Transaction, m *Message) error {
		err := expectAck(m, op)
		t.Done(err)
		if IsFatal(err) {
			return c.fail(err)
		}
		return nil
	}
}

// Reply answers a queued ASK. With delegate set the verdict is handed on
// instead of decided.
func (c *Client) Reply(token uint64, verdict uint32, delegate bool) error {
	if c.state != StateConnected && c.state != StateClosing {
		return errors.Wrapf(ErrNotConnected, "state %s", c.state)
	}
	if !c.protocols.Has(ProtoNotify) {
		return errors.Wrap(ErrNotSupported, "NOTIFY not selected")
	}
	op := OpReply
	if delegate {
		op = OpDelegate
	}
	m, err := NewAck(op, Ack{Token: token, Opcode: OpAsk, Error: Errno(verdict)})
	if err != nil {
		return err
	}
	return c.send(m)
}
