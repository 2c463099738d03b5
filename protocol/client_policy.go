package protocol

import "github.com/pkg/errors"

// StartPolicyRequest sends a policy request. The reply lands in the
// transaction's Data as a PolicyReply.
func (c *Client) StartPolicyRequest(token uint64, payload []byte) (*Transaction, error) {
	if token == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "policy request needs a token")
	}
	if err := c.requireConnected(ProtoPolicy); err != nil {
		return nil, err
	}
	m, err := NewPolicyRequest(PolicyRequest{Token: token, Payload: payload})
	if err != nil {
		return nil, err
	}
	t := NewTransaction(token, TxSelf|TxAutoDequeue, c.policyStep, nil, nil)
	t.SetExpected(OpPolicyReply, OpReply)
	c.pending.add(t)
	if err := c.send(m); err != nil {
		c.pending.remove(t)
		return nil, err
	}
	return t, nil
}

func (c *Client) policyStep(t *Transaction, m *Message) error {
	if m.Opcode() == OpReply {
		err := expectAck(m, OpPolicyRequest)
		if err == nil {
			err = errors.Wrap(ErrUnexpectedOpcode, "policy request acknowledged without reply")
		}
		t.Done(err)
		return nil
	}
	reply, err := DecodePolicyReply(m)
	if err != nil {
		t.Done(err)
		return nil
	}
	t.Data = reply
	if reply.Error != EOK {
		t.Done(reply.Error)
		return nil
	}
	t.Done(nil)
	return nil
}

// PolicyRequest sends a policy request and waits for its reply.
func (c *Client) PolicyRequest(token uint64, payload []byte) (PolicyReply, error) {
	t, err := c.StartPolicyRequest(token, payload)
	if err != nil {
		return PolicyReply{}, err
	}
	err = c.Wait(t)
	reply, _ := t.Data.(PolicyReply)
	return reply, err
}

// VersionQuery asks the server for its protocol and policy language
// versions.
func (c *Client) VersionQuery() (Ver, error) {
	if c.state != StateConnected {
		return Ver{}, errors.Wrapf(ErrNotConnected, "state %s", c.state)
	}
	m, err := NewGeneral(OpVersion)
	if err != nil {
		return Ver{}, err
	}
	t := NewTransaction(0, TxSelf|TxAutoDequeue, c.versionStep, nil, nil)
	t.SetExpected(OpVersionReply, OpReply)
	c.pending.add(t)
	if err := c.send(m); err != nil {
		c.pending.remove(t)
		return Ver{}, err
	}
	err = c.Wait(t)
	v, _ := t.Data.(Ver)
	return v, err
}

func (c *Client) versionStep(t *Transaction, m *Message) error {
	if m.Opcode() == OpReply {
		err := expectAck(m, OpVersion)
		if err == nil {
			err = errors.Wrap(ErrUnexpectedOpcode, "version query acknowledged without reply")
		}
		t.Done(err)
		return nil
	}
	v, err := DecodeVer(m)
	if err != nil {
		t.Done(err)
		return nil
	}
	t.Data = v
	if v.Error != EOK {
		t.Done(v.Error)
		return nil
	}
	t.Done(nil)
	return nil
}
