package protocol

import "github.com/pkg/errors"

// StartClose sends CLOSEREQ unless it was sent already. The returned
// transaction completes when both sides acknowledged the close.
func (c *Client) StartClose() (*Transaction, error) {
	if c.closeTx != nil {
		return c.closeTx, nil
	}
	if c.state == StateError {
		return nil, ErrConnectionClosed
	}
	if c.state == StateInit {
		return nil, errors.Wrap(ErrNotConnected, "close")
	}
	c.closeTx = NewTransaction(0, TxSelf, nil, nil, nil)
	c.setState(StateClosing)
	if !c.close.sentReq {
		if err := c.sendGeneral(OpCloseReq); err != nil {
			return c.closeTx, err
		}
	}
	return c.closeTx, nil
}

// Close runs the close handshake to completion.
func (c *Client) Close() error {
	t, err := c.StartClose()
	if err != nil {
		return err
	}
	return c.Wait(t)
}

// handleClose reacts to a CLOSEREQ or CLOSEACK already recorded by the
// receive gate.
func (c *Client) handleClose() error {
	c.setState(StateClosing)
	if c.close.needAck() {
		if !c.close.sentReq {
			if err := c.sendGeneral(OpCloseReq); err != nil {
				return err
			}
		}
		if err := c.sendGeneral(OpCloseAck); err != nil {
			return err
		}
	}
	if c.close.complete() {
		c.finishClose()
	}
	return nil
}

func (c *Client) finishClose() {
	c.setState(StateClosed)
	if err := c.ch.Close(); err != nil {
		cliLog.Debugf("closing channel: %v", err)
	}
	if c.connectTx != nil {
		c.connectTx.Done(ErrConnectionClosed)
	}
	if c.closeTx == nil {
		c.closeTx = NewTransaction(0, TxPeer, nil, nil, nil)
	}
	c.closeTx.Done(nil)
}
