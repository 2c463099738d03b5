// Package notify routes notification events from the daemon to the
// connections that registered for them and collects their answers to ASK
// events.
package notify

import (
	"sync"

	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/pkg/errors"
)

// Poster queues a message for a connection. *protocol.Server implements it.
type Poster interface {
	Post(m *protocol.Message) error
}

type registration struct {
	uid       uint32
	ruleID    uint32
	subsystem uint32
}

// matches treats zero fields of the registration as wildcards.
func (r registration) matches(e Event) bool {
	return (r.uid == 0 || r.uid == e.UID) &&
		(r.ruleID == 0 || r.ruleID == e.RuleID) &&
		(r.subsystem == 0 || r.subsystem == e.Subsystem)
}

// Group is the notification group of one connection.
type Group struct {
	hub  *Hub
	conn Poster
	uid  uint32

	mu     sync.Mutex
	regs   map[uint64]registration
	closed bool
}

// UID is the authenticated peer the group belongs to.
func (g *Group) UID() uint32 { return g.uid }

// Register adds a registration under token.
func (g *Group) Register(token uint64, uid, ruleID, subsystem uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return protocol.ErrConnectionClosed
	}
	if _, ok := g.regs[token]; ok {
		return errors.Wrapf(protocol.EEXIST, "token %d", token)
	}
	g.regs[token] = registration{uid: uid, ruleID: ruleID, subsystem: subsystem}
	log.Debugf("uid %d registered token %d (uid %d rule %d subsystem %d)", g.uid, token, uid, ruleID, subsystem)
	return nil
}

// Unregister removes the registration under token. The tuple must match
// what was registered.
func (g *Group) Unregister(token uint64, uid, ruleID, subsystem uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.regs[token]
	if !ok {
		return errors.Wrapf(protocol.ENOENT, "token %d", token)
	}
	if r != (registration{uid: uid, ruleID: ruleID, subsystem: subsystem}) {
		return errors.Wrapf(protocol.EINVAL, "token %d registered for a different tuple", token)
	}
	delete(g.regs, token)
	return nil
}

// Answer records the connection's verdict on an ASK.
func (g *Group) Answer(token uint64, verdict uint32, delegate bool) error {
	return g.hub.answer(g, token, verdict, delegate)
}

// Close detaches the group from the hub.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	g.regs = nil
	g.mu.Unlock()
	g.hub.leave(g)
}

func (g *Group) wants(e Event) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.regs {
		if r.matches(e) {
			return true
		}
	}
	return false
}

func (g *Group) post(op protocol.Opcode, m *protocol.Message, err error) error {
	if err != nil {
		return err
	}
	if perr := g.conn.Post(m); perr != nil {
		return errors.Wrapf(perr, "posting %s to uid %d", op, g.uid)
	}
	return nil
}
