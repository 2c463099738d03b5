package main

import (
	"bytes"
	"sync"
	"time"

	"github.com/RoanBrand/PolicyDaemonProtocol/notify"
	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
)

// policyStore holds the active policy text and answers policy requests:
//
//	set <text>    replace the policy and broadcast POLICYCHANGE
//	get           return the policy
//	check <text>  ASK the registered listeners and return their verdict
type policyStore struct {
	hub        *notify.Hub
	askTimeout time.Duration

	mu     sync.Mutex
	policy []byte
}

func newPolicyStore(hub *notify.Hub, askTimeout time.Duration) *policyStore {
	return &policyStore{hub: hub, askTimeout: askTimeout}
}

func splitCommand(payload []byte) (string, []byte) {
	cmd, arg, _ := bytes.Cut(payload, []byte{' '})
	return string(cmd), arg
}

func reply(s *protocol.Server, token uint64, errno protocol.Errno, payload []byte) error {
	m, err := protocol.NewPolicyReply(protocol.PolicyReply{Token: token, Error: errno, Payload: payload})
	if err != nil {
		return err
	}
	return s.Send(m)
}

func (p *policyStore) HandlePolicy(m *protocol.Message, uid uint32, s *protocol.Server) error {
	req, err := protocol.DecodePolicyRequest(m)
	if err != nil {
		return err
	}
	cmd, arg := splitCommand(req.Payload)
	switch cmd {
	case "get":
		p.mu.Lock()
		policy := append([]byte(nil), p.policy...)
		p.mu.Unlock()
		return reply(s, req.Token, protocol.EOK, policy)

	case "set":
		p.mu.Lock()
		p.policy = append([]byte(nil), arg...)
		p.mu.Unlock()
		n, err := p.hub.Dispatch(protocol.OpPolicyChange, notify.Event{UID: uid, Payload: arg})
		if err != nil {
			log.Warnf("policy change by uid %d: %v", uid, err)
		}
		log.Infof("policy replaced by uid %d, %d listeners notified", uid, n)
		return reply(s, req.Token, protocol.EOK, nil)

	case "check":
		token, verdicts, err := p.hub.Ask(notify.Event{UID: uid, Payload: arg})
		if err != nil {
			return reply(s, req.Token, protocol.ErrnoOf(err), nil)
		}
		log.Debugf("check from uid %d waiting on ASK %d", uid, token)
		go p.awaitVerdict(s, req.Token, verdicts)
		return nil

	default:
		return reply(s, req.Token, protocol.EINVAL, []byte("unknown command "+cmd))
	}
}

// awaitVerdict posts the reply to a check once the listeners decided.
func (p *policyStore) awaitVerdict(s *protocol.Server, token uint64, verdicts <-chan notify.Verdict) {
	r := protocol.PolicyReply{Token: token}
	select {
	case v := <-verdicts:
		r.Error = protocol.Errno(v.Value)
		if v.Delegated {
			r.Payload = []byte("delegated")
		}
	case <-time.After(p.askTimeout):
		r.Error = protocol.ETIMEDOUT
	}
	m, err := protocol.NewPolicyReply(r)
	if err == nil {
		err = s.Post(m)
	}
	if err != nil {
		log.Warnf("check reply %d: %v", token, err)
	}
}
