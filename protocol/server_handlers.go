package protocol

import "github.com/pkg/errors"

var defaultHandlers = map[Opcode]HandlerFunc{
	OpVersel:        handleVersel,
	OpAuth:          handleAuth,
	OpAuthData:      handleAuthData,
	OpOptReq:        handleOptReq,
	OpProtoSel:      handleProtoSel,
	OpCloseReq:      handleCloseReq,
	OpCloseAck:      handleCloseAck,
	OpRegister:      handleNotifyReg,
	OpUnregister:    handleNotifyReg,
	OpReply:         handleAnswer,
	OpDelegate:      handleAnswer,
	OpPolicyRequest: handlePolicyRequest,
	OpVersion:       handleVersion,
}

func handleVersel(s *Server, m *Message, _ interface{}) error {
	if !s.neg.helloSent || s.neg.verselDone {
		return s.sendAck(0, OpVersel, EINVAL)
	}
	version, err := DecodeVersel(m)
	if err != nil {
		return s.sendAck(0, OpVersel, EINVAL)
	}
	if version != ProtocolVersion {
		return s.sendAck(0, OpVersel, EPROTONOSUPPORT)
	}
	s.neg.verselDone = true
	return s.sendAck(0, OpVersel, EOK)
}

func handleAuth(s *Server, _ *Message, _ interface{}) error {
	if !s.neg.verselDone || s.neg.authBusy || s.neg.authDone {
		return s.sendAck(0, OpAuth, EINVAL)
	}
	if s.cfg.Auth == nil {
		return s.sendAck(0, OpAuth, EOPNOTSUPP)
	}
	s.neg.authBusy = true
	s.auth = s.cfg.Auth(s.ch, s.authComplete)
	return s.sendAck(0, OpAuth, EOK)
}

func handleAuthData(s *Server, m *Message, _ interface{}) error {
	if !s.neg.authBusy || s.auth == nil {
		return s.sendAck(0, OpAuthData, EINVAL)
	}
	if err := s.auth.Process(m); err != nil && s.neg.authBusy {
		s.authComplete(AuthResult{Err: err})
	}
	return nil
}

// authComplete turns the authenticator's outcome into AUTHREPLY.
func (s *Server) authComplete(res AuthResult) {
	if !s.neg.authBusy {
		return
	}
	s.neg.authBusy = false
	s.neg.authDone = true
	reply := AuthReply{Error: ErrnoOf(res.Err)}
	if res.Err == nil {
		s.neg.authOK = true
		s.peerUID, s.peerName = res.UID, res.Name
		reply.UID, reply.Name = res.UID, res.Name
		srvLog.Debugf("server %s authenticated uid %d (%s)", s.id, res.UID, res.Name)
	} else {
		srvLog.Warnf("server %s authentication failed: %v", s.id, res.Err)
	}
	m, err := NewAuthReply(reply)
	if err != nil {
		srvLog.Errorf("server %s building AUTHREPLY: %v", s.id, err)
		return
	}
	if err := s.Send(m); err != nil {
		srvLog.Warnf("server %s sending AUTHREPLY: %v", s.id, err)
	}
}

// handleOptReq grants multiplexing. Pipelining and out-of-band delivery
// are understood but never granted.
func handleOptReq(s *Server, m *Message, _ interface{}) error {
	if !s.neg.helloSent {
		return s.sendAck(0, OpOptReq, EINVAL)
	}
	list, err := DecodeStringList(m)
	if err != nil {
		return s.sendAck(0, OpOptReq, EINVAL)
	}
	it := NewStringListIterator(list, OptionNames)
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		switch opt := Option(v); opt {
		case OptMultiplex:
			if !s.neg.options.Has(OptMultiplex) {
				s.neg.options |= OptMultiplex
				srvLog.Debugf("server %s granted multiplexing", s.id)
			}
		default:
			srvLog.Debugf("server %s not granting %s", s.id, FormatStringList(uint32(opt), OptionNames))
		}
	}
	reply, err := NewStringList(OpOptAck, FormatStringList(uint32(s.neg.options), OptionNames))
	if err != nil {
		return err
	}
	return s.Send(reply)
}

var protoSelValues = map[string]Subprotocol{
	"POLICY":        ProtoPolicy,
	"NOTIFY":        ProtoNotify,
	"POLICY,NOTIFY": ProtoBoth,
	"NOTIFY,POLICY": ProtoBoth,
}

func handleProtoSel(s *Server, m *Message, _ interface{}) error {
	if !s.neg.helloSent || !s.neg.verselDone || !s.neg.authOK || s.neg.protocols != 0 {
		return s.sendAck(0, OpProtoSel, EINVAL)
	}
	list, err := DecodeStringList(m)
	if err != nil {
		return s.sendAck(0, OpProtoSel, EINVAL)
	}
	proto, ok := protoSelValues[list]
	if !ok {
		return s.sendAck(0, OpProtoSel, EINVAL)
	}
	if proto == ProtoBoth && !s.neg.options.Has(OptMultiplex) {
		return s.sendAck(0, OpProtoSel, EOPNOTSUPP)
	}
	s.neg.protocols = proto
	if proto.Has(ProtoNotify) && s.cfg.Notify != nil {
		s.group = s.cfg.Notify(s, s.peerUID)
	}
	if err := s.sendAck(0, OpProtoSel, EOK); err != nil {
		return err
	}
	s.setState(StateConnected)
	return nil
}

func handleCloseReq(s *Server, _ *Message, _ interface{}) error {
	s.enterClosing()
	if !s.close.sentReq {
		// Send follows up with the CLOSEACK.
		return s.sendGeneral(OpCloseReq)
	}
	if !s.close.sentAck {
		return s.sendGeneral(OpCloseAck)
	}
	s.checkClosed()
	return nil
}

func handleCloseAck(s *Server, _ *Message, _ interface{}) error {
	s.enterClosing()
	s.checkClosed()
	return nil
}

func handleNotifyReg(s *Server, m *Message, _ interface{}) error {
	op := m.Opcode()
	r, err := DecodeNotifyReg(m)
	if err != nil {
		return s.sendAck(0, op, EINVAL)
	}
	if !s.neg.protocols.Has(ProtoNotify) || s.group == nil {
		return s.sendAck(r.Token, op, EINVAL)
	}
	if op == OpRegister {
		err = s.group.Register(r.Token, r.UID, r.RuleID, r.Subsystem)
	} else {
		err = s.group.Unregister(r.Token, r.UID, r.RuleID, r.Subsystem)
	}
	if err != nil {
		srvLog.Debugf("server %s %s token %d: %v", s.id, op, r.Token, err)
		return s.sendAck(r.Token, op, EINVAL)
	}
	return s.sendAck(r.Token, op, EOK)
}

// handleAnswer passes a client's verdict on an ASK to the notification
// group. No reply goes back.
func handleAnswer(s *Server, m *Message, _ interface{}) error {
	a, err := DecodeAck(m)
	if err != nil {
		return protocolError(false, err, m.Opcode().String())
	}
	if a.Opcode != OpAsk {
		srvLog.Debugf("server %s: %s for %s token %d is not a verdict", s.id, m.Opcode(), a.Opcode, a.Token)
		return nil
	}
	if s.group == nil {
		return protocolErrorf(false, ErrNotSupported, "%s without notification group", m.Opcode())
	}
	return s.group.Answer(a.Token, uint32(a.Error), m.Opcode() == OpDelegate)
}

func handlePolicyRequest(s *Server, m *Message, _ interface{}) error {
	req, err := DecodePolicyRequest(m)
	if err != nil {
		return s.sendAck(0, OpPolicyRequest, EINVAL)
	}
	if !s.neg.protocols.Has(ProtoPolicy) {
		return s.sendPolicyError(req.Token, EINVAL)
	}
	if s.cfg.Policy == nil {
		return s.sendPolicyError(req.Token, EOPNOTSUPP)
	}
	if err := s.cfg.Policy.HandlePolicy(m.Clone(), s.peerUID, s); err != nil {
		return errors.Wrapf(err, "policy request token %d", req.Token)
	}
	return nil
}

func (s *Server) sendPolicyError(token uint64, errno Errno) error {
	m, err := NewPolicyReply(PolicyReply{Token: token, Error: errno})
	if err != nil {
		return err
	}
	return s.Send(m)
}

func handleVersion(s *Server, _ *Message, _ interface{}) error {
	m, err := NewVer(Ver{Error: EOK, Protocol: ProtocolVersion, APN: PolicyLanguageVersion})
	if err != nil {
		return err
	}
	return s.Send(m)
}
